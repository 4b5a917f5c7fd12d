// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package connstring parses mongodb connection strings into the
// configuration the rest of the driver consumes.
package connstring

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ikmak/mongo-driver-core/internal/logger"
	"github.com/ikmak/mongo-driver-core/readpref"
	"github.com/ikmak/mongo-driver-core/tag"
	"github.com/ikmak/mongo-driver-core/wiremessage"
	"github.com/ikmak/mongo-driver-core/writeconcern"
	"github.com/pkg/errors"
)

// InvalidOptionError is returned when an option in the connection string has
// a value that cannot be used.
type InvalidOptionError struct {
	Option string
	Value  string
}

func (e InvalidOptionError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Option, e.Value)
}

// Parse parses the provided uri and returns a ConnString.
func Parse(s string) (ConnString, error) {
	var p parser
	err := p.parse(s)
	if err != nil {
		err = errors.Wrapf(err, "error parsing uri (%s)", s)
	}
	return p.ConnString, err
}

// ParseWithLogger behaves like Parse but warns about unrecognized options
// through the provided logger.
func ParseWithLogger(s string, log *logger.Logger) (ConnString, error) {
	p := parser{log: log}
	err := p.parse(s)
	if err != nil {
		err = errors.Wrapf(err, "error parsing uri (%s)", s)
	}
	return p.ConnString, err
}

// ConnString represents a connection string to mongodb.
type ConnString struct {
	Original                  string
	AppName                   string
	AuthMechanism             string
	AuthMechanismProperties   map[string]string
	AuthSource                string
	Compressors               []string
	Connect                   ConnectMode
	ConnectSet                bool
	ConnectTimeout            time.Duration
	ConnectTimeoutSet         bool
	Database                  string
	HeartbeatInterval         time.Duration
	HeartbeatIntervalSet      bool
	Hosts                     []string
	J                         bool
	JSet                      bool
	LocalThreshold            time.Duration
	LocalThresholdSet         bool
	MaxStaleness              time.Duration
	MaxStalenessSet           bool
	Password                  string
	PasswordSet               bool
	ReadConcernLevel          string
	ReadPreference            string
	ReadPreferenceTagSets     []map[string]string
	ReplicaSet                string
	RetryWrites               bool
	RetryWritesSet            bool
	ServerSelectionTimeout    time.Duration
	ServerSelectionTimeoutSet bool
	SocketTimeout             time.Duration
	SocketTimeoutSet          bool
	Username                  string
	WNumber                   int
	WNumberSet                bool
	WString                   string
	WTimeout                  time.Duration
	WTimeoutSet               bool
	ZlibLevel                 int
	ZlibLevelSet              bool

	Options        map[string][]string
	UnknownOptions map[string][]string
}

func (u *ConnString) String() string {
	return u.Original
}

// ReadPref converts the parsed read preference options into a
// readpref.ReadPref. It returns nil when no read preference was present.
func (u *ConnString) ReadPref() (*readpref.ReadPref, error) {
	if u.ReadPreference == "" {
		if len(u.ReadPreferenceTagSets) != 0 || u.MaxStalenessSet {
			return nil, fmt.Errorf("read preference mode required when tags or maxStalenessSeconds are given")
		}
		return nil, nil
	}

	mode, err := readpref.ModeFromString(u.ReadPreference)
	if err != nil {
		return nil, err
	}

	var opts []readpref.Option
	if len(u.ReadPreferenceTagSets) > 0 {
		sets := tag.NewTagSetsFromMaps(u.ReadPreferenceTagSets)
		opts = append(opts, readpref.WithTagSets(sets...))
	}
	if u.MaxStalenessSet {
		opts = append(opts, readpref.WithMaxStaleness(u.MaxStaleness))
	}

	return readpref.New(mode, opts...)
}

// WriteConcern converts the parsed write concern options into a
// writeconcern.WriteConcern. It returns nil when none were present.
func (u *ConnString) WriteConcern() *writeconcern.WriteConcern {
	if !u.WNumberSet && u.WString == "" && !u.JSet && !u.WTimeoutSet {
		return nil
	}

	var opts []writeconcern.Option
	switch {
	case u.WNumberSet:
		opts = append(opts, writeconcern.W(u.WNumber))
	case u.WString == "majority":
		opts = append(opts, writeconcern.WMajority())
	case u.WString != "":
		opts = append(opts, writeconcern.WTagSet(u.WString))
	}
	if u.JSet {
		opts = append(opts, writeconcern.J(u.J))
	}
	if u.WTimeoutSet {
		opts = append(opts, writeconcern.WTimeout(u.WTimeout))
	}

	return writeconcern.New(opts...)
}

// ConnectMode informs the driver on how to connect
// to the server.
type ConnectMode uint8

// ConnectMode constants.
const (
	AutoConnect ConnectMode = iota
	SingleConnect
)

type parser struct {
	ConnString

	log *logger.Logger
}

func (p *parser) parse(original string) error {
	p.Original = original
	uri := original

	var err error
	if !strings.HasPrefix(uri, "mongodb://") {
		return fmt.Errorf("scheme must be \"mongodb\"")
	}
	uri = uri[10:]

	if idx := strings.Index(uri, "@"); idx != -1 {
		userInfo := uri[:idx]
		uri = uri[idx+1:]

		username := userInfo
		var password string

		if idx := strings.Index(userInfo, ":"); idx != -1 {
			username = userInfo[:idx]
			password = userInfo[idx+1:]
			p.PasswordSet = true
		}

		if strings.Contains(username, "/") {
			return fmt.Errorf("unescaped slash in username")
		}

		p.Username, err = url.QueryUnescape(username)
		if err != nil {
			return errors.Wrap(err, "invalid username")
		}
		if len(password) > 0 {
			if strings.Contains(password, ":") {
				return fmt.Errorf("unescaped colon in password")
			}
			if strings.Contains(password, "/") {
				return fmt.Errorf("unescaped slash in password")
			}
			p.Password, err = url.QueryUnescape(password)
			if err != nil {
				return errors.Wrap(err, "invalid password")
			}
		}
	}

	hosts := uri
	if idx := strings.IndexAny(uri, "/?@"); idx != -1 {
		if uri[idx] == '@' {
			return fmt.Errorf("unescaped @ sign in user info")
		}
		if uri[idx] == '?' {
			return fmt.Errorf("must have a / before the query ?")
		}
		hosts = uri[:idx]
	}

	for _, host := range strings.Split(hosts, ",") {
		err = p.addHost(host)
		if err != nil {
			return errors.Wrapf(err, "invalid host \"%s\"", host)
		}
	}
	if len(p.Hosts) == 0 {
		return fmt.Errorf("must have at least 1 host")
	}

	uri = uri[len(hosts):]

	extracted, err := extractDatabaseFromURI(uri)
	if err != nil {
		return err
	}

	uri = extracted.uri
	p.Database = extracted.db

	pairs, err := extractQueryArgsFromURI(uri)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		err = p.addOption(pair)
		if err != nil {
			return err
		}
	}

	err = p.setDefaultAuthParams(extracted.db)
	if err != nil {
		return err
	}

	err = p.validateAuth()
	if err != nil {
		return err
	}

	// w=0 cannot be combined with j=true.
	if p.WNumberSet && p.WNumber == 0 && p.JSet && p.J {
		return writeconcern.ErrInconsistent
	}

	return nil
}

func (p *parser) setDefaultAuthParams(dbName string) error {
	switch strings.ToLower(p.AuthMechanism) {
	case "plain":
		if p.AuthSource == "" {
			p.AuthSource = dbName
			if p.AuthSource == "" {
				p.AuthSource = "$external"
			}
		}
	case "gssapi":
		if p.AuthMechanismProperties == nil {
			p.AuthMechanismProperties = map[string]string{
				"SERVICE_NAME": "mongodb",
			}
		} else if v, ok := p.AuthMechanismProperties["SERVICE_NAME"]; !ok || v == "" {
			p.AuthMechanismProperties["SERVICE_NAME"] = "mongodb"
		}
		fallthrough
	case "mongodb-x509":
		if p.AuthSource == "" {
			p.AuthSource = "$external"
		} else if p.AuthSource != "$external" {
			return fmt.Errorf("auth source must be $external")
		}
	case "mongodb-cr", "scram-sha-1", "scram-sha-256", "":
		if p.AuthSource == "" {
			p.AuthSource = dbName
			if p.AuthSource == "" {
				p.AuthSource = "admin"
			}
		}
	default:
		return fmt.Errorf("invalid auth mechanism")
	}
	return nil
}

func (p *parser) validateAuth() error {
	switch strings.ToLower(p.AuthMechanism) {
	case "mongodb-cr", "plain", "scram-sha-1", "scram-sha-256":
		if p.Username == "" {
			return fmt.Errorf("username required for %s", p.AuthMechanism)
		}
		if p.Password == "" {
			return fmt.Errorf("password required for %s", p.AuthMechanism)
		}
		if p.AuthMechanismProperties != nil {
			return fmt.Errorf("%s cannot have mechanism properties", p.AuthMechanism)
		}
	case "mongodb-x509":
		if p.Password != "" {
			return fmt.Errorf("password cannot be specified for MONGODB-X509")
		}
		if p.AuthMechanismProperties != nil {
			return fmt.Errorf("MONGODB-X509 cannot have mechanism properties")
		}
	case "gssapi":
		if p.Username == "" {
			return fmt.Errorf("username required for GSSAPI")
		}
		for k := range p.AuthMechanismProperties {
			if k != "SERVICE_NAME" && k != "CANONICALIZE_HOST_NAME" && k != "SERVICE_REALM" {
				return fmt.Errorf("invalid auth property for GSSAPI")
			}
		}
	case "":
	default:
		return fmt.Errorf("invalid auth mechanism")
	}
	return nil
}

func (p *parser) addHost(host string) error {
	if host == "" {
		return nil
	}
	host, err := url.QueryUnescape(host)
	if err != nil {
		return errors.Wrapf(err, "invalid host \"%s\"", host)
	}

	_, port, err := net.SplitHostPort(host)
	// SplitHostPort requires a port to exist, a bare hostname is fine here.
	if err != nil {
		if addrError, ok := err.(*net.AddrError); !ok || addrError.Err != "missing port in address" {
			return err
		}
	}

	if port != "" {
		d, err := strconv.Atoi(port)
		if err != nil {
			return errors.Wrap(err, "port must be an integer")
		}
		if d <= 0 || d >= 65536 {
			return fmt.Errorf("port must be in the range [1, 65535]")
		}
	}
	p.Hosts = append(p.Hosts, host)
	return nil
}

func (p *parser) addOption(pair string) error {
	kv := strings.SplitN(pair, "=", 2)
	if len(kv) != 2 || kv[0] == "" {
		return fmt.Errorf("invalid option")
	}

	key, err := url.QueryUnescape(kv[0])
	if err != nil {
		return errors.Wrapf(err, "invalid option key \"%s\"", kv[0])
	}

	value, err := url.QueryUnescape(kv[1])
	if err != nil {
		return errors.Wrapf(err, "invalid option value \"%s\"", kv[1])
	}

	lowerKey := strings.ToLower(key)
	switch lowerKey {
	case "appname":
		p.AppName = value
	case "authmechanism":
		p.AuthMechanism = value
	case "authmechanismproperties":
		p.AuthMechanismProperties = make(map[string]string)
		pairs := strings.Split(value, ",")
		for _, pair := range pairs {
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) != 2 || kv[0] == "" {
				return fmt.Errorf("invalid authMechanism property")
			}
			p.AuthMechanismProperties[kv[0]] = kv[1]
		}
	case "authsource":
		p.AuthSource = value
	case "compressors":
		compressors := strings.Split(value, ",")
		if len(compressors) < 1 {
			return fmt.Errorf("must have at least 1 compressor")
		}
		p.Compressors = compressors
	case "connect":
		switch strings.ToLower(value) {
		case "automatic":
		case "direct":
			p.Connect = SingleConnect
		default:
			return InvalidOptionError{Option: key, Value: value}
		}

		p.ConnectSet = true
	case "connecttimeoutms":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return InvalidOptionError{Option: key, Value: value}
		}
		p.ConnectTimeout = time.Duration(n) * time.Millisecond
		p.ConnectTimeoutSet = true
	case "heartbeatintervalms", "heartbeatfrequencyms":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return InvalidOptionError{Option: key, Value: value}
		}
		p.HeartbeatInterval = time.Duration(n) * time.Millisecond
		p.HeartbeatIntervalSet = true
	case "journal":
		switch value {
		case "true":
			p.J = true
		case "false":
			p.J = false
		default:
			return InvalidOptionError{Option: key, Value: value}
		}

		p.JSet = true
	case "localthresholdms":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return InvalidOptionError{Option: key, Value: value}
		}
		p.LocalThreshold = time.Duration(n) * time.Millisecond
		p.LocalThresholdSet = true
	case "maxstalenessseconds":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return InvalidOptionError{Option: key, Value: value}
		}
		p.MaxStaleness = time.Duration(n) * time.Second
		p.MaxStalenessSet = true
	case "readconcernlevel":
		p.ReadConcernLevel = value
	case "readpreference":
		p.ReadPreference = value
	case "readpreferencetags":
		tags := make(map[string]string)
		items := strings.Split(value, ",")
		for _, item := range items {
			parts := strings.Split(item, ":")
			if len(parts) != 2 {
				return InvalidOptionError{Option: key, Value: value}
			}
			tags[parts[0]] = parts[1]
		}
		p.ReadPreferenceTagSets = append(p.ReadPreferenceTagSets, tags)
	case "replicaset":
		p.ReplicaSet = value
	case "retrywrites":
		switch value {
		case "true":
			p.RetryWrites = true
		case "false":
			p.RetryWrites = false
		default:
			return InvalidOptionError{Option: key, Value: value}
		}

		p.RetryWritesSet = true
	case "serverselectiontimeoutms":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return InvalidOptionError{Option: key, Value: value}
		}
		p.ServerSelectionTimeout = time.Duration(n) * time.Millisecond
		p.ServerSelectionTimeoutSet = true
	case "sockettimeoutms":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return InvalidOptionError{Option: key, Value: value}
		}
		p.SocketTimeout = time.Duration(n) * time.Millisecond
		p.SocketTimeoutSet = true
	case "w":
		if w, err := strconv.Atoi(value); err == nil {
			if w < 0 {
				return InvalidOptionError{Option: key, Value: value}
			}

			p.WNumber = w
			p.WNumberSet = true
			p.WString = ""
			break
		}

		p.WString = value
		p.WNumberSet = false

	case "wtimeoutms":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return InvalidOptionError{Option: key, Value: value}
		}
		p.WTimeout = time.Duration(n) * time.Millisecond
		p.WTimeoutSet = true
	case "zlibcompressionlevel":
		level, err := strconv.Atoi(value)
		if err != nil || (level < -1 || level > 9) {
			return InvalidOptionError{Option: key, Value: value}
		}

		if level == -1 {
			level = wiremessage.DefaultZlibLevel
		}
		p.ZlibLevel = level
		p.ZlibLevelSet = true
	default:
		if p.log != nil {
			p.log.Warningf(logger.ComponentConnection, "unknown connection string option %q", key)
		}
		if p.UnknownOptions == nil {
			p.UnknownOptions = make(map[string][]string)
		}
		p.UnknownOptions[lowerKey] = append(p.UnknownOptions[lowerKey], value)
	}

	if p.Options == nil {
		p.Options = make(map[string][]string)
	}
	p.Options[lowerKey] = append(p.Options[lowerKey], value)

	return nil
}

func extractQueryArgsFromURI(uri string) ([]string, error) {
	if len(uri) == 0 {
		return nil, nil
	}

	if uri[0] != '?' {
		return nil, fmt.Errorf("must have a ? separator between path and query")
	}

	uri = uri[1:]
	if len(uri) == 0 {
		return nil, nil
	}
	return strings.FieldsFunc(uri, func(r rune) bool { return r == ';' || r == '&' }), nil
}

type extractedDatabase struct {
	uri string
	db  string
}

// extractDatabaseFromURI is a helper function to retrieve information about
// the database from the passed in URI. It accepts as an argument the currently
// parsed URI and returns the remainder of the uri, the database it found,
// and any error it encounters while parsing.
func extractDatabaseFromURI(uri string) (extractedDatabase, error) {
	if len(uri) == 0 {
		return extractedDatabase{}, nil
	}

	if uri[0] != '/' {
		return extractedDatabase{}, fmt.Errorf("must have a / separator between hosts and path")
	}

	uri = uri[1:]
	if len(uri) == 0 {
		return extractedDatabase{}, nil
	}

	database := uri
	if idx := strings.IndexRune(uri, '?'); idx != -1 {
		database = uri[:idx]
	}

	escapedDatabase, err := url.QueryUnescape(database)
	if err != nil {
		return extractedDatabase{}, errors.Wrapf(err, "invalid database \"%s\"", database)
	}

	uri = uri[len(database):]

	return extractedDatabase{
		uri: uri,
		db:  escapedDatabase,
	}, nil
}
