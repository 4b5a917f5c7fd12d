// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package auth implements the authentication conversations the server
// supports: the SCRAM family over SASL, PLAIN, MONGODB-X509, and the legacy
// MONGODB-CR handshake.
package auth

import (
	"context"
	"fmt"

	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver"
)

// Cred is a user's credential.
type Cred struct {
	Source      string
	Username    string
	Password    string
	PasswordSet bool
	Props       map[string]string
}

// Authenticator handles authenticating a connection.
type Authenticator interface {
	// Auth authenticates the connection.
	Auth(ctx context.Context, desc description.Server, conn driver.Connection) error
}

// AuthenticatorFactory constructs an authenticator.
type AuthenticatorFactory func(cred *Cred) (Authenticator, error)

var authFactories = make(map[string]AuthenticatorFactory)

func init() {
	RegisterAuthenticatorFactory("", newDefaultAuthenticator)
	RegisterAuthenticatorFactory(SCRAMSHA1, newScramSHA1Authenticator)
	RegisterAuthenticatorFactory(SCRAMSHA256, newScramSHA256Authenticator)
	RegisterAuthenticatorFactory(PLAIN, newPlainAuthenticator)
	RegisterAuthenticatorFactory(MongoDBX509, newMongoDBX509Authenticator)
	RegisterAuthenticatorFactory(MONGODBCR, newMongoDBCRAuthenticator)
	RegisterAuthenticatorFactory(GSSAPI, newGSSAPIAuthenticator)
}

// CreateAuthenticator creates an authenticator for the given mechanism.
func CreateAuthenticator(name string, cred *Cred) (Authenticator, error) {
	if f, ok := authFactories[name]; ok {
		return f(cred)
	}
	return nil, newAuthError(fmt.Sprintf("unknown authenticator mechanism %s", name), nil)
}

// RegisterAuthenticatorFactory registers the authenticator factory.
func RegisterAuthenticatorFactory(name string, factory AuthenticatorFactory) {
	authFactories[name] = factory
}

// ChooseAuthMechanism negotiates the strongest mechanism both sides support
// from the saslSupportedMechs the server advertised for the user.
// SCRAM-SHA-256 is preferred over SCRAM-SHA-1; with nothing advertised the
// wire version decides.
func ChooseAuthMechanism(desc description.Server) string {
	for _, mech := range desc.SaslSupportedMechs {
		if mech == SCRAMSHA256 {
			return SCRAMSHA256
		}
	}
	for _, mech := range desc.SaslSupportedMechs {
		if mech == SCRAMSHA1 {
			return SCRAMSHA1
		}
	}
	if desc.SupportsScramSHA1() {
		return SCRAMSHA1
	}
	return MONGODBCR
}

// Error is an error that occurred during authentication. The operation layer
// never retries it.
type Error struct {
	message string
	inner   error
}

func newAuthError(msg string, inner error) *Error {
	return &Error{
		message: msg,
		inner:   inner,
	}
}

func newError(err error, mech string) error {
	return &Error{
		message: fmt.Sprintf("unable to authenticate using mechanism \"%s\"", mech),
		inner:   err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.inner != nil {
		return fmt.Sprintf("%s: %s", e.message, e.inner)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.inner
}

// Inner returns the wrapped error.
func (e *Error) Inner() error {
	return e.inner
}

// Message returns the message.
func (e *Error) Message() string {
	return e.message
}

// Unauthorized marks this error class as non-retryable for the operation
// layer.
func (e *Error) Unauthorized() bool { return true }
