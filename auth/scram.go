// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/ikmak/mongo-driver-core/description"
	"github.com/ikmak/mongo-driver-core/driver"
	"github.com/ikmak/mongo-driver-core/internal/randutil"
	"github.com/xdg/scram"
	"github.com/xdg/stringprep"
	"golang.org/x/crypto/pbkdf2"
)

// SCRAMSHA1 is the mechanism name for SCRAM-SHA-1.
const SCRAMSHA1 = "SCRAM-SHA-1"

// SCRAMSHA256 is the mechanism name for SCRAM-SHA-256.
const SCRAMSHA256 = "SCRAM-SHA-256"

const scramSHA1NonceLen = 24

var usernameSanitizer = strings.NewReplacer("=", "=3D", ",", "=2C")

var nonceRand = randutil.NewLockedRand()

func newScramSHA1Authenticator(cred *Cred) (Authenticator, error) {
	return &ScramSHA1Authenticator{
		DB:       cred.Source,
		Username: cred.Username,
		Password: cred.Password,
		Cache:    DefaultCache,
	}, nil
}

// ScramSHA1Authenticator uses the SCRAM-SHA-1 algorithm over SASL to authenticate a connection.
type ScramSHA1Authenticator struct {
	DB       string
	Username string
	Password string

	// Cache holds the derived keys. Defaults to the process-wide cache.
	Cache *Cache

	NonceGenerator func([]byte) error
}

// Auth authenticates the connection.
func (a *ScramSHA1Authenticator) Auth(ctx context.Context, desc description.Server, conn driver.Connection) error {
	cache := a.Cache
	if cache == nil {
		cache = DefaultCache
	}
	client := &scramSaslClient{
		username:       a.Username,
		password:       a.Password,
		cache:          cache,
		nonceGenerator: a.NonceGenerator,
	}

	err := ConductSaslConversation(ctx, desc, conn, a.DB, client)
	if err != nil {
		return newAuthError("sasl conversation error", err)
	}
	return nil
}

// scramSaslClient is a hand-rolled SCRAM-SHA-1 client. The server nonce must
// extend the client nonce and the server must prove knowledge of the server
// key before the conversation is treated as complete.
type scramSaslClient struct {
	username       string
	password       string
	cache          *Cache
	nonceGenerator func([]byte) error

	step                   uint8
	clientNonce            []byte
	clientFirstMessageBare string
	serverSignature        []byte
}

func (c *scramSaslClient) Start() (string, []byte, error) {
	if err := c.generateClientNonce(scramSHA1NonceLen); err != nil {
		return SCRAMSHA1, nil, newAuthError("generate nonce error", err)
	}

	c.clientFirstMessageBare = "n=" + usernameSanitizer.Replace(c.username) + ",r=" + string(c.clientNonce)

	return SCRAMSHA1, []byte("n,," + c.clientFirstMessageBare), nil
}

func (c *scramSaslClient) Next(challenge []byte) ([]byte, error) {
	c.step++
	switch c.step {
	case 1:
		return c.step1(challenge)
	case 2:
		return c.step2(challenge)
	default:
		return nil, newAuthError("unexpected server challenge", nil)
	}
}

func (c *scramSaslClient) Completed() bool {
	return c.step >= 2
}

func (c *scramSaslClient) step1(challenge []byte) ([]byte, error) {
	fields := bytes.Split(challenge, []byte{','})
	if len(fields) != 3 {
		return nil, newAuthError("invalid server response", nil)
	}

	if !bytes.HasPrefix(fields[0], []byte("r=")) || len(fields[0]) < 2 {
		return nil, newAuthError("invalid nonce", nil)
	}
	r := fields[0][2:]
	if !bytes.HasPrefix(r, c.clientNonce) {
		return nil, newAuthError("invalid nonce", nil)
	}

	if !bytes.HasPrefix(fields[1], []byte("s=")) || len(fields[1]) < 6 {
		return nil, newAuthError("invalid salt", nil)
	}
	s := make([]byte, base64.StdEncoding.DecodedLen(len(fields[1][2:])))
	n, err := base64.StdEncoding.Decode(s, fields[1][2:])
	if err != nil {
		return nil, newAuthError("invalid salt", nil)
	}
	s = s[:n]

	if !bytes.HasPrefix(fields[2], []byte("i=")) || len(fields[2]) < 3 {
		return nil, newAuthError("invalid iteration count", nil)
	}
	i, err := strconv.Atoi(string(fields[2][2:]))
	if err != nil {
		return nil, newAuthError("invalid iteration count", nil)
	}

	clientFinalMessageWithoutProof := "c=biws,r=" + string(r)
	authMessage := c.clientFirstMessageBare + "," + string(challenge) + "," + clientFinalMessageWithoutProof

	entry, err := c.deriveKeys(s, i)
	if err != nil {
		return nil, newAuthError("key derivation error", err)
	}

	storedKey := c.h(entry.ClientKey)
	clientSignature := c.hmac(storedKey, authMessage)
	clientProof := c.xor(entry.ClientKey, clientSignature)
	c.serverSignature = c.hmac(entry.ServerKey, authMessage)

	proof := "p=" + base64.StdEncoding.EncodeToString(clientProof)
	clientFinalMessage := clientFinalMessageWithoutProof + "," + proof

	return []byte(clientFinalMessage), nil
}

func (c *scramSaslClient) step2(challenge []byte) ([]byte, error) {
	var hasV, hasE bool
	fields := bytes.Split(challenge, []byte{','})
	if len(fields) == 1 {
		hasV = bytes.HasPrefix(fields[0], []byte("v="))
		hasE = bytes.HasPrefix(fields[0], []byte("e="))
	}
	if hasE {
		return nil, newAuthError(string(fields[0][2:]), nil)
	}
	if !hasV {
		return nil, newAuthError("missing server signature", nil)
	}

	v := make([]byte, base64.StdEncoding.DecodedLen(len(fields[0][2:])))
	n, err := base64.StdEncoding.Decode(v, fields[0][2:])
	if err != nil {
		return nil, newAuthError("invalid server verification", nil)
	}
	v = v[:n]

	if !hmac.Equal(c.serverSignature, v) {
		return nil, newAuthError("invalid server signature", nil)
	}

	return nil, nil
}

// deriveKeys runs PBKDF2 through the credential cache so that a repeated
// (salt, iteration count) challenge does not repeat the work.
func (c *scramSaslClient) deriveKeys(salt []byte, iterations int) (*CacheEntry, error) {
	digest := mongoPasswordDigest(c.username, c.password)
	return c.cache.Derive(digest, salt, iterations, SCRAMSHA1, func() (*CacheEntry, error) {
		saltedPassword := pbkdf2.Key([]byte(digest), salt, iterations, 20, sha1.New)
		return &CacheEntry{
			SaltedPassword: saltedPassword,
			ClientKey:      c.hmac(saltedPassword, "Client Key"),
			ServerKey:      c.hmac(saltedPassword, "Server Key"),
		}, nil
	})
}

func (c *scramSaslClient) generateClientNonce(n uint8) error {
	if c.nonceGenerator != nil {
		c.clientNonce = make([]byte, n)
		return c.nonceGenerator(c.clientNonce)
	}

	buf := make([]byte, n)
	if _, err := nonceRand.Read(buf); err != nil {
		return err
	}

	c.clientNonce = make([]byte, base64.StdEncoding.EncodedLen(int(n)))
	base64.StdEncoding.Encode(c.clientNonce, buf)
	return nil
}

func (c *scramSaslClient) h(data []byte) []byte {
	h := sha1.New()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

func (c *scramSaslClient) hmac(data []byte, key string) []byte {
	h := hmac.New(sha1.New, data)
	_, _ = h.Write([]byte(key))
	return h.Sum(nil)
}

func (c *scramSaslClient) xor(a []byte, b []byte) []byte {
	result := make([]byte, len(a))
	for i := 0; i < len(a); i++ {
		result[i] = a[i] ^ b[i]
	}
	return result
}

func newScramSHA256Authenticator(cred *Cred) (Authenticator, error) {
	passprep, err := stringprep.SASLprep.Prepare(cred.Password)
	if err != nil {
		return nil, newAuthError(fmt.Sprintf("error SASLprepping password '%s'", cred.Password), err)
	}
	client, err := scram.SHA256.NewClientUnprepped(cred.Username, passprep, "")
	if err != nil {
		return nil, newAuthError("error initializing SCRAM-SHA-256 client", err)
	}
	client.WithMinIterations(4096)
	return &ScramSHA256Authenticator{
		DB:     cred.Source,
		client: client,
	}, nil
}

// ScramSHA256Authenticator uses the SCRAM-SHA-256 algorithm over SASL to authenticate a connection.
type ScramSHA256Authenticator struct {
	DB     string
	client *scram.Client
}

// Auth authenticates the connection.
func (a *ScramSHA256Authenticator) Auth(ctx context.Context, desc description.Server, conn driver.Connection) error {
	adapter := &scramSaslAdapter{conversation: a.client.NewConversation()}
	err := ConductSaslConversation(ctx, desc, conn, a.DB, adapter)
	if err != nil {
		return newAuthError("sasl conversation error", err)
	}
	return nil
}

type scramSaslAdapter struct {
	conversation *scram.ClientConversation
}

func (a *scramSaslAdapter) Start() (string, []byte, error) {
	step, err := a.conversation.Step("")
	if err != nil {
		return SCRAMSHA256, nil, err
	}
	return SCRAMSHA256, []byte(step), nil
}

func (a *scramSaslAdapter) Next(challenge []byte) ([]byte, error) {
	step, err := a.conversation.Step(string(challenge))
	if err != nil {
		return nil, err
	}
	return []byte(step), nil
}

func (a *scramSaslAdapter) Completed() bool {
	return a.conversation.Done()
}
