// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package auth

// GSSAPI is the mechanism name for GSSAPI.
const GSSAPI = "GSSAPI"

// newGSSAPIAuthenticator always fails: Kerberos support requires native
// SASL/SSPI bindings that this module does not carry.
func newGSSAPIAuthenticator(cred *Cred) (Authenticator, error) {
	return nil, newAuthError("GSSAPI support not enabled during build (https://docs.mongodb.com/manual/tutorial/control-access-to-mongodb-with-kerberos-authentication)", nil)
}
