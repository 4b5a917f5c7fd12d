// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package version defines the driver version reported during the handshake.
package version

// Driver is the version string sent in the handshake client metadata.
var Driver = "v0.1.0"
