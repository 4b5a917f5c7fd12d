// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package operation contains builders for the database commands the driver
// issues. Each builder assembles an ordered command document and returns a
// driver.CommandSpec ready to be executed through driver.Operation.
package operation
