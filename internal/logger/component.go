// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import "os"

// Component is an enumeration representing the "components" which can be
// logged against. A Level can be configured on a per-component basis.
type Component int

const (
	// ComponentAll enables logging for all components.
	ComponentAll Component = iota

	// ComponentCommand enables command monitor logging.
	ComponentCommand

	// ComponentTopology enables topology logging.
	ComponentTopology

	// ComponentServerSelection enables server selection logging.
	ComponentServerSelection

	// ComponentConnection enables connection services logging.
	ComponentConnection
)

var componentEnvVars = map[Component]string{
	ComponentAll:             "MONGOCORE_LOG_ALL",
	ComponentCommand:         "MONGOCORE_LOG_COMMAND",
	ComponentTopology:        "MONGOCORE_LOG_TOPOLOGY",
	ComponentServerSelection: "MONGOCORE_LOG_SERVER_SELECTION",
	ComponentConnection:      "MONGOCORE_LOG_CONNECTION",
}

// getEnvComponentLevels returns a component-to-level mapping sourced from the
// environment.
func getEnvComponentLevels() map[Component]Level {
	levels := make(map[Component]Level)
	for component, envVar := range componentEnvVars {
		if value := os.Getenv(envVar); value != "" {
			levels[component] = ParseLevel(value)
		}
	}
	return levels
}
