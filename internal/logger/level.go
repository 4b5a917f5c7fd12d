// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import "strings"

// Level is an enumeration representing the supported log severity levels.
type Level int

const (
	// OffLevel suppresses logging.
	OffLevel Level = iota

	// WarnLevel enables logging of conditions that are recoverable but worth
	// surfacing, such as retried operation attempts.
	WarnLevel

	// InfoLevel enables logging of high-level information about normal
	// behavior.
	InfoLevel

	// DebugLevel enables logging of detailed information that may be helpful
	// when debugging an application, such as every command started.
	DebugLevel
)

// ParseLevel returns the Level for the given string literal. Unknown literals
// map to OffLevel.
func ParseLevel(literal string) Level {
	switch strings.ToLower(literal) {
	case "error", "warn", "warning", "notice":
		return WarnLevel
	case "info":
		return InfoLevel
	case "debug", "trace":
		return DebugLevel
	default:
		return OffLevel
	}
}

// String implements the fmt.Stringer interface.
func (level Level) String() string {
	switch level {
	case WarnLevel:
		return "warn"
	case InfoLevel:
		return "info"
	case DebugLevel:
		return "debug"
	default:
		return "off"
	}
}
