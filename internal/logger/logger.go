// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logger provides the internal logging solution: a per-component
// leveled logger writing to a pluggable Sink.
package logger

import (
	"fmt"
	"os"
)

// Sink is an interface that can be implemented to provide a custom destination
// for the driver's logs.
type Sink interface {
	// Log logs the message and key/value pairs at the given level.
	Log(level Level, msg string, keysAndValues ...interface{})
}

// Logger is the driver's logger. Messages are filtered per component and
// forwarded to the configured Sink.
type Logger struct {
	componentLevels map[Component]Level
	sink            Sink
}

// New constructs a new Logger with the given Sink. If the sink is nil, logs
// are written to os.Stderr.
//
// The componentLevels parameter is variadic with the latest value taking
// precedence. Levels not set explicitly are sourced from the environment.
func New(sink Sink, componentLevels ...map[Component]Level) Logger {
	logger := Logger{
		componentLevels: mergeComponentLevels(
			getEnvComponentLevels(),
			mergeComponentLevels(componentLevels...),
		),
	}

	if sink != nil {
		logger.sink = sink
	} else {
		logger.sink = newOSSink(os.Stderr)
	}

	return logger
}

// Is returns true if the given Level is enabled for the given Component.
func (logger Logger) Is(level Level, component Component) bool {
	if logger.componentLevels[component] >= level {
		return true
	}
	return logger.componentLevels[ComponentAll] >= level
}

// Print logs the message for the component, if enabled.
func (logger Logger) Print(level Level, component Component, msg string, keysAndValues ...interface{}) {
	if !logger.Is(level, component) {
		return
	}
	if logger.sink == nil {
		return
	}

	logger.sink.Log(level, msg, keysAndValues...)
}

// Warningf logs a formatted warning message for the component.
func (logger Logger) Warningf(component Component, format string, args ...interface{}) {
	logger.Print(WarnLevel, component, fmt.Sprintf(format, args...))
}

// Infof logs a formatted informational message for the component.
func (logger Logger) Infof(component Component, format string, args ...interface{}) {
	logger.Print(InfoLevel, component, fmt.Sprintf(format, args...))
}

// Debugf logs a formatted debug message for the component.
func (logger Logger) Debugf(component Component, format string, args ...interface{}) {
	logger.Print(DebugLevel, component, fmt.Sprintf(format, args...))
}

func mergeComponentLevels(componentLevels ...map[Component]Level) map[Component]Level {
	merged := make(map[Component]Level)
	for _, levels := range componentLevels {
		for component, level := range levels {
			merged[component] = level
		}
	}
	return merged
}
