// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"github.com/sirupsen/logrus"
)

// LogrusSink is a Sink that forwards log messages to a logrus logger.
type LogrusSink struct {
	logger *logrus.Logger
}

var _ Sink = LogrusSink{}

// NewLogrusSink creates a Sink backed by the given logrus logger. A nil logger
// uses the logrus standard logger.
func NewLogrusSink(logger *logrus.Logger) LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return LogrusSink{logger: logger}
}

// Log implements the Sink interface.
func (sink LogrusSink) Log(level Level, msg string, keysAndValues ...interface{}) {
	entry := logrus.NewEntry(sink.logger)
	if len(keysAndValues) > 1 {
		fields := make(logrus.Fields, len(keysAndValues)/2)
		for i := 1; i < len(keysAndValues); i += 2 {
			key, ok := keysAndValues[i-1].(string)
			if !ok {
				continue
			}
			fields[key] = keysAndValues[i]
		}
		entry = entry.WithFields(fields)
	}

	switch level {
	case WarnLevel:
		entry.Warn(msg)
	case InfoLevel:
		entry.Info(msg)
	case DebugLevel:
		entry.Debug(msg)
	}
}
