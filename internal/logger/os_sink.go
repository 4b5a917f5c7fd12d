// Copyright (C) MongoDB, Inc. 2023-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"fmt"
	"io"
	"log"
)

type osSink struct {
	log *log.Logger
}

func newOSSink(out io.Writer) *osSink {
	return &osSink{
		log: log.New(out, "", log.LstdFlags),
	}
}

// Log implements the Sink interface.
func (sink *osSink) Log(level Level, msg string, keysAndValues ...interface{}) {
	if len(keysAndValues) == 0 {
		sink.log.Printf("[%s] %s", level, msg)
		return
	}
	sink.log.Printf("[%s] %s %s", level, msg, fmt.Sprintln(keysAndValues...))
}
