// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ikmak/mongo-driver-core/address"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Error labels attached by the server or by the driver itself.
const (
	// NetworkError is the label attached to network errors.
	NetworkError = "NetworkError"
	// RetryableWriteError is the label attached to errors for which a write
	// retry is safe.
	RetryableWriteError = "RetryableWriteError"
	// NoWritesPerformed is the label attached to errors that occurred before
	// any write was attempted.
	NoWritesPerformed = "NoWritesPerformed"
	// TransientTransactionError is the label attached to transient errors
	// inside a transaction.
	TransientTransactionError = "TransientTransactionError"
	// UnknownTransactionCommitResult is the label attached to errors where
	// the outcome of a commit is unknown.
	UnknownTransactionCommitResult = "UnknownTransactionCommitResult"
)

var retryableCodes = []int32{6, 7, 89, 91, 189, 262, 9001, 10107, 11600, 11602, 13435, 13436}

// ErrNoDocCommandResponse occurs when the server indicated a response existed, but none was found.
var ErrNoDocCommandResponse = errors.New("command returned no documents")

// ErrMultiDocCommandResponse occurs when the server sent multiple documents in response to a command.
var ErrMultiDocCommandResponse = errors.New("command returned multiple documents")

// ErrUnacknowledgedWrite is returned when an unacknowledged write is performed.
var ErrUnacknowledgedWrite = errors.New("an unacknowledged write was performed")

// ErrDeadlineWouldBeExceeded is returned when the remaining time in the
// context budget is shorter than the fastest observed round trip to the
// server, so an attempt is certain to miss its deadline.
var ErrDeadlineWouldBeExceeded = errors.New("operation not sent, remaining time is less than the minimum observed round trip time")

// TimeoutPhase identifies the stage of an operation in which a timeout
// occurred.
type TimeoutPhase uint8

// The operation stages a timeout can be attributed to.
const (
	SelectionPhase TimeoutPhase = iota
	AuthPhase
	CommandPhase
	GetMorePhase
)

func (p TimeoutPhase) String() string {
	switch p {
	case SelectionPhase:
		return "server selection"
	case AuthPhase:
		return "authentication"
	case CommandPhase:
		return "command execution"
	case GetMorePhase:
		return "getMore"
	default:
		return "unknown"
	}
}

// TimeoutError is returned when an operation exceeds its time budget. Phase
// records where the budget ran out.
type TimeoutError struct {
	Phase   TimeoutPhase
	Wrapped error
}

// Error implements the error interface.
func (e TimeoutError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("timed out during %s: %v", e.Phase, e.Wrapped)
	}
	return fmt.Sprintf("timed out during %s", e.Phase)
}

// Unwrap returns the underlying error.
func (e TimeoutError) Unwrap() error { return e.Wrapped }

// ConnectionError represents a connection failure against a particular
// server.
type ConnectionError struct {
	Addr    address.Address
	Wrapped error
	Timeout bool
	Message string
}

// Error implements the error interface.
func (e ConnectionError) Error() string {
	message := e.Message
	if e.Wrapped != nil {
		message = e.Wrapped.Error()
	}
	if message == "" {
		return fmt.Sprintf("connection(%s) error", e.Addr)
	}
	return fmt.Sprintf("connection(%s) %s", e.Addr, message)
}

// Unwrap returns the underlying error.
func (e ConnectionError) Unwrap() error { return e.Wrapped }

// Retryable returns true for all connection errors. A request that never
// produced a server response is safe to resend.
func (e ConnectionError) Retryable() bool { return true }

// NetworkTimeout returns true if the error was caused by a network timeout.
func (e ConnectionError) NetworkTimeout() bool { return e.Timeout }

// WriteConcernError is a write concern failure returned by the server.
type WriteConcernError struct {
	Name    string
	Code    int64
	Message string
	Details bson.Raw
	Labels  []string
}

// Error implements the error interface.
func (wce WriteConcernError) Error() string {
	if wce.Name != "" {
		return fmt.Sprintf("(%v) %v", wce.Name, wce.Message)
	}
	return wce.Message
}

// Retryable returns true if the error is retryable.
func (wce WriteConcernError) Retryable() bool {
	for _, code := range retryableCodes {
		if wce.Code == int64(code) {
			return true
		}
	}
	return false
}

// WriteError is a non-write concern failure that occurred as a result of a write
// operation.
type WriteError struct {
	Index   int64
	Code    int64
	Message string
	Details bson.Raw
}

func (we WriteError) Error() string { return we.Message }

// WriteErrors is a group of write errors.
type WriteErrors []WriteError

// Error implements the error interface.
func (wes WriteErrors) Error() string {
	var buf bytes.Buffer
	fmt.Fprint(&buf, "write errors: [")
	for idx, err := range wes {
		if idx != 0 {
			fmt.Fprintf(&buf, ", ")
		}
		fmt.Fprintf(&buf, "{%s}", err)
	}
	fmt.Fprint(&buf, "]")
	return buf.String()
}

// WriteCommandError is an error for a write command.
type WriteCommandError struct {
	WriteConcernError *WriteConcernError
	WriteErrors       WriteErrors
	Labels            []string
}

// Error implements the error interface.
func (wce WriteCommandError) Error() string {
	var buf bytes.Buffer
	fmt.Fprint(&buf, "write command error: [")
	fmt.Fprintf(&buf, "{%s}, ", wce.WriteErrors)
	fmt.Fprintf(&buf, "{%s}]", wce.WriteConcernError)
	return buf.String()
}

// Retryable returns true if the error is retryable.
func (wce WriteCommandError) Retryable() bool {
	for _, label := range wce.Labels {
		if label == RetryableWriteError {
			return true
		}
	}
	if wce.WriteConcernError == nil {
		return false
	}
	return wce.WriteConcernError.Retryable()
}

// HasErrorLabel returns true if the error contains the specified label.
func (wce WriteCommandError) HasErrorLabel(label string) bool {
	for _, l := range wce.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Error is a command execution error from the database.
type Error struct {
	Code    int32
	Message string
	Labels  []string
	Name    string
	Wrapped error
}

// UnsupportedStorageEngine returns whether e came as a result of an unsupported storage engine.
func (e Error) UnsupportedStorageEngine() bool {
	return e.Code == 20 && strings.HasPrefix(strings.ToLower(e.Message), "transaction numbers")
}

// Error implements the error interface.
func (e Error) Error() string {
	var msg string
	if e.Name != "" {
		msg = fmt.Sprintf("(%v) %v", e.Name, e.Message)
	} else {
		msg = e.Message
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error { return e.Wrapped }

// Is implements the errors.Is interface.
func (e Error) Is(err error) bool {
	var de Error
	if errors.As(err, &de) {
		return e.Code == de.Code
	}
	return false
}

// HasErrorLabel returns true if the error contains the specified label.
func (e Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// RetryableRead returns true if the error is retryable for a read operation.
func (e Error) RetryableRead() bool {
	for _, label := range e.Labels {
		if label == NetworkError {
			return true
		}
	}
	for _, code := range retryableCodes {
		if e.Code == code {
			return true
		}
	}
	return false
}

// RetryableWrite returns true if the error is retryable for a write
// operation. Servers that maintain session state communicate retryability
// through the RetryableWriteError label, so the label is authoritative on
// wire versions of 9 or higher.
func (e Error) RetryableWrite(wireVersion int32) bool {
	for _, label := range e.Labels {
		if label == NetworkError || label == RetryableWriteError {
			return true
		}
	}
	if wireVersion >= 9 {
		return false
	}
	for _, code := range retryableCodes {
		if e.Code == code {
			return true
		}
	}
	return false
}

// NodeIsRecovering returns true if this error is a node is recovering error.
func (e Error) NodeIsRecovering() bool {
	for _, code := range nodeIsRecoveringCodes {
		if e.Code == code {
			return true
		}
	}
	return strings.Contains(e.Message, "node is recovering")
}

// NodeIsShuttingDown returns true if this error is a node is shutting down error.
func (e Error) NodeIsShuttingDown() bool {
	for _, code := range nodeIsShuttingDownCodes {
		if e.Code == code {
			return true
		}
	}
	return strings.Contains(e.Message, "node is shutting down")
}

// NotPrimary returns true if this error is a not primary error.
func (e Error) NotPrimary() bool {
	for _, code := range notPrimaryCodes {
		if e.Code == code {
			return true
		}
	}
	return strings.Contains(e.Message, "not master")
}

var (
	nodeIsRecoveringCodes   = []int32{11600, 11602, 13436, 189, 91}
	nodeIsShuttingDownCodes = []int32{11600, 91}
	notPrimaryCodes         = []int32{10107, 13435, 10058}
)

// ExtractErrorFromServerResponse extracts an error from a server response
// bsoncore.Document. It returns nil when the response indicates success.
func ExtractErrorFromServerResponse(doc bsoncore.Document) error {
	var errmsg, codeName string
	var code int32
	var labels []string
	var ok bool
	var wcError WriteCommandError

	elems, err := doc.Elements()
	if err != nil {
		return err
	}

	for _, elem := range elems {
		switch elem.Key() {
		case "ok":
			switch elem.Value().Type {
			case bson.TypeInt32:
				if elem.Value().Int32() == 1 {
					ok = true
				}
			case bson.TypeInt64:
				if elem.Value().Int64() == 1 {
					ok = true
				}
			case bson.TypeDouble:
				if elem.Value().Double() == 1 {
					ok = true
				}
			case bson.TypeBoolean:
				if elem.Value().Boolean() {
					ok = true
				}
			}
		case "errmsg":
			if str, okay := elem.Value().StringValueOK(); okay {
				errmsg = str
			}
		case "codeName":
			if str, okay := elem.Value().StringValueOK(); okay {
				codeName = str
			}
		case "code":
			if c, okay := elem.Value().Int32OK(); okay {
				code = c
			}
		case "errorLabels":
			if arr, okay := elem.Value().ArrayOK(); okay {
				vals, err := arr.Values()
				if err != nil {
					continue
				}
				for _, val := range vals {
					if str, okay := val.StringValueOK(); okay {
						labels = append(labels, str)
					}
				}
			}
		case "writeErrors":
			arr, exists := elem.Value().ArrayOK()
			if !exists {
				break
			}
			vals, err := arr.Values()
			if err != nil {
				continue
			}
			for _, val := range vals {
				var we WriteError
				doc, exists := val.DocumentOK()
				if !exists {
					continue
				}
				if index, exists := doc.Lookup("index").AsInt64OK(); exists {
					we.Index = index
				}
				if code, exists := doc.Lookup("code").AsInt64OK(); exists {
					we.Code = code
				}
				if msg, exists := doc.Lookup("errmsg").StringValueOK(); exists {
					we.Message = msg
				}
				if info, exists := doc.Lookup("errInfo").DocumentOK(); exists {
					we.Details = make([]byte, len(info))
					copy(we.Details, info)
				}
				wcError.WriteErrors = append(wcError.WriteErrors, we)
			}
		case "writeConcernError":
			doc, exists := elem.Value().DocumentOK()
			if !exists {
				break
			}
			wcError.WriteConcernError = new(WriteConcernError)
			if code, exists := doc.Lookup("code").AsInt64OK(); exists {
				wcError.WriteConcernError.Code = code
			}
			if name, exists := doc.Lookup("codeName").StringValueOK(); exists {
				wcError.WriteConcernError.Name = name
			}
			if msg, exists := doc.Lookup("errmsg").StringValueOK(); exists {
				wcError.WriteConcernError.Message = msg
			}
			if info, exists := doc.Lookup("errInfo").DocumentOK(); exists {
				wcError.WriteConcernError.Details = make([]byte, len(info))
				copy(wcError.WriteConcernError.Details, info)
			}
			if errLabels, exists := doc.Lookup("errorLabels").ArrayOK(); exists {
				vals, err := errLabels.Values()
				if err != nil {
					continue
				}
				for _, val := range vals {
					if str, okay := val.StringValueOK(); okay {
						labels = append(labels, str)
					}
				}
			}
		}
	}

	if !ok {
		if errmsg == "" {
			errmsg = "command failed"
		}
		return Error{
			Code:    code,
			Message: errmsg,
			Name:    codeName,
			Labels:  labels,
		}
	}

	if len(wcError.WriteErrors) > 0 || wcError.WriteConcernError != nil {
		wcError.Labels = labels
		return wcError
	}

	return nil
}
