// Package status defines the protocol error codes returned by the arbiter.
package status

import (
	"errors"
	"fmt"

	"github.com/jezek/xgb/xproto"
)

// Code is a protocol error number. Success is zero.
type Code uint8

const (
	Success           Code = 0
	BadRequest        Code = xproto.BadRequest
	BadValue          Code = xproto.BadValue
	BadWindow         Code = xproto.BadWindow
	BadCursor         Code = xproto.BadCursor
	BadMatch          Code = xproto.BadMatch
	BadAccess         Code = xproto.BadAccess
	BadAlloc          Code = xproto.BadAlloc
	BadIDChoice       Code = xproto.BadIDChoice
	BadImplementation Code = xproto.BadImplementation

	// BadDevice is the first XInputExtension error. The server assigns the
	// extension error base at registration; 128 is the base used here.
	BadDevice Code = 128
)

var names = map[Code]string{
	Success:           "Success",
	BadRequest:        "BadRequest",
	BadValue:          "BadValue",
	BadWindow:         "BadWindow",
	BadCursor:         "BadCursor",
	BadMatch:          "BadMatch",
	BadAccess:         "BadAccess",
	BadAlloc:          "BadAlloc",
	BadIDChoice:       "BadIDChoice",
	BadImplementation: "BadImplementation",
	BadDevice:         "BadDevice",
}

func (c Code) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// Error makes a Code usable as an error value so handlers can return it
// directly or wrap it with %w.
func (c Code) Error() string {
	return c.String()
}

// Error is a protocol error carrying the offending value, the way a client
// error reply reports errorValue.
type Error struct {
	Code  Code
	Value uint32
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (value %d)", e.Code, e.Value)
}

func (e *Error) Unwrap() error {
	return e.Code
}

// WithValue returns an error for code that reports value to the client.
func WithValue(code Code, value uint32) error {
	return &Error{Code: code, Value: value}
}

// FromError maps err back to the protocol code that should be sent to the
// client. Errors that carry no code are reported as BadImplementation.
func FromError(err error) Code {
	if err == nil {
		return Success
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return BadImplementation
}

// ValueOf returns the error value attached to err, if any.
func ValueOf(err error) (uint32, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Value, true
	}
	return 0, false
}
