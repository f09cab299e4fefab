// Package errors provides DICOM-specific error types for better error handling
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidArgument marks a construction defect: a required
	// reference was missing where the call's semantics demand one.
	ErrInvalidArgument = errors.New("dicom: invalid argument")

	// ErrClosedPrematurely is the fault raised when a caller waiting on
	// connection activity observes that the connection died instead.
	ErrClosedPrematurely = errors.New("dicom: connection closed prematurely")

	ErrInvalidPDU        = errors.New("dicom: invalid PDU")
	ErrNoPresentationCtx = errors.New("dicom: no suitable presentation context")
	ErrInvalidMessage    = errors.New("dicom: invalid DIMSE message")
)

// ClosedError is the raised form of a connection closure. Cause is nil
// for a clean closure and carries the original transport fault otherwise.
type ClosedError struct {
	Cause error
}

func (e *ClosedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dicom: connection closed prematurely: %v", e.Cause)
	}
	return "dicom: connection closed prematurely"
}

func (e *ClosedError) Unwrap() error {
	return e.Cause
}

// Is matches ErrClosedPrematurely so callers can test with errors.Is
// without caring whether a cause was attached.
func (e *ClosedError) Is(target error) bool {
	return target == ErrClosedPrematurely
}

// NetworkError represents a network-level error
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{
		Op:  op,
		Err: err,
	}
}

// PDUError represents a PDU-level protocol error
type PDUError struct {
	PDUType byte
	Msg     string
}

func (e *PDUError) Error() string {
	return fmt.Sprintf("PDU error (type: 0x%02X): %s", e.PDUType, e.Msg)
}

// NewPDUError creates a new PDU error
func NewPDUError(pduType byte, msg string) *PDUError {
	return &PDUError{
		PDUType: pduType,
		Msg:     msg,
	}
}
