// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Validation errors (100-199): Invalid parameters, configs and schemas
//   - Data/Coverage errors (200-299): Missing bar coverage, query failures
//   - Indicator errors (300-399): Technical indicator calculation errors
//   - Strategy errors (400-499): Strategy lookup, schema and runtime faults
//   - Trading errors (500-599): Order rejection and sizing errors
//   - Backtest errors (600-699): Runner preconditions and lifecycle errors
//   - Persistence errors (700-799): Run store write and integrity errors
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidParameter, "invalid parameter value")
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeQueryFailed, "failed to execute query", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeMissingCoverage) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// Returns ErrCodeUnknown if the error is not an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// CoverageSegment classifies which part of a requested bar range is missing.
type CoverageSegment string

const (
	CoverageSegmentLeading  CoverageSegment = "leading"
	CoverageSegmentGaps     CoverageSegment = "gaps"
	CoverageSegmentTrailing CoverageSegment = "trailing"
)

// CoverageError reports incomplete bar coverage for a requested range.
// The missing segment is always classified so callers can report which
// sub-range of the request could not be satisfied.
type CoverageError struct {
	Segment CoverageSegment
	From    int64 // Start of the missing sub-range (epoch ms)
	To      int64 // End of the missing sub-range (epoch ms)
	Symbol  string
}

// NewCoverageError creates a new CoverageError for the given missing segment.
func NewCoverageError(segment CoverageSegment, from, to int64, symbol string) *CoverageError {
	return &CoverageError{
		Segment: segment,
		From:    from,
		To:      to,
		Symbol:  symbol,
	}
}

// Error implements the error interface.
func (e *CoverageError) Error() string {
	return fmt.Sprintf("missing OHLCV data for %s: %s segment (%d, %d)", e.Symbol, e.Segment, e.From, e.To)
}

// IsCoverageError checks if an error is a CoverageError.
// It uses errors.As to check the error chain.
func IsCoverageError(err error) bool {
	var coverageErr *CoverageError

	return errors.As(err, &coverageErr)
}

// AsCoverageError extracts a CoverageError from err's chain, if present.
func AsCoverageError(err error) (*CoverageError, bool) {
	var coverageErr *CoverageError
	if errors.As(err, &coverageErr) {
		return coverageErr, true
	}

	return nil, false
}
