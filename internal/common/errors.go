package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
)

// Extraction errors. Use errors.Is against these; the concrete types below carry details.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrPageDecode        = errors.New("page decode failed")
	ErrOCRFailure        = errors.New("ocr failed")
	ErrCancelled         = errors.New("processing cancelled")
)

// UnsupportedFormatError is returned when no decoder matches the input. Document-fatal.
type UnsupportedFormatError struct {
	Source   string
	Declared string
	Reason   string
}

func (e *UnsupportedFormatError) Error() string {
	msg := "unsupported format"
	if e.Source != "" {
		msg += " for " + e.Source
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

// PageDecodeError is scoped to a single page; the pipeline records it on that page.
type PageDecodeError struct {
	Page  int
	Cause error
}

func (e *PageDecodeError) Error() string {
	return fmt.Sprintf("decode page %d: %v", e.Page, e.Cause)
}

func (e *PageDecodeError) Unwrap() error { return e.Cause }

func (e *PageDecodeError) Is(target error) bool { return target == ErrPageDecode }

// OCRFailure is scoped to a single page. Timeout is set when the per-page deadline fired.
type OCRFailure struct {
	Page    int
	Engine  string
	Timeout bool
	Cause   error
}

func (e *OCRFailure) Error() string {
	if e.Timeout {
		return fmt.Sprintf("ocr page %d (%s): timed out", e.Page, e.Engine)
	}
	return fmt.Sprintf("ocr page %d (%s): %v", e.Page, e.Engine, e.Cause)
}

func (e *OCRFailure) Unwrap() error { return e.Cause }

func (e *OCRFailure) Is(target error) bool { return target == ErrOCRFailure }

// ProcessingCancelled aborts the whole document; no record is produced.
type ProcessingCancelled struct {
	Source string
	Cause  error
}

func (e *ProcessingCancelled) Error() string {
	return fmt.Sprintf("processing %s cancelled: %v", e.Source, e.Cause)
}

func (e *ProcessingCancelled) Unwrap() error { return e.Cause }

func (e *ProcessingCancelled) Is(target error) bool { return target == ErrCancelled }

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...any) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...any) error {
	return InternalError(fmt.Sprintf(format, args...))
}

// ToStatus maps a pipeline error to a gRPC status error. Status errors pass through.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrCancelled):
		if errors.Is(err, context.DeadlineExceeded) {
			return status.Error(codes.DeadlineExceeded, err.Error())
		}
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
