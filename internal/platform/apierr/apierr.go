package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation   = "validation_failed"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeUpstream     = "upstream_failed"
	CodeStorageQuota = "storage_quota_exceeded"
	CodeInternal     = "internal"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeValidation, fmt.Errorf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(http.StatusConflict, CodeConflict, fmt.Errorf(format, args...))
}

func Upstream(err error) *Error {
	return New(http.StatusBadGateway, CodeUpstream, err)
}

func StorageQuota(format string, args ...any) *Error {
	return New(http.StatusTooManyRequests, CodeStorageQuota, fmt.Errorf(format, args...))
}

// As extracts the *Error carried by err, if any.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae != nil {
		return ae, true
	}
	return nil, false
}

func hasCode(err error, code string) bool {
	ae, ok := As(err)
	return ok && ae.Code == code
}

func IsValidation(err error) bool   { return hasCode(err, CodeValidation) }
func IsNotFound(err error) bool     { return hasCode(err, CodeNotFound) }
func IsConflict(err error) bool     { return hasCode(err, CodeConflict) }
func IsUpstream(err error) bool     { return hasCode(err, CodeUpstream) }
func IsStorageQuota(err error) bool { return hasCode(err, CodeStorageQuota) }

// StatusOf maps err to an HTTP status and code, defaulting to 500.
func StatusOf(err error) (int, string) {
	if ae, ok := As(err); ok {
		status := ae.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := ae.Code
		if code == "" {
			code = CodeInternal
		}
		return status, code
	}
	return http.StatusInternalServerError, CodeInternal
}
