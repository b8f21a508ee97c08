package license

import (
	"smallbiznis-licensing/pkg/errutil"
)

// Activation failure reasons. Only ReasonInternal is worth retrying.
const (
	ReasonInvalidFormat  = "InvalidFormat"
	ReasonKeyNotFound    = "KeyNotFound"
	ReasonKeyAlreadyUsed = "KeyAlreadyUsed"
	ReasonInternal       = "Internal"

	reasonField = "reason"
)

func reason(r string) errutil.Option {
	return errutil.WithDetails(errutil.Detail{Field: reasonField, Message: r})
}

func errInvalidFormat() error {
	return errutil.ValidationFailed("license key format is invalid", nil, reason(ReasonInvalidFormat))
}

func errKeyNotFound() error {
	return errutil.NotFound("license key not found", nil, reason(ReasonKeyNotFound))
}

func errKeyAlreadyUsed() error {
	return errutil.Conflict("license key has already been used", nil, reason(ReasonKeyAlreadyUsed))
}

func errActivationInternal(err error) error {
	return errutil.Internal("failed to activate license", err, reason(ReasonInternal))
}

// ReasonOf maps an activation error to its reason code. Errors raised outside
// the key checks, such as an unknown tenant, report their status code.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	if r := errutil.DetailOf(err, reasonField); r != "" {
		return r
	}
	code := errutil.CodeOf(err)
	if code == errutil.StatusInternal {
		return ReasonInternal
	}
	return string(code)
}

// Retryable reports whether the caller may retry the same activation.
func Retryable(err error) bool {
	return ReasonOf(err) == ReasonInternal
}
