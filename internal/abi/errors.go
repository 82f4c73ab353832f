package abi

import "github.com/inferedge/browsercore/internal/errs"

// ErrorCode is the closed set of kernel ABI error codes.
type ErrorCode int32

const (
	CodeOK                   ErrorCode = 0
	CodeInvalidParameter     ErrorCode = 1
	CodeOutOfMemory          ErrorCode = 2
	CodeModelLoadFailed      ErrorCode = 3
	CodeBackendInitFailed    ErrorCode = 4
	CodeInferenceFailed      ErrorCode = 5
	CodeContextInvalid       ErrorCode = 6
	CodeStreamEnded          ErrorCode = 7
	CodeNotImplemented       ErrorCode = 8
	CodeMemoryLimitExceeded  ErrorCode = 9
	CodeUnsupportedBackend   ErrorCode = 10
)

// KernelError carries the kernel's raw error code alongside the
// translated typed error: kind, contextual message, and remediation hint.
type KernelError struct {
	*errs.Error
	Code ErrorCode
}

// translate maps a raw ABI error code (and an optional context string
// pulled from get_last_error) to a typed, remediable error. StreamEnded is
// not an error and must never reach this function; callers check for it
// before translating.
func translate(code ErrorCode, context string) error {
	var kind errs.Kind
	var remediation string

	switch code {
	case CodeInvalidParameter:
		kind = errs.InvalidConfig
	case CodeOutOfMemory:
		kind = errs.OutOfMemory
		remediation = "resetContext or load a smaller model"
	case CodeModelLoadFailed:
		kind = errs.ModelLoadFailed
	case CodeBackendInitFailed:
		kind = errs.UnsupportedBackend
		remediation = "retry with backend=auto or backend=cpu"
	case CodeInferenceFailed:
		kind = errs.GenerationFailed
	case CodeContextInvalid:
		kind = errs.ContextOverflow
		remediation = "resetContext"
	case CodeNotImplemented:
		kind = errs.UnsupportedBackend
	case CodeMemoryLimitExceeded:
		kind = errs.OutOfMemory
		remediation = "setMemoryLimit to a higher value or resetContext"
	case CodeUnsupportedBackend:
		kind = errs.UnsupportedBackend
		remediation = "retry with backend=auto or backend=cpu"
	default:
		kind = errs.Unknown
	}

	message := context
	if message == "" {
		message = "kernel call failed"
	}

	e := errs.New(kind, message)
	if remediation != "" {
		e = e.WithRemediation(remediation)
	}
	return &KernelError{Error: e, Code: code}
}
