package protocol

import "github.com/inferedge/browsercore/internal/errs"

// NewErrorPayload converts err into the wire payload of an Error frame,
// preserving its Kind and its err.Error() text; the remediation hint and
// wrapped cause are not carried as separate fields and cross the wire only
// as part of that text.
func NewErrorPayload(err error) ErrorPayload {
	return ErrorPayload{Code: errs.KindOf(err).String(), Message: err.Error()}
}

// ErrorFromPayload reconstructs a typed error from an Error frame's
// payload, resolving Code back to its errs.Kind by name.
func ErrorFromPayload(p ErrorPayload) error {
	return errs.New(kindByName(p.Code), p.Message)
}

var kindNames = map[string]errs.Kind{
	"Unknown":            errs.Unknown,
	"InvalidConfig":      errs.InvalidConfig,
	"ModelNotFound":      errs.ModelNotFound,
	"ModelLoadFailed":    errs.ModelLoadFailed,
	"OutOfMemory":        errs.OutOfMemory,
	"ContextOverflow":    errs.ContextOverflow,
	"GenerationFailed":   errs.GenerationFailed,
	"Cancelled":          errs.Cancelled,
	"UnsupportedBackend": errs.UnsupportedBackend,
	"ChecksumMismatch":   errs.ChecksumMismatch,
	"NetworkTransient":   errs.NetworkTransient,
	"Http":               errs.Http,
	"CacheWriteFailed":   errs.CacheWriteFailed,
	"TimedOut":           errs.TimedOut,
	"Disposed":           errs.Disposed,
	"Busy":               errs.Busy,
}

func kindByName(name string) errs.Kind {
	if k, ok := kindNames[name]; ok {
		return k
	}
	return errs.Unknown
}
