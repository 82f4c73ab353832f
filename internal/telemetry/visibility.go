package telemetry

import "sync/atomic"

// VisibilityProbe reports whether the host's page/tab (or, in this Go
// translation, the embedding application's foreground surface) is hidden.
// No subscription model is required: callers evaluate it per decision, and
// the host sets it via SetHidden whenever its own visibility signal fires.
type VisibilityProbe struct {
	hidden atomic.Bool
}

// NewVisibilityProbe starts visible (not hidden).
func NewVisibilityProbe() *VisibilityProbe {
	return &VisibilityProbe{}
}

// SetHidden updates the current visibility state.
func (v *VisibilityProbe) SetHidden(hidden bool) { v.hidden.Store(hidden) }

// IsHidden reports the current visibility state.
func (v *VisibilityProbe) IsHidden() bool { return v.hidden.Load() }
