package presence

import "sync/atomic"

// Focus records whether the local client window has focus. The zero value
// is focused.
type Focus struct {
	blurred atomic.Bool
}

func (f *Focus) SetFocused(focused bool) { f.blurred.Store(!focused) }

func (f *Focus) Focused() bool { return !f.blurred.Load() }
