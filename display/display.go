package display

import (
	"gocv.io/x/gocv"
)

const (
	DefaultWindowName = "OBJECT_DETECTOR"
	// StopKey is the escape key code returned by WaitKey.
	StopKey = 27
)

// Window shows frames in a single named OpenCV window, created on first use.
type Window struct {
	name    string
	stopKey int
	window  *gocv.Window
}

func NewWindow(name string) *Window {
	if name == "" {
		name = DefaultWindowName
	}
	return &Window{name: name, stopKey: StopKey}
}

// WithStopKey replaces the key code PollStopKey reports as a stop request.
func (w *Window) WithStopKey(key int) *Window {
	w.stopKey = key
	return w
}

func (w *Window) Name() string {
	return w.name
}

// Show renders frame, updating the window in place on repeated calls.
func (w *Window) Show(frame gocv.Mat) error {
	if w.window == nil {
		w.window = gocv.NewWindow(w.name)
	}
	return w.window.IMShow(frame)
}

func (w *Window) PollKey(timeoutMs int) int {
	if w.window != nil {
		return w.window.WaitKey(timeoutMs)
	}
	return gocv.WaitKey(timeoutMs)
}

// PollStopKey waits up to timeoutMs and reports whether the stop key was pressed.
func (w *Window) PollStopKey(timeoutMs int) bool {
	return IsStopKey(w.PollKey(timeoutMs), w.stopKey)
}

func (w *Window) Close() error {
	if w.window == nil {
		return nil
	}
	err := w.window.Close()
	w.window = nil
	return err
}

// IsStopKey compares the low byte of a WaitKey result, which some backends
// return with modifier bits set.
func IsStopKey(key, stop int) bool {
	if key < 0 {
		return false
	}
	return key&0xFF == stop
}
