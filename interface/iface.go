package iface

import "gocv.io/x/gocv"

// Model is the opaque inference capability behind a Detector.
type Model interface {
	Infer(image gocv.Mat) ([]Detection, error)
	Close() error
}

// FrameSource yields frames from a camera, a video file or a still image.
// Next leaves dst empty when a single read failed and the caller should skip it.
type FrameSource interface {
	Next(dst *gocv.Mat) error
	Close() error
}

type Display interface {
	Show(frame gocv.Mat) error
	// PollKey waits up to timeoutMs and returns the key code, or -1 when no key was pressed.
	PollKey(timeoutMs int) int
	PollStopKey(timeoutMs int) bool
	Close() error
}
