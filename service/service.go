// Package service sequences capture, inference, filtering, annotation and display
// for the three run modes: still image, video file and live camera.
package service

import (
	"ObjDetector/annotate"
	"ObjDetector/capture"
	"ObjDetector/config"
	"ObjDetector/display"
	"ObjDetector/engine"
	iface "ObjDetector/interface"
	"ObjDetector/logger"
	"ObjDetector/monitor"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	ModeImage  = "image"
	ModeVideo  = "video"
	ModeWebcam = "webcam"
)

type Detector interface {
	Detect(frame gocv.Mat) ([]iface.Detection, error)
	FilterByConfidence(dets []iface.Detection) []iface.Detection
	Close() error
}

type SourceOpener interface {
	OpenCamera(device int, res iface.Resolution) (iface.FrameSource, error)
	OpenVideo(path string) (iface.FrameSource, error)
	OpenImage(path string) (iface.FrameSource, error)
}

// Annotator draws dets on a copy of frame. The returned Mat is owned by the caller,
// on error too.
type Annotator interface {
	Annotate(frame gocv.Mat, dets []iface.Detection) (gocv.Mat, error)
}

// DetectorService owns a Detector and opens a fresh source and window for each run.
type DetectorService struct {
	detector   Detector
	opener     SourceOpener
	annotator  Annotator
	newDisplay func(name string) iface.Display

	windowName    string
	stopKey       int
	pollTimeoutMs int
	device        int
	metrics       *monitor.Metrics
}

type Option func(*DetectorService)

func WithOpener(o SourceOpener) Option {
	return func(s *DetectorService) { s.opener = o }
}

func WithAnnotator(a Annotator) Option {
	return func(s *DetectorService) { s.annotator = a }
}

// WithDisplay replaces the OpenCV window, e.g. for headless runs.
func WithDisplay(factory func(name string) iface.Display) Option {
	return func(s *DetectorService) { s.newDisplay = factory }
}

func WithWindow(name string, stopKey int) Option {
	return func(s *DetectorService) {
		if name != "" {
			s.windowName = name
		}
		s.stopKey = stopKey
	}
}

func WithPollTimeout(ms int) Option {
	return func(s *DetectorService) { s.pollTimeoutMs = ms }
}

func WithDevice(device int) Option {
	return func(s *DetectorService) { s.device = device }
}

func WithMetrics(m *monitor.Metrics) Option {
	return func(s *DetectorService) { s.metrics = m }
}

func New(det Detector, opts ...Option) *DetectorService {
	s := &DetectorService{
		detector:      det,
		opener:        capture.Opener{DroppedFrameLimit: capture.DefaultDroppedFrameLimit},
		annotator:     annotate.New(),
		windowName:    display.DefaultWindowName,
		stopKey:       display.StopKey,
		pollTimeoutMs: config.DefaultPollTimeoutMs,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newDisplay == nil {
		stopKey := s.stopKey
		s.newDisplay = func(name string) iface.Display {
			return display.NewWindow(name).WithStopKey(stopKey)
		}
	}
	return s
}

// NewFromConfig loads the model named in cfg. A model that cannot be loaded is fatal.
func NewFromConfig(cfg *config.Config, opts ...Option) (*DetectorService, error) {
	det, err := engine.New(cfg.Model)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithOpener(capture.Opener{DroppedFrameLimit: cfg.Capture.DroppedFrameLimit}),
		WithWindow(cfg.Display.WindowName, cfg.Display.StopKey),
		WithPollTimeout(cfg.Display.PollTimeoutMs),
		WithDevice(cfg.Capture.Device),
	}
	return New(det, append(base, opts...)...), nil
}

// Warmup primes the detector when it supports it.
func (s *DetectorService) Warmup(n int) {
	if w, ok := s.detector.(interface{ Warmup(n int) }); ok {
		w.Warmup(n)
	}
}

func (s *DetectorService) Close() error {
	return s.detector.Close()
}

// ReadImage runs detection once on the image at path. With show set the annotated,
// unfiltered result is displayed until any key is pressed or ctx is done.
func (s *DetectorService) ReadImage(ctx context.Context, path string, show bool) (err error) {
	log := runLogger(ModeImage, zap.String("Path", path))
	if err := capture.CheckFile(path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return nil
	}
	src, err := s.opener.OpenImage(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, src.Close()) }()

	frame := gocv.NewMat()
	defer frame.Close()
	if err := src.Next(&frame); err != nil {
		return fmt.Errorf("read image %s: %w", path, err)
	}
	if frame.Empty() {
		s.metrics.FrameDropped(ModeImage)
		return fmt.Errorf("read image %s: empty frame", path)
	}

	dets, err := s.infer(ModeImage, frame, false)
	if err != nil {
		return err
	}
	log.Info("Detections", zap.Int("Count", len(dets)), zap.Any("Detections", dets))
	if !show {
		return nil
	}

	disp := s.newDisplay(s.windowName)
	defer func() { err = multierr.Append(err, disp.Close()) }()
	annotated, err := s.annotator.Annotate(frame, dets)
	if err != nil {
		_ = annotated.Close()
		return fmt.Errorf("annotate: %w", err)
	}
	defer annotated.Close()
	if err := disp.Show(annotated); err != nil {
		return fmt.Errorf("show: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("Interrupted")
			return nil
		default:
		}
		if disp.PollKey(s.pollTimeoutMs) >= 0 {
			return nil
		}
	}
}

// ReadVideo runs detection on every frame of the video at path until the end of the
// file, or the stop key when show is set. Detections are not filtered.
func (s *DetectorService) ReadVideo(ctx context.Context, path string, show bool) (err error) {
	log := runLogger(ModeVideo, zap.String("Path", path))
	if err := capture.CheckFile(path); err != nil {
		return err
	}
	src, err := s.opener.OpenVideo(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, src.Close()) }()
	return s.loop(ctx, log, ModeVideo, src, show, false)
}

// ReadWebcam streams the configured camera at res, keeping only detections above the
// detector's threshold, until the stop key, a disconnect or ctx is done.
func (s *DetectorService) ReadWebcam(ctx context.Context, res iface.Resolution) (err error) {
	log := runLogger(ModeWebcam, zap.Int("Device", s.device), zap.Int("Width", res.Width), zap.Int("Height", res.Height))
	src, err := s.opener.OpenCamera(s.device, res)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, src.Close()) }()
	return s.loop(ctx, log, ModeWebcam, src, true, true)
}

func (s *DetectorService) loop(ctx context.Context, log *zap.Logger, mode string, src iface.FrameSource, show, filter bool) (err error) {
	var disp iface.Display
	if show {
		disp = s.newDisplay(s.windowName)
		defer func() { err = multierr.Append(err, disp.Close()) }()
	}

	frame := gocv.NewMat()
	defer frame.Close()
	start := time.Now()
	frames, dropped := 0, 0
	defer func() {
		log.Info("Run finished",
			zap.Int("Frames", frames),
			zap.Int("Dropped", dropped),
			zap.Duration("Elapsed", time.Since(start)),
			zap.Error(err),
		)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Interrupted")
			return nil
		default:
		}

		if err := src.Next(&frame); err != nil {
			if errors.Is(err, capture.ErrEndOfStream) {
				log.Debug("End of stream")
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if frame.Empty() {
			dropped++
			s.metrics.FrameDropped(mode)
			continue
		}

		dets, err := s.infer(mode, frame, filter)
		if err != nil {
			return err
		}
		frames++
		if disp == nil {
			continue
		}

		annotated, err := s.annotator.Annotate(frame, dets)
		if err != nil {
			_ = annotated.Close()
			return fmt.Errorf("annotate: %w", err)
		}
		err = disp.Show(annotated)
		_ = annotated.Close()
		if err != nil {
			return fmt.Errorf("show: %w", err)
		}
		if disp.PollStopKey(s.pollTimeoutMs) {
			log.Info("Stop key pressed")
			return nil
		}
	}
}

func (s *DetectorService) infer(mode string, frame gocv.Mat, filter bool) ([]iface.Detection, error) {
	start := time.Now()
	raw, err := s.detector.Detect(frame)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	kept := raw
	if filter {
		kept = s.detector.FilterByConfidence(raw)
	}
	s.metrics.ObserveFrame(mode, len(raw), len(kept), elapsed)
	return kept, nil
}

func runLogger(mode string, fields ...zap.Field) *zap.Logger {
	log := logger.Log().With(zap.String("RunID", uuid.NewString()), zap.String("Mode", mode))
	log.Info("Run started", fields...)
	return log
}
