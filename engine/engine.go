package engine

import (
	iface "ObjDetector/interface"
	"ObjDetector/logger"
	"fmt"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Detector owns a loaded model and the confidence threshold applied to its output.
type Detector struct {
	cfg   Config
	model iface.Model
	Names []string
	State int
}

// New loads the network named by cfg.ModelPath. Any failure is a *ModelLoadError.
func New(cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: err}
	}
	names, err := LoadNames(cfg.NamesConf())
	if err != nil {
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: fmt.Errorf("class names: %w", err)}
	}
	m, err := loadNet(cfg, len(names))
	if err != nil {
		return nil, err
	}
	d := &Detector{cfg: cfg, model: m, Names: names, State: IDLE}
	logLoaded(d.CheckConfig())
	return d, nil
}

func logLoaded(c iface.EngineConfig) {
	classes := 0
	if names, ok := c.Names.Data.([]string); ok {
		classes = len(names)
	}
	logger.Log().Info("Loaded model",
		zap.String("ModelPath", c.ModelPath),
		zap.Float32("Threshold", c.Threshold),
		zap.Int("InputSize", c.InputSize),
		zap.String("Backend", c.Backend),
		zap.String("Target", c.Target),
		zap.Int("Classes", classes),
	)
}

// NewWithModel wraps an already loaded model.
func NewWithModel(m iface.Model, cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	names, err := LoadNames(cfg.NamesConf())
	if err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg, model: m, Names: names, State: IDLE}, nil
}

func (d *Detector) Threshold() float32 {
	return d.cfg.Threshold
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{
		ModelPath: d.cfg.ModelPath,
		Names:     iface.NamesConf{IsFile: false, Data: d.Names},
		Threshold: d.cfg.Threshold,
		InputSize: d.cfg.InputSize,
		Backend:   d.cfg.Backend,
		Target:    d.cfg.Target,
	}
}

// Label returns the class name for id, or "class<id>" when the model has no name for it.
func (d *Detector) Label(id int) string {
	if id >= 0 && id < len(d.Names) {
		return d.Names[id]
	}
	return fmt.Sprintf("class%d", id)
}

// Detect runs the model on frame. Confidences are clamped to [0,1] and labels filled in.
func (d *Detector) Detect(frame gocv.Mat) ([]iface.Detection, error) {
	switch d.State {
	case UNREGISTERED:
		return nil, ErrNotLoaded
	case BUSY:
		return nil, ErrBusy
	}
	d.State = BUSY
	defer func() { d.State = IDLE }()

	dets, err := d.model.Infer(frame)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	for i := range dets {
		dets[i].Confidence = clamp01(dets[i].Confidence)
		if dets[i].Label == "" {
			dets[i].Label = d.Label(dets[i].ClassID)
		}
	}
	return dets, nil
}

// FilterByConfidence applies the detector's threshold, see the package function.
func (d *Detector) FilterByConfidence(dets []iface.Detection) []iface.Detection {
	return FilterByConfidence(dets, d.cfg.Threshold)
}

// Warmup runs n inferences on a small black frame so the first real frame does not
// pay for lazy backend initialisation. Panics inside the model are logged, not raised.
func (d *Detector) Warmup(n int) {
	warmMat := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer warmMat.Close()
	for i := 0; i < n; i++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Log().Warn("Panic during warmup", zap.Any("Recovered", r))
				}
			}()
			if _, err := d.Detect(warmMat); err != nil {
				logger.Log().Warn("Warmup inference failed", zap.Error(err))
			}
		}()
	}
	logger.Log().Debug("Warmup finished", zap.Int("Runs", n))
}

func (d *Detector) Close() error {
	if d.State == UNREGISTERED {
		return nil
	}
	d.State = UNREGISTERED
	return d.model.Close()
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
