package engine

import (
	iface "ObjDetector/interface"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
)

const UNREGISTERED = 0x0001
const IDLE = 0x0003
const BUSY = 0x0004

// DefaultThreshold is the confidence a detection must exceed to survive FilterByConfidence.
const DefaultThreshold float32 = 0.70

const (
	DefaultScoreThreshold float32 = 0.25
	DefaultNMSThreshold   float32 = 0.45
	DefaultInputSize              = 640
)

// ModelLoadError reports a model artifact that could not be turned into a network.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

var (
	errEmptyNet  = errors.New("network is empty or the format is unsupported")
	errEmptyPath = errors.New("model path cannot be empty")

	ErrNotLoaded = errors.New("detector not loaded")
	ErrBusy      = errors.New("detector is busy")
)

// ReadLinesReadFile returns the non-empty lines of path, tolerating CRLF endings.
func ReadLinesReadFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(strings.TrimRight(l, "\r"))
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// Config configures a Detector. Threshold is fixed for the detector's lifetime.
type Config struct {
	ModelPath      string   `yaml:"path"`
	ConfigPath     string   `yaml:"configPath"`
	Names          []string `yaml:"names"`
	NamesFile      string   `yaml:"namesFile"`
	Threshold      float32  `yaml:"threshold"`
	ScoreThreshold float32  `yaml:"scoreThreshold"`
	NMSThreshold   float32  `yaml:"nmsThreshold"`
	InputSize      int      `yaml:"inputSize"`
	Backend        string   `yaml:"backend"`
	Target         string   `yaml:"target"`
	CacheDir       string   `yaml:"cacheDir"`
}

// DefaultConfig returns the settings used for any field left unset.
func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		ScoreThreshold: DefaultScoreThreshold,
		NMSThreshold:   DefaultNMSThreshold,
		InputSize:      DefaultInputSize,
		Backend:        "default",
		Target:         "cpu",
		CacheDir:       "models",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold == 0 {
		c.Threshold = d.Threshold
	}
	if c.ScoreThreshold == 0 {
		c.ScoreThreshold = d.ScoreThreshold
	}
	if c.NMSThreshold == 0 {
		c.NMSThreshold = d.NMSThreshold
	}
	if c.InputSize == 0 {
		c.InputSize = d.InputSize
	}
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Target == "" {
		c.Target = d.Target
	}
	return c
}

// Validate reports out-of-range settings.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0, got %f", c.Threshold)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("scoreThreshold must be between 0.0 and 1.0, got %f", c.ScoreThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("nmsThreshold must be between 0.0 and 1.0, got %f", c.NMSThreshold)
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		return fmt.Errorf("inputSize must be a positive multiple of 32, got %d", c.InputSize)
	}
	return nil
}

// NamesConf converts the name settings into the form LoadNames accepts.
func (c Config) NamesConf() iface.NamesConf {
	if c.NamesFile != "" {
		return iface.NamesConf{IsFile: true, Data: c.NamesFile}
	}
	return iface.NamesConf{IsFile: false, Data: c.Names}
}

// LoadNames resolves class names from a file path or an inline slice of strings.
func LoadNames(names iface.NamesConf) ([]string, error) {
	if names.IsFile {
		path, ok := names.Data.(string)
		if !ok {
			return nil, fmt.Errorf("names file must be a string path, got %T", names.Data)
		}
		return ReadLinesReadFile(path)
	}
	if names.Data == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(names.Data)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("names must be a slice or a file path, got %T", names.Data)
	}
	n := rv.Len()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		s, ok := rv.Index(i).Interface().(string)
		if !ok {
			return nil, fmt.Errorf("names[%d] is %T, not a string", i, rv.Index(i).Interface())
		}
		out[i] = s
	}
	return out, nil
}
