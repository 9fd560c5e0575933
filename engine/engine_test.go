package engine

import (
	iface "ObjDetector/interface"
	"errors"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gocv.io/x/gocv"
)

type MockModel struct {
	dets   []iface.Detection
	err    error
	calls  int
	closed bool
}

func (m *MockModel) Infer(image gocv.Mat) ([]iface.Detection, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]iface.Detection, len(m.dets))
	copy(out, m.dets)
	return out, nil
}

func (m *MockModel) Close() error {
	m.closed = true
	return nil
}

func confs(dets []iface.Detection) []float32 {
	out := make([]float32, len(dets))
	for i, d := range dets {
		out[i] = d.Confidence
	}
	return out
}

func TestDetector_All(t *testing.T) {
	model := &MockModel{dets: []iface.Detection{
		{Box: image.Rect(1, 1, 10, 10), Confidence: 0.9, ClassID: 0},
		{Box: image.Rect(5, 5, 20, 20), Confidence: 1.3, ClassID: 2},
		{Box: image.Rect(0, 0, 4, 4), Confidence: -0.1, ClassID: 7, Label: "custom"},
	}}
	cfg := Config{ModelPath: "mock", Names: []string{"person", "car", "bicycle"}}

	d, err := NewWithModel(model, cfg)
	require.NoError(t, err)

	t.Run("Test CheckConfig", func(t *testing.T) {
		config := d.CheckConfig()
		assert.Equal(t, IDLE, d.State)
		assert.Equal(t, "mock", config.ModelPath)
		assert.Equal(t, DefaultThreshold, config.Threshold)
		assert.Equal(t, DefaultInputSize, config.InputSize)
		assert.Equal(t, false, config.Names.IsFile)
		assert.Equal(t, []string{"person", "car", "bicycle"}, config.Names.Data)
	})

	t.Run("Test Load Log", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		restore := zap.ReplaceGlobals(zap.New(core))
		defer restore()
		logLoaded(d.CheckConfig())
		entries := logs.FilterMessage("Loaded model").All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "mock", fields["ModelPath"])
		assert.Equal(t, int64(3), fields["Classes"])
		assert.Equal(t, int64(DefaultInputSize), fields["InputSize"])
	})

	t.Run("Test Detect", func(t *testing.T) {
		frame := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
		defer frame.Close()
		dets, err := d.Detect(frame)
		require.NoError(t, err)
		require.Len(t, dets, 3)
		assert.Equal(t, []float32{0.9, 1, 0}, confs(dets))
		assert.Equal(t, "person", dets[0].Label)
		assert.Equal(t, "bicycle", dets[1].Label)
		assert.Equal(t, "custom", dets[2].Label)
		assert.Equal(t, IDLE, d.State)
	})

	t.Run("Test Detect Error", func(t *testing.T) {
		model.err = errors.New("boom")
		defer func() { model.err = nil }()
		frame := gocv.NewMat()
		defer frame.Close()
		_, err := d.Detect(frame)
		assert.ErrorContains(t, err, "boom")
		assert.Equal(t, IDLE, d.State)
	})

	t.Run("Test Warmup", func(t *testing.T) {
		before := model.calls
		d.Warmup(3)
		assert.Equal(t, before+3, model.calls)
		assert.Equal(t, IDLE, d.State)
	})

	t.Run("Test Label", func(t *testing.T) {
		assert.Equal(t, "car", d.Label(1))
		assert.Equal(t, "class9", d.Label(9))
		assert.Equal(t, "class-1", d.Label(-1))
	})

	t.Run("Test Close", func(t *testing.T) {
		require.NoError(t, d.Close())
		assert.True(t, model.closed)
		assert.Equal(t, UNREGISTERED, d.State)
		frame := gocv.NewMat()
		defer frame.Close()
		_, err := d.Detect(frame)
		assert.ErrorIs(t, err, ErrNotLoaded)
		assert.NoError(t, d.Close())
	})
}

func TestFilterByConfidence(t *testing.T) {
	t.Run("Test Threshold", func(t *testing.T) {
		in := []iface.Detection{{Confidence: 0.5}, {Confidence: 0.8}, {Confidence: 0.9}}
		out := FilterByConfidence(in, 0.70)
		assert.Equal(t, []float32{0.8, 0.9}, confs(out))
		assert.Equal(t, []float32{0.5, 0.8, 0.9}, confs(in))
	})

	t.Run("Test Strictly Greater", func(t *testing.T) {
		in := []iface.Detection{{Confidence: 0.70}, {Confidence: 0.7000001}}
		assert.Equal(t, []float32{0.7000001}, confs(FilterByConfidence(in, 0.70)))
	})

	t.Run("Test Empty", func(t *testing.T) {
		assert.Empty(t, FilterByConfidence(nil, 0.70))
	})

	t.Run("Test Detector Threshold", func(t *testing.T) {
		d, err := NewWithModel(&MockModel{}, Config{Threshold: 0.3})
		require.NoError(t, err)
		assert.Equal(t, float32(0.3), d.Threshold())
		in := []iface.Detection{{Confidence: 0.2}, {Confidence: 0.4}}
		assert.Equal(t, []float32{0.4}, confs(d.FilterByConfidence(in)))
	})

	t.Run("Test Random Lists", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		for n := 0; n < 200; n++ {
			in := make([]iface.Detection, rng.Intn(20))
			for i := range in {
				in[i] = iface.Detection{Confidence: rng.Float32(), ClassID: i}
			}
			threshold := rng.Float32()
			out := FilterByConfidence(in, threshold)

			var want []iface.Detection
			for _, d := range in {
				if d.Confidence > threshold {
					want = append(want, d)
				}
			}
			assert.ElementsMatch(t, want, out)
			for i := 1; i < len(out); i++ {
				assert.Less(t, out[i-1].ClassID, out[i].ClassID)
			}
			assert.Equal(t, out, FilterByConfidence(out, threshold))
		}
	})
}

func TestNew_ModelLoadError(t *testing.T) {
	t.Run("Test Missing File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing.onnx")
		_, err := New(Config{ModelPath: path})
		var loadErr *ModelLoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, path, loadErr.Path)
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Contains(t, err.Error(), path)
	})

	t.Run("Test Empty Path", func(t *testing.T) {
		_, err := New(Config{})
		var loadErr *ModelLoadError
		assert.ErrorAs(t, err, &loadErr)
	})

	t.Run("Test Bad Threshold", func(t *testing.T) {
		_, err := New(Config{ModelPath: "x.onnx", Threshold: 70})
		var loadErr *ModelLoadError
		assert.ErrorAs(t, err, &loadErr)
		assert.ErrorContains(t, err, "threshold")
	})

	t.Run("Test Bad Backend", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.onnx")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		_, err := New(Config{ModelPath: path, Backend: "tpu"})
		assert.ErrorContains(t, err, "unsupported backend")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"defaults", DefaultConfig(), ""},
		{"threshold over one", Config{Threshold: 1.5, InputSize: 640}, "threshold"},
		{"negative score", Config{ScoreThreshold: -0.1, InputSize: 640}, "scoreThreshold"},
		{"nms over one", Config{NMSThreshold: 2, InputSize: 640}, "nmsThreshold"},
		{"input size", Config{InputSize: 100}, "inputSize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadNames(t *testing.T) {
	t.Run("Test File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "coco.names")
		require.NoError(t, os.WriteFile(path, []byte("person\r\ncar\r\n\r\nbicycle\n\n"), 0o644))
		names, err := LoadNames(Config{NamesFile: path}.NamesConf())
		require.NoError(t, err)
		assert.Equal(t, []string{"person", "car", "bicycle"}, names)
	})

	t.Run("Test Inline", func(t *testing.T) {
		names, err := LoadNames(iface.NamesConf{Data: []string{"a", "b"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names)
	})

	t.Run("Test Missing File", func(t *testing.T) {
		_, err := LoadNames(iface.NamesConf{IsFile: true, Data: "/does/not/exist"})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Test Not A Slice", func(t *testing.T) {
		_, err := LoadNames(iface.NamesConf{Data: 3})
		assert.Error(t, err)
	})
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("CUDA")
	require.NoError(t, err)
	assert.Equal(t, gocv.NetBackendCUDA, b)

	b, err = ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, gocv.NetBackendDefault, b)

	_, err = ParseBackend("tpu")
	assert.Error(t, err)

	tg, err := ParseTarget("fp16")
	require.NoError(t, err)
	assert.Equal(t, gocv.NetTargetFP16, tg)

	_, err = ParseTarget("abacus")
	assert.Error(t, err)
}

func TestDecodeYOLO(t *testing.T) {
	// each row is cx, cy, w, h, score(class 0), score(class 1)
	cands := [][]float32{
		{10, 10, 4, 4, 0.9, 0.2},
		{50, 50, 10, 20, 0.1, 0.6},
		{80, 80, 2, 2, 0.05, 0.1},
	}
	for len(cands) < 8 {
		cands = append(cands, []float32{1, 1, 1, 1, 0, 0.01})
	}
	const attrs = 6

	planar := make([]float32, attrs*len(cands))
	var interleaved []float32
	for i, c := range cands {
		for a := 0; a < attrs; a++ {
			planar[a*len(cands)+i] = c[a]
		}
		interleaved = append(interleaved, c...)
	}

	check := func(t *testing.T, got []iface.Detection) {
		require.Len(t, got, 2)
		assert.Equal(t, 0, got[0].ClassID)
		assert.InDelta(t, 0.9, got[0].Confidence, 1e-6)
		assert.Equal(t, image.Rect(16, 16, 24, 24), got[0].Box)
		assert.Equal(t, 1, got[1].ClassID)
		assert.Equal(t, image.Rect(90, 80, 110, 120), got[1].Box)
	}

	t.Run("Test Planar", func(t *testing.T) {
		got, err := decodeYOLO(planar, []int{1, attrs, len(cands)}, 0, 2, 0.25)
		require.NoError(t, err)
		check(t, got)
	})

	t.Run("Test Transposed", func(t *testing.T) {
		got, err := decodeYOLO(interleaved, []int{1, len(cands), attrs}, 0, 2, 0.25)
		require.NoError(t, err)
		check(t, got)
	})

	t.Run("Test Known Classes", func(t *testing.T) {
		got, err := decodeYOLO(planar, []int{1, attrs, len(cands)}, 2, 2, 0.25)
		require.NoError(t, err)
		check(t, got)
		got, err = decodeYOLO(interleaved, []int{1, len(cands), attrs}, 2, 2, 0.25)
		require.NoError(t, err)
		check(t, got)
	})

	t.Run("Test Fewer Candidates Than Attributes", func(t *testing.T) {
		// three candidates of six attributes in the planar layout
		few := cands[:3]
		data := make([]float32, attrs*len(few))
		for i, c := range few {
			for a := 0; a < attrs; a++ {
				data[a*len(few)+i] = c[a]
			}
		}
		got, err := decodeYOLO(data, []int{1, attrs, len(few)}, 2, 2, 0.25)
		require.NoError(t, err)
		check(t, got)
	})

	t.Run("Test Bad Shape", func(t *testing.T) {
		_, err := decodeYOLO(planar, []int{attrs, len(cands)}, 0, 1, 0.25)
		assert.Error(t, err)
		_, err = decodeYOLO(planar[:5], []int{1, attrs, len(cands)}, 0, 1, 0.25)
		assert.Error(t, err)
		_, err = decodeYOLO(planar, []int{1, 4, 12}, 0, 1, 0.25)
		assert.Error(t, err)
	})
}
