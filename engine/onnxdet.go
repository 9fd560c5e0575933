package engine

import (
	iface "ObjDetector/interface"
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"
)

// netModel runs a YOLO (v8/v11 layout) network through the OpenCV DNN module.
type netModel struct {
	net            gocv.Net
	inputSize      int
	scoreThreshold float32
	nmsThreshold   float32
	numClasses     int
}

// loadNet opens cfg.ModelPath. numClasses, when known, pins the output layout.
func loadNet(cfg Config, numClasses int) (*netModel, error) {
	if cfg.ModelPath == "" {
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: errEmptyPath}
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: err}
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return nil, &ModelLoadError{Path: cfg.ConfigPath, Err: err}
		}
	}
	backend, err := ParseBackend(cfg.Backend)
	if err != nil {
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: err}
	}
	target, err := ParseTarget(cfg.Target)
	if err != nil {
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: err}
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		_ = net.Close()
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: errEmptyNet}
	}
	if err := net.SetPreferableBackend(backend); err != nil {
		_ = net.Close()
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: err}
	}
	if err := net.SetPreferableTarget(target); err != nil {
		_ = net.Close()
		return nil, &ModelLoadError{Path: cfg.ModelPath, Err: err}
	}
	return &netModel{
		net:            net,
		inputSize:      cfg.InputSize,
		scoreThreshold: cfg.ScoreThreshold,
		nmsThreshold:   cfg.NMSThreshold,
		numClasses:     numClasses,
	}, nil
}

func (m *netModel) Infer(img gocv.Mat) ([]iface.Detection, error) {
	if img.Empty() {
		return nil, errors.New("cannot run inference on an empty frame")
	}
	src := img
	if img.Channels() != 3 {
		conv := gocv.NewMat()
		defer conv.Close()
		code := gocv.ColorGrayToBGR
		if img.Channels() == 4 {
			code = gocv.ColorBGRAToBGR
		}
		if err := gocv.CvtColor(img, &conv, code); err != nil {
			return nil, fmt.Errorf("convert frame to BGR: %w", err)
		}
		src = conv
	}

	// letterbox into a square so the box scale is the same on both axes
	rows, cols := src.Rows(), src.Cols()
	side := max(rows, cols)
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), side, side, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, cols, rows))
	copyErr := src.CopyTo(&roi)
	_ = roi.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("letterbox frame: %w", copyErr)
	}

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(m.inputSize, m.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read network output: %w", err)
	}
	cands, err := decodeYOLO(data, out.Size(), m.numClasses, float32(side)/float32(m.inputSize), m.scoreThreshold)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, nil
	}

	boxes := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		boxes[i] = c.Box
		scores[i] = c.Confidence
	}
	indices := gocv.NMSBoxes(boxes, scores, m.scoreThreshold, m.nmsThreshold)
	dets := make([]iface.Detection, 0, len(indices))
	for _, idx := range indices {
		dets = append(dets, cands[idx])
	}
	return dets, nil
}

func (m *netModel) Close() error {
	return m.net.Close()
}

// decodeYOLO turns a [1, 4+nc, N] (or transposed [1, N, 4+nc]) output into candidate
// detections scaled back to frame pixels. Rows 0-3 hold cx, cy, w, h. With
// numClasses <= 0 the longer axis is taken as the candidate axis.
func decodeYOLO(data []float32, dims []int, numClasses int, scale, scoreThreshold float32) ([]iface.Detection, error) {
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	attrs, count := dims[1], dims[2]
	transposed := false
	switch {
	case numClasses > 0 && dims[1] == numClasses+4:
	case numClasses > 0 && dims[2] == numClasses+4:
		attrs, count = dims[2], dims[1]
		transposed = true
	case attrs > count:
		attrs, count = count, attrs
		transposed = true
	}
	if attrs < 5 {
		return nil, fmt.Errorf("output shape %v has no class scores", dims)
	}
	if len(data) < attrs*count {
		return nil, fmt.Errorf("output holds %d values, shape %v needs %d", len(data), dims, attrs*count)
	}
	at := func(a, i int) float32 {
		if transposed {
			return data[i*attrs+a]
		}
		return data[a*count+i]
	}

	var out []iface.Detection
	for i := 0; i < count; i++ {
		best, cls := float32(0), -1
		for a := 4; a < attrs; a++ {
			if s := at(a, i); s > best {
				best, cls = s, a-4
			}
		}
		if cls < 0 || best < scoreThreshold {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		out = append(out, iface.Detection{
			Box: image.Rect(
				int((cx-w/2)*scale), int((cy-h/2)*scale),
				int((cx+w/2)*scale), int((cy+h/2)*scale),
			),
			Confidence: best,
			ClassID:    cls,
		})
	}
	return out, nil
}
