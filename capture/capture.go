package capture

import (
	iface "ObjDetector/interface"
	"ObjDetector/logger"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var (
	// ErrFileNotFound wraps os.ErrNotExist for input paths that do not resolve to a file.
	ErrFileNotFound = fmt.Errorf("file not found: %w", os.ErrNotExist)
	// ErrEndOfStream ends a video file, a still image or a disconnected camera.
	ErrEndOfStream = errors.New("end of stream")
)

// DefaultDroppedFrameLimit is how many consecutive failed camera reads count as a disconnect.
const DefaultDroppedFrameLimit = 100

// CheckFile fails with ErrFileNotFound unless path names a readable regular file.
func CheckFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}
	return nil
}

// Opener opens frame sources through OpenCV.
type Opener struct {
	DroppedFrameLimit int
}

func (o Opener) OpenCamera(device int, res iface.Resolution) (iface.FrameSource, error) {
	src, err := OpenCamera(device, res, o.DroppedFrameLimit)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (o Opener) OpenVideo(path string) (iface.FrameSource, error) {
	src, err := OpenVideo(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (o Opener) OpenImage(path string) (iface.FrameSource, error) {
	src, err := OpenImage(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// frameReader is the part of *gocv.VideoCapture a Camera reads through.
type frameReader interface {
	Read(m *gocv.Mat) bool
	IsOpened() bool
	Close() error
}

// Camera reads from a capture device. Resolution is applied best-effort.
type Camera struct {
	vc         frameReader
	device     int
	dropLimit  int
	dropStreak int
}

// OpenCamera opens device and requests res. A zero dimension keeps the device default.
// dropLimit <= 0 disables the disconnect heuristic.
func OpenCamera(device int, res iface.Resolution, dropLimit int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("open camera %d: device not available", device)
	}
	if res.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
	}
	if res.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	}
	logger.Log().Info("Camera opened",
		zap.Int("Device", device),
		zap.Int("RequestedWidth", res.Width),
		zap.Int("RequestedHeight", res.Height),
		zap.Float64("Width", vc.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("Height", vc.Get(gocv.VideoCaptureFrameHeight)),
	)
	return &Camera{vc: vc, device: device, dropLimit: dropLimit}, nil
}

// Next reads one frame. A failed read leaves dst empty and returns nil so the caller
// can skip the iteration, until the device closes or dropLimit reads fail in a row.
func (c *Camera) Next(dst *gocv.Mat) error {
	if c.vc.Read(dst) && !dst.Empty() {
		c.dropStreak = 0
		return nil
	}
	c.dropStreak++
	if !c.vc.IsOpened() {
		return ErrEndOfStream
	}
	if c.dropLimit > 0 && c.dropStreak >= c.dropLimit {
		logger.Log().Warn("Camera stopped delivering frames", zap.Int("Device", c.device), zap.Int("Dropped", c.dropStreak))
		return ErrEndOfStream
	}
	return nil
}

func (c *Camera) Close() error {
	return c.vc.Close()
}

// Video decodes a video file frame by frame.
type Video struct {
	vc   *gocv.VideoCapture
	path string
}

func OpenVideo(path string) (*Video, error) {
	if err := CheckFile(path); err != nil {
		return nil, err
	}
	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("open video %s: unsupported or unreadable file", path)
	}
	logger.Log().Info("Video opened",
		zap.String("Path", path),
		zap.Float64("FPS", vc.Get(gocv.VideoCaptureFPS)),
		zap.Float64("Frames", vc.Get(gocv.VideoCaptureFrameCount)),
	)
	return &Video{vc: vc, path: path}, nil
}

func (v *Video) Next(dst *gocv.Mat) error {
	if !v.vc.Read(dst) || dst.Empty() {
		return ErrEndOfStream
	}
	return nil
}

func (v *Video) Close() error {
	return v.vc.Close()
}

// Image yields a single decoded still image, then ErrEndOfStream.
type Image struct {
	img  gocv.Mat
	done bool
}

func OpenImage(path string) (*Image, error) {
	if err := CheckFile(path); err != nil {
		return nil, err
	}
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		_ = img.Close()
		return nil, fmt.Errorf("decode image %s: empty or unsupported format", path)
	}
	return &Image{img: img}, nil
}

func (i *Image) Next(dst *gocv.Mat) error {
	if i.done {
		return ErrEndOfStream
	}
	i.done = true
	if err := i.img.CopyTo(dst); err != nil {
		return fmt.Errorf("copy image: %w", err)
	}
	return nil
}

func (i *Image) Close() error {
	return i.img.Close()
}
