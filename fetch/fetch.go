// Package fetch downloads model artifacts given as http(s) URLs into a local cache.
package fetch

import (
	"ObjDetector/logger"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 300

// IsRemote reports whether modelPath is an http or https URL.
func IsRemote(modelPath string) bool {
	u, err := url.Parse(modelPath)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

type Fetcher struct {
	client   *resty.Client
	cacheDir string
}

func New(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "models"
	}
	return &Fetcher{
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second),
		cacheDir: cacheDir,
	}
}

// CachePath is where the artifact at rawURL is stored: the URL's file name behind a
// short key derived from the whole URL, so equal names from different URLs stay apart.
func (f *Fetcher) CachePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse model url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("model url %s does not name a file", rawURL)
	}
	key := uuid.NewSHA1(uuid.NameSpaceURL, []byte(rawURL)).String()[:8]
	return filepath.Join(f.cacheDir, key+"-"+name), nil
}

// Model returns the local path of the artifact at rawURL, downloading it into the
// cache directory unless it is already there. The body streams to a temporary file
// that is renamed into place once complete.
func (f *Fetcher) Model(ctx context.Context, rawURL string) (string, error) {
	dst, err := f.CachePath(rawURL)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(dst); err == nil && !info.IsDir() && info.Size() > 0 {
		logger.Log().Info("Using cached model", zap.String("Path", dst))
		return dst, nil
	}
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create model cache: %w", err)
	}
	tmp, err := os.CreateTemp(f.cacheDir, filepath.Base(dst)+".*.part")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	logger.Log().Info("Downloading model", zap.String("URL", rawURL), zap.String("Path", dst))
	resp, err := f.client.R().
		SetContext(ctx).
		SetOutput(tmpPath).
		Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("download %s: server returned %s", rawURL, strings.TrimSpace(resp.Status()))
	}
	info, err := os.Stat(tmpPath)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("download %s: empty body", rawURL)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", err
	}
	logger.Log().Info("Model downloaded", zap.String("Path", dst), zap.Int64("Bytes", info.Size()))
	return dst, nil
}
