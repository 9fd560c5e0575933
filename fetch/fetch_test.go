package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/models/yolo11s.onnx"))
	assert.True(t, IsRemote("http://localhost:8080/m.onnx"))
	assert.False(t, IsRemote("models/yolo11s.onnx"))
	assert.False(t, IsRemote("/abs/path/yolo11s.onnx"))
	assert.False(t, IsRemote(`C:\models\yolo.onnx`))
	assert.False(t, IsRemote("ftp://example.com/m.onnx"))
}

func TestFetcher_Model(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/models/yolo.onnx":
			_, _ = w.Write([]byte("onnx-bytes"))
		case "/v2/yolo.onnx":
			_, _ = w.Write([]byte("v2-bytes"))
		case "/models/empty.onnx":
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "cache")
	f := New(dir)
	ctx := context.Background()

	t.Run("Test Download", func(t *testing.T) {
		p, err := f.Model(ctx, srv.URL+"/models/yolo.onnx")
		require.NoError(t, err)
		want, err := f.CachePath(srv.URL + "/models/yolo.onnx")
		require.NoError(t, err)
		assert.Equal(t, want, p)
		assert.Equal(t, dir, filepath.Dir(p))
		assert.True(t, strings.HasSuffix(p, "-yolo.onnx"))
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, "onnx-bytes", string(data))
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("Test Cache Hit", func(t *testing.T) {
		p, err := f.Model(ctx, srv.URL+"/models/yolo.onnx")
		require.NoError(t, err)
		want, _ := f.CachePath(srv.URL + "/models/yolo.onnx")
		assert.Equal(t, want, p)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("Test Same Name Different URL", func(t *testing.T) {
		p, err := f.Model(ctx, srv.URL+"/v2/yolo.onnx")
		require.NoError(t, err)
		first, _ := f.CachePath(srv.URL + "/models/yolo.onnx")
		assert.NotEqual(t, first, p)
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, "v2-bytes", string(data))
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("Test Not Found", func(t *testing.T) {
		_, err := f.Model(ctx, srv.URL+"/models/missing.onnx")
		assert.ErrorContains(t, err, "404")
		missing, _ := f.CachePath(srv.URL + "/models/missing.onnx")
		_, statErr := os.Stat(missing)
		assert.True(t, os.IsNotExist(statErr))
		parts, _ := filepath.Glob(filepath.Join(dir, "*.part"))
		assert.Empty(t, parts)
	})

	t.Run("Test Empty Body", func(t *testing.T) {
		_, err := f.Model(ctx, srv.URL+"/models/empty.onnx")
		assert.ErrorContains(t, err, "empty body")
	})

	t.Run("Test No File Name", func(t *testing.T) {
		_, err := f.Model(ctx, srv.URL+"/")
		assert.Error(t, err)
	})
}
