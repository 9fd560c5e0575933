package monitor

import (
	"ObjDetector/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Metrics counts pipeline activity. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	memUsage prometheus.Gauge
	cpuUsage prometheus.Gauge

	framesTotal   *prometheus.CounterVec
	framesDropped *prometheus.CounterVec
	detections    *prometheus.CounterVec
	inferSeconds  prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frames_processed_total",
			Help: "Frames that went through inference, by run mode",
		}, []string{"mode"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frames_dropped_total",
			Help: "Empty frames skipped, by run mode",
		}, []string{"mode"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "detections_total",
			Help: "Detections by stage: raw model output or kept after the confidence filter",
		}, []string{"stage"}),
		inferSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Time spent in model inference per frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}
	m.registry.MustRegister(m.memUsage, m.cpuUsage, m.framesTotal, m.framesDropped, m.detections, m.inferSeconds)
	return m
}

// ObserveFrame records one inferred frame with its raw and kept detection counts.
func (m *Metrics) ObserveFrame(mode string, raw, kept int, infer time.Duration) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(mode).Inc()
	m.detections.WithLabelValues("raw").Add(float64(raw))
	m.detections.WithLabelValues("kept").Add(float64(kept))
	m.inferSeconds.Observe(infer.Seconds())
}

func (m *Metrics) FrameDropped(mode string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(mode).Inc()
}

// CheckProcessInfo samples resident memory and CPU of pid into the gauges.
func (m *Metrics) CheckProcessInfo(pid *process.Process) {
	if memInfo, err := pid.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := pid.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// Router serves /metrics and /api/ping.
func (m *Metrics) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})))
	return r
}

// StartMon serves the router on port and samples the process every 500ms until
// ctx is done.
func (m *Metrics) StartMon(ctx context.Context, port int) error {
	pid, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("inspect own process: %w", err)
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: m.Router(),
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	logger.Log().Info("Monitor listening", zap.Int("Port", port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case err := <-serveErr:
			return fmt.Errorf("monitor server: %w", err)
		case <-ticker.C:
			m.CheckProcessInfo(pid)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
