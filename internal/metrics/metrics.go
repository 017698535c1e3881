package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Metrics holds the request counter and latency histogram.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
// A nil reg uses the default Prometheus registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of HTTP requests handled",
		}, []string{"method", "path", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		gatherer: prometheus.DefaultGatherer,
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	if errReg := reg.Register(m.requests); errReg != nil {
		return nil, fmt.Errorf("register requests_total: %w", errReg)
	}
	if errReg := reg.Register(m.latency); errReg != nil {
		return nil, fmt.Errorf("register request_latency_seconds: %w", errReg)
	}
	return m, nil
}

// Observe records one finished request.
func (m *Metrics) Observe(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// TrackMetrics returns gin middleware recording every request.
func (m *Metrics) TrackMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.Observe(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// StartMetricsServer serves /metrics on address until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context, address string) error {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(m.Handler()))

	server := &http.Server{
		Addr:              address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("metrics server listening on %s", address)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
