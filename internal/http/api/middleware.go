package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	requestIDHeader   = "X-Request-ID"
	processTimeHeader = "X-Process-Time"
	requestIDKey      = "requestID"
)

// requestIDMiddleware propagates or assigns a request ID.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// processTimeMiddleware reports handler time in seconds in the X-Process-Time header.
func processTimeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer = &timedWriter{ResponseWriter: c.Writer, start: time.Now()}
		c.Next()
	}
}

// timedWriter stamps X-Process-Time just before headers are committed.
type timedWriter struct {
	gin.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timedWriter) stamp() {
	if w.stamped || w.ResponseWriter.Written() {
		return
	}
	w.stamped = true
	elapsed := time.Since(w.start).Seconds()
	w.Header().Set(processTimeHeader, strconv.FormatFloat(elapsed, 'f', 6, 64))
}

func (w *timedWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timedWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timedWriter) Write(data []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(data)
}

func (w *timedWriter) WriteString(s string) (int, error) {
	w.stamp()
	return w.ResponseWriter.WriteString(s)
}

// accessLogMiddleware logs one line per request.
func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request completed with server error")
			return
		}
		entry.Info("request completed")
	}
}

// recoveryMiddleware converts handler panics into a generic 500.
func recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(log.StandardLogger().Out, func(c *gin.Context, recovered any) {
		log.WithField("panic", recovered).WithField("request_id", c.GetString(requestIDKey)).Error("handler panicked")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}
