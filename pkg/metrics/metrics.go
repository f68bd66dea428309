// Package metrics provides Prometheus metrics for the file manager.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedfiles_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sharedfiles_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sharedfiles_bytes_uploaded_total",
			Help: "Total bytes written by uploads",
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sharedfiles_bytes_downloaded_total",
			Help: "Total bytes served by file and folder downloads",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedfiles_uploads_total",
			Help: "Total number of uploaded files",
		},
		[]string{"status"},
	)

	archivesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedfiles_archives_total",
			Help: "Total number of folder archives requested",
		},
		[]string{"status"},
	)

	archiveEntries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sharedfiles_archive_entries",
			Help:    "Number of files per built archive",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	deletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharedfiles_deletes_total",
			Help: "Total number of delete requests",
		},
		[]string{"kind", "status"},
	)

	treeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sharedfiles_tree_size",
			Help: "Number of files and folders seen by the last listing",
		},
	)
)

// Middleware records request count and latency per route
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus exposition handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordUpload records one uploaded file
func RecordUpload(size int64, err error) {
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return
	}
	uploadsTotal.WithLabelValues("success").Inc()
	bytesUploaded.Add(float64(size))
}

// RecordDownload records bytes sent to a client
func RecordDownload(size int64) {
	bytesDownloaded.Add(float64(size))
}

// RecordArchive records a folder archive request
func RecordArchive(entries int, err error) {
	if err != nil {
		archivesTotal.WithLabelValues("error").Inc()
		return
	}
	archivesTotal.WithLabelValues("success").Inc()
	archiveEntries.Observe(float64(entries))
}

// RecordDelete records a delete of kind "file" or "folder"
func RecordDelete(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	deletesTotal.WithLabelValues(kind, status).Inc()
}

// SetTreeSize sets the tree size gauge
func SetTreeSize(n int) {
	treeSize.Set(float64(n))
}
