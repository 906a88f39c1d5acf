package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the transfer engine
var (
	// Upload metrics
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratoblob_uploads_total",
			Help: "Total number of orchestrated uploads",
		},
		[]string{"strategy", "status"},
	)

	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratoblob_upload_duration_seconds",
			Help:    "End-to-end upload duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60, 120, 300},
		},
		[]string{"strategy"},
	)

	ChunksUploadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratoblob_chunks_uploaded_total",
			Help: "Total number of uploaded chunks",
		},
		[]string{"strategy"},
	)

	BytesUploadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratoblob_bytes_uploaded_total",
			Help: "Total source bytes uploaded",
		},
		[]string{"strategy"},
	)

	UploadThroughput = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratoblob_upload_throughput_mbps",
			Help:    "Upload throughput in MB/s",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"strategy", "object_size_category"},
	)

	// Encryption metrics
	EncryptionOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratoblob_encryption_operations_total",
			Help: "Total number of envelope encryption operations",
		},
		[]string{"protocol", "status"},
	)

	// Integrity metrics
	ChecksumValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratoblob_checksum_validations_total",
			Help: "Total number of whole-object checksum validations",
		},
		[]string{"mode", "status"},
	)

	// Build info
	ClientInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratoblob_client_info",
			Help: "Client build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetClientInfo sets client build information.
func SetClientInfo(version, commit, buildTime string) {
	ClientInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// RecordUpload records the outcome of one orchestrated upload.
func RecordUpload(strategy string, bytes int64, chunks int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	UploadsTotal.WithLabelValues(strategy, status).Inc()
	if err != nil {
		return
	}

	UploadDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	ChunksUploadedTotal.WithLabelValues(strategy).Add(float64(chunks))
	BytesUploadedTotal.WithLabelValues(strategy).Add(float64(bytes))
	if duration.Seconds() > 0 {
		mbps := float64(bytes) / (1024 * 1024) / duration.Seconds()
		UploadThroughput.WithLabelValues(strategy, getObjectSizeCategory(bytes)).Observe(mbps)
	}
}

// RecordChecksumValidation records a whole-object checksum comparison.
func RecordChecksumValidation(mode string, ok bool) {
	status := "ok"
	if !ok {
		status = "mismatch"
	}
	ChecksumValidationsTotal.WithLabelValues(mode, status).Inc()
}

// getObjectSizeCategory categorizes objects by size for better metrics analysis
func getObjectSizeCategory(size int64) string {
	if size < 1024 {
		return "tiny" // < 1KB
	} else if size < 1024*1024 {
		return "small" // < 1MB
	} else if size < 10*1024*1024 {
		return "medium" // < 10MB
	} else if size < 100*1024*1024 {
		return "large" // < 100MB
	}
	return "huge" // >= 100MB
}
