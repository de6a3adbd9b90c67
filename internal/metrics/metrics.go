package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UploadsTotal counts completed uploads.
	UploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loft_uploads_total",
		Help: "Total completed file uploads",
	})

	// DownloadsTotal counts completed downloads.
	DownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loft_downloads_total",
		Help: "Total completed file downloads",
	})

	// BytesUploaded counts source bytes ingested by the upload pipeline.
	BytesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loft_bytes_uploaded_total",
		Help: "Total source bytes ingested by uploads",
	})

	// BytesDownloaded counts bytes written to download responses.
	BytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loft_bytes_downloaded_total",
		Help: "Total bytes streamed to download responses",
	})

	// QuotaRejections counts mutations refused by the quota gate.
	QuotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loft_quota_rejections_total",
		Help: "Total operations rejected by the quota ledger",
	})
)

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}
