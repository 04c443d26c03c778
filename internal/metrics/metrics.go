// Package metrics exposes Prometheus metrics for the diary API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by middleware and handlers.
type Recorder interface {
	RecordRequest(route, method string, status int, duration time.Duration)
	EntrySaved(visibility string)
	EntryDeleted()
	PhotoUploaded(bytes int)
	PromptGenerated(category string)
}

// Collector records metrics into a Prometheus registry.
type Collector struct {
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	entriesSaved    *prometheus.CounterVec
	entriesDeleted  prometheus.Counter
	photosUploaded  prometheus.Counter
	photoBytes      prometheus.Histogram
	promptsProduced *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "familydiary_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status_code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "familydiary_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		entriesSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "familydiary_entries_saved_total",
			Help: "Diary entries created or updated, by visibility.",
		}, []string{"visibility"}),
		entriesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "familydiary_entries_deleted_total",
			Help: "Diary entries deleted.",
		}),
		photosUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "familydiary_photos_uploaded_total",
			Help: "Photos uploaded to object storage.",
		}),
		photoBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "familydiary_photo_bytes",
			Help:    "Size of uploaded photos in bytes.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 6),
		}),
		promptsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "familydiary_prompts_generated_total",
			Help: "Daily prompts generated, by category.",
		}, []string{"category"}),
	}

	reg.MustRegister(
		c.requests,
		c.requestLatency,
		c.entriesSaved,
		c.entriesDeleted,
		c.photosUploaded,
		c.photoBytes,
		c.promptsProduced,
	)

	return c
}

// RecordRequest records one served HTTP request.
func (c *Collector) RecordRequest(route, method string, status int, duration time.Duration) {
	c.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// EntrySaved records a created or updated entry.
func (c *Collector) EntrySaved(visibility string) {
	c.entriesSaved.WithLabelValues(visibility).Inc()
}

// EntryDeleted records a deleted entry.
func (c *Collector) EntryDeleted() {
	c.entriesDeleted.Inc()
}

// PhotoUploaded records an uploaded photo.
func (c *Collector) PhotoUploaded(bytes int) {
	c.photosUploaded.Inc()
	c.photoBytes.Observe(float64(bytes))
}

// PromptGenerated records a generated daily prompt.
func (c *Collector) PromptGenerated(category string) {
	c.promptsProduced.WithLabelValues(category).Inc()
}

// Handler returns the HTTP handler for Prometheus scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards every metric.
type Nop struct{}

func (Nop) RecordRequest(string, string, int, time.Duration) {}
func (Nop) EntrySaved(string)                                {}
func (Nop) EntryDeleted()                                    {}
func (Nop) PhotoUploaded(int)                                {}
func (Nop) PromptGenerated(string)                           {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
