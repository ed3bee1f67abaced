package metrics

import (
	"github.com/mblakley/soccer-cam-go/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics is shared shape for any outbound HTTP capability client
// (camera, uploader, schedule sources) retried with retryablehttp.
type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// QueueMetrics tracks the depth and throughput of one of the three
// persisted task queues (download/video/upload).
type QueueMetrics struct {
	Depth        *prometheus.GaugeVec
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	FailureCount *prometheus.CounterVec
}

type SoccerCamMetrics struct {
	Version prometheus.Counter

	// CameraPoller
	PollCount             prometheus.Counter
	PollFailureCount      prometheus.Counter
	FragmentsDiscovered   prometheus.Counter
	GroupsCreated         prometheus.Counter
	HighWaterMarkUnixTime prometheus.Gauge

	// DownloadWorker
	DownloadQueue        QueueMetrics
	DownloadBytesTotal   prometheus.Counter
	DownloadRateBytesSec prometheus.Histogram

	// VideoWorker
	VideoQueue        QueueMetrics
	FfmpegJobDuration *prometheus.HistogramVec

	// UploadWorker
	UploadQueue QueueMetrics

	// NotifierQueue
	NtfyTasksSent         prometheus.Counter
	NtfyTasksAnswered     prometheus.Counter
	NtfyTasksTimedOut     prometheus.Counter
	NtfyRoundTripDuration prometheus.Histogram
	NtfyReconnectCount    prometheus.Counter

	// StateAuditor
	AuditDuration      prometheus.Histogram
	AuditEnqueuedTotal *prometheus.CounterVec

	// CloudSync
	CloudSyncSuccessCount prometheus.Counter
	CloudSyncFailureCount prometheus.Counter

	Camera   ClientMetrics
	Uploader ClientMetrics
	Schedule ClientMetrics
}

func newQueueMetrics(queue string) QueueMetrics {
	return QueueMetrics{
		Depth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: queue + "_queue_depth",
			Help: "Number of tasks currently persisted in the " + queue + " queue",
		}, []string{"task_type"}),
		TasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: queue + "_queue_tasks_total",
			Help: "Total number of tasks processed by the " + queue + " queue",
		}, []string{"task_type"}),
		TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    queue + "_queue_task_duration_seconds",
			Help:    "Time taken to process a task in the " + queue + " queue",
			Buckets: []float64{.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"task_type"}),
		FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: queue + "_queue_failures_total",
			Help: "Total number of failed tasks in the " + queue + " queue",
		}, []string{"task_type"}),
	}
}

func newClientMetrics(client string) ClientMetrics {
	return ClientMetrics{
		RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: client + "_client_retry_count",
			Help: "The number of retried " + client + " requests",
		}, []string{"host"}),
		FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: client + "_client_failure_count",
			Help: "The total number of failed " + client + " requests",
		}, []string{"host", "status_code"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    client + "_client_request_duration_seconds",
			Help:    "Time taken to send " + client + " requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"host"}),
	}
}

func NewMetrics() *SoccerCamMetrics {
	m := &SoccerCamMetrics{
		Version: promauto.NewCounter(prometheus.CounterOpts{
			Name: "version",
			Help: "Incremented once on process startup",
		}),

		PollCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "poll_count",
			Help: "Number of times CameraPoller has queried the camera's file list",
		}),
		PollFailureCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "poll_failure_count",
			Help: "Number of CameraPoller polls that failed",
		}),
		FragmentsDiscovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fragments_discovered_total",
			Help: "Total number of new camera fragments discovered",
		}),
		GroupsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "groups_created_total",
			Help: "Total number of new group directories created",
		}),
		HighWaterMarkUnixTime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "high_water_mark_unix_time",
			Help: "Unix timestamp of the camera high-water mark",
		}),

		DownloadQueue:        newQueueMetrics("download"),
		DownloadBytesTotal:   promauto.NewCounter(prometheus.CounterOpts{Name: "download_bytes_total", Help: "Total bytes downloaded from the camera"}),
		DownloadRateBytesSec: promauto.NewHistogram(prometheus.HistogramOpts{Name: "download_rate_bytes_per_second", Help: "Observed download transfer rate", Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10)}),

		VideoQueue: newQueueMetrics("video"),
		FfmpegJobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ffmpeg_job_duration_seconds",
			Help:    "Time taken for an ffmpeg convert/combine/trim invocation",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"task_type"}),

		UploadQueue: newQueueMetrics("upload"),

		NtfyTasksSent:     promauto.NewCounter(prometheus.CounterOpts{Name: "ntfy_tasks_sent_total", Help: "Total NtfyTasks dispatched"}),
		NtfyTasksAnswered: promauto.NewCounter(prometheus.CounterOpts{Name: "ntfy_tasks_answered_total", Help: "Total NtfyTasks that received a correlated response"}),
		NtfyTasksTimedOut: promauto.NewCounter(prometheus.CounterOpts{Name: "ntfy_tasks_timed_out_total", Help: "Total NtfyTasks dropped after timing out unanswered"}),
		NtfyRoundTripDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ntfy_round_trip_duration_seconds",
			Help:    "Time between sending an NtfyTask and receiving its correlated response",
			Buckets: []float64{5, 15, 30, 60, 300, 900, 1800},
		}),
		NtfyReconnectCount: promauto.NewCounter(prometheus.CounterOpts{Name: "ntfy_reconnect_count", Help: "Total number of event-stream reconnects"}),

		AuditDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_duration_seconds",
			Help:    "Time taken for one StateAuditor pass",
			Buckets: []float64{.01, .05, .1, .5, 1, 5},
		}),
		AuditEnqueuedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_enqueued_total",
			Help: "Total tasks enqueued by StateAuditor, by task_type",
		}, []string{"task_type"}),

		CloudSyncSuccessCount: promauto.NewCounter(prometheus.CounterOpts{Name: "cloud_sync_success_total", Help: "Total successful encrypted config backups"}),
		CloudSyncFailureCount: promauto.NewCounter(prometheus.CounterOpts{Name: "cloud_sync_failure_total", Help: "Total failed encrypted config backups"}),

		Camera:   newClientMetrics("camera"),
		Uploader: newClientMetrics("uploader"),
		Schedule: newClientMetrics("schedule"),
	}

	m.Version.Inc()
	_ = config.Version

	return m
}

var Metrics = NewMetrics()
