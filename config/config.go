package config

import "time"

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// Gap tolerance used by the camera poller's grouping algorithm: two
// fragments belong to the same match iff the gap between them falls in
// [0, GroupingGapTolerance].
const GroupingGapTolerance = 15 * time.Second

// How far to rewind the high-water mark on each poll, to catch fragments
// whose end_time landed exactly on the previous boundary.
const HighWaterMarkRewind = 60 * time.Second

// Default poll cadence for CameraPoller and StateAuditor when config.ini
// doesn't override it.
const DefaultCheckIntervalSeconds = 60

// Default cadence for the encrypted config.ini cloud-sync backup, when
// CLOUD_SYNC.enabled but interval_seconds is unset.
const DefaultCloudSyncIntervalSeconds = 3600

// Iteration bounds for the game_start_time / game_end_time ntfy tasks.
const (
	GameStartStep      = 5 * time.Minute
	GameStartMaxOffset = 45 * time.Minute
	GameEndStartOffset = 45 * time.Minute
	GameEndMaxOffset   = 120 * time.Minute
)

// Screenshot compression used when composing ntfy messages.
const (
	NtfyScreenshotQuality  = 60
	NtfyScreenshotMaxWidth = 800
)

// NtfyTask soft timeout: dropped from `sent` if unanswered this long.
const NtfyResponseTimeout = 5 * time.Minute

// Echo-suppression window for the notifier's event subscription.
const NtfyEchoWindow = 60 * time.Second

// HTTP timeout applied to all capability calls except streaming reads.
const DefaultHTTPTimeout = 30 * time.Second

const (
	StateFileName       = "state.json"
	MatchInfoFileName   = "match_info.ini"
	CombinedFileName    = "combined.mp4"
	LatestVideoFileName = "latest_video.txt"

	DownloadQueueStateFile     = "download_queue_state.json"
	VideoQueueStateFile        = "video_queue_state.json"
	UploadQueueStateFile       = "upload_queue_state.json"
	NtfyServiceStateFile       = "ntfy_service_state.json"
	CameraConnectionStateFile = "camera_connection_state.json"

	GroupDirTimeFormat = "2006.01.02-15.04.05"
)

// YouTube OAuth material lives under <storage_path>/youtube/, matching
// the one-time interactive-consent-then-headless-refresh model: an
// operator drops client_secret.json there once, authorizes once, and the
// daemon only ever refreshes the resulting token.json after that.
const (
	YouTubeDir                = "youtube"
	YouTubeCredentialsFileName = "client_secret.json"
	YouTubeTokenFileName       = "token.json"
)
