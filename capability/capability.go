// Package capability defines the external collaborators the orchestrator
// depends on but does not implement in full: the camera's HTTP dialect,
// the video host, match-schedule providers, and the notification
// transport. Only the interfaces are load-bearing; concrete
// implementations live in camera/, upload/, schedule/, and notify/.
package capability

import (
	"context"
	"time"
)

// CameraFile describes one recording fragment as reported by the camera,
// before it is assigned to a group.
type CameraFile struct {
	Path      string
	StartTime time.Time
	EndTime   time.Time
}

// ConnectedWindow is a [Start, EndOrNow) interval during which the camera
// was otherwise engaged (its own native uploader connected); fragments
// overlapping it must be left alone.
type ConnectedWindow struct {
	Start    time.Time
	EndOrNow time.Time // zero value means the window is still open
}

// Camera is the capability CameraPoller and DownloadWorker consume.
// Concrete dialects (Dahua CGI, ONVIF, ...) live under camera/.
type Camera interface {
	CheckAvailability(ctx context.Context) (bool, error)
	ListFiles(ctx context.Context, from, to time.Time) ([]CameraFile, error)
	GetSize(ctx context.Context, remotePath string) (int64, error)
	// Download streams remotePath to localPath, invoking progress with
	// cumulative bytes written at most once a second while data arrives.
	Download(ctx context.Context, remotePath, localPath string, progress func(bytesWritten int64)) error
	ConnectedTimeframes(ctx context.Context) ([]ConnectedWindow, error)
}

// Uploader is the video host capability UploadWorker consumes. Concrete
// hosts (YouTube, ...) live under upload/.
type Uploader interface {
	Authenticate(ctx context.Context) error
	FindPlaylist(ctx context.Context, name string) (id string, found bool, err error)
	CreatePlaylist(ctx context.Context, name, description, privacy string) (id string, err error)
	// Upload streams localPath to the host's resumable-upload protocol,
	// returning the new video ID.
	Upload(ctx context.Context, localPath, title, description string, tags []string, privacy, playlistID string) (videoID string, err error)
	AddToPlaylist(ctx context.Context, videoID, playlistID string) error
}

// Game is the single match a MatchSchedule lookup can return.
type Game struct {
	MyTeamName       string
	OpponentTeamName string
	Location         string
	StartTime        *time.Time
	Source           string // e.g. "teamsnap", "playmetrics"
}

// MatchSchedule is the external scheduling-provider capability the
// match-info auto-enrichment service consumes before falling back to an
// interactive ntfy question. Concrete providers (TeamSnap, PlayMetrics)
// live under schedule/.
type MatchSchedule interface {
	FindGame(ctx context.Context, windowStart, windowEnd time.Time) (*Game, error)
}

// NotifierEvent is one inbound event off the Notifier's event stream.
type NotifierEvent struct {
	ID      string
	Message string
	Title   string
	Tags    []string
}

// NotifierAction is one action button attached to an outbound
// notification; Payload is echoed back verbatim in the operator's reply
// if they tap it.
type NotifierAction struct {
	Label   string
	Payload string
}

// Notifier is the interactive-notification capability NotifierQueue
// consumes. Concrete transports (ntfy.sh) live under notify/.
type Notifier interface {
	Send(ctx context.Context, message, title string, tags []string, priority int, image []byte, actions []NotifierAction) (bool, error)
	SubscribeEvents(ctx context.Context) (<-chan NotifierEvent, error)
}
