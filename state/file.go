package state

import "time"

// FileStatus is the per-file state machine: pending -> downloaded ->
// converted, with download_failed/conversion_failed as retry points and
// skipped absorbing once an operator opts a file out.
type FileStatus string

const (
	FileStatusPending          FileStatus = "pending"
	FileStatusDownloaded       FileStatus = "downloaded"
	FileStatusConverted        FileStatus = "converted"
	FileStatusDownloadFailed   FileStatus = "download_failed"
	FileStatusConversionFailed FileStatus = "conversion_failed"
	FileStatusSkipped          FileStatus = "skipped"
)

// File is one camera fragment (a RecordingFile), tracked within its
// group's state.json. CameraPoller creates it; DownloadWorker and
// VideoWorker mutate it; it's never deleted from state, only its .dav
// blob is removed once the .mp4 exists and is verified.
type File struct {
	FilePath       string          `json:"file_path"`
	CameraPath     string          `json:"camera_path"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	Status         FileStatus      `json:"status"`
	Skip           bool            `json:"skip"`
	ScreenshotPath string          `json:"screenshot_path,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	LastUpdated    time.Time       `json:"last_updated"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// IsTerminal reports whether status needs no further worker action
// (converted or skipped).
func (s FileStatus) IsTerminal() bool {
	return s == FileStatusConverted || s == FileStatusSkipped
}

// NeedsDownload reports whether a file in this status should be handed
// to DownloadWorker.
func (s FileStatus) NeedsDownload() bool {
	return s == FileStatusPending || s == FileStatusDownloadFailed
}

// NeedsConvert reports whether a file in this status should be handed
// to VideoWorker as a Convert task.
func (s FileStatus) NeedsConvert() bool {
	return s == FileStatusDownloaded || s == FileStatusConversionFailed
}
