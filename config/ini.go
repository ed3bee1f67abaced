package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// CameraConfig is the [CAMERA] section: selects and parameterizes the
// Camera capability implementation.
type CameraConfig struct {
	Type     string `ini:"type"`
	DeviceIP string `ini:"device_ip"`
	Username string `ini:"username"`
	Password string `ini:"password"`
}

// StorageConfig is the [STORAGE] section.
type StorageConfig struct {
	Path string `ini:"path"`
}

// AppConfig is the [APP] section.
type AppConfig struct {
	CheckIntervalSeconds int    `ini:"check_interval_seconds"`
	Timezone             string `ini:"timezone"`
	UpdateURL            string `ini:"update_url"`
}

// ProcessingConfig is the [PROCESSING] section: advisory concurrency and
// retry knobs consumed by DownloadWorker/VideoWorker/UploadWorker.
type ProcessingConfig struct {
	MaxConcurrentDownloads  int `ini:"max_concurrent_downloads"`
	MaxConcurrentConversions int `ini:"max_concurrent_conversions"`
	RetryAttempts           int `ini:"retry_attempts"`
	RetryDelaySeconds       int `ini:"retry_delay"`
}

// TeamSnapTeamConfig is one [TEAMSNAP.<team>] section.
type TeamSnapTeamConfig struct {
	TeamID   string `ini:"team_id"`
	TeamName string `ini:"team_name"`
}

// TeamSnapConfig is the [TEAMSNAP] section plus its per-team subsections.
type TeamSnapConfig struct {
	ClientID     string `ini:"client_id"`
	ClientSecret string `ini:"client_secret"`
	Teams        map[string]TeamSnapTeamConfig
}

// PlayMetricsTeamConfig is one [PLAYMETRICS.<team>] section.
type PlayMetricsTeamConfig struct {
	TeamName    string `ini:"team_name"`
	CalendarURL string `ini:"calendar_url"`
}

// PlayMetricsConfig is the [PLAYMETRICS] section plus its per-team
// subsections.
type PlayMetricsConfig struct {
	Username string `ini:"username"`
	Password string `ini:"password"`
	Teams    map[string]PlayMetricsTeamConfig
}

// NtfyConfig is the [NTFY] section.
type NtfyConfig struct {
	Enabled   bool   `ini:"enabled"`
	ServerURL string `ini:"server_url"`
	Topic     string `ini:"topic"`
}

// YouTubeConfig is the [YOUTUBE] section plus the [YOUTUBE.PLAYLIST_MAP]
// team->playlist mapping.
type YouTubeConfig struct {
	Enabled       bool   `ini:"enabled"`
	PrivacyStatus string `ini:"privacy_status"`
	PlaylistMap   map[string]string
}

// CloudSyncConfig is the [CLOUD_SYNC] section: a periodic, off-by-default
// encrypted backup of config.ini to either an HTTP endpoint or an
// S3-compatible bucket.
type CloudSyncConfig struct {
	Enabled         bool   `ini:"enabled"`
	EndpointURL     string `ini:"endpoint_url"`
	Username        string `ini:"username"`
	PublicKey       string `ini:"public_key"`
	IntervalSeconds int    `ini:"interval_seconds"`
	S3Bucket        string `ini:"s3_bucket"`
	S3Key           string `ini:"s3_key"`
	S3Region        string `ini:"s3_region"`
}

// IniConfig is the fully parsed form of config.ini, the storage root's
// single source of truth for everything the CLI flags don't cover.
type IniConfig struct {
	Camera     CameraConfig
	Storage    StorageConfig
	App        AppConfig
	Processing ProcessingConfig
	TeamSnap   TeamSnapConfig
	PlayMetrics PlayMetricsConfig
	Ntfy       NtfyConfig
	YouTube    YouTubeConfig
	CloudSync  CloudSyncConfig
}

// LoadIniConfig parses config.ini at path. Unknown keys are ignored;
// missing optional sections yield zero-valued structs rather than errors,
// matching the source behavior of treating absent sections as "disabled".
func LoadIniConfig(path string) (*IniConfig, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return nil, fmt.Errorf("loading config.ini: %w", err)
	}
	return parseIniConfig(f)
}

func parseIniConfig(f *ini.File) (*IniConfig, error) {
	cfg := &IniConfig{
		Processing: ProcessingConfig{
			MaxConcurrentDownloads:   1,
			MaxConcurrentConversions: 1,
			RetryAttempts:            3,
			RetryDelaySeconds:        5,
		},
		App: AppConfig{
			CheckIntervalSeconds: DefaultCheckIntervalSeconds,
			Timezone:             "UTC",
		},
		CloudSync: CloudSyncConfig{
			IntervalSeconds: DefaultCloudSyncIntervalSeconds,
		},
	}

	if s := f.Section("CAMERA"); s != nil {
		if err := s.MapTo(&cfg.Camera); err != nil {
			return nil, fmt.Errorf("parsing [CAMERA]: %w", err)
		}
	}
	if s := f.Section("STORAGE"); s != nil {
		if err := s.MapTo(&cfg.Storage); err != nil {
			return nil, fmt.Errorf("parsing [STORAGE]: %w", err)
		}
	}
	if s := f.Section("APP"); s != nil {
		if err := s.MapTo(&cfg.App); err != nil {
			return nil, fmt.Errorf("parsing [APP]: %w", err)
		}
	}
	if s := f.Section("PROCESSING"); s != nil {
		if err := s.MapTo(&cfg.Processing); err != nil {
			return nil, fmt.Errorf("parsing [PROCESSING]: %w", err)
		}
	}
	if s := f.Section("NTFY"); s != nil {
		if err := s.MapTo(&cfg.Ntfy); err != nil {
			return nil, fmt.Errorf("parsing [NTFY]: %w", err)
		}
	}
	if s := f.Section("YOUTUBE"); s != nil {
		if err := s.MapTo(&cfg.YouTube); err != nil {
			return nil, fmt.Errorf("parsing [YOUTUBE]: %w", err)
		}
	}
	if s, err := f.GetSection("YOUTUBE.PLAYLIST_MAP"); err == nil {
		cfg.YouTube.PlaylistMap = s.KeysHash()
	}
	if s := f.Section("CLOUD_SYNC"); s != nil {
		if err := s.MapTo(&cfg.CloudSync); err != nil {
			return nil, fmt.Errorf("parsing [CLOUD_SYNC]: %w", err)
		}
	}
	if s := f.Section("TEAMSNAP"); s != nil {
		if err := s.MapTo(&cfg.TeamSnap); err != nil {
			return nil, fmt.Errorf("parsing [TEAMSNAP]: %w", err)
		}
	}
	cfg.TeamSnap.Teams = parseTeamSections[TeamSnapTeamConfig](f, "TEAMSNAP.")
	if s := f.Section("PLAYMETRICS"); s != nil {
		if err := s.MapTo(&cfg.PlayMetrics); err != nil {
			return nil, fmt.Errorf("parsing [PLAYMETRICS]: %w", err)
		}
	}
	cfg.PlayMetrics.Teams = parseTeamSections[PlayMetricsTeamConfig](f, "PLAYMETRICS.")

	return cfg, nil
}

// parseTeamSections collects every [<prefix><team>] section (excluding
// the reserved PLAYLIST_MAP pseudo-team under YOUTUBE.) into a map keyed
// by team name.
func parseTeamSections[T any](f *ini.File, prefix string) map[string]T {
	out := map[string]T{}
	for _, s := range f.Sections() {
		name := s.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		team := strings.TrimPrefix(name, prefix)
		if team == "" || team == "PLAYLIST_MAP" {
			continue
		}
		var v T
		if err := s.MapTo(&v); err != nil {
			continue
		}
		out[team] = v
	}
	return out
}
