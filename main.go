package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mblakley/soccer-cam-go/auditor"
	"github.com/mblakley/soccer-cam-go/camera/dahua"
	"github.com/mblakley/soccer-cam-go/capability"
	"github.com/mblakley/soccer-cam-go/cloudsync"
	"github.com/mblakley/soccer-cam-go/config"
	"github.com/mblakley/soccer-cam-go/downloader"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/mblakley/soccer-cam-go/matchinfo"
	"github.com/mblakley/soccer-cam-go/metrics"
	"github.com/mblakley/soccer-cam-go/notifier"
	"github.com/mblakley/soccer-cam-go/notify/ntfy"
	"github.com/mblakley/soccer-cam-go/poller"
	"github.com/mblakley/soccer-cam-go/schedule/playmetrics"
	"github.com/mblakley/soccer-cam-go/schedule/teamsnap"
	"github.com/mblakley/soccer-cam-go/state"
	"github.com/mblakley/soccer-cam-go/upload/youtube"
	"github.com/mblakley/soccer-cam-go/uploader"
	"github.com/mblakley/soccer-cam-go/videoworker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "audit-group" {
		if err := runAuditGroup(os.Args[2:]); err != nil {
			glog.Fatal(err)
		}
		return
	}

	if err := flag.Set("logtostderr", "true"); err != nil {
		glog.Fatal(err)
	}

	fs := flag.NewFlagSet("soccer-cam-go", flag.ExitOnError)
	cli := config.Cli{UploadEnabled: true}
	fs.StringVar(&cli.ConfigPath, "config-ini", "config.ini", "Path to config.ini")
	fs.StringVar(&cli.StorageRoot, "storage-root", "", "Override STORAGE.path from config.ini")
	fs.StringVar(&cli.PromAddress, "metrics-addr", "0.0.0.0:9090", "Prometheus metrics listen address")
	fs.DurationVar(&cli.CheckInterval, "check-interval", 0, "Override APP.check_interval_seconds")
	fs.IntVar(&cli.LogLevel, "v", 0, "Log verbosity level")
	config.InvertedBoolFlag(fs, &cli.UploadEnabled, "upload", true, "Disable the YouTube upload worker regardless of YOUTUBE.enabled")
	auditIntervalSeconds := fs.Int("audit-interval-seconds", 30, "StateAuditor pass interval, in seconds")
	ntfyDispatchIntervalSeconds := fs.Int("ntfy-dispatch-interval-seconds", 10, "NotifierQueue dispatch-loop interval, in seconds")
	idlePollSeconds := fs.Int("idle-poll-seconds", 2, "Queue worker idle poll interval, in seconds")
	version := fs.Bool("version", false, "print application version")

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("SOCCER_CAM")); err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if *version {
		fmt.Printf("soccer-cam-go version: %s", config.Version)
		return
	}
	if cli.LogLevel > 0 {
		if err := flag.Set("v", fmt.Sprint(cli.LogLevel)); err != nil {
			glog.Fatal(err)
		}
	}

	iniCfg, err := config.LoadIniConfig(cli.ConfigPath)
	if err != nil {
		glog.Fatalf("error loading %s: %s", cli.ConfigPath, err)
	}
	storageRoot := iniCfg.Storage.Path
	if cli.StorageRoot != "" {
		storageRoot = cli.StorageRoot
	}
	if storageRoot == "" {
		glog.Fatal("STORAGE.path is required in config.ini")
	}
	if err := os.MkdirAll(storageRoot, 0o755); err != nil {
		glog.Fatalf("error creating storage root %s: %s", storageRoot, err)
	}

	group, ctx := errgroup.WithContext(context.Background())

	go func() {
		if err := metrics.ListenAndServe(cli.PromAddress); err != nil {
			log.LogNoRequestID("metrics server exited", "err", err)
		}
	}()

	cam, err := buildCamera(iniCfg.Camera, storageRoot)
	if err != nil {
		glog.Fatal(err)
	}
	host := buildUploader(iniCfg.YouTube, storageRoot)
	transport := buildNotifier(iniCfg.Ntfy)
	enricher := buildEnricher(iniCfg)

	downloadQ, err := state.NewQueue[state.DownloadTask](filepath.Join(storageRoot, config.DownloadQueueStateFile))
	if err != nil {
		glog.Fatalf("error loading download queue: %s", err)
	}
	videoQ, err := state.NewQueue[state.VideoTask](filepath.Join(storageRoot, config.VideoQueueStateFile))
	if err != nil {
		glog.Fatalf("error loading video queue: %s", err)
	}
	uploadQ, err := state.NewQueue[state.UploadTask](filepath.Join(storageRoot, config.UploadQueueStateFile))
	if err != nil {
		glog.Fatalf("error loading upload queue: %s", err)
	}
	ntfyState, err := state.LoadNtfyServiceState(filepath.Join(storageRoot, config.NtfyServiceStateFile))
	if err != nil {
		glog.Fatalf("error loading ntfy service state: %s", err)
	}

	hostReady := func() bool { return iniCfg.YouTube.Enabled && cli.UploadEnabled }

	checkInterval := cli.CheckInterval
	if checkInterval <= 0 {
		checkInterval = time.Duration(iniCfg.App.CheckIntervalSeconds) * time.Second
	}
	if checkInterval <= 0 {
		checkInterval = config.DefaultCheckIntervalSeconds * time.Second
	}
	auditInterval := time.Duration(*auditIntervalSeconds) * time.Second
	idlePoll := time.Duration(*idlePollSeconds) * time.Second
	ntfyDispatchInterval := time.Duration(*ntfyDispatchIntervalSeconds) * time.Second

	cameraPoller := poller.New(cam, storageRoot, downloadQ)
	downloadWorker := downloader.New(cam, downloadQ)
	videoWorker := videoworker.New(videoQ, uploadQ)
	uploadWorker := uploader.New(host, uploadQ, ntfyState, iniCfg.YouTube.PlaylistMap, iniCfg.YouTube.PrivacyStatus)
	auditorSvc := auditor.New(storageRoot, downloadQ, videoQ, uploadQ, ntfyState, hostReady).WithEnricher(enricher)

	group.Go(func() error { cameraPoller.Run(ctx, checkInterval); return nil })
	group.Go(func() error { downloadWorker.Run(ctx, idlePoll); return nil })
	group.Go(func() error { videoWorker.Run(ctx, idlePoll); return nil })
	group.Go(func() error { uploadWorker.Run(ctx, idlePoll); return nil })
	group.Go(func() error { auditorSvc.Run(ctx, auditInterval); return nil })

	if transport != nil {
		notifierQueue := notifier.New(transport, ntfyState)
		group.Go(func() error { notifierQueue.Run(ctx, ntfyDispatchInterval); return nil })
	}

	if syncer, err := cloudsync.New(cli.ConfigPath, iniCfg.CloudSync); err != nil {
		glog.Fatalf("error configuring cloud sync: %s", err)
	} else if syncer != nil {
		group.Go(func() error { syncer.Run(ctx); return nil })
	}

	group.Go(func() error { return handleSignals(ctx) })

	if err := group.Wait(); err != nil {
		log.LogNoRequestID("shutting down", "err", err)
	}
}

func buildCamera(cfg config.CameraConfig, storageRoot string) (capability.Camera, error) {
	switch cfg.Type {
	case "", "dahua":
		statePath := filepath.Join(storageRoot, config.CameraConnectionStateFile)
		return dahua.New(cfg.DeviceIP, cfg.Username, cfg.Password, statePath), nil
	default:
		return nil, fmt.Errorf("unsupported CAMERA.type %q", cfg.Type)
	}
}

func buildUploader(cfg config.YouTubeConfig, storageRoot string) capability.Uploader {
	youtubeDir := filepath.Join(storageRoot, config.YouTubeDir)
	if err := os.MkdirAll(youtubeDir, 0o755); err != nil {
		log.LogNoRequestID("failed to create youtube credentials directory", "dir", youtubeDir, "err", err)
	}
	return youtube.New(
		filepath.Join(youtubeDir, config.YouTubeCredentialsFileName),
		filepath.Join(youtubeDir, config.YouTubeTokenFileName),
	)
}

func buildNotifier(cfg config.NtfyConfig) capability.Notifier {
	if !cfg.Enabled || cfg.ServerURL == "" || cfg.Topic == "" {
		return nil
	}
	return ntfy.New(cfg.ServerURL, cfg.Topic)
}

// buildEnricher wires one MatchSchedule source per configured
// TeamSnap/PlayMetrics team subsection. An empty result is a valid
// Enricher that always defers to the operator ntfy ask.
func buildEnricher(cfg *config.IniConfig) *matchinfo.Enricher {
	var sources []capability.MatchSchedule
	for _, team := range cfg.TeamSnap.Teams {
		if team.TeamID == "" {
			continue
		}
		sources = append(sources, teamsnap.New(cfg.TeamSnap.ClientID, cfg.TeamSnap.ClientSecret, team.TeamID, team.TeamName))
	}
	for _, team := range cfg.PlayMetrics.Teams {
		if team.CalendarURL == "" {
			continue
		}
		sources = append(sources, playmetrics.New(team.TeamName, team.CalendarURL))
	}
	return matchinfo.New(sources...)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}

// runAuditGroup is the manual re-trigger command: `soccer-cam-go
// audit-group <dir> [--force]` re-runs the match-info audit rules for one
// group directory without waiting for the next ticker pass.
func runAuditGroup(args []string) error {
	fs := flag.NewFlagSet("audit-group", flag.ExitOnError)
	configPath := fs.String("config-ini", "config.ini", "Path to config.ini")
	force := fs.Bool("force", false, "Reprocess even if match info is already fully collected")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: soccer-cam-go audit-group <directory-name> [--force]")
	}
	dirName := fs.Arg(0)

	iniCfg, err := config.LoadIniConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading %s: %w", *configPath, err)
	}
	storageRoot := iniCfg.Storage.Path
	if storageRoot == "" {
		return fmt.Errorf("STORAGE.path is required in config.ini")
	}
	groupDir := filepath.Join(storageRoot, dirName)
	if _, err := os.Stat(groupDir); err != nil {
		return fmt.Errorf("group directory %s: %w", groupDir, err)
	}

	downloadQ, err := state.NewQueue[state.DownloadTask](filepath.Join(storageRoot, config.DownloadQueueStateFile))
	if err != nil {
		return fmt.Errorf("loading download queue: %w", err)
	}
	videoQ, err := state.NewQueue[state.VideoTask](filepath.Join(storageRoot, config.VideoQueueStateFile))
	if err != nil {
		return fmt.Errorf("loading video queue: %w", err)
	}
	uploadQ, err := state.NewQueue[state.UploadTask](filepath.Join(storageRoot, config.UploadQueueStateFile))
	if err != nil {
		return fmt.Errorf("loading upload queue: %w", err)
	}
	ntfyState, err := state.LoadNtfyServiceState(filepath.Join(storageRoot, config.NtfyServiceStateFile))
	if err != nil {
		return fmt.Errorf("loading ntfy service state: %w", err)
	}

	hostReady := func() bool { return iniCfg.YouTube.Enabled }
	enricher := buildEnricher(iniCfg)
	auditorSvc := auditor.New(storageRoot, downloadQ, videoQ, uploadQ, ntfyState, hostReady).WithEnricher(enricher)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := auditorSvc.AuditOne(ctx, groupDir, *force); err != nil {
		return fmt.Errorf("auditing %s: %w", groupDir, err)
	}

	if transport := buildNotifier(iniCfg.Ntfy); transport != nil {
		notifier.New(transport, ntfyState).DispatchPending(ctx)
	}

	fmt.Printf("audited %s (force=%v)\n", groupDir, *force)
	return nil
}
