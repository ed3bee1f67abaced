// Package auditor implements StateAuditor: a periodic filesystem scan
// that re-derives pending work from each group's state and enqueues it.
// It never mutates state.json directly - only the workers that actually
// perform the work do that - so a bug here can at worst duplicate an
// enqueue, never corrupt a group.
package auditor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mblakley/soccer-cam-go/config"
	"github.com/mblakley/soccer-cam-go/log"
	"github.com/mblakley/soccer-cam-go/metrics"
	"github.com/mblakley/soccer-cam-go/state"
)

// HostConfigured reports whether the upload host has been configured,
// gating rule 4 without the auditor needing to know upload internals.
type HostConfigured func() bool

// Enricher is the match-info auto-enrichment capability the auditor
// consults before falling back to a team_info ntfy ask. Satisfied by
// *matchinfo.Enricher; kept as an interface here to avoid an import cycle.
type Enricher interface {
	TryEnrich(ctx context.Context, g *state.Group) (bool, error)
}

type Auditor struct {
	storageRoot string
	downloadQ   *state.Queue[state.DownloadTask]
	videoQ      *state.Queue[state.VideoTask]
	uploadQ     *state.Queue[state.UploadTask]
	ntfy        *state.NtfyServiceState
	hostReady   HostConfigured
	enricher    Enricher
}

func New(storageRoot string, downloadQ *state.Queue[state.DownloadTask], videoQ *state.Queue[state.VideoTask], uploadQ *state.Queue[state.UploadTask], ntfy *state.NtfyServiceState, hostReady HostConfigured) *Auditor {
	return &Auditor{
		storageRoot: storageRoot,
		downloadQ:   downloadQ,
		videoQ:      videoQ,
		uploadQ:     uploadQ,
		ntfy:        ntfy,
		hostReady:   hostReady,
	}
}

// WithEnricher attaches a match-info auto-enrichment source; rule 5 tries
// it before asking a human operator.
func (a *Auditor) WithEnricher(e Enricher) *Auditor {
	a.enricher = e
	return a
}

func (a *Auditor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		a.Audit(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Audit performs one pass over every group directory.
func (a *Auditor) Audit(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.Metrics.AuditDuration.Observe(time.Since(start).Seconds()) }()

	entries, err := os.ReadDir(a.storageRoot)
	if err != nil {
		log.LogNoRequestID("auditor: listing storage root failed", "err", err)
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		groupDir := filepath.Join(a.storageRoot, e.Name())
		g, err := state.LoadGroup(groupDir)
		if err != nil {
			continue // no state.json yet, or corrupt - nothing this pass can do
		}
		a.auditGroup(ctx, g)
	}
}

// AuditOne re-runs the audit rules for a single group directory outside
// the ticker loop, for the manual re-trigger command. force clears the
// "match info fully collected" marker first, so rule 5 re-asks even if
// this group was already processed.
func (a *Auditor) AuditOne(ctx context.Context, groupDir string, force bool) error {
	g, err := state.LoadGroup(groupDir)
	if err != nil {
		return fmt.Errorf("loading group %s: %w", groupDir, err)
	}
	if force {
		if err := a.ntfy.ClearProcessed(groupDir); err != nil {
			return fmt.Errorf("clearing processed marker for %s: %w", groupDir, err)
		}
	}
	a.auditGroup(ctx, g)
	return nil
}

func (a *Auditor) auditGroup(ctx context.Context, g *state.Group) {
	// Rule 1: per-file download/convert re-enqueue.
	for _, f := range g.OrderedFiles() {
		if f.Skip {
			continue
		}
		switch {
		case f.Status.NeedsDownload():
			a.enqueue(state.TaskTypeDahuaDownload, func() error {
				return a.downloadQ.Enqueue(state.DownloadTask{TaskType: state.TaskTypeDahuaDownload, GroupDir: g.Dir(), FilePath: f.FilePath})
			})
		case f.Status.NeedsConvert():
			a.enqueue(state.TaskTypeConvert, func() error {
				return a.videoQ.Enqueue(state.VideoTask{TaskType: state.TaskTypeConvert, GroupDir: g.Dir(), FilePath: f.FilePath})
			})
		}
	}

	// Rule 2: combine readiness.
	if g.IsReadyForCombining() && !g.CombinedVideoExists() {
		a.enqueue(state.TaskTypeCombine, func() error {
			return a.videoQ.Enqueue(state.VideoTask{TaskType: state.TaskTypeCombine, GroupDir: g.Dir()})
		})
	}

	mi, err := state.LoadMatchInfo(g.Dir())
	if err != nil {
		log.LogNoRequestID("auditor: loading match info failed", "group_dir", g.Dir(), "err", err)
		return
	}

	// Rule 3: trim readiness.
	if g.Status == state.GroupStatusCombined && g.CombinedVideoExists() && mi.IsPopulated() && mi.TotalDurationKnown() {
		a.enqueue(state.TaskTypeTrim, func() error {
			return a.videoQ.Enqueue(state.VideoTask{TaskType: state.TaskTypeTrim, GroupDir: g.Dir()})
		})
	}

	// Rule 4: upload readiness.
	if g.Status == state.GroupStatusAutocamComplete && a.hostReady != nil && a.hostReady() {
		a.enqueue(state.TaskTypeYouTubeUpload, func() error {
			return a.uploadQ.Enqueue(state.UploadTask{TaskType: state.TaskTypeYouTubeUpload, GroupDir: g.Dir()})
		})
	}

	// Rule 5: a combined group missing any match info gets asked for
	// whichever piece is missing first (team info, then game start, then
	// game end), unless a question is already outstanding for this group.
	if mi.IsPopulated() && mi.TotalDurationKnown() {
		if !a.ntfy.IsProcessed(g.Dir()) {
			if err := a.ntfy.MarkProcessed(g.Dir()); err != nil {
				log.LogNoRequestID("auditor: marking match info processed failed", "group_dir", g.Dir(), "err", err)
			}
		}
		return
	}
	if g.Status != state.GroupStatusCombined || a.ntfy.IsProcessed(g.Dir()) {
		return
	}

	if a.enricher != nil && !mi.HasTeamInfo() {
		enriched, err := a.enricher.TryEnrich(ctx, g)
		if err != nil {
			log.LogNoRequestID("auditor: match info auto-enrichment failed", "group_dir", g.Dir(), "err", err)
		} else if enriched {
			mi, err = state.LoadMatchInfo(g.Dir())
			if err != nil {
				log.LogNoRequestID("auditor: reloading match info after enrichment failed", "group_dir", g.Dir(), "err", err)
				return
			}
			if mi.IsPopulated() && mi.TotalDurationKnown() {
				return
			}
		}
	}

	if _, waiting := a.ntfy.TaskForGroup(g.Dir()); !waiting {
		task := a.nextMatchInfoTask(g, mi)
		if err := a.ntfy.PutTask(task); err != nil {
			log.LogNoRequestID("auditor: queuing match info ntfy task failed", "group_dir", g.Dir(), "err", err)
		}
	}
}

// nextMatchInfoTask picks the earliest missing piece of match info, per
// the fixed order team info -> game start -> game end.
func (a *Auditor) nextMatchInfoTask(g *state.Group, mi *state.MatchInfo) *state.NtfyTask {
	base := "-" + filepath.Base(g.Dir())
	switch {
	case !mi.HasTeamInfo():
		return &state.NtfyTask{TaskID: "team_info" + base, GroupDir: g.Dir(), Kind: state.NtfyKindTeamInfo, Status: state.NtfyTaskQueued}
	case mi.StartTimeOffset <= 0:
		return &state.NtfyTask{
			TaskID: "game_start_time" + base, GroupDir: g.Dir(), Kind: state.NtfyKindGameStartTime, Status: state.NtfyTaskQueued,
			Metadata: map[string]any{"time_offset_seconds": float64(0)},
		}
	default:
		startOffset := mi.StartTimeOffset + config.GameEndStartOffset
		return &state.NtfyTask{
			TaskID: "game_end_time" + base, GroupDir: g.Dir(), Kind: state.NtfyKindGameEndTime, Status: state.NtfyTaskQueued,
			Metadata: map[string]any{"time_offset_seconds": startOffset.Seconds()},
		}
	}
}

func (a *Auditor) enqueue(taskType state.TaskType, fn func() error) {
	if err := fn(); err != nil {
		log.LogNoRequestID("auditor: enqueue failed", "task_type", taskType, "err", err)
		return
	}
	metrics.Metrics.AuditEnqueuedTotal.WithLabelValues(string(taskType)).Inc()
}
