package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/arbgraph/internal/domain"
	"github.com/alanyoungcy/arbgraph/internal/graph"
)

const (
	snapshotPrefix = "snapshots/"
	// Snapshots above this size go through the multipart uploader.
	multipartThreshold = 8 << 20
)

// HistoryArchive copies old opportunity history to cold storage.
type HistoryArchive interface {
	ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error)
}

// SnapshotArchiver writes periodic graph snapshots to object storage and
// restores the newest one on start.
type SnapshotArchiver struct {
	graph    *graph.RateGraph
	writer   domain.BlobWriter
	reader   domain.BlobReader
	history  HistoryArchive
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	lastHistory time.Time
}

// NewSnapshotArchiver creates an archiver. history may be nil.
func NewSnapshotArchiver(g *graph.RateGraph, w domain.BlobWriter, r domain.BlobReader, history HistoryArchive, interval time.Duration, logger *slog.Logger) *SnapshotArchiver {
	return &SnapshotArchiver{
		graph:    g,
		writer:   w,
		reader:   r,
		history:  history,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "snapshot_archiver")),
	}
}

// SnapshotPath is snapshots/YYYY/MM/DD/<unix>.json in UTC.
func SnapshotPath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%s/%d.json", snapshotPrefix, t.Format("2006/01/02"), t.Unix())
}

// Archive uploads the current snapshot and returns its path.
func (a *SnapshotArchiver) Archive(ctx context.Context) (string, error) {
	snap := a.graph.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("snapshot_archiver: encode: %w", err)
	}

	path := SnapshotPath(snap.TakenAt)
	if len(data) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(data), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("snapshot_archiver: upload: %w", err)
	}
	a.logger.InfoContext(ctx, "snapshot archived",
		slog.String("path", path),
		slog.Int("edges", len(snap.Edges)),
		slog.Int("bytes", len(data)),
	)
	return path, nil
}

// RestoreLatest loads the newest archived snapshot into the graph and
// returns how many edges it restored. It wraps domain.ErrNotFound when the
// archive is empty.
func (a *SnapshotArchiver) RestoreLatest(ctx context.Context) (int, error) {
	infos, err := a.reader.List(ctx, snapshotPrefix)
	if err != nil {
		return 0, fmt.Errorf("snapshot_archiver: list: %w", err)
	}
	paths := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".json") {
			paths = append(paths, info.Path)
		}
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("snapshot_archiver: restore: %w", domain.ErrNotFound)
	}
	slices.Sort(paths)
	latest := paths[len(paths)-1]

	body, err := a.reader.Get(ctx, latest)
	if err != nil {
		return 0, fmt.Errorf("snapshot_archiver: get %s: %w", latest, err)
	}
	defer body.Close()

	var snap graph.Snapshot
	if err := json.NewDecoder(body).Decode(&snap); err != nil {
		return 0, fmt.Errorf("snapshot_archiver: decode %s: %w", latest, err)
	}
	skipped := a.graph.Restore(snap)
	a.logger.InfoContext(ctx, "snapshot restored",
		slog.String("path", latest),
		slog.Int("edges", len(snap.Edges)-skipped),
		slog.Int("skipped", skipped),
	)
	return len(snap.Edges) - skipped, nil
}

// Run archives every interval until ctx is cancelled. Opportunity history
// older than the current month is copied at most once a day.
func (a *SnapshotArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Archive(ctx); err != nil {
				a.logger.WarnContext(ctx, "snapshot archive failed", slog.String("error", err.Error()))
			}
			a.archiveHistory(ctx)
		}
	}
}

func (a *SnapshotArchiver) archiveHistory(ctx context.Context) {
	if a.history == nil {
		return
	}
	now := a.now().UTC()
	if !a.lastHistory.IsZero() && now.Sub(a.lastHistory) < 24*time.Hour {
		return
	}
	cutoff := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	n, err := a.history.ArchiveOpportunities(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "history archive failed", slog.String("error", err.Error()))
		return
	}
	a.lastHistory = now
	if n > 0 {
		a.logger.InfoContext(ctx, "opportunity history archived", slog.Int64("count", n))
	}
}
