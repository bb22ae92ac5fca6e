package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/futbot/internal/domain"
)

// ArchiveStore is the slice of the trade store the archiver reads and
// purges.
type ArchiveStore interface {
	ClosedBefore(ctx context.Context, before time.Time) ([]domain.ClosedPosition, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlobWriter uploads one object.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver periodically exports closed trades older than the retention
// window to object storage as JSONL, then purges them from the primary
// store. Purge only happens after a successful upload.
type Archiver struct {
	store     ArchiveStore
	writer    BlobWriter
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger

	now func() time.Time
}

func NewArchiver(store ArchiveStore, writer BlobWriter, interval time.Duration, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:     store,
		writer:    writer,
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until the context is
// cancelled. A failed sweep is logged and retried next interval.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("trade archiver started",
		slog.Duration("interval", a.interval),
		slog.Duration("retention", a.retention))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("trade archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			count, err := a.Sweep(ctx)
			if err != nil {
				a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
				continue
			}
			if count > 0 {
				a.logger.Info("trades archived", slog.Int64("count", count))
			}
		}
	}
}

// Sweep archives and purges one batch. Returns the number of trades
// archived.
func (a *Archiver) Sweep(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-a.retention)

	trades, err := a.store.ClosedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(cutoff)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	if _, err := a.store.DeleteBefore(ctx, cutoff); err != nil {
		// The archive is safe; the rows will be re-archived (and the
		// object overwritten) next sweep.
		return int64(len(trades)), fmt.Errorf("s3blob: archive purge: %w", err)
	}
	return int64(len(trades)), nil
}

// archivePath partitions archive objects by the year-month of the
// cutoff:
//
//	archive/closed_trades/2026-08.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/closed_trades/%s.jsonl", before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
