package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
// ---------------------------------------------------------------------------

// TransactionArchiveStore lists settlement records for archival.
type TransactionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TransactionRecord, error)
}

// CycleArchiveStore lists resolved cycles for archival.
type CycleArchiveStore interface {
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.AuctionCycle, error)
}

// jsonlContentType labels archive partitions.
const jsonlContentType = "application/x-ndjson"

// multipartThreshold is the payload size above which uploads go through the
// multipart manager.
const multipartThreshold = minPartSize

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver. Records are grouped by UTC day and
// each day is written once to archive/<kind>/YYYY-MM-DD.jsonl. Only days that
// ended before the cutoff are archived, so a partition is complete when it is
// written and a rerun skips it.
//
// Archived rows are not deleted from the primary store.
type ArchiveImpl struct {
	writer       domain.BlobWriter
	reader       domain.BlobReader
	transactions TransactionArchiveStore
	cycles       CycleArchiveStore
	audit        domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	transactions TransactionArchiveStore,
	cycles CycleArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:       writer,
		reader:       reader,
		transactions: transactions,
		cycles:       cycles,
		audit:        audit,
	}
}

// ArchiveTransactions uploads every complete day of transaction records
// before the cutoff and returns how many records were written.
func (a *ArchiveImpl) ArchiveTransactions(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.transactions.ListBefore(ctx, domain.Day(before))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions query: %w", err)
	}
	return archiveByDay(ctx, a, "transactions", before, recs, func(r domain.TransactionRecord) time.Time {
		return r.CreatedAt
	})
}

// ArchiveCycles uploads every complete day of resolved cycles before the
// cutoff and returns how many cycles were written.
func (a *ArchiveImpl) ArchiveCycles(ctx context.Context, before time.Time) (int64, error) {
	cycles, err := a.cycles.ListResolvedBefore(ctx, domain.Day(before))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cycles query: %w", err)
	}
	return archiveByDay(ctx, a, "cycles", before, cycles, func(c domain.AuctionCycle) time.Time {
		if c.ResolvedAt == nil {
			return c.StartedAt
		}
		return *c.ResolvedAt
	})
}

func archiveByDay[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T, at func(T) time.Time) (int64, error) {
	cutoff := domain.Day(before)
	days := make(map[time.Time][]T)
	for _, r := range records {
		if d := domain.Day(at(r)); d.Before(cutoff) {
			days[d] = append(days[d], r)
		}
	}
	keys := make([]time.Time, 0, len(days))
	for d := range days {
		keys = append(keys, d)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	var total int64
	for _, d := range keys {
		path := archivePath(kind, d)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s check %s: %w", kind, path, err)
		}
		if exists {
			continue
		}

		buf, err := marshalJSONL(days[d])
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		if err := a.upload(ctx, path, buf); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				// A concurrent run wrote this partition after our check.
				continue
			}
			return total, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}

		count := int64(len(days[d]))
		total += count
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":  path,
			"count": count,
			"day":   d.Format(time.DateOnly),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return total, nil
}

func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) > multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for one day of one record kind:
//
//	archive/transactions/2026-03-01.jsonl
//	archive/cycles/2026-03-01.jsonl
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.Format(time.DateOnly))
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
