package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter stores archive partitions in object storage. Put is write-once:
// it returns ErrAlreadyExists when an object is already stored at path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart is used for partitions too large for a single request.
	// It is not conditional; callers check BlobReader.Exists first.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader lets the archiver skip partitions a previous run uploaded.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies settled history older than a cutoff into daily JSONL
// partitions. Both methods return the number of records newly archived;
// partitions already in storage count as zero.
type Archiver interface {
	ArchiveTransactions(ctx context.Context, before time.Time) (int64, error)
	ArchiveCycles(ctx context.Context, before time.Time) (int64, error)
}
