package source

import (
	"context"
	"fmt"
	"os"
)

// Fetcher produces the snapshot for one reconciliation run.
type Fetcher interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// FileFetcher reads a snapshot document from disk.
type FileFetcher struct {
	Path string
}

// Snapshot reads and decodes the file.
func (f *FileFetcher) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return snap, nil
}
