// Package export writes a point-in-time JSON snapshot of the store to a
// local file or an S3-compatible bucket.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"slam/internal/domain"
	"slam/internal/engine"
)

// Snapshot is the exported document.
type Snapshot struct {
	ExportedAt    time.Time             `json:"exportedAt"`
	Count         int                   `json:"count"`
	Records       []domain.Record       `json:"records"`
	Relationships []domain.Relationship `json:"relationships"`
}

// Sink receives the encoded snapshot.
type Sink interface {
	Put(ctx context.Context, data []byte) error
	String() string
}

// Take reads every record, deleted ones included, and every relationship.
func Take(ctx context.Context, e engine.Engine) (Snapshot, error) {
	res, err := e.Query(ctx, engine.QueryOptions{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("load records: %w", err)
	}
	rels, err := e.AllRelationships(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return Snapshot{
		ExportedAt:    now().UTC(),
		Count:         len(res.Data),
		Records:       res.Data,
		Relationships: rels,
	}, nil
}

// Write encodes snap as indented JSON and hands it to sink.
func Write(ctx context.Context, sink Sink, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data = append(data, '\n')
	if err := sink.Put(ctx, data); err != nil {
		return fmt.Errorf("write %s: %w", sink, err)
	}
	return nil
}

// Open resolves target to a sink: s3://bucket/key goes to S3, anything
// else is a filesystem path.
func Open(ctx context.Context, target string, s3cfg S3Config) (Sink, error) {
	if rest, ok := strings.CutPrefix(target, "s3://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return nil, fmt.Errorf("s3 target must look like s3://bucket/key, got %q", target)
		}
		s3cfg.Bucket = bucket
		s3cfg.Key = key
		return NewS3Sink(ctx, s3cfg)
	}
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("export target required")
	}
	return FileSink{Path: target}, nil
}

// FileSink writes through a temp file and rename so readers never see a
// partial snapshot.
type FileSink struct {
	Path string
}

func (s FileSink) String() string { return s.Path }

func (s FileSink) Put(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".slam-export-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}
