// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/bering/services/platform"
)

// =============================================================================
// Pre-Mutation Record Archiving
// =============================================================================
//
// The platform keeps no version history for most configuration collections:
// an update or delete destroys the old field values. Before any mutating
// tool touches a record, it hands the current copy to the Archiver, which
// snapshots it to object storage. Entirely optional: a nil *Archiver is a
// no-op, and an archive failure is logged and swallowed — losing a snapshot
// must never block the write the user actually asked for.

// EnvArchiveBucket names the object storage bucket for record snapshots.
// Unset disables archiving.
const EnvArchiveBucket = "BERING_ARCHIVE_BUCKET"

// archiveTimeLayout names snapshot objects sortably within a record's prefix.
const archiveTimeLayout = "20060102T150405Z"

// objectWriter is the slice of object storage the archiver needs.
type objectWriter interface {
	Put(ctx context.Context, name string, data []byte) error
}

// gcsWriter writes objects to a Cloud Storage bucket.
type gcsWriter struct {
	bucket *storage.BucketHandle
}

func (w *gcsWriter) Put(ctx context.Context, name string, data []byte) error {
	wr := w.bucket.Object(name).NewWriter(ctx)
	wr.ContentType = "application/json"
	if _, err := wr.Write(data); err != nil {
		_ = wr.Close()
		return fmt.Errorf("writing object %s: %w", name, err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("committing object %s: %w", name, err)
	}
	return nil
}

// archiveEnvelope is the JSON document written per snapshot.
type archiveEnvelope struct {
	SysID      string            `json:"sys_id"`
	Collection string            `json:"collection"`
	Name       string            `json:"name"`
	ArchivedAt time.Time         `json:"archived_at"`
	Fields     map[string]string `json:"fields"`
}

// Archiver snapshots records to object storage before destructive writes.
// All methods are nil-safe.
type Archiver struct {
	bucket string
	writer objectWriter
	logger *slog.Logger
}

// NewArchiverFromEnv builds the archiver from BERING_ARCHIVE_BUCKET.
// Returns nil (disabled) when the bucket is not configured or the storage
// client cannot be built — a missing archive must not keep the tools down.
func NewArchiverFromEnv(ctx context.Context, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	bucket := os.Getenv(EnvArchiveBucket)
	if bucket == "" {
		return nil
	}

	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	if err != nil {
		logger.Warn("record archiving disabled: storage client failed",
			slog.String("bucket", bucket),
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("record archiving enabled", slog.String("bucket", bucket))
	return &Archiver{
		bucket: bucket,
		writer: &gcsWriter{bucket: client.Bucket(bucket)},
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Enabled reports whether archiving is configured.
func (a *Archiver) Enabled() bool {
	return a != nil
}

// Archive writes a snapshot of rec under
// archive/{collection}/{sys_id}/{timestamp}.json. Failures are logged and
// swallowed.
func (a *Archiver) Archive(ctx context.Context, rec platform.Record) {
	if a == nil || rec == nil {
		return
	}
	env := rec.Envelope()

	payload, err := json.Marshal(archiveEnvelope{
		SysID:      env.SysID,
		Collection: env.Collection,
		Name:       env.Name,
		ArchivedAt: time.Now().UTC(),
		Fields:     rec.FieldMap(),
	})
	if err != nil {
		a.logger.Warn("record archive skipped: marshal failed",
			slog.String("collection", env.Collection),
			slog.String("sys_id", env.SysID),
			slog.String("error", err.Error()),
		)
		return
	}

	name := fmt.Sprintf("archive/%s/%s/%s.json",
		env.Collection, env.SysID, time.Now().UTC().Format(archiveTimeLayout))
	if err := a.writer.Put(ctx, name, payload); err != nil {
		a.logger.Warn("record archive failed; continuing with the write",
			slog.String("collection", env.Collection),
			slog.String("sys_id", env.SysID),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.Debug("record archived", slog.String("object", name))
}
