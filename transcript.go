/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// transcriptStore persists sealed sheets as plain text, one file per
// player per room session, under {room}/{session}/{player}.txt. Writes
// are best-effort: any failure is logged and swallowed, and never touches
// in-memory game state. An s3-compatible mirror is optional.
type transcriptStore struct {
	dir    string
	bucket string
	s3     *minio.Client
}

func newTranscriptStore(cfg *Config) (*transcriptStore, error) {
	ts := &transcriptStore{
		dir:    cfg.transcripts,
		bucket: cfg.s3Bucket,
	}

	if cfg.s3Endpoint != "" {
		client, err := minio.New(cfg.s3Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.s3AccessKeyID, cfg.s3SecretAccessKey, ""),
			Secure: cfg.s3UseSSL,
		})
		if err != nil {
			return nil, err
		}

		ts.s3 = client
	}

	return ts, nil
}

// sanitizePathPart makes a caller-supplied string safe to use as a single
// path element. Room and player identifiers arrive over the wire with no
// validation, so separators and relative-path tricks are neutralized here.
func sanitizePathPart(part string) string {
	mapped := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		default:
			return r
		}
	}, part)

	mapped = strings.Trim(mapped, ". ")

	if mapped == "" {
		return "unnamed"
	}

	return mapped
}

func (ts *transcriptStore) save(cfg *Config, room, session, player, text string) {
	room = sanitizePathPart(room)
	session = sanitizePathPart(session)
	player = sanitizePathPart(player)

	data := []byte(text + "\n")

	dir := filepath.Join(ts.dir, room, session)
	name := filepath.Join(dir, player+".txt")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		logf(cfg, "STORE: Unable to create %s: %v", dir, err)
	} else if err := os.WriteFile(name, data, 0o644); err != nil {
		logf(cfg, "STORE: Unable to write %s: %v", name, err)
	} else {
		logf(cfg, "STORE: Wrote %s (%s)", name, humanReadableSize(int64(len(data))))
	}

	if ts.s3 == nil {
		return
	}

	key := room + "/" + session + "/" + player + ".txt"

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := ts.s3.PutObject(ctx, ts.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		logf(cfg, "STORE: Unable to mirror %s to bucket %s: %v", key, ts.bucket, err)

		return
	}

	logf(cfg, "STORE: Mirrored %s to bucket %s", key, ts.bucket)
}
