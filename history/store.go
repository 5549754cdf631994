package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

// Entry is one published conversion.
type Entry struct {
	ID           int64     `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	SourceName   string    `json:"sourceName"`
	SourceFormat string    `json:"sourceFormat"`
	Variant      string    `json:"variant"`
	SourceWidth  int       `json:"sourceWidth"`
	SourceHeight int       `json:"sourceHeight"`
	Bytes        int       `json:"bytes"`
	SHA256       string    `json:"sha256"`
	DurationMS   int64     `json:"durationMs"`

	// Frame is stored with the entry when set on Record. It is never loaded
	// by Recent; use Store.Frame.
	Frame []byte `json:"-"`
}

// ErrNotFound is returned by Frame for an unknown id or an entry recorded
// without a frame.
var ErrNotFound = errors.New("history: not found")

// Store is a conversion log backed by sqlite. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path and applies pending migrations.
func Open(path string) (*Store, error) {
	database, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &Store{db: database}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Checksum returns the hex SHA-256 of a frame, as stored in Entry.SHA256.
func Checksum(frame []byte) string {
	sum := sha256.Sum256(frame)
	return hex.EncodeToString(sum[:])
}

// Record appends e and returns it with ID and CreatedAt filled in.
// A zero CreatedAt is set to the current time.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversions(created_at, source_name, source_format, variant,
			source_width, source_height, bytes, sha256, duration_ms, frame)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CreatedAt.Format(time.RFC3339Nano),
		e.SourceName,
		e.SourceFormat,
		e.Variant,
		e.SourceWidth,
		e.SourceHeight,
		e.Bytes,
		e.SHA256,
		e.DurationMS,
		compressFrame(e.Frame),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("history: insert conversion: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return Entry{}, fmt.Errorf("history: conversion id: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// selects the default.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, source_name, source_format, variant,
			source_width, source_height, bytes, sha256, duration_ms
		FROM conversions
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query conversions: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate conversions: %w", err)
	}
	return entries, nil
}

// Latest returns the most recent entry. ok is false when the log is empty.
func (s *Store) Latest(ctx context.Context) (e Entry, ok bool, err error) {
	entries, err := s.Recent(ctx, 1)
	if err != nil {
		return Entry{}, false, err
	}
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[0], true, nil
}

// Frame returns the frame stored with entry id.
func (s *Store) Frame(ctx context.Context, id int64) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT frame FROM conversions WHERE id = ?", id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(blob) == 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: query frame: %w", err)
	}
	frame, err := decompressFrame(blob)
	if err != nil {
		return nil, fmt.Errorf("history: decompress frame %d: %w", id, err)
	}
	return frame, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e         Entry
		createdAt string
	)
	if err := row.Scan(
		&e.ID,
		&createdAt,
		&e.SourceName,
		&e.SourceFormat,
		&e.Variant,
		&e.SourceWidth,
		&e.SourceHeight,
		&e.Bytes,
		&e.SHA256,
		&e.DurationMS,
	); err != nil {
		return Entry{}, fmt.Errorf("history: scan conversion: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("history: parse created_at %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}
