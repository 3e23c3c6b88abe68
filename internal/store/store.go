// Package store persists extraction results to Postgres for history and
// reprocessing.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maltedev/pdd-media-scraper/internal/models"
)

// Extraction is one persisted extraction run.
type Extraction struct {
	ID         uuid.UUID `json:"id"`
	SourceURL  string    `json:"source_url"`
	FinalURL   string    `json:"final_url"`
	Title      string    `json:"title"`
	Images     []string  `json:"images"`
	Videos     []string  `json:"videos"`
	Method     string    `json:"method"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, logger: logger.With("component", "store")}, nil
}

// Init creates the extractions table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS extractions (
			id UUID PRIMARY KEY,
			source_url TEXT NOT NULL,
			final_url TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			images JSONB NOT NULL DEFAULT '[]',
			videos JSONB NOT NULL DEFAULT '[]',
			method TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_extractions_created_at ON extractions (created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to create extractions table: %w", err)
	}
	return nil
}

// SaveExtraction records one completed extraction and returns its id.
func (s *Store) SaveExtraction(ctx context.Context, info *models.ProductInfo, duration time.Duration) (uuid.UUID, error) {
	id := uuid.New()

	images, err := json.Marshal(emptyIfNil(info.Images))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode images: %w", err)
	}
	videos, err := json.Marshal(emptyIfNil(info.Videos))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode videos: %w", err)
	}

	method, _ := info.Raw["method"].(string)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO extractions (id, source_url, final_url, title, images, videos, method, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, info.SourceURL, info.FinalURL, info.Title, images, videos, method, duration.Milliseconds())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert extraction: %w", err)
	}

	s.logger.Debug("extraction saved", "id", id, "source_url", info.SourceURL)
	return id, nil
}

// RecentExtractions returns the newest extraction runs, newest first.
func (s *Store) RecentExtractions(ctx context.Context, limit int) ([]Extraction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_url, final_url, title, images, videos, method, duration_ms, created_at
		FROM extractions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query extractions: %w", err)
	}
	defer rows.Close()

	var extractions []Extraction
	for rows.Next() {
		var e Extraction
		var images, videos []byte
		if err := rows.Scan(&e.ID, &e.SourceURL, &e.FinalURL, &e.Title,
			&images, &videos, &e.Method, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan extraction row: %w", err)
		}
		if err := json.Unmarshal(images, &e.Images); err != nil {
			return nil, fmt.Errorf("failed to decode images: %w", err)
		}
		if err := json.Unmarshal(videos, &e.Videos); err != nil {
			return nil, fmt.Errorf("failed to decode videos: %w", err)
		}
		extractions = append(extractions, e)
	}
	return extractions, rows.Err()
}

func (s *Store) Close() {
	s.pool.Close()
}

func emptyIfNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
