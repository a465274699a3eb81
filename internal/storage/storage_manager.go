/**
 * Storage Manager for the vocabulary worker
 *
 * Coordinates PostgreSQL (jobs, page text, chapter words) and the optional
 * Qdrant term index.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
}

// NewStorageManager creates a new storage manager. An empty qdrantAddress
// disables the term index.
func NewStorageManager(ctx context.Context, postgresURL string, qdrantAddress string, qdrantCollection string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close()
		return nil, err
	}

	sm := &StorageManager{postgres: postgres}

	if qdrantAddress != "" {
		qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection)
		if err != nil {
			postgres.Close() // Cleanup on failure
			return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
		}
		sm.qdrant = qdrant
	}

	return sm, nil
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// StorePageResult persists a page's lines and merges its words into the
// chapter vocabulary.
func (sm *StorageManager) StorePageResult(ctx context.Context, input *PageResultInput) ([]StoredWord, error) {
	return sm.postgres.StorePageResult(ctx, input)
}

// TermIndexEnabled reports whether a Qdrant term index is configured
func (sm *StorageManager) TermIndexEnabled() bool {
	return sm.qdrant != nil
}

// IndexTerms upserts term vectors. It is a no-op without a term index.
func (sm *StorageManager) IndexTerms(ctx context.Context, terms []TermPoint) error {
	if sm.qdrant == nil {
		return nil
	}
	return sm.qdrant.UpsertTerms(ctx, terms)
}

// SearchTerms queries the term index
func (sm *StorageManager) SearchTerms(ctx context.Context, queryVector []float32, chapterID string, limit int) ([]TermMatch, error) {
	if sm.qdrant == nil {
		return nil, fmt.Errorf("term index is not configured")
	}
	return sm.qdrant.SearchTerms(ctx, queryVector, chapterID, limit)
}

// PurgeChapter removes a chapter from PostgreSQL and its points from the term
// index, so the chapter can be processed again from scratch. It returns the
// number of chapter words removed.
func (sm *StorageManager) PurgeChapter(ctx context.Context, chapterID string) (int, error) {
	ids, err := sm.postgres.PurgeChapter(ctx, chapterID)
	if err != nil {
		return 0, err
	}

	if sm.qdrant != nil {
		if err := sm.qdrant.DeleteTerms(ctx, ids); err != nil {
			return len(ids), fmt.Errorf("chapter rows deleted but term vectors remain: %w", err)
		}
	}
	return len(ids), nil
}

// Ping checks PostgreSQL connectivity
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.postgres.Ping(ctx)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.postgres.GetStats()

	stats := map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
	}

	if sm.qdrant != nil {
		qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

var (
	nullEscapePattern    = regexp.MustCompile(`\\u0000`)
	controlEscapePattern = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes escape sequences PostgreSQL JSONB rejects.
// \u0000 is dropped and other control character escapes become a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscapePattern.ReplaceAll(jsonBytes, []byte{})
	return controlEscapePattern.ReplaceAll(result, []byte(" "))
}

// stripNUL removes NUL bytes, which TEXT columns reject.
func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func newRowID() string {
	return uuid.New().String()
}
