/**
 * PostgreSQL Client for the vocabulary worker
 *
 * Handles job status persistence and page results (reconciled lines and
 * chapter vocabulary).
 */

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	ChapterID        string
	PageNumber       int
	UserID           string
	Status           string
	Progress         int
	TileCount        int
	LineCount        int
	WordCount        int
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorStage       string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// LineRecord is one reconciled line as stored in page_text.lines
type LineRecord struct {
	Text   string `json:"text"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// WordRecord is one vocabulary term for a chapter
type WordRecord struct {
	TermKey         string
	Korean          string
	English         string
	ImportanceScore float64
}

// PageResultInput is everything a processed page writes
type PageResultInput struct {
	JobID      string
	ChapterID  string
	PageNumber int
	Lines      []LineRecord
	FullText   string
	Words      []WordRecord
}

// StoredWord is a chapter word after the upsert, with its stable row ID
type StoredWord struct {
	ID              string
	TermKey         string
	Korean          string
	English         string
	ImportanceScore float64
}

// sanitizeScore rounds a score to 4 decimal places and clamps it to the
// NUMERIC(6,4) column range.
func sanitizeScore(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	score = math.Max(-99.9999, math.Min(99.9999, score))
	return math.Round(score*10000) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the vocab schema and tables if they are missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row so the worker can record status even if
// the producer never created it
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	query := `
		INSERT INTO vocab.page_jobs (
			id, chapter_id, page_number, user_id,
			status, progress, tile_count, line_count, word_count,
			processing_time_ms, error_code, error_stage, error_message,
			metadata, created_at, updated_at
		) VALUES (
			$1::uuid, $2, $3, COALESCE(NULLIF($4, ''), 'anonymous'),
			$5, $6, NULLIF($7, 0), NULLIF($8, 0), NULLIF($9, 0),
			NULLIF($10, 0), NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''),
			COALESCE(NULLIF($14, 'null')::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = GREATEST(EXCLUDED.progress, vocab.page_jobs.progress),
			chapter_id = COALESCE(NULLIF(EXCLUDED.chapter_id, ''), vocab.page_jobs.chapter_id),
			page_number = COALESCE(NULLIF(EXCLUDED.page_number, 0), vocab.page_jobs.page_number),
			tile_count = COALESCE(EXCLUDED.tile_count, vocab.page_jobs.tile_count),
			line_count = COALESCE(EXCLUDED.line_count, vocab.page_jobs.line_count),
			word_count = COALESCE(EXCLUDED.word_count, vocab.page_jobs.word_count),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, vocab.page_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_stage = EXCLUDED.error_stage,
			error_message = EXCLUDED.error_message,
			metadata = vocab.page_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.ChapterID,        // $2
		update.PageNumber,       // $3
		update.UserID,           // $4
		update.Status,           // $5
		update.Progress,         // $6
		update.TileCount,        // $7
		update.LineCount,        // $8
		update.WordCount,        // $9
		update.ProcessingTimeMs, // $10
		update.ErrorCode,        // $11
		update.ErrorStage,       // $12
		update.ErrorMessage,     // $13
		string(metadataJSON),    // $14
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// StorePageResult writes the page text and merges the page's words into the
// chapter vocabulary in one transaction. A term seen again keeps the higher
// importance score and the earliest page.
func (p *PostgresClient) StorePageResult(ctx context.Context, input *PageResultInput) ([]StoredWord, error) {
	if input == nil || input.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	if input.ChapterID == "" {
		return nil, fmt.Errorf("chapter ID is required")
	}

	linesJSON, err := json.Marshal(input.Lines)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lines: %w", err)
	}
	linesJSON = sanitizeJSONForPostgres(linesJSON)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vocab.page_text (job_id, chapter_id, page_number, lines, full_text, created_at)
		VALUES ($1::uuid, $2, $3, $4::jsonb, $5, NOW())
		ON CONFLICT (job_id) DO UPDATE SET
			lines = EXCLUDED.lines,
			full_text = EXCLUDED.full_text
	`, input.JobID, input.ChapterID, input.PageNumber, string(linesJSON), stripNUL(input.FullText))
	if err != nil {
		return nil, fmt.Errorf("failed to store page text: %w", err)
	}

	stored := []StoredWord{}
	if len(input.Words) > 0 {
		ids, keys, korean, english, scores := wordColumns(input.Words)

		rows, err := tx.QueryContext(ctx, `
			INSERT INTO vocab.chapter_words (
				id, chapter_id, term_key, korean, english, importance_score, first_page, created_at, updated_at
			)
			SELECT u.id::uuid, $6, u.term_key, u.korean, u.english, u.score::NUMERIC(6,4), $7, NOW(), NOW()
			FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::float8[])
				AS u(id, term_key, korean, english, score)
			ON CONFLICT (chapter_id, term_key) DO UPDATE SET
				english = CASE
					WHEN EXCLUDED.importance_score > vocab.chapter_words.importance_score THEN EXCLUDED.english
					ELSE vocab.chapter_words.english
				END,
				korean = CASE
					WHEN EXCLUDED.importance_score > vocab.chapter_words.importance_score THEN EXCLUDED.korean
					ELSE vocab.chapter_words.korean
				END,
				importance_score = GREATEST(EXCLUDED.importance_score, vocab.chapter_words.importance_score),
				first_page = LEAST(EXCLUDED.first_page, vocab.chapter_words.first_page),
				updated_at = NOW()
			RETURNING id, term_key, korean, english, importance_score::float8
		`, pq.Array(ids), pq.Array(keys), pq.Array(korean), pq.Array(english), pq.Array(scores),
			input.ChapterID, input.PageNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert chapter words: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var w StoredWord
			if err := rows.Scan(&w.ID, &w.TermKey, &w.Korean, &w.English, &w.ImportanceScore); err != nil {
				return nil, fmt.Errorf("failed to scan chapter word: %w", err)
			}
			stored = append(stored, w)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read chapter words: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit page result: %w", err)
	}
	return stored, nil
}

// PurgeChapter deletes a chapter's words, page text and jobs, and returns the
// deleted word row IDs so their term vectors can be removed too.
func (p *PostgresClient) PurgeChapter(ctx context.Context, chapterID string) ([]string, error) {
	if chapterID == "" {
		return nil, fmt.Errorf("chapter ID is required")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `DELETE FROM vocab.chapter_words WHERE chapter_id = $1 RETURNING id`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete chapter words: %w", err)
	}
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan deleted word: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deleted words: %w", err)
	}

	// page_text rows cascade from page_jobs
	if _, err := tx.ExecContext(ctx, `DELETE FROM vocab.page_jobs WHERE chapter_id = $1`, chapterID); err != nil {
		return nil, fmt.Errorf("failed to delete chapter jobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chapter purge: %w", err)
	}
	return ids, nil
}

// wordColumns splits words into parallel arrays for unnest. Each row gets a
// fresh UUID; on conflict the existing row keeps its ID.
func wordColumns(words []WordRecord) (ids, keys, korean, english []string, scores []float64) {
	for _, w := range words {
		ids = append(ids, newRowID())
		keys = append(keys, stripNUL(w.TermKey))
		korean = append(korean, stripNUL(w.Korean))
		english = append(english, stripNUL(w.English))
		scores = append(scores, sanitizeScore(w.ImportanceScore))
	}
	return ids, keys, korean, english, scores
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, chapter_id, page_number, user_id, status, progress,
			tile_count, line_count, word_count, processing_time_ms,
			error_code, error_stage, error_message, metadata,
			created_at, updated_at
		FROM vocab.page_jobs
		WHERE id = $1::uuid
	`

	var (
		id, chapterID, userID, status   string
		pageNumber, progress            int
		tileCount, lineCount, wordCount sql.NullInt64
		processingTimeMs                sql.NullInt64
		errorCode, errorStage, errorMsg sql.NullString
		metadataJSON                    []byte
		createdAt, updatedAt            time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &chapterID, &pageNumber, &userID, &status, &progress,
		&tileCount, &lineCount, &wordCount, &processingTimeMs,
		&errorCode, &errorStage, &errorMsg, &metadataJSON,
		&createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":         id,
		"chapterId":  chapterID,
		"pageNumber": pageNumber,
		"userId":     userID,
		"status":     status,
		"progress":   progress,
		"createdAt":  createdAt,
		"updatedAt":  updatedAt,
		"metadata":   metadata,
	}

	optionalInts := map[string]sql.NullInt64{
		"tileCount":        tileCount,
		"lineCount":        lineCount,
		"wordCount":        wordCount,
		"processingTimeMs": processingTimeMs,
	}
	for k, v := range optionalInts {
		if v.Valid {
			result[k] = v.Int64
		}
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorStage.Valid {
		result["errorStage"] = errorStage.String
	}
	if errorMsg.Valid {
		result["errorMessage"] = errorMsg.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
