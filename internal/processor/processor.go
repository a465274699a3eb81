/**
 * Page Processor for the vocabulary worker
 *
 * Job boundary around the pipeline:
 * - loads the page image (inline buffer or URL with retry/backoff)
 * - runs upscale -> tile -> recognize -> reconcile -> extract
 * - persists reconciled lines and chapter words
 * - optionally embeds and indexes the page's terms
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/vocab-worker/internal/errors"
	"github.com/adverant/nexus/vocab-worker/internal/logging"
	"github.com/adverant/nexus/vocab-worker/internal/storage"
)

// ResultStore persists job status and page results
type ResultStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	StorePageResult(ctx context.Context, input *storage.PageResultInput) ([]storage.StoredWord, error)
}

// TermIndex stores term vectors for similarity search
type TermIndex interface {
	IndexTerms(ctx context.Context, terms []storage.TermPoint) error
}

// Embedder turns term texts into vectors, one per input in order
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	MaxFileSize int64
	Store       ResultStore

	// Optional term index; both must be set to enable it
	TermIndex TermIndex
	Embedder  Embedder

	HTTPClient      *http.Client
	DownloadRetries int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// PageRequest represents one page job
type PageRequest struct {
	JobID       string
	ChapterID   string
	PageNumber  int
	UserID      string
	ImageURL    string
	ImageBuffer []byte
}

// PageResult summarizes a processed page
type PageResult struct {
	TileCount        int
	LineCount        int
	WordCount        int
	IndexedTerms     int
	Upscaled         bool
	Lines            []OcrLineResult
	Words            []ExtractedWord
	ProcessingTimeMs int64
}

// PageProcessor handles page jobs
type PageProcessor struct {
	config   ProcessorConfig
	pipeline *Pipeline
	logger   *logging.Logger
}

const (
	defaultDownloadRetries = 5
	defaultInitialBackoff  = time.Second
	defaultMaxBackoff      = 32 * time.Second
	defaultDownloadTimeout = 2 * time.Minute
)

// NewPageProcessor creates a new page processor
func NewPageProcessor(cfg ProcessorConfig, pipeline *Pipeline, logger *logging.Logger) (*PageProcessor, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if pipeline == nil {
		return nil, errors.NewConfigError("pipeline", fmt.Errorf("is required"))
	}
	if cfg.Store == nil {
		return nil, errors.NewConfigError("ProcessorConfig.Store", fmt.Errorf("is required"))
	}
	if (cfg.TermIndex == nil) != (cfg.Embedder == nil) {
		return nil, errors.NewConfigError("ProcessorConfig.TermIndex",
			fmt.Errorf("term index and embedder must be configured together"))
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultDownloadTimeout}
	}
	if cfg.DownloadRetries <= 0 {
		cfg.DownloadRetries = defaultDownloadRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	return &PageProcessor{config: cfg, pipeline: pipeline, logger: logger}, nil
}

// ProcessPage runs one page end to end. Errors are *errors.ProcessingError
// tagged with the job ID.
func (p *PageProcessor) ProcessPage(ctx context.Context, req *PageRequest) (*PageResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()
	log := p.logger.With("jobId", req.JobID, "chapterId", req.ChapterID, "page", req.PageNumber)

	image, err := p.loadImage(ctx, req)
	if err != nil {
		var perm *permanentError
		return nil, errors.NewImageUnavailableError(req.JobID, err, !stderrors.As(err, &perm))
	}

	if err := p.UpdateJobStatus(ctx, req, "processing", 10, nil); err != nil {
		log.Warn("status update failed", "status", "processing", "error", err)
	}

	run, err := p.pipeline.Run(ctx, image)
	if err != nil {
		return nil, tagJob(err, req.JobID)
	}

	stored, err := p.config.Store.StorePageResult(ctx, pageResultInput(req, run))
	if err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}

	result := &PageResult{
		TileCount: run.TileCount,
		LineCount: len(run.Lines),
		WordCount: len(run.Words),
		Upscaled:  run.Upscaled,
		Lines:     run.Lines,
		Words:     run.Words,
	}

	if p.config.TermIndex != nil && len(stored) > 0 {
		indexed, err := p.indexTerms(ctx, req, stored)
		if err != nil {
			// The vocabulary is already persisted; the index can be rebuilt.
			log.Warn("term indexing failed", "terms", len(stored), "error", err)
		}
		result.IndexedTerms = indexed
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	log.Info("page processed",
		"tiles", result.TileCount,
		"lines", result.LineCount,
		"words", result.WordCount,
		"indexed", result.IndexedTerms,
		"durationMs", result.ProcessingTimeMs,
	)

	return result, nil
}

// UpdateJobStatus forwards a status transition to the store
func (p *PageProcessor) UpdateJobStatus(ctx context.Context, req *PageRequest, status string, progress int, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:      req.JobID,
		ChapterID:  req.ChapterID,
		PageNumber: req.PageNumber,
		UserID:     req.UserID,
		Status:     status,
		Progress:   progress,
		Metadata:   metadata,
	}

	if metadata != nil {
		if v, ok := metadata["tileCount"].(int); ok {
			update.TileCount = v
		}
		if v, ok := metadata["lineCount"].(int); ok {
			update.LineCount = v
		}
		if v, ok := metadata["wordCount"].(int); ok {
			update.WordCount = v
		}
		if v, ok := metadata["processingTimeMs"].(int64); ok {
			update.ProcessingTimeMs = v
		}
		if v, ok := metadata["errorCode"].(string); ok {
			update.ErrorCode = v
		}
		if v, ok := metadata["errorStage"].(string); ok {
			update.ErrorStage = v
		}
		if v, ok := metadata["error"].(string); ok {
			update.ErrorMessage = v
		}
	}

	return p.config.Store.UpdateJobStatus(ctx, update)
}

func validateRequest(req *PageRequest) error {
	switch {
	case req == nil:
		return errors.NewInvalidPayloadError("request", "is required")
	case req.JobID == "":
		return errors.NewInvalidPayloadError("jobId", "is required")
	case uuid.Validate(req.JobID) != nil:
		return errors.NewInvalidPayloadError("jobId", "must be a UUID").WithJob(req.JobID)
	case req.ChapterID == "":
		return errors.NewInvalidPayloadError("chapterId", "is required").WithJob(req.JobID)
	case len(req.ImageBuffer) == 0 && req.ImageURL == "":
		return errors.NewInvalidPayloadError("image", "needs imageBuffer or imageUrl").WithJob(req.JobID)
	}
	return nil
}

func tagJob(err error, jobID string) error {
	if pe, ok := errors.AsProcessingError(err); ok {
		return pe.WithJob(jobID)
	}
	return err
}

func pageResultInput(req *PageRequest, run *PipelineResult) *storage.PageResultInput {
	lines := make([]storage.LineRecord, 0, len(run.Lines))
	for _, l := range run.Lines {
		lines = append(lines, storage.LineRecord{
			Text:   l.Line,
			X:      l.BBox.X,
			Y:      l.BBox.Y,
			Width:  l.BBox.Width,
			Height: l.BBox.Height,
		})
	}

	words := make([]storage.WordRecord, 0, len(run.Words))
	for _, w := range run.Words {
		words = append(words, storage.WordRecord{
			TermKey:         termKey(w.Korean),
			Korean:          w.Korean,
			English:         w.English,
			ImportanceScore: w.ImportanceScore,
		})
	}

	return &storage.PageResultInput{
		JobID:      req.JobID,
		ChapterID:  req.ChapterID,
		PageNumber: req.PageNumber,
		Lines:      lines,
		FullText:   JoinLines(run.Lines),
		Words:      words,
	}
}

// termEmbeddingText is what gets embedded for a term
func termEmbeddingText(korean, english string) string {
	return fmt.Sprintf("%s (%s)", korean, english)
}

func (p *PageProcessor) indexTerms(ctx context.Context, req *PageRequest, stored []storage.StoredWord) (int, error) {
	texts := make([]string, len(stored))
	for i, w := range stored {
		texts[i] = termEmbeddingText(w.Korean, w.English)
	}

	vectors, err := p.config.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed terms: %w", err)
	}
	if len(vectors) != len(stored) {
		return 0, fmt.Errorf("embedding count mismatch: %d terms, %d vectors", len(stored), len(vectors))
	}

	points := make([]storage.TermPoint, len(stored))
	for i, w := range stored {
		points[i] = storage.TermPoint{
			ID:              w.ID,
			Vector:          vectors[i],
			ChapterID:       req.ChapterID,
			Korean:          w.Korean,
			English:         w.English,
			ImportanceScore: w.ImportanceScore,
			PageNumber:      req.PageNumber,
		}
	}

	if err := p.config.TermIndex.IndexTerms(ctx, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

func (p *PageProcessor) loadImage(ctx context.Context, req *PageRequest) ([]byte, error) {
	if len(req.ImageBuffer) > 0 {
		if p.config.MaxFileSize > 0 && int64(len(req.ImageBuffer)) > p.config.MaxFileSize {
			return nil, &permanentError{fmt.Errorf("image size exceeds maximum: %d > %d bytes", len(req.ImageBuffer), p.config.MaxFileSize)}
		}
		return req.ImageBuffer, nil
	}

	return p.downloadImage(ctx, req.JobID, req.ImageURL)
}

// permanentError stops the download retry loop
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// downloadImage fetches the page with exponential backoff. Network errors,
// 429 and 5xx responses are retried; other statuses and oversize bodies are
// not.
func (p *PageProcessor) downloadImage(ctx context.Context, jobID, imageURL string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.DownloadRetries; attempt++ {
		data, err := p.fetchOnce(ctx, imageURL)
		if err == nil {
			p.logger.Debug("image downloaded", "jobId", jobID, "attempt", attempt, "bytes", len(data))
			return data, nil
		}

		if perm, ok := err.(*permanentError); ok {
			return nil, perm
		}
		lastErr = err
		p.logger.Warn("image download failed", "jobId", jobID, "attempt", attempt, "error", err)

		if attempt < p.config.DownloadRetries {
			select {
			case <-time.After(p.backoff(attempt)):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("failed to download image after %d attempts: %w", p.config.DownloadRetries, lastErr)
}

func (p *PageProcessor) backoff(attempt int) time.Duration {
	d := p.config.InitialBackoff << (attempt - 1)
	if d <= 0 || d > p.config.MaxBackoff {
		d = p.config.MaxBackoff
	}
	return d
}

func (p *PageProcessor) fetchOnce(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("invalid image URL: %w", err)}
	}

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &permanentError{err}
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, &permanentError{err}
	}

	maxBytes := p.config.MaxFileSize
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, &permanentError{fmt.Errorf("image size exceeds maximum: %d > %d bytes", resp.ContentLength, maxBytes)}
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, &permanentError{fmt.Errorf("image size exceeds maximum of %d bytes", maxBytes)}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	return data, nil
}
