package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/vocab-worker/internal/errors"
	"github.com/adverant/nexus/vocab-worker/internal/storage"
)

const testJobID = "0b9d6a4e-3c1f-4e57-9a8e-5d2c7f1b6a01"

type memStore struct {
	mu       sync.Mutex
	updates  []storage.JobUpdate
	pages    []storage.PageResultInput
	storeErr error
}

func (s *memStore) UpdateJobStatus(_ context.Context, update *storage.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, *update)
	return nil
}

func (s *memStore) StorePageResult(_ context.Context, input *storage.PageResultInput) ([]storage.StoredWord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return nil, s.storeErr
	}
	s.pages = append(s.pages, *input)

	stored := make([]storage.StoredWord, 0, len(input.Words))
	for i, w := range input.Words {
		stored = append(stored, storage.StoredWord{
			ID:              fmt.Sprintf("row-%d", i),
			TermKey:         w.TermKey,
			Korean:          w.Korean,
			English:         w.English,
			ImportanceScore: w.ImportanceScore,
		})
	}
	return stored, nil
}

type fixedEmbedder struct {
	texts []string
}

func (e *fixedEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type memIndex struct {
	points []storage.TermPoint
	err    error
}

func (m *memIndex) IndexTerms(_ context.Context, terms []storage.TermPoint) error {
	if m.err != nil {
		return m.err
	}
	m.points = append(m.points, terms...)
	return nil
}

func singleTilePipeline(t *testing.T, rec Recognizer) *Pipeline {
	t.Helper()
	p, err := NewPipeline(PipelineConfig{
		Tiling:      TilingConfig{FileSizeThreshold: 10 << 20, OverlapPercentage: 0.1},
		Recognition: RecognitionConfig{Concurrency: 2, CallTimeout: time.Second},
	}, rec, &tokenExtractor{}, nil)
	require.NoError(t, err)
	return p
}

func fastDownloads(cfg ProcessorConfig) ProcessorConfig {
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	return cfg
}

func TestProcessPagePersistsLinesAndWords(t *testing.T) {
	store := &memStore{}
	pp, err := NewPageProcessor(ProcessorConfig{Store: store}, singleTilePipeline(t, &bandRecognizer{}), nil)
	require.NoError(t, err)

	res, err := pp.ProcessPage(context.Background(), &PageRequest{
		JobID:       testJobID,
		ChapterID:   "ch-1",
		PageNumber:  4,
		ImageBuffer: noisePNG(t, 32, 400, 31),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.TileCount)
	assert.Equal(t, 1, res.LineCount)
	assert.Equal(t, 1, res.WordCount)
	assert.Zero(t, res.IndexedTerms)

	require.Len(t, store.pages, 1)
	page := store.pages[0]
	assert.Equal(t, "ch-1", page.ChapterID)
	assert.Equal(t, 4, page.PageNumber)
	assert.Equal(t, "단어0", page.FullText)
	assert.Equal(t, []storage.LineRecord{{Text: "단어0", X: 4, Y: 10, Width: 20, Height: 8}}, page.Lines)
	require.Len(t, page.Words, 1)
	assert.Equal(t, "단어0", page.Words[0].TermKey)
	assert.Equal(t, "w-단어0", page.Words[0].English)

	require.Len(t, store.updates, 1)
	assert.Equal(t, "processing", store.updates[0].Status)
	assert.Equal(t, testJobID, store.updates[0].JobID)
}

func TestProcessPageRejectsIncompleteRequests(t *testing.T) {
	pp, err := NewPageProcessor(ProcessorConfig{Store: &memStore{}}, singleTilePipeline(t, &bandRecognizer{}), nil)
	require.NoError(t, err)

	cases := map[string]*PageRequest{
		"nil":        nil,
		"no job":     {ChapterID: "c", ImageURL: "http://x"},
		"bad job id": {JobID: "job-1", ChapterID: "c", ImageURL: "http://x"},
		"no chapter": {JobID: testJobID, ImageURL: "http://x"},
		"no image":   {JobID: testJobID, ChapterID: "c"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := pp.ProcessPage(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrorInvalidPayload))
			assert.False(t, errors.IsRetryable(err))
		})
	}
}

func TestProcessPageDownloadRetriesTransientFailures(t *testing.T) {
	image := noisePNG(t, 32, 64, 32)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(image)
	}))
	defer srv.Close()

	pp, err := NewPageProcessor(fastDownloads(ProcessorConfig{Store: &memStore{}}), singleTilePipeline(t, &bandRecognizer{}), nil)
	require.NoError(t, err)

	res, err := pp.ProcessPage(context.Background(), &PageRequest{JobID: testJobID, ChapterID: "c", ImageURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 1, res.LineCount)
}

func TestProcessPageDownloadFailures(t *testing.T) {
	cases := []struct {
		name      string
		handler   http.HandlerFunc
		maxSize   int64
		wantHits  int32
		retryable bool
	}{
		{
			name:     "not found is permanent",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			wantHits: 1,
		},
		{
			name:     "oversize body is permanent",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.Write(make([]byte, 4096)) },
			maxSize:  1024,
			wantHits: 1,
		},
		{
			name:      "server errors exhaust retries",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			wantHits:  3,
			retryable: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				tc.handler(w, r)
			}))
			defer srv.Close()

			cfg := fastDownloads(ProcessorConfig{Store: &memStore{}, MaxFileSize: tc.maxSize, DownloadRetries: 3})
			pp, err := NewPageProcessor(cfg, singleTilePipeline(t, &bandRecognizer{}), nil)
			require.NoError(t, err)

			_, err = pp.ProcessPage(context.Background(), &PageRequest{JobID: testJobID, ChapterID: "c", ImageURL: srv.URL})
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrorImageUnavailable))
			assert.Equal(t, tc.wantHits, hits.Load())
			assert.Equal(t, tc.retryable, errors.IsRetryable(err))
		})
	}
}

func TestProcessPageTagsPipelineErrorsWithJob(t *testing.T) {
	pp, err := NewPageProcessor(ProcessorConfig{Store: &memStore{}}, singleTilePipeline(t, &failingRecognizer{failAt: 0}), nil)
	require.NoError(t, err)

	_, err = pp.ProcessPage(context.Background(), &PageRequest{JobID: testJobID, ChapterID: "c", ImageBuffer: noisePNG(t, 32, 64, 33)})
	require.Error(t, err)

	pe, ok := errors.AsProcessingError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorRecognitionFailed, pe.Code)
	assert.Equal(t, testJobID, pe.JobID)
}

func TestProcessPageStoreFailure(t *testing.T) {
	store := &memStore{storeErr: stderrors.New("connection refused")}
	pp, err := NewPageProcessor(ProcessorConfig{Store: store}, singleTilePipeline(t, &bandRecognizer{}), nil)
	require.NoError(t, err)

	_, err = pp.ProcessPage(context.Background(), &PageRequest{JobID: testJobID, ChapterID: "c", ImageBuffer: noisePNG(t, 32, 64, 34)})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrorStorageFailed))
	assert.True(t, errors.IsRetryable(err))
}

func TestProcessPageIndexesStoredTerms(t *testing.T) {
	emb := &fixedEmbedder{}
	idx := &memIndex{}
	pp, err := NewPageProcessor(ProcessorConfig{Store: &memStore{}, TermIndex: idx, Embedder: emb}, singleTilePipeline(t, &bandRecognizer{}), nil)
	require.NoError(t, err)

	res, err := pp.ProcessPage(context.Background(), &PageRequest{JobID: testJobID, ChapterID: "ch-2", PageNumber: 9, ImageBuffer: noisePNG(t, 32, 64, 35)})
	require.NoError(t, err)

	assert.Equal(t, 1, res.IndexedTerms)
	assert.Equal(t, []string{"단어0 (w-단어0)"}, emb.texts)
	require.Len(t, idx.points, 1)
	assert.Equal(t, "row-0", idx.points[0].ID)
	assert.Equal(t, "ch-2", idx.points[0].ChapterID)
	assert.Equal(t, 9, idx.points[0].PageNumber)
}

func TestProcessPageSurvivesIndexFailure(t *testing.T) {
	idx := &memIndex{err: stderrors.New("qdrant unavailable")}
	pp, err := NewPageProcessor(ProcessorConfig{Store: &memStore{}, TermIndex: idx, Embedder: &fixedEmbedder{}}, singleTilePipeline(t, &bandRecognizer{}), nil)
	require.NoError(t, err)

	res, err := pp.ProcessPage(context.Background(), &PageRequest{JobID: testJobID, ChapterID: "c", ImageBuffer: noisePNG(t, 32, 64, 36)})
	require.NoError(t, err)
	assert.Zero(t, res.IndexedTerms)
	assert.Equal(t, 1, res.WordCount)
}

func TestNewPageProcessorRequiresIndexAndEmbedderTogether(t *testing.T) {
	_, err := NewPageProcessor(ProcessorConfig{Store: &memStore{}, TermIndex: &memIndex{}}, singleTilePipeline(t, &bandRecognizer{}), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrorConfigInvalid))

	_, err = NewPageProcessor(ProcessorConfig{}, singleTilePipeline(t, &bandRecognizer{}), nil)
	assert.Error(t, err)
}

func TestUpdateJobStatusCopiesCounts(t *testing.T) {
	store := &memStore{}
	pp, err := NewPageProcessor(ProcessorConfig{Store: store}, singleTilePipeline(t, &bandRecognizer{}), nil)
	require.NoError(t, err)

	req := &PageRequest{JobID: testJobID, ChapterID: "c", PageNumber: 2, UserID: "u"}
	require.NoError(t, pp.UpdateJobStatus(context.Background(), req, "completed", 100, map[string]interface{}{
		"tileCount":        3,
		"wordCount":        12,
		"processingTimeMs": int64(850),
	}))

	require.Len(t, store.updates, 1)
	u := store.updates[0]
	assert.Equal(t, "completed", u.Status)
	assert.Equal(t, 3, u.TileCount)
	assert.Equal(t, 12, u.WordCount)
	assert.Equal(t, int64(850), u.ProcessingTimeMs)
	assert.Equal(t, "u", u.UserID)
}

func TestProcessPageOversizeBufferIsPermanent(t *testing.T) {
	pp, err := NewPageProcessor(ProcessorConfig{Store: &memStore{}, MaxFileSize: 16}, singleTilePipeline(t, &bandRecognizer{}), nil)
	require.NoError(t, err)

	_, err = pp.ProcessPage(context.Background(), &PageRequest{JobID: testJobID, ChapterID: "c", ImageBuffer: make([]byte, 64)})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrorImageUnavailable))
	assert.False(t, errors.IsRetryable(err))
}
