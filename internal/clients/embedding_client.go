/**
 * Embedding Client - VoyageAI term embeddings
 *
 * Embeds vocabulary terms for the optional term index. Terms are sent in
 * batches of up to 128 inputs per request.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/vocab-worker/internal/logging"
)

const (
	// DefaultVoyageURL is the VoyageAI embeddings endpoint
	DefaultVoyageURL = "https://api.voyageai.com/v1/embeddings"
	// VoyageModel handles Korean and English in one vector space
	VoyageModel = "voyage-multilingual-2"
	// EmbeddingDimensions is the vector size VoyageModel returns
	EmbeddingDimensions = 1024

	voyageBatchSize = 128
	maxTermChars    = 2000
)

// EmbeddingClient handles VoyageAI embedding generation
type EmbeddingClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewEmbeddingClient creates a new embedding client. baseURL may be empty.
func NewEmbeddingClient(apiKey, baseURL string) (*EmbeddingClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("VoyageAI API key is required")
	}
	if baseURL == "" {
		baseURL = DefaultVoyageURL
	}

	return &EmbeddingClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewLogger("EmbeddingClient"),
	}, nil
}

// EmbedTexts returns one vector per input, in input order.
func (e *EmbeddingClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += voyageBatchSize {
		end := min(i+voyageBatchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end-1, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *EmbeddingClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		if r := []rune(t); len(r) > maxTermChars {
			t = string(r[:maxTermChars])
		}
		input[i] = t
	}

	jsonData, err := json.Marshal(voyageRequest{Input: input, Model: VoyageModel, InputType: "document"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.apiKey))

	startTime := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("VoyageAI API returned status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	var voyageResp voyageResponse
	if err := json.Unmarshal(body, &voyageResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(voyageResp.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(voyageResp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range voyageResp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		if len(d.Embedding) != EmbeddingDimensions {
			return nil, fmt.Errorf("unexpected embedding dimensions for input %d: got %d, expected %d",
				d.Index, len(d.Embedding), EmbeddingDimensions)
		}
		embeddings[d.Index] = d.Embedding
	}

	e.logger.Debug("Embeddings generated",
		"inputs", len(texts),
		"tokens", voyageResp.Usage.TotalTokens,
		"elapsed", time.Since(startTime))

	return embeddings, nil
}
