/**
 * OCR Client - Text recognition service (OCR.space-compatible API)
 *
 * Uploads one image per call as multipart form data and asks for the word
 * overlay so every recognized line comes back with pixel coordinates.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adverant/nexus/vocab-worker/internal/logging"
)

// OCRClient handles communication with the recognition service
type OCRClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *logging.Logger
}

// OCRRequest carries one image and its recognition parameters
type OCRRequest struct {
	Image     []byte
	Filename  string
	APIKey    string
	Language  string
	OCREngine int
	Scale     bool
}

// OCRResponse is the service's parse result
type OCRResponse struct {
	ParsedResults         []OCRParsedResult `json:"ParsedResults"`
	OCRExitCode           json.RawMessage   `json:"OCRExitCode"`
	IsErroredOnProcessing bool              `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage   `json:"ErrorMessage"`
	ErrorDetails          json.RawMessage   `json:"ErrorDetails"`
	ProcessingTimeMs      json.RawMessage   `json:"ProcessingTimeInMilliseconds"`
}

// OCRParsedResult holds the overlay for one uploaded image
type OCRParsedResult struct {
	TextOverlay       *OCRTextOverlay `json:"TextOverlay"`
	FileParseExitCode json.RawMessage `json:"FileParseExitCode"`
	ParsedText        string          `json:"ParsedText"`
	ErrorMessage      json.RawMessage `json:"ErrorMessage"`
}

// OCRTextOverlay lists recognized lines
type OCRTextOverlay struct {
	Lines      []OCRLine `json:"Lines"`
	HasOverlay bool      `json:"HasOverlay"`
}

// OCRLine is one recognized line with its words
type OCRLine struct {
	LineText  string    `json:"LineText"`
	Words     []OCRWord `json:"Words"`
	MaxHeight float64   `json:"MaxHeight"`
	MinTop    float64   `json:"MinTop"`
}

// OCRWord is one word box in image pixels
type OCRWord struct {
	WordText string  `json:"WordText"`
	Left     float64 `json:"Left"`
	Top      float64 `json:"Top"`
	Height   float64 `json:"Height"`
	Width    float64 `json:"Width"`
}

// OCRServiceError reports a response the service flagged as failed or that
// could not be understood
type OCRServiceError struct {
	StatusCode int
	Message    string
}

func (e *OCRServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("recognition service returned status %d: %s", e.StatusCode, e.Message)
	}
	return "recognition service error: " + e.Message
}

// NewOCRClient creates a new recognition client
func NewOCRClient(endpoint string, timeout time.Duration) *OCRClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OCRClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.NewLogger("OCRClient"),
	}
}

// Parse uploads the image and returns the parsed overlay. Transport failures,
// non-2xx statuses, malformed bodies and service-side processing errors are
// all returned as errors.
func (c *OCRClient) Parse(ctx context.Context, req *OCRRequest) (*OCRResponse, error) {
	body, contentType, err := buildOCRForm(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("apikey", req.APIKey)
	httpReq.Header.Set("X-Source", "vocab-worker")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("ocr-%d", time.Now().UnixNano()))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to recognition service failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &OCRServiceError{StatusCode: resp.StatusCode, Message: truncate(string(respBody), 512)}
	}

	var ocrResp OCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if ocrResp.IsErroredOnProcessing {
		return nil, &OCRServiceError{Message: flattenMessage(ocrResp.ErrorMessage)}
	}
	for i, pr := range ocrResp.ParsedResults {
		if pr.TextOverlay == nil && flattenMessage(pr.ErrorMessage) != "" {
			return nil, &OCRServiceError{Message: fmt.Sprintf("result %d: %s", i, flattenMessage(pr.ErrorMessage))}
		}
	}

	lines := 0
	for _, pr := range ocrResp.ParsedResults {
		if pr.TextOverlay != nil {
			lines += len(pr.TextOverlay.Lines)
		}
	}
	c.logger.Debug("Recognition complete",
		"bytes", len(req.Image),
		"lines", lines,
		"elapsed", time.Since(start))

	return &ocrResp, nil
}

func buildOCRForm(req *OCRRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"apikey", req.APIKey},
		{"language", req.Language},
		{"OCREngine", strconv.Itoa(req.OCREngine)},
		{"scale", strconv.FormatBool(req.Scale)},
		{"isOverlayRequired", "true"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	filename := req.Filename
	if filename == "" {
		filename = "page" + imageExtension(req.Image)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// imageExtension lets the service infer the file type from the upload name.
func imageExtension(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// flattenMessage renders an ErrorMessage that may be a string or a list of strings.
func flattenMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return strings.Join(many, "; ")
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
