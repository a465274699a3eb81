package queue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/vocab-worker/internal/processor"
)

// TaskTypeExtractPage is the asynq task type for one page job
const TaskTypeExtractPage = "vocab:extract-page"

// JobPayload is the job data submitted by producers
type JobPayload struct {
	JobID       string `json:"jobId"`
	ChapterID   string `json:"chapterId"`
	PageNumber  int    `json:"pageNumber"`
	UserID      string `json:"userId,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	ImageBuffer []byte `json:"imageBuffer,omitempty"`
}

// UnmarshalJSON accepts imageBuffer as a base64 string or as a serialized
// Node.js Buffer ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type alias JobPayload
	aux := &struct {
		ImageBuffer interface{} `json:"imageBuffer,omitempty"`
		*alias
	}{
		alias: (*alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	buf, err := decodeImageBuffer(aux.ImageBuffer)
	if err != nil {
		return err
	}
	p.ImageBuffer = buf
	return nil
}

func decodeImageBuffer(raw interface{}) ([]byte, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil

	case string:
		if v == "" {
			return nil, nil
		}
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 imageBuffer: %w", err)
		}
		return decoded, nil

	case map[string]interface{}:
		if t, ok := v["type"].(string); !ok || t != "Buffer" {
			return nil, fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		values, ok := v["data"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("Buffer object missing 'data' array")
		}
		out := make([]byte, len(values))
		for i, val := range values {
			n, ok := val.(float64)
			if !ok || n < 0 || n > 255 || n != float64(int(n)) {
				return nil, fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			out[i] = byte(n)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("imageBuffer must be either base64 string or Buffer object, got %T", v)
	}
}

// PageRequest converts the payload into a processor request
func (p *JobPayload) PageRequest() *processor.PageRequest {
	return &processor.PageRequest{
		JobID:       p.JobID,
		ChapterID:   p.ChapterID,
		PageNumber:  p.PageNumber,
		UserID:      p.UserID,
		ImageURL:    p.ImageURL,
		ImageBuffer: p.ImageBuffer,
	}
}

// NewPageTask builds the asynq task for a page job. The job ID doubles as the
// task ID so a page submitted twice is only queued once.
func NewPageTask(payload *JobPayload, queueName string, opts ...asynq.Option) (*asynq.Task, error) {
	if payload == nil || payload.JobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	base := []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(defaultMaxRetry),
	}
	return asynq.NewTask(TaskTypeExtractPage, data, append(base, opts...)...), nil
}
