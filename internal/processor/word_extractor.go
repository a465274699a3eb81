/**
 * Word Extractor - vocabulary terms from reconciled page text
 *
 * One language model call per page. The response is validated strictly: a
 * malformed answer fails the page instead of being read as "no vocabulary".
 */

package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/adverant/nexus/vocab-worker/internal/clients"
	"github.com/adverant/nexus/vocab-worker/internal/errors"
	"github.com/adverant/nexus/vocab-worker/internal/logging"
)

const defaultMaxInputChars = 12000

const extractionInstruction = `You are a Korean language teacher preparing spaced-repetition flashcards.
The user message is text recognized from one page of a Korean web novel or webtoon chapter.
It may contain recognition noise, sound effects and broken line breaks.

Select the vocabulary a learner should study from this page:
- use the dictionary form for verbs and adjectives (e.g. 먹었어요 -> 먹다)
- skip names, sound effects, interjections and recognition garbage
- give a short English translation that fits the context of the page
- give importanceScore between 0 and 1: how central and useful the word is in this page

Respond with JSON only, exactly in this shape:
{"words":[{"korean":"사랑","english":"love","importanceScore":0.9}]}
If the page has no useful vocabulary, respond with {"words":[]}.`

// Completer runs one chat completion. clients.LLMClient satisfies it.
type Completer interface {
	Complete(ctx context.Context, req *clients.CompletionRequest) (string, error)
}

// WordExtractorConfig controls the extraction call
type WordExtractorConfig struct {
	APIKey        string
	Model         string
	Temperature   float64
	MaxInputChars int
}

// WordExtractor extracts vocabulary with a language model
type WordExtractor struct {
	config    WordExtractorConfig
	completer Completer
	logger    *logging.Logger
}

// NewWordExtractor validates the configuration and returns a WordExtractor
func NewWordExtractor(cfg WordExtractorConfig, completer Completer, logger *logging.Logger) (*WordExtractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.NewConfigError("WordExtractorConfig.APIKey", fmt.Errorf("is required"))
	}
	if completer == nil {
		return nil, errors.NewConfigError("WordExtractor.completer", fmt.Errorf("is required"))
	}
	if cfg.Model == "" {
		cfg.Model = clients.DefaultLLMModel
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = defaultMaxInputChars
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &WordExtractor{config: cfg, completer: completer, logger: logger}, nil
}

// Extract returns deduplicated terms sorted by importance. Empty text yields
// no terms without calling the model.
func (e *WordExtractor) Extract(ctx context.Context, text string) ([]ExtractedWord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []ExtractedWord{}, nil
	}
	if r := []rune(text); len(r) > e.config.MaxInputChars {
		e.logger.Warn("Page text truncated for extraction", "chars", len(r), "limit", e.config.MaxInputChars)
		text = string(r[:e.config.MaxInputChars])
	}

	content, err := e.completer.Complete(ctx, &clients.CompletionRequest{
		Model:       e.config.Model,
		System:      extractionInstruction,
		User:        text,
		Temperature: e.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, errors.NewExtractionError(err)
	}

	words, err := parseExtraction(content)
	if err != nil {
		return nil, err
	}

	deduped := dedupWords(words)
	e.logger.Debug("Words extracted", "returned", len(words), "unique", len(deduped))
	return deduped, nil
}

type rawWord struct {
	Korean          *string  `json:"korean"`
	English         *string  `json:"english"`
	ImportanceScore *float64 `json:"importanceScore"`
}

// parseExtraction accepts {"words":[...]} or a bare array, optionally wrapped
// in a markdown code fence.
func parseExtraction(content string) ([]ExtractedWord, error) {
	body := []byte(stripCodeFence(content))
	if len(body) == 0 {
		return nil, errors.NewExtractionSchemaError("empty response", nil)
	}

	var raw []*rawWord
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, errors.NewExtractionSchemaError("malformed word array", err)
		}
	case '{':
		var envelope struct {
			Words *[]*rawWord `json:"words"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, errors.NewExtractionSchemaError("malformed response object", err)
		}
		if envelope.Words == nil {
			return nil, errors.NewExtractionSchemaError("missing words array", nil)
		}
		raw = *envelope.Words
	default:
		return nil, errors.NewExtractionSchemaError("response is not JSON", nil)
	}

	words := make([]ExtractedWord, 0, len(raw))
	for i, w := range raw {
		word, reason := validateWord(w)
		if reason != "" {
			return nil, errors.NewExtractionSchemaError(fmt.Sprintf("element %d: %s", i, reason), nil)
		}
		words = append(words, word)
	}
	return words, nil
}

func validateWord(w *rawWord) (ExtractedWord, string) {
	switch {
	case w == nil:
		return ExtractedWord{}, "null element"
	case w.Korean == nil || strings.TrimSpace(*w.Korean) == "":
		return ExtractedWord{}, "missing korean"
	case w.English == nil || strings.TrimSpace(*w.English) == "":
		return ExtractedWord{}, "missing english"
	case w.ImportanceScore == nil:
		return ExtractedWord{}, "missing importanceScore"
	case math.IsNaN(*w.ImportanceScore) || math.IsInf(*w.ImportanceScore, 0):
		return ExtractedWord{}, "importanceScore is not finite"
	}
	return ExtractedWord{
		Korean:          strings.TrimSpace(*w.Korean),
		English:         strings.TrimSpace(*w.English),
		ImportanceScore: *w.ImportanceScore,
	}, ""
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// dedupWords keeps the highest-scoring occurrence of each term, comparing
// terms without case or diacritics. Output is ordered by score, then term.
func dedupWords(words []ExtractedWord) []ExtractedWord {
	index := make(map[string]int, len(words))
	out := make([]ExtractedWord, 0, len(words))

	for _, w := range words {
		key := termKey(w.Korean)
		if i, ok := index[key]; ok {
			if w.ImportanceScore > out[i].ImportanceScore {
				out[i] = w
			}
			continue
		}
		index[key] = len(out)
		out = append(out, w)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ImportanceScore != out[j].ImportanceScore {
			return out[i].ImportanceScore > out[j].ImportanceScore
		}
		return out[i].Korean < out[j].Korean
	})
	return out
}
