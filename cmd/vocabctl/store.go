package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/vocab-worker/internal/clients"
	"github.com/adverant/nexus/vocab-worker/internal/config"
	"github.com/adverant/nexus/vocab-worker/internal/storage"
)

// openStorage connects to PostgreSQL, and to Qdrant when withIndex is set.
func openStorage(ctx context.Context, cfg *config.Config, withIndex bool) (*storage.StorageManager, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	qdrantURL := ""
	if withIndex {
		qdrantURL = cfg.QdrantURL
	}
	return storage.NewStorageManager(ctx, cfg.DatabaseURL, qdrantURL, cfg.QdrantCollection)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newStatusCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a page job's stored status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" {
				return fmt.Errorf("--job is required")
			}

			sm, err := openStorage(cmd.Context(), config.Load(), false)
			if err != nil {
				return err
			}
			defer sm.Close()

			job, err := sm.GetJobByID(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), job)
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "job ID")
	return cmd
}

type relatedTerm struct {
	ID              string  `json:"id"`
	Score           float32 `json:"score"`
	Korean          string  `json:"korean"`
	English         string  `json:"english"`
	ImportanceScore float64 `json:"importanceScore"`
	ChapterID       string  `json:"chapterId"`
	PageNumber      int64   `json:"pageNumber"`
}

func relatedTerms(matches []storage.TermMatch) []relatedTerm {
	out := make([]relatedTerm, 0, len(matches))
	for _, m := range matches {
		r := relatedTerm{ID: m.ID, Score: m.Score}
		r.Korean, _ = m.Metadata["korean"].(string)
		r.English, _ = m.Metadata["english"].(string)
		r.ChapterID, _ = m.Metadata["chapterId"].(string)
		r.ImportanceScore, _ = m.Metadata["importanceScore"].(float64)
		r.PageNumber, _ = m.Metadata["pageNumber"].(int64)
		out = append(out, r)
	}
	return out
}

func newRelatedCmd() *cobra.Command {
	var (
		term      string
		chapterID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "related",
		Short: "Find indexed terms close to a word",
		RunE: func(cmd *cobra.Command, args []string) error {
			if term == "" {
				return fmt.Errorf("--term is required")
			}

			cfg := config.Load()
			if cfg.QdrantURL == "" || cfg.VoyageAPIKey == "" {
				return fmt.Errorf("QDRANT_URL and VOYAGE_API_KEY are required")
			}

			embedder, err := clients.NewEmbeddingClient(cfg.VoyageAPIKey, "")
			if err != nil {
				return err
			}
			vectors, err := embedder.EmbedTexts(cmd.Context(), []string{term})
			if err != nil {
				return err
			}
			if len(vectors) != 1 {
				return fmt.Errorf("expected one embedding, got %d", len(vectors))
			}

			sm, err := openStorage(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer sm.Close()

			matches, err := sm.SearchTerms(cmd.Context(), vectors[0], chapterID, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), relatedTerms(matches))
		},
	}

	cmd.Flags().StringVar(&term, "term", "", "word to look up")
	cmd.Flags().StringVar(&chapterID, "chapter", "", "restrict to one chapter")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var chapterID string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete a chapter's jobs, page text, words and term vectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if chapterID == "" {
				return fmt.Errorf("--chapter is required")
			}

			sm, err := openStorage(cmd.Context(), config.Load(), true)
			if err != nil {
				return err
			}
			defer sm.Close()

			n, err := sm.PurgeChapter(cmd.Context(), chapterID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged chapter %s (%d words)\n", chapterID, n)
			return nil
		},
	}

	cmd.Flags().StringVar(&chapterID, "chapter", "", "chapter ID")
	return cmd
}
