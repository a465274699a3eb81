/**
 * Qdrant term index for the vocabulary worker
 *
 * Stores one point per chapter word (embedding of "korean: english") so the
 * study app can find related terms across chapters. Uses Qdrant's native gRPC
 * API.
 */

package storage

import (
	"context"
	"fmt"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TermVectorDimensions matches voyage-multilingual-2 output.
const TermVectorDimensions = 1024

// QdrantClient handles vector database operations
type QdrantClient struct {
	points           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
}

// TermPoint is one chapter word with its embedding. ID is the chapter_words
// row ID so re-indexing a term overwrites its point.
type TermPoint struct {
	ID              string
	Vector          []float32
	ChapterID       string
	Korean          string
	English         string
	ImportanceScore float64
	PageNumber      int
}

// TermMatch is a search hit
type TermMatch struct {
	ID       string
	Score    float32
	Metadata map[string]interface{}
}

// NewQdrantClient creates a new Qdrant client
func NewQdrantClient(address string, collectionName string) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		points:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
	}

	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     TermVectorDimensions,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// UpsertTerms writes all points in one request and waits for them to be
// applied.
func (q *QdrantClient) UpsertTerms(ctx context.Context, terms []TermPoint) error {
	if len(terms) == 0 {
		return nil
	}

	structs, err := termPointStructs(terms)
	if err != nil {
		return err
	}

	wait := true
	_, err = q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d term vectors: %w", len(terms), err)
	}

	return nil
}

func termPointStructs(terms []TermPoint) ([]*qdrant.PointStruct, error) {
	structs := make([]*qdrant.PointStruct, 0, len(terms))
	for _, t := range terms {
		if t.ID == "" {
			return nil, fmt.Errorf("term %q has no point ID", t.Korean)
		}
		if len(t.Vector) != TermVectorDimensions {
			return nil, fmt.Errorf("invalid vector dimensions for %q: expected %d, got %d",
				t.Korean, TermVectorDimensions, len(t.Vector))
		}

		structs = append(structs, &qdrant.PointStruct{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Uuid{Uuid: t.ID},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: t.Vector},
				},
			},
			Payload: toPayload(map[string]interface{}{
				"chapterId":       t.ChapterID,
				"korean":          t.Korean,
				"english":         t.English,
				"importanceScore": t.ImportanceScore,
				"pageNumber":      t.PageNumber,
			}),
		})
	}
	return structs, nil
}

// toPayload converts metadata to Qdrant values. Unknown types are stored as
// their string form.
func toPayload(metadata map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	metadata := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[k] = val.BoolValue
		}
	}
	return metadata
}

// chapterFilter restricts a query to one chapter; empty means all chapters.
func chapterFilter(chapterID string) *qdrant.Filter {
	if chapterID == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "chapterId",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: chapterID},
						},
					},
				},
			},
		},
	}
}

// SearchTerms finds the terms closest to queryVector, optionally within one
// chapter
func (q *QdrantClient) SearchTerms(ctx context.Context, queryVector []float32, chapterID string, limit int) ([]TermMatch, error) {
	if len(queryVector) != TermVectorDimensions {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d",
			TermVectorDimensions, len(queryVector))
	}

	if limit <= 0 {
		limit = 10
	}

	results, err := q.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         queryVector,
		Filter:         chapterFilter(chapterID),
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search term vectors: %w", err)
	}

	matches := make([]TermMatch, 0, len(results.Result))
	for _, r := range results.Result {
		matches = append(matches, TermMatch{
			ID:       r.GetId().GetUuid(),
			Score:    r.Score,
			Metadata: fromPayload(r.Payload),
		})
	}
	return matches, nil
}

// DeleteTerms removes points by ID
func (q *QdrantClient) DeleteTerms(ctx context.Context, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(pointIDs))
	for _, id := range pointIDs {
		ids = append(ids, &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}})
	}

	_, err := q.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete term vectors: %w", err)
	}

	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"indexed_vectors": info.Result.GetIndexedVectorsCount(),
		"status":          info.Result.GetStatus().String(),
	}, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
