package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// upsertBatchSize bounds a single upsert request.
const upsertBatchSize = 5000

const scrollPageSize = 1000

// QdrantStore implements Index backed by a qdrant server.
type QdrantStore struct {
	client *qdrant.Client
}

var _ Index = (*QdrantStore)(nil)

// NewQdrantStore connects to the qdrant gRPC endpoint at addr (host:port).
func NewQdrantStore(addr string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant port %q: %w", portStr, err)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	return nil
}

// pointID derives the qdrant point id from a chunk id. Qdrant requires UUID
// (or integer) ids, so the SHA1-hex chunk id is mapped through a name-based
// UUID; the mapping is deterministic, which keeps upserts idempotent.
func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String())
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, rec := range records[start:end] {
			payload := map[string]*qdrant.Value{
				"chunk_id": qdrant.NewValueString(rec.ChunkID),
				"document": qdrant.NewValueString(rec.Text),
			}
			for k, v := range rec.Metadata {
				payload[k] = qdrant.NewValueString(v)
			}
			points = append(points, &qdrant.PointStruct{
				Id:      pointID(rec.ChunkID),
				Vectors: qdrant.NewVectors(rec.Embedding...),
				Payload: payload,
			})
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("upsert %d points into %s: %w", len(points), collection, err)
		}
	}
	return nil
}

func (s *QdrantStore) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = pointID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(ids...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete %d points from %s: %w", len(chunkIDs), collection, err)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, collection string, embedding []float32, limit int, filter *Filter) ([]Hit, error) {
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(filter.Key, filter.Value),
			},
		}
	}
	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, Hit{
			ChunkID:  p.GetPayload()["chunk_id"].GetStringValue(),
			Score:    float64(p.GetScore()),
			Text:     p.GetPayload()["document"].GetStringValue(),
			Metadata: payloadStrings(p.GetPayload()),
		})
	}
	return hits, nil
}

func payloadStrings(payload map[string]*qdrant.Value) map[string]string {
	meta := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == "chunk_id" || k == "document" {
			continue
		}
		meta[k] = v.GetStringValue()
	}
	return meta
}

func (s *QdrantStore) AllIDs(ctx context.Context, collection string) ([]string, error) {
	var (
		ids    []string
		offset *qdrant.PointId
	)
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("chunk_id"),
		})
		if err != nil {
			return nil, fmt.Errorf("scroll %s: %w", collection, err)
		}
		if len(points) == 0 {
			return ids, nil
		}
		for _, p := range points {
			if offset != nil && p.GetId().String() == offset.String() {
				continue
			}
			if id := p.GetPayload()["chunk_id"].GetStringValue(); id != "" {
				ids = append(ids, id)
			}
		}
		if len(points) < scrollPageSize {
			return ids, nil
		}
		offset = points[len(points)-1].GetId()
	}
}
