package retrieval

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var _ ChunkStore = (*QdrantStore)(nil)

// lexicalPageSize is how many text-matching points one scroll call reads.
const lexicalPageSize = 256

// QdrantStore keeps chunks in a Qdrant collection. Vector candidates come from
// a thresholded k-NN search, lexical candidates from a full-text payload
// filter; both are rescored with the same fused formula as SQLiteStore.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewQdrantStore connects to Qdrant's gRPC endpoint at addr.
func NewQdrantStore(addr, collection string) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing qdrant %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	return q.conn.Close()
}

// EnsureCollection creates the collection and its payload indexes if missing.
func (q *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.collection, err)
	}

	wait := true
	for field, typ := range map[string]pb.FieldType{
		"corpus_id": pb.FieldType_FieldTypeKeyword,
		"content":   pb.FieldType_FieldTypeText,
	} {
		typ := typ
		_, err := q.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: q.collection,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      &typ,
		})
		if err != nil {
			return fmt.Errorf("indexing %s: %w", field, err)
		}
	}
	return nil
}

// Insert upserts chunks as points. Point IDs are derived from chunk IDs.
func (q *QdrantStore) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(c.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: c.Embedding},
				},
			},
			Payload: chunkPayload(c),
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting %d points: %w", len(chunks), err)
	}
	return nil
}

// Search merges the vector and lexical passes, rescoring every candidate.
func (q *QdrantStore) Search(ctx context.Context, sq SearchQuery) ([]ScoredChunk, error) {
	if sq.Limit <= 0 {
		return nil, nil
	}
	corpusFilter := fieldMatch("corpus_id", sq.CorpusID)
	threshold := float32(1 - sq.MaxDistance)

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         sq.Vector,
		Filter:         &pb.Filter{Must: []*pb.Condition{corpusFilter}},
		Limit:          uint64(sq.Limit),
		ScoreThreshold: &threshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	byID := make(map[string]ScoredChunk)
	for _, p := range resp.GetResult() {
		c := payloadChunk(p.GetPayload())
		v := math.Max(0, math.Min(1, float64(p.GetScore())))
		if s, ok := scoreChunk(sq, c, v); ok {
			byID[s.ID] = s
		}
	}

	if len(sq.LexicalTerms) > 0 {
		if err := q.scanLexical(ctx, sq, corpusFilter, byID); err != nil {
			return nil, err
		}
	}

	results := make([]ScoredChunk, 0, len(byID))
	for _, s := range byID {
		results = append(results, s)
	}
	SortByFusedScore(results)
	if len(results) > sq.Limit {
		results = results[:sq.Limit]
	}
	return results, nil
}

// scanLexical pages through every point whose content matches a lexical term.
// Scroll order is by point id, not relevance, so the scan runs to the end.
func (q *QdrantStore) scanLexical(ctx context.Context, sq SearchQuery, corpusFilter *pb.Condition, byID map[string]ScoredChunk) error {
	should := make([]*pb.Condition, len(sq.LexicalTerms))
	for i, term := range sq.LexicalTerms {
		should[i] = textMatch("content", term)
	}
	limit := uint32(lexicalPageSize)
	req := &pb.ScrollPoints{
		CollectionName: q.collection,
		Filter:         &pb.Filter{Must: []*pb.Condition{corpusFilter}, Should: should},
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	}
	queryNorm := norm(sq.Vector)

	for {
		page, err := q.points.Scroll(ctx, req)
		if err != nil {
			return fmt.Errorf("qdrant scroll: %w", err)
		}
		for _, p := range page.GetResult() {
			c := payloadChunk(p.GetPayload())
			if _, seen := byID[c.ID]; seen {
				continue
			}
			var v float64
			if vec := p.GetVectors().GetVector().GetData(); queryNorm > 0 && len(vec) > 0 {
				v = math.Max(0, float64(dotProduct(sq.Vector, vec, queryNorm)))
			}
			if s, ok := scoreChunk(sq, c, v); ok {
				byID[s.ID] = s
			}
		}
		next := page.GetNextPageOffset()
		if next == nil {
			return nil
		}
		req.Offset = next
	}
}

// Count returns the number of points stored for a corpus.
func (q *QdrantStore) Count(ctx context.Context, corpusID string) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Filter:         &pb.Filter{Must: []*pb.Condition{fieldMatch("corpus_id", corpusID)}},
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func scoreChunk(sq SearchQuery, c Chunk, v float64) (ScoredChunk, bool) {
	lexical, fused, ok := evaluate(sq, c.Content, v)
	if !ok {
		return ScoredChunk{}, false
	}
	return ScoredChunk{
		ID:           c.ID,
		Content:      c.Content,
		Metadata:     c.Metadata,
		VectorScore:  v,
		LexicalScore: lexical,
		FusedScore:   fused,
	}, true
}

// pointID maps a chunk ID onto the UUID space Qdrant requires.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func chunkPayload(c Chunk) map[string]*pb.Value {
	authors := make([]*pb.Value, len(c.Metadata.Authors))
	for i, a := range c.Metadata.Authors {
		authors[i] = stringValue(a)
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return map[string]*pb.Value{
		"chunk_id":    stringValue(c.ID),
		"corpus_id":   stringValue(c.CorpusID),
		"content":     stringValue(c.Content),
		"document_id": stringValue(c.Metadata.DocumentID),
		"title":       stringValue(c.Metadata.Title),
		"journal":     stringValue(c.Metadata.Journal),
		"year":        {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Metadata.Year)}},
		"chunk_index": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Metadata.ChunkIndex)}},
		"authors":     {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: authors}}},
		"created_at":  stringValue(createdAt.UTC().Format(time.RFC3339)),
	}
}

func payloadChunk(p map[string]*pb.Value) Chunk {
	c := Chunk{
		ID:       p["chunk_id"].GetStringValue(),
		CorpusID: p["corpus_id"].GetStringValue(),
		Content:  p["content"].GetStringValue(),
		Metadata: Metadata{
			DocumentID: p["document_id"].GetStringValue(),
			Title:      p["title"].GetStringValue(),
			Journal:    p["journal"].GetStringValue(),
			Year:       int(p["year"].GetIntegerValue()),
			ChunkIndex: int(p["chunk_index"].GetIntegerValue()),
		},
	}
	for _, v := range p["authors"].GetListValue().GetValues() {
		c.Metadata.Authors = append(c.Metadata.Authors, v.GetStringValue())
	}
	if t, err := time.Parse(time.RFC3339, p["created_at"].GetStringValue()); err == nil {
		c.CreatedAt = t
	}
	return c
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func textMatch(key, text string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Text{Text: text},
				},
			},
		},
	}
}
