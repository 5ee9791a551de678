package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/SunDevilAI/sunbot/engine/domain"
)

// qdrantBatchSize is the max points per upsert request; larger batches are
// split transparently.
const qdrantBatchSize = 100

// qdrantTieMargin is the extra width requested from the server per search.
// The server cuts at its limit in its own tie order, so the client fetches
// past topK and re-cuts after sorting.
const qdrantTieMargin = 16

// pointsAPI is the slice of pb.PointsClient this backend uses; narrowed so
// tests can stub it.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the slice of pb.CollectionsClient this backend uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
}

// qdrantStore is the cloud backend, backed by Qdrant over gRPC.
type qdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dim         int
	metric      string
}

func openQdrant(ctx context.Context, cfg Config) (Store, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.APIKey != "" {
		key := cfg.APIKey
		opts = append(opts, grpc.WithUnaryInterceptor(
			func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
				ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
				return invoker(ctx, method, req, reply, cc, callOpts...)
			}))
	}
	conn, err := grpc.NewClient(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w: %w", cfg.URL, domain.ErrBackendUnavailable, err)
	}
	s := &qdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		dim:         cfg.Dim,
		metric:      cfg.Metric,
	}
	// The collection existence check doubles as the connectivity probe.
	if err := s.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// newQdrantWithClients wires explicit gRPC clients, for tests.
func newQdrantWithClients(points pointsAPI, collections collectionsAPI, collection string, dim int, metric string) *qdrantStore {
	return &qdrantStore{points: points, collections: collections, collection: collection, dim: dim, metric: metric}
}

func (s *qdrantStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// ensureCollection creates the collection with the configured dimension and
// metric if it does not exist.
func (s *qdrantStore) ensureCollection(ctx context.Context) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w: %w", domain.ErrBackendUnavailable, err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	dist := pb.Distance_Cosine
	if s.metric == MetricDot {
		dist = pb.Distance_Dot
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dim),
					Distance: dist,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w: %w", s.collection, domain.ErrBackendUnavailable, err)
	}
	return nil
}

// pointID maps a chunk id onto a deterministic Qdrant point UUID.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (s *qdrantStore) Upsert(ctx context.Context, chunks []domain.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	// Reject the whole batch before any write so a mismatch cannot leave a
	// partially written collection.
	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return 0, fmt.Errorf("semantic: chunk %s: %w: got %d, collection dim %d",
				c.ID, domain.ErrDimensionMismatch, len(c.Embedding), s.dim)
		}
	}

	written := 0
	for start := 0; start < len(chunks); start += qdrantBatchSize {
		end := start + qdrantBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		points := make([]*pb.PointStruct, len(batch))
		for i, c := range batch {
			payload := map[string]*pb.Value{
				"chunk_id":   {Kind: &pb.Value_StringValue{StringValue: c.ID}},
				"content":    {Kind: &pb.Value_StringValue{StringValue: c.Text}},
				"source_url": {Kind: &pb.Value_StringValue{StringValue: c.SourceURL}},
			}
			for k, v := range c.Metadata {
				payload["meta_"+k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
			}
			points[i] = &pb.PointStruct{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(c.ID)}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: c.Embedding}}},
				Payload: payload,
			}
		}

		wait := true
		_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return written, fmt.Errorf("semantic: upsert %d points: %w: %w", len(batch), domain.ErrBackendUnavailable, err)
		}
		written += len(batch)
	}
	return written, nil
}

func (s *qdrantStore) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]domain.Candidate, error) {
	if topK < 1 {
		return nil, fmt.Errorf("semantic: %w: top_k must be >= 1, got %d", domain.ErrInvalidQuery, topK)
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("semantic: query vector: %w: got %d, collection dim %d",
			domain.ErrDimensionMismatch, len(vector), s.dim)
	}

	var qfilter *pb.Filter
	if len(filter) > 0 {
		must := make([]*pb.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, fieldMatch("meta_"+k, v))
		}
		qfilter = &pb.Filter{Must: must}
	}

	// A Limit of exactly topK would let the server pick the id set among
	// tied scores at the boundary, in whatever tie order it uses
	// internally. Fetch past topK and cut after sortCandidates; widen while
	// the cut still falls inside a tie and the server may hold more.
	limit := topK + qdrantTieMargin
	for {
		resp, err := s.points.Search(ctx, &pb.SearchPoints{
			CollectionName: s.collection,
			Vector:         vector,
			Limit:          uint64(limit),
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			Filter:         qfilter,
		})
		if err != nil {
			return nil, fmt.Errorf("semantic: search: %w: %w", domain.ErrBackendUnavailable, err)
		}

		cands := mapScoredPoints(resp.GetResult())
		sortCandidates(cands)
		if len(cands) <= topK {
			return cands, nil
		}
		exhausted := len(resp.GetResult()) < limit
		if exhausted || cands[topK-1].Score != cands[topK].Score {
			return cands[:topK], nil
		}
		limit *= 2
	}
}

func mapScoredPoints(points []*pb.ScoredPoint) []domain.Candidate {
	cands := make([]domain.Candidate, len(points))
	for i, r := range points {
		c := domain.Candidate{Score: r.GetScore(), Metadata: map[string]string{}}
		for k, v := range r.GetPayload() {
			sv := v.GetStringValue()
			switch k {
			case "chunk_id":
				c.ChunkID = sv
			case "content":
				c.Text = sv
			case "source_url":
				c.SourceURL = sv
			default:
				if len(k) > 5 && k[:5] == "meta_" {
					c.Metadata[k[5:]] = sv
				}
			}
		}
		cands[i] = c
	}
	return cands
}

func (s *qdrantStore) Stats(ctx context.Context) (Stats, error) {
	resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err != nil {
		return Stats{}, fmt.Errorf("semantic: collection info: %w: %w", domain.ErrBackendUnavailable, err)
	}
	info := resp.GetResult()
	st := Stats{
		TotalDocuments: int(info.GetPointsCount()),
		CollectionName: s.collection,
		VectorSize:     s.dim,
		DistanceMetric: s.metric,
	}
	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		st.VectorSize = int(params.GetSize())
	}
	return st, nil
}

func (s *qdrantStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	points := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		points[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(id)}}
	}

	// The delete response carries no affected count, so count the matching
	// points first; missing ids then stay a no-op in the returned total.
	exact := true
	cnt, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
		Filter: &pb.Filter{Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_HasId{
				HasId: &pb.HasIdCondition{HasId: points},
			},
		}}},
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count points: %w: %w", domain.ErrBackendUnavailable, err)
	}

	wait := true
	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: points},
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: delete %d points: %w: %w", len(ids), domain.ErrBackendUnavailable, err)
	}
	return int(cnt.GetResult().GetCount()), nil
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
