package qdrantdb

import (
	"context"
	"fmt"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"docgate/internal/domain/extraction"
	applog "docgate/internal/platform/log"
)

// VectorIndex Qdrant gRPC 向量索引实现。
// 点 ID 由文档 ID 与块序号确定性生成，重提取覆盖同点。
type VectorIndex struct {
	conn        *grpc.ClientConn
	collections qdrant.CollectionsClient
	points      qdrant.PointsClient
	collection  string
	dims        int // EnsureCollection 确定后用于发起调用前的本地维度校验
}

// Config Qdrant 连接配置
type Config struct {
	Addr       string // host:port（gRPC 端口，默认 6334）
	Collection string
}

// NewVectorIndex 建立 Qdrant gRPC 连接
func NewVectorIndex(cfg Config) (*VectorIndex, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6334"
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}

	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect qdrant at %s: %w", cfg.Addr, err)
	}

	return &VectorIndex{
		conn:        conn,
		collections: qdrant.NewCollectionsClient(conn),
		points:      qdrant.NewPointsClient(conn),
		collection:  cfg.Collection,
	}, nil
}

// Close 关闭 gRPC 连接
func (v *VectorIndex) Close() error {
	return v.conn.Close()
}

// EnsureCollection 确保集合存在（cosine 距离），已存在则跳过
func (v *VectorIndex) EnsureCollection(ctx context.Context, dims int) error {
	if dims <= 0 {
		return extraction.E(extraction.KindVectorIndex, "invalid vector dimension %d", dims)
	}

	list, err := v.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return extraction.Wrap(extraction.KindVectorIndex, fmt.Errorf("list collections: %w", err))
	}
	for _, col := range list.GetCollections() {
		if col.GetName() == v.collection {
			v.dims = dims
			applog.Info("[Qdrant] Collection already exists", "collection", v.collection)
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dims),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return extraction.Wrap(extraction.KindVectorIndex, fmt.Errorf("create collection %s: %w", v.collection, err))
	}

	v.dims = dims
	applog.Info("[Qdrant] Collection created", "collection", v.collection, "dims", dims)
	return nil
}

// Upsert 批量写入向量点，等待写入完成后返回。
// 维度不符的向量在发起 gRPC 调用前就地拒绝。
func (v *VectorIndex) Upsert(ctx context.Context, chunks []extraction.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if v.dims > 0 {
		for _, c := range chunks {
			if len(c.Vector) != v.dims {
				return extraction.E(extraction.KindDimensionMismatch,
					"chunk %d of document %s has %d dimensions, collection %s expects %d",
					c.Index, c.DocID, len(c.Vector), v.collection, v.dims)
			}
		}
	}
	start := time.Now()

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(c.DocID, c.Index)},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: c.Vector},
				},
			},
			Payload: map[string]*qdrant.Value{
				"document_id": {Kind: &qdrant.Value_StringValue{StringValue: c.DocID}},
				"chunk_index": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.Index)}},
				"start":       {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.Start)}},
				"end":         {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.End)}},
				"text":        {Kind: &qdrant.Value_StringValue{StringValue: c.Text}},
				"media_type":  {Kind: &qdrant.Value_StringValue{StringValue: c.MediaType}},
				"hint":        {Kind: &qdrant.Value_StringValue{StringValue: string(c.Hint)}},
			},
		})
	}

	wait := true
	_, err := v.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: v.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return extraction.Wrap(extraction.KindVectorIndex, fmt.Errorf("upsert %d points: %w", len(points), err))
	}

	applog.Debug("[Qdrant] Points upserted",
		"collection", v.collection, "count", len(points),
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// DeleteByDocID 删除文档的全部向量点（payload 过滤删除）
func (v *VectorIndex) DeleteByDocID(ctx context.Context, docID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{matchKeyword("document_id", docID)},
				},
			},
		},
	})
	if err != nil {
		return extraction.Wrap(extraction.KindVectorIndex, fmt.Errorf("delete points for document %s: %w", docID, err))
	}
	return nil
}

// Search kNN 检索，支持 payload 精确过滤
func (v *VectorIndex) Search(ctx context.Context, vector []float32, topK int, filter *extraction.SearchFilter) ([]extraction.SearchResult, error) {
	req := &qdrant.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Include{
				Include: &qdrant.PayloadIncludeSelector{
					Fields: []string{"document_id", "chunk_index", "text"},
				},
			},
		},
	}

	var conditions []*qdrant.Condition
	if filter != nil {
		if filter.DocID != "" {
			conditions = append(conditions, matchKeyword("document_id", filter.DocID))
		}
		if filter.MediaType != "" {
			conditions = append(conditions, matchKeyword("media_type", filter.MediaType))
		}
	}
	if len(conditions) > 0 {
		req.Filter = &qdrant.Filter{Must: conditions}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, extraction.Wrap(extraction.KindVectorIndex, fmt.Errorf("search: %w", err))
	}

	results := make([]extraction.SearchResult, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		r := extraction.SearchResult{Score: p.GetScore()}
		if val, ok := p.Payload["document_id"]; ok {
			r.DocID = val.GetStringValue()
		}
		if val, ok := p.Payload["chunk_index"]; ok {
			r.ChunkIndex = int(val.GetIntegerValue())
		}
		if val, ok := p.Payload["text"]; ok {
			r.Text = val.GetStringValue()
		}
		results = append(results, r)
	}
	return results, nil
}

// PointID 确定性点 ID（uuid5 of "<docID>_chunk_<index>"）
func PointID(docID string, index int) string {
	return extraction.ChunkPointID(docID, index)
}

func matchKeyword(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
