package extraction

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// ── 测试替身 ───────────────────────────────────────────────────

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	getCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(_ context.Context, loc Location, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[loc.Key] = data
	return nil
}

func (s *fakeStore) Get(_ context.Context, loc Location) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	data, ok := s.objects[loc.Key]
	if !ok {
		return nil, E(KindNotFound, "object %s not found", loc.Key)
	}
	return data, nil
}

func (s *fakeStore) Delete(_ context.Context, loc Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, loc.Key)
	return nil
}

type fakeRepo struct {
	mu   sync.Mutex
	docs map[string]*Document
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: make(map[string]*Document)}
}

func (r *fakeRepo) Create(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, E(KindNotFound, "document %s not found", id)
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeRepo) List(_ context.Context) ([]Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Document
	for _, d := range r.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id, status string, chunkCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return E(KindNotFound, "document %s not found", id)
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return E(KindNotFound, "document %s not found", id)
	}
	delete(r.docs, id)
	return nil
}

type fakeEmbedder struct {
	dims     int
	fail     bool
	badDims  bool
	blockCh  chan struct{} // 非 nil 时 Embed 阻塞直到关闭
	mu       sync.Mutex
	embedded int
}

func (e *fakeEmbedder) Dims() int { return e.dims }

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.blockCh != nil {
		select {
		case <-e.blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.fail {
		return nil, E(KindEmbeddingProvider, "provider down")
	}
	e.mu.Lock()
	e.embedded += len(texts)
	e.mu.Unlock()

	dims := e.dims
	if e.badDims {
		dims = e.dims + 1
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, dims)
		out[i][0] = float32(i + 1)
	}
	return out, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	chunks  map[string][]EmbeddedChunk
	ops     []string // "delete:<id>" / "upsert:<id>"
	failUps int      // 前 N 次 upsert 失败
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{chunks: make(map[string][]EmbeddedChunk)}
}

func (f *fakeIndex) EnsureCollection(_ context.Context, _ int) error { return nil }

func (f *fakeIndex) Upsert(_ context.Context, chunks []EmbeddedChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(chunks) == 0 {
		return nil
	}
	docID := chunks[0].DocID
	f.ops = append(f.ops, "upsert:"+docID)
	if f.failUps > 0 {
		f.failUps--
		return E(KindVectorIndex, "upsert rejected")
	}
	f.chunks[docID] = append([]EmbeddedChunk(nil), chunks...)
	return nil
}

func (f *fakeIndex) DeleteByDocID(_ context.Context, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "delete:"+docID)
	delete(f.chunks, docID)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, topK int, _ *SearchFilter) ([]SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SearchResult
	for docID, chunks := range f.chunks {
		for _, c := range chunks {
			out = append(out, SearchResult{DocID: docID, ChunkIndex: c.Index, Score: 0.9, Text: c.Text})
			if len(out) >= topK {
				return out, nil
			}
		}
	}
	return out, nil
}

type fakeCache struct {
	mu           sync.Mutex
	invalidation int
}

func (c *fakeCache) Get(_ context.Context, _ *SearchRequest) ([]SearchResult, bool) { return nil, false }
func (c *fakeCache) Set(_ context.Context, _ *SearchRequest, _ []SearchResult)      {}
func (c *fakeCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidation++
}

func (c *fakeCache) invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidation
}

// ── 组装 ───────────────────────────────────────────────────────

type pipelineFixture struct {
	orch     *Orchestrator
	store    *fakeStore
	repo     *fakeRepo
	embedder *fakeEmbedder
	index    *fakeIndex
	cache    *fakeCache
}

func newFixture(cfg *Config, embedder *fakeEmbedder) *pipelineFixture {
	if cfg == nil {
		cfg = DefaultConfig()
		cfg.ChunkSize = 100
		cfg.ChunkOverlap = 20
		cfg.RetryMaxAttempts = 2
		cfg.RetryBaseDelayMs = 1
	}
	if embedder == nil {
		embedder = &fakeEmbedder{dims: 8}
	}
	f := &pipelineFixture{
		store:    newFakeStore(),
		repo:     newFakeRepo(),
		embedder: embedder,
		index:    newFakeIndex(),
		cache:    &fakeCache{},
	}
	f.orch = NewOrchestrator(cfg, f.store, f.repo, NewRegistry(), f.embedder, f.index, f.cache)
	return f
}

func (f *pipelineFixture) upload(t *testing.T, name, content string) *Document {
	t.Helper()
	doc, err := f.orch.Upload(context.Background(), "test-bucket", name, []byte(content))
	if err != nil {
		t.Fatalf("Upload(%s) failed: %v", name, err)
	}
	return doc
}

// ── 测试 ───────────────────────────────────────────────────────

// TestRunCompletesPipeline 完整管线：上传 → 提取 → 分块 → 向量 → 入索引
func TestRunCompletesPipeline(t *testing.T) {
	f := newFixture(nil, nil)
	doc := f.upload(t, "notes.txt", strings.Repeat("hello world ", 30))

	summary, err := f.orch.Run(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.State != StateCompleted {
		t.Errorf("expected completed state, got %s", summary.State)
	}
	if summary.ChunkCount == 0 {
		t.Error("expected chunks to be produced")
	}

	stored, _ := f.repo.Get(context.Background(), doc.ID)
	if stored.Status != StatusCompleted || stored.ChunkCount != summary.ChunkCount {
		t.Errorf("repo not updated: status=%s chunks=%d", stored.Status, stored.ChunkCount)
	}
	if len(f.index.chunks[doc.ID]) != summary.ChunkCount {
		t.Errorf("index holds %d chunks, summary says %d", len(f.index.chunks[doc.ID]), summary.ChunkCount)
	}
	if f.cache.invalidations() != 1 {
		t.Errorf("expected 1 cache invalidation, got %d", f.cache.invalidations())
	}

	// 先删后写
	ops := f.index.ops
	if len(ops) != 2 || ops[0] != "delete:"+doc.ID || ops[1] != "upsert:"+doc.ID {
		t.Errorf("expected delete-then-upsert, got %v", ops)
	}
}

// TestRunNotFound 不存在的文档返回 NotFound，不产生副作用
func TestRunNotFound(t *testing.T) {
	f := newFixture(nil, nil)

	_, err := f.orch.Run(context.Background(), "missing-doc")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if len(f.index.ops) != 0 {
		t.Errorf("expected no index operations, got %v", f.index.ops)
	}
}

// TestRunStoreOnlyRejectedBeforeMutation 图片类型在任何副作用前被拒绝
func TestRunStoreOnlyRejectedBeforeMutation(t *testing.T) {
	f := newFixture(nil, nil)
	doc := f.upload(t, "photo.png", "\x89PNG fake bytes")

	if doc.Status != StatusStored {
		t.Fatalf("expected stored status for image, got %s", doc.Status)
	}

	_, err := f.orch.Run(context.Background(), doc.ID)
	if KindOf(err) != KindUnsupportedFormat {
		t.Fatalf("expected UnsupportedFormat, got %v", err)
	}
	if f.store.getCalls != 0 {
		t.Errorf("object store must not be read before format check, got %d reads", f.store.getCalls)
	}
	if len(f.index.ops) != 0 {
		t.Errorf("expected no index operations, got %v", f.index.ops)
	}
	stored, _ := f.repo.Get(context.Background(), doc.ID)
	if stored.Status != StatusStored {
		t.Errorf("store-only document status must stay stored, got %s", stored.Status)
	}
}

// TestRunZeroChunksIsSuccess 空文档提取为零块，运行成功且清掉历史向量
func TestRunZeroChunksIsSuccess(t *testing.T) {
	f := newFixture(nil, nil)
	doc := f.upload(t, "empty.txt", "   \n\t  ")

	summary, err := f.orch.Run(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("zero-chunk run should succeed, got %v", err)
	}
	if summary.State != StateCompleted || summary.ChunkCount != 0 {
		t.Errorf("expected completed with 0 chunks, got %s/%d", summary.State, summary.ChunkCount)
	}

	stored, _ := f.repo.Get(context.Background(), doc.ID)
	if stored.Status != StatusCompleted || stored.ChunkCount != 0 {
		t.Errorf("repo: status=%s chunks=%d", stored.Status, stored.ChunkCount)
	}
	if len(f.index.ops) != 1 || f.index.ops[0] != "delete:"+doc.ID {
		t.Errorf("expected only a vector delete, got %v", f.index.ops)
	}
}

// TestRunEmbedFailureNoPartialWrites 向量生成失败时索引不被改动，状态落为 failed
func TestRunEmbedFailureNoPartialWrites(t *testing.T) {
	f := newFixture(nil, &fakeEmbedder{dims: 8, fail: true})
	doc := f.upload(t, "notes.txt", strings.Repeat("content ", 50))

	_, err := f.orch.Run(context.Background(), doc.ID)
	if KindOf(err) != KindEmbeddingProvider {
		t.Fatalf("expected EmbeddingProviderError, got %v", err)
	}

	if len(f.index.ops) != 0 {
		t.Errorf("index must stay untouched on embed failure, got %v", f.index.ops)
	}
	stored, _ := f.repo.Get(context.Background(), doc.ID)
	if stored.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", stored.Status)
	}
	if f.cache.invalidations() != 0 {
		t.Errorf("cache must not be invalidated on failure")
	}
}

// TestRunDimensionMismatch 维度不符的向量不得进入索引
func TestRunDimensionMismatch(t *testing.T) {
	f := newFixture(nil, &fakeEmbedder{dims: 8, badDims: true})
	doc := f.upload(t, "notes.txt", strings.Repeat("content ", 50))

	_, err := f.orch.Run(context.Background(), doc.ID)
	if KindOf(err) != KindDimensionMismatch {
		t.Fatalf("expected DimensionMismatch, got %v", err)
	}
	if len(f.index.ops) != 0 {
		t.Errorf("index must stay untouched, got %v", f.index.ops)
	}
}

// TestRunUpsertRetrySucceeds upsert 首次失败，重试一次后成功
func TestRunUpsertRetrySucceeds(t *testing.T) {
	f := newFixture(nil, nil)
	f.index.failUps = 1
	doc := f.upload(t, "notes.txt", strings.Repeat("hello world ", 30))

	summary, err := f.orch.Run(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("expected success after upsert retry, got %v", err)
	}
	if summary.State != StateCompleted {
		t.Errorf("expected completed, got %s", summary.State)
	}
	if len(f.index.chunks[doc.ID]) == 0 {
		t.Error("expected chunks in index after retry")
	}
}

// TestRunUpsertExhaustedLeavesDocUnsearchable upsert 重试耗尽后运行失败，
// 此时旧向量已删除（已记录的间隙），重跑可恢复
func TestRunUpsertExhaustedLeavesDocUnsearchable(t *testing.T) {
	f := newFixture(nil, nil)
	f.index.failUps = 10
	doc := f.upload(t, "notes.txt", strings.Repeat("hello world ", 30))

	_, err := f.orch.Run(context.Background(), doc.ID)
	if KindOf(err) != KindVectorIndex {
		t.Fatalf("expected VectorIndexError, got %v", err)
	}
	if len(f.index.chunks[doc.ID]) != 0 {
		t.Error("no chunks may remain after failed upsert")
	}

	// 重跑恢复
	f.index.mu.Lock()
	f.index.failUps = 0
	f.index.mu.Unlock()
	if _, err := f.orch.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("rerun should recover: %v", err)
	}
	if len(f.index.chunks[doc.ID]) == 0 {
		t.Error("expected chunks after recovery run")
	}
}

// TestRunRerunIsIdempotent 重复运行先删后写，索引中不累积旧块
func TestRunRerunIsIdempotent(t *testing.T) {
	f := newFixture(nil, nil)
	doc := f.upload(t, "notes.txt", strings.Repeat("hello world ", 30))

	first, err := f.orch.Run(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := f.orch.Run(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first.ChunkCount != second.ChunkCount {
		t.Errorf("chunk counts differ: %d vs %d", first.ChunkCount, second.ChunkCount)
	}
	if len(f.index.chunks[doc.ID]) != second.ChunkCount {
		t.Errorf("index accumulated stale chunks: %d", len(f.index.chunks[doc.ID]))
	}
}

// TestRunConcurrentRejected 同一文档并发运行，后到者立即 409
func TestRunConcurrentRejected(t *testing.T) {
	blockCh := make(chan struct{})
	f := newFixture(nil, &fakeEmbedder{dims: 8, blockCh: blockCh})
	doc := f.upload(t, "notes.txt", strings.Repeat("hello world ", 30))

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(context.Background(), doc.ID)
		firstDone <- err
	}()

	// 等第一条运行进入 embedding 阻塞
	time.Sleep(50 * time.Millisecond)

	_, err := f.orch.Run(context.Background(), doc.ID)
	if KindOf(err) != KindInProgress {
		t.Fatalf("expected ExtractionInProgress, got %v", err)
	}

	close(blockCh)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run should complete: %v", err)
	}

	// 锁释放后可再次运行
	if _, err := f.orch.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("run after release failed: %v", err)
	}
}

// TestDeleteDocumentCascade 删除级联清理向量、对象、元数据并失效缓存
func TestDeleteDocumentCascade(t *testing.T) {
	f := newFixture(nil, nil)
	doc := f.upload(t, "notes.txt", strings.Repeat("hello world ", 30))
	if _, err := f.orch.Run(context.Background(), doc.ID); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	before := f.cache.invalidations()

	if err := f.orch.DeleteDocument(context.Background(), doc.ID); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}

	if _, err := f.repo.Get(context.Background(), doc.ID); KindOf(err) != KindNotFound {
		t.Error("metadata should be gone")
	}
	if len(f.index.chunks[doc.ID]) != 0 {
		t.Error("vectors should be gone")
	}
	if _, err := f.store.Get(context.Background(), doc.Location); KindOf(err) != KindNotFound {
		t.Error("object should be gone")
	}
	if f.cache.invalidations() != before+1 {
		t.Error("cache should be invalidated on delete")
	}

	if err := f.orch.DeleteDocument(context.Background(), doc.ID); KindOf(err) != KindNotFound {
		t.Errorf("second delete should be NotFound, got %v", err)
	}
}

// TestUploadValidation 上传校验：未知扩展名、空文件名、大小限制
func TestUploadValidation(t *testing.T) {
	f := newFixture(nil, nil)

	if _, err := f.orch.Upload(context.Background(), "b", "archive.zip", []byte("zip")); KindOf(err) != KindUnsupportedFormat {
		t.Errorf("unknown extension: expected UnsupportedFormat, got %v", err)
	}
	if _, err := f.orch.Upload(context.Background(), "b", "", []byte("x")); KindOf(err) != KindUnsupportedFormat {
		t.Errorf("empty filename: expected UnsupportedFormat, got %v", err)
	}

	cfg := DefaultConfig()
	cfg.MaxFileSizeMB = 1
	small := newFixture(cfg, nil)
	big := make([]byte, 2<<20)
	if _, err := small.orch.Upload(context.Background(), "b", "big.txt", big); KindOf(err) != KindUnsupportedFormat {
		t.Errorf("oversize file: expected rejection, got %v", err)
	}
}

// TestUploadDeterministicID 同名文件得到同一文档 ID
func TestUploadDeterministicID(t *testing.T) {
	f := newFixture(nil, nil)

	doc1 := f.upload(t, "report.pdf", "first version")
	doc2 := f.upload(t, "report.pdf", "second version")
	if doc1.ID != doc2.ID {
		t.Errorf("same filename must map to same ID: %s vs %s", doc1.ID, doc2.ID)
	}

	doc3 := f.upload(t, "other.pdf", "content")
	if doc3.ID == doc1.ID {
		t.Error("different filenames must map to different IDs")
	}

	if DocumentID("report.pdf") != doc1.ID {
		t.Error("DocumentID must match Upload's assignment")
	}
}
