package extraction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	applog "docgate/internal/platform/log"
)

// Orchestrator 提取管线编排器。
// 驱动状态机 Fetching → Extracting → Chunking → Embedding → Indexing，
// 任一阶段失败则终止于 Failed，不产生部分索引写入。
type Orchestrator struct {
	cfg      *Config
	store    ObjectStore
	repo     DocumentRepo
	registry *Registry
	embedder Embedder
	index    VectorIndex
	cache    SearchCache
	locks    *KeyedLock
}

// NewOrchestrator 装配编排器。cache 可为 nil（禁用缓存失效）。
func NewOrchestrator(
	cfg *Config,
	store ObjectStore,
	repo DocumentRepo,
	registry *Registry,
	embedder Embedder,
	index VectorIndex,
	cache SearchCache,
) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		repo:     repo,
		registry: registry,
		embedder: embedder,
		index:    index,
		cache:    cache,
		locks:    NewKeyedLock(),
	}
}

// ── 上传 ───────────────────────────────────────────────────────

// Upload 校验并入库新文档：字节进对象存储，元数据进仓储。
// 文档 ID 由文件名确定（uuid5），同名重传覆盖同一文档。
// 图片与演示文稿仅存储（status=stored），不进提取管线。
func (o *Orchestrator) Upload(ctx context.Context, bucket, filename string, data []byte) (*Document, error) {
	if filename == "" {
		return nil, E(KindUnsupportedFormat, "empty filename")
	}
	if max := int64(o.cfg.MaxFileSizeMB) * 1024 * 1024; max > 0 && int64(len(data)) > max {
		return nil, E(KindUnsupportedFormat, "file size %d exceeds limit of %d MB", len(data), o.cfg.MaxFileSizeMB)
	}

	mediaType, ok := MediaTypeForFilename(filename)
	if !ok {
		return nil, E(KindUnsupportedFormat, "unrecognized file extension in %q", filename)
	}

	docID := DocumentID(filename)
	now := time.Now()
	doc := &Document{
		ID:        docID,
		Name:      filename,
		MediaType: mediaType,
		ByteSize:  int64(len(data)),
		Location:  Location{Bucket: bucket, Key: docID + "/" + filename},
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if IsStoreOnly(mediaType) {
		doc.Status = StatusStored
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
	defer cancel()
	if err := o.store.Put(callCtx, doc.Location, data, mediaType); err != nil {
		return nil, fmt.Errorf("store object: %w", err)
	}
	if err := o.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document metadata: %w", err)
	}

	applog.Info("[Extraction/Orchestrator] Document uploaded",
		"doc_id", docID, "name", filename, "media_type", mediaType, "bytes", len(data))
	return doc, nil
}

// DocumentID 由文件名生成确定性文档 ID（uuid5）
func DocumentID(filename string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(filename)).String()
}

// ChunkPointID 由文档 ID 和块序号生成确定性向量点 ID，
// 重提取时同块覆盖同点。
func ChunkPointID(docID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%s_chunk_%d", docID, index))).String()
}

// ── 提取运行 ───────────────────────────────────────────────────

// Run 对文档执行一次完整提取。
// 同一文档同时只允许一条运行，冲突的请求立即返回 ExtractionInProgress。
// 重复运行幂等：向量先删后写，点 ID 确定性生成。
func (o *Orchestrator) Run(ctx context.Context, docID string) (*RunSummary, error) {
	if !o.locks.TryAcquire(docID) {
		return nil, E(KindInProgress, "extraction already running for document %s", docID)
	}
	defer o.locks.Release(docID)

	start := time.Now()
	summary, err := o.run(ctx, docID)
	if err != nil {
		kind := KindOf(err)
		applog.Error("[Extraction/Orchestrator] Run failed",
			"doc_id", docID, "error_kind", string(kind), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())

		// 进入管线前的拒绝（不存在、格式不支持）不改文档状态，
		// 管线内失败落库为 failed
		if kind != KindNotFound && kind != KindUnsupportedFormat {
			if uerr := o.repo.UpdateStatus(ctx, docID, StatusFailed, 0); uerr != nil {
				applog.Warn("[Extraction/Orchestrator] Failed to mark document failed", "doc_id", docID, "error", uerr)
			}
		}
		return &RunSummary{
			DocID:     docID,
			State:     StateFailed,
			Elapsed:   time.Since(start),
			ElapsedMs: time.Since(start).Milliseconds(),
			ErrKind:   kind,
		}, err
	}

	summary.Elapsed = time.Since(start)
	summary.ElapsedMs = summary.Elapsed.Milliseconds()
	applog.Info("[Extraction/Orchestrator] Run completed",
		"doc_id", docID, "chunks", summary.ChunkCount, "elapsed_ms", summary.ElapsedMs)
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, docID string) (*RunSummary, error) {
	doc, err := o.repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}

	// 不支持的格式在任何副作用之前拒绝
	extractor, err := o.registry.Lookup(doc.MediaType)
	if err != nil {
		return nil, err
	}
	chunker, err := NewChunker(o.cfg.ChunkSize, o.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	// Fetching
	applog.Debug("[Extraction/Orchestrator] State transition", "doc_id", docID, "state", string(StateFetching))
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
	data, err := o.store.Get(fetchCtx, doc.Location)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch object %s/%s: %w", doc.Location.Bucket, doc.Location.Key, err)
	}

	// Extracting
	applog.Debug("[Extraction/Orchestrator] State transition", "doc_id", docID, "state", string(StateExtracting))
	segments, err := extractor.Extract(data)
	if err != nil {
		return nil, err
	}

	// Chunking
	applog.Debug("[Extraction/Orchestrator] State transition", "doc_id", docID, "state", string(StateChunking))
	chunks := chunker.Chunk(docID, segments)

	// 零块是合法结果：清掉历史向量，完成
	if len(chunks) == 0 {
		if err := o.deleteVectors(ctx, docID); err != nil {
			return nil, err
		}
		return o.complete(ctx, docID, 0)
	}

	// Embedding
	applog.Debug("[Extraction/Orchestrator] State transition",
		"doc_id", docID, "state", string(StateEmbedding), "chunks", len(chunks))
	embedded, err := o.embedChunks(ctx, doc, segments, chunks)
	if err != nil {
		return nil, err
	}

	// Indexing：先删后写，避免旧块残留
	applog.Debug("[Extraction/Orchestrator] State transition", "doc_id", docID, "state", string(StateIndexing))
	if err := o.deleteVectors(ctx, docID); err != nil {
		return nil, err
	}
	if err := o.upsertVectors(ctx, embedded); err != nil {
		// 此时旧向量已删除而新向量未写入，文档在索引中暂时不可检索，
		// 重新运行提取即可恢复
		return nil, err
	}

	return o.complete(ctx, docID, len(chunks))
}

// embedChunks 将块按批量切分后并发生成向量，保持块序。
// 全部批次成功后才返回，任何批次失败则整体失败（无部分写入）。
func (o *Orchestrator) embedChunks(ctx context.Context, doc *Document, segments []TextSegment, chunks []Chunk) ([]EmbeddedChunk, error) {
	batchSize := o.cfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	concurrency := o.cfg.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-i)
		for _, c := range chunks[i:end] {
			texts = append(texts, c.Text)
		}
		batches = append(batches, batch{start: i, texts: texts})
	}

	policy := o.cfg.RetryPolicy()
	vectors := make([][]float32, len(chunks))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, concurrency)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	for _, b := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(b batch) {
			defer wg.Done()
			defer func() { <-sem }()

			var vecs [][]float32
			err := policy.Do(runCtx, "embed", func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
				defer cancel()
				var err error
				vecs, err = o.embedder.Embed(callCtx, b.texts)
				return err
			})
			if err == nil && len(vecs) != len(b.texts) {
				err = E(KindEmbeddingProvider, "expected %d vectors, got %d", len(b.texts), len(vecs))
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancelRun()
				}
				return
			}
			copy(vectors[b.start:], vecs)
		}(b)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	// 入索引前校验维度，不一致的向量不允许进入 Qdrant
	dims := o.embedder.Dims()
	bounds := segmentBounds(segments)
	embedded := make([]EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) != dims {
			return nil, E(KindDimensionMismatch,
				"chunk %d has %d dimensions, expected %d", c.Index, len(vectors[i]), dims)
		}
		embedded[i] = EmbeddedChunk{
			Chunk:     c,
			Vector:    vectors[i],
			MediaType: doc.MediaType,
			Hint:      hintAt(segments, bounds, c.Start),
		}
	}
	return embedded, nil
}

// segmentBounds 各文本段在拼接全文中的起始 rune 偏移
func segmentBounds(segments []TextSegment) []int {
	bounds := make([]int, len(segments))
	pos := 0
	for i, s := range segments {
		bounds[i] = pos
		pos += len([]rune(s.Text)) + 1 // 段间的 "\n"
	}
	return bounds
}

// hintAt 块起点所在段的结构提示
func hintAt(segments []TextSegment, bounds []int, pos int) SegmentHint {
	if len(segments) == 0 {
		return ""
	}
	i := sort.SearchInts(bounds, pos+1) - 1
	if i < 0 {
		i = 0
	}
	return segments[i].Hint
}

func (o *Orchestrator) deleteVectors(ctx context.Context, docID string) error {
	policy := o.cfg.RetryPolicy()
	return policy.Do(ctx, "index-delete", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
		defer cancel()
		return o.index.DeleteByDocID(callCtx, docID)
	})
}

// upsertVectors 整体写入，失败后完整重试一次
func (o *Orchestrator) upsertVectors(ctx context.Context, embedded []EmbeddedChunk) error {
	policy := o.cfg.RetryPolicy()
	policy.MaxAttempts = 2
	return policy.Do(ctx, "index-upsert", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
		defer cancel()
		return o.index.Upsert(callCtx, embedded)
	})
}

func (o *Orchestrator) complete(ctx context.Context, docID string, chunkCount int) (*RunSummary, error) {
	if err := o.repo.UpdateStatus(ctx, docID, StatusCompleted, chunkCount); err != nil {
		return nil, fmt.Errorf("update document status: %w", err)
	}
	if o.cache != nil {
		o.cache.Invalidate(ctx)
	}
	return &RunSummary{DocID: docID, State: StateCompleted, ChunkCount: chunkCount}, nil
}

// ── 查询与删除 ─────────────────────────────────────────────────

// GetDocument 读取文档元数据
func (o *Orchestrator) GetDocument(ctx context.Context, docID string) (*Document, error) {
	return o.repo.Get(ctx, docID)
}

// ListDocuments 列出全部文档元数据
func (o *Orchestrator) ListDocuments(ctx context.Context) ([]Document, error) {
	return o.repo.List(ctx)
}

// DeleteDocument 级联删除：向量、对象、元数据。
// 与提取运行互斥，运行中的文档返回 ExtractionInProgress。
func (o *Orchestrator) DeleteDocument(ctx context.Context, docID string) error {
	if !o.locks.TryAcquire(docID) {
		return E(KindInProgress, "extraction running for document %s, retry later", docID)
	}
	defer o.locks.Release(docID)

	doc, err := o.repo.Get(ctx, docID)
	if err != nil {
		return err
	}

	if err := o.deleteVectors(ctx, docID); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
	defer cancel()
	if err := o.store.Delete(callCtx, doc.Location); err != nil {
		applog.Warn("[Extraction/Orchestrator] Failed to delete stored object",
			"doc_id", docID, "bucket", doc.Location.Bucket, "key", doc.Location.Key, "error", err)
	}

	if err := o.repo.Delete(ctx, docID); err != nil {
		return fmt.Errorf("delete document metadata: %w", err)
	}
	if o.cache != nil {
		o.cache.Invalidate(ctx)
	}

	applog.Info("[Extraction/Orchestrator] Document deleted", "doc_id", docID, "name", doc.Name)
	return nil
}
