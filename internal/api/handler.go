package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"docgate/internal/domain/extraction"
	applog "docgate/internal/platform/log"
)

// ExtractionService 文档管理与提取服务接口（Orchestrator 实现）
type ExtractionService interface {
	Upload(ctx context.Context, bucket, filename string, data []byte) (*extraction.Document, error)
	Run(ctx context.Context, docID string) (*extraction.RunSummary, error)
	GetDocument(ctx context.Context, docID string) (*extraction.Document, error)
	ListDocuments(ctx context.Context) ([]extraction.Document, error)
	DeleteDocument(ctx context.Context, docID string) error
}

// SearchService 语义检索服务接口（Searcher 实现）
type SearchService interface {
	Search(ctx context.Context, req *extraction.SearchRequest) ([]extraction.SearchResult, error)
}

// DocumentHandler 文档与检索 API 处理器
type DocumentHandler struct {
	svc       ExtractionService
	search    SearchService
	bucket    string
	maxFileMB int
}

// NewDocumentHandler 创建处理器
func NewDocumentHandler(svc ExtractionService, search SearchService, bucket string, maxFileMB int) *DocumentHandler {
	if maxFileMB <= 0 {
		maxFileMB = 20
	}
	return &DocumentHandler{svc: svc, search: search, bucket: bucket, maxFileMB: maxFileMB}
}

// RegisterRoutes 注册路由
func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Post("/", h.UploadDocument)
		r.Get("/", h.ListDocuments)
		r.Get("/{docID}", h.GetDocument)
		r.Delete("/{docID}", h.DeleteDocument)
	})
	r.Route("/extraction", func(r chi.Router) {
		r.Post("/", h.RunExtraction)
		r.Get("/search", h.Search)
	})
}

// --- 文档管理 ---

type uploadResponse struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	MediaType  string `json:"media_type"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// UploadDocument 文件上传入库并同步执行提取（multipart/form-data，file 字段）。
// 仅存储类型（图片、演示文稿）只入库，不触发提取。
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	limitBytes := int64(h.maxFileMB) << 20

	if err := r.ParseMultipartForm(limitBytes); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > 0 && header.Size > limitBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size exceeds limit (%dMB)", h.maxFileMB))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	doc, err := h.svc.Upload(r.Context(), h.bucket, header.Filename, data)
	if err != nil {
		applog.Error("[API] Upload failed", "filename", header.Filename, "error", err)
		writePipelineError(w, err)
		return
	}

	resp := uploadResponse{
		DocumentID: doc.ID,
		Name:       doc.Name,
		MediaType:  doc.MediaType,
		Status:     doc.Status,
		ChunkCount: doc.ChunkCount,
	}
	if !extraction.IsStoreOnly(doc.MediaType) {
		summary, err := h.svc.Run(r.Context(), doc.ID)
		if err != nil {
			applog.Error("[API] Extraction after upload failed", "doc_id", doc.ID, "error", err)
			writePipelineError(w, err)
			return
		}
		resp.Status = string(summary.State)
		resp.ChunkCount = summary.ChunkCount
		resp.ElapsedMs = summary.ElapsedMs
	}

	writeJSON(w, http.StatusCreated, resp)
}

// ListDocuments 列出全部文档
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.ListDocuments(r.Context())
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if docs == nil {
		docs = []extraction.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// GetDocument 读取单个文档元数据
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.GetDocument(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument 级联删除文档（向量、对象、元数据）
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if err := h.svc.DeleteDocument(r.Context(), docID); err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document_id": docID, "status": "deleted"})
}

// --- 提取与检索 ---

type runExtractionRequest struct {
	DocumentID string `json:"document_id"`
}

// RunExtraction 触发一次提取运行（同步执行，返回运行摘要）
func (h *DocumentHandler) RunExtraction(w http.ResponseWriter, r *http.Request) {
	var req runExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}

	summary, err := h.svc.Run(r.Context(), req.DocumentID)
	if err != nil {
		applog.Error("[API] Extraction failed", "doc_id", req.DocumentID, "error", err)
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Search 语义检索（GET /extraction/search?q=...&top_k=...&media_type=...）
func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	req := &extraction.SearchRequest{
		Query:     query,
		MediaType: r.URL.Query().Get("media_type"),
	}
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		topK, err := strconv.Atoi(raw)
		if err != nil || topK <= 0 {
			writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		req.TopK = topK
	}

	results, err := h.search.Search(r.Context(), req)
	if err != nil {
		applog.Error("[API] Search failed", "query", query, "error", err)
		writePipelineError(w, err)
		return
	}
	if results == nil {
		results = []extraction.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}
