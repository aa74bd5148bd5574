package extraction

import (
	"errors"
	"fmt"
)

// Kind 错误分类。每类错误对应固定的 HTTP 状态码与重试语义。
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindCorruptDocument    Kind = "corrupt_document"
	KindInvalidChunkConfig Kind = "invalid_chunk_config"
	KindEmbeddingProvider  Kind = "embedding_provider_error"
	KindDimensionMismatch  Kind = "dimension_mismatch"
	KindVectorIndex        Kind = "vector_index_error"
	KindInProgress         Kind = "extraction_in_progress"
)

// Error 带分类的管线错误
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E 构造分类错误
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap 包装下游错误并归类。已归类的错误原样返回。
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf 提取错误分类，未归类返回空串
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable 瞬时错误可带退避重试，其余立即失败
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindEmbeddingProvider, KindVectorIndex:
		return true
	}
	return false
}
