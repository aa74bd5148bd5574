package extraction

// Chunker 固定窗口分块器。把有序文本段以 "\n" 拼接为全文后，
// 按 rune 窗口滑动切块，相邻块重叠 overlap 个 rune。
type Chunker struct {
	size    int
	overlap int
}

// NewChunker 校验并构造分块器。
// 要求 size > 0 且 0 <= overlap < size，否则返回 InvalidChunkConfig。
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, E(KindInvalidChunkConfig, "chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, E(KindInvalidChunkConfig, "chunk overlap must be in [0, size), got %d with size %d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk 对拼接全文滑窗切块。空输入返回空切片（不是错误）。
// 窗口步长为 size - overlap，末块到达文本末尾即停止，
// 因此不会产生完全被前一块覆盖的尾块。
func (c *Chunker) Chunk(docID string, segments []TextSegment) []Chunk {
	full := joinSegments(segments)
	runes := []rune(full)
	total := len(runes)
	if total == 0 {
		return []Chunk{}
	}

	stride := c.size - c.overlap
	chunks := make([]Chunk, 0, total/stride+1)

	for start := 0; start < total; start += stride {
		end := start + c.size
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{
			DocID: docID,
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end == total {
			break
		}
	}
	return chunks
}

// joinSegments 以换行拼接文本段，保持提取顺序
func joinSegments(segments []TextSegment) string {
	switch len(segments) {
	case 0:
		return ""
	case 1:
		return segments[0].Text
	}
	n := len(segments) - 1
	for _, s := range segments {
		n += len(s.Text)
	}
	buf := make([]byte, 0, n)
	for i, s := range segments {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, s.Text...)
	}
	return string(buf)
}
