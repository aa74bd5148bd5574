package extraction

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	applog "docgate/internal/platform/log"
)

// 支持的媒体类型
const (
	MediaTypePlain    = "text/plain"
	MediaTypeMarkdown = "text/markdown"
	MediaTypePDF      = "application/pdf"
	MediaTypeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Extractor 格式提取器接口。每种媒体类型一个变体，
// 对字节做纯函数式解析，输出有序文本段。
type Extractor interface {
	// Extract 解析文档字节，返回有序 TextSegment
	Extract(data []byte) ([]TextSegment, error)
	// MediaTypes 此变体负责的媒体类型
	MediaTypes() []string
}

// ── 空白归一化 ───────────────────────────────────────────────

// normalizeWhitespace 去控制字符、压缩空白串为单空格，不改变词边界
func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// appendSegment 归一化后追加非空段
func appendSegment(segs []TextSegment, text string, hint SegmentHint) []TextSegment {
	text = normalizeWhitespace(text)
	if text == "" {
		return segs
	}
	return append(segs, TextSegment{Index: len(segs), Text: text, Hint: hint})
}

// ── Plain Text ───────────────────────────────────────────────

// PlainTextExtractor 纯文本透传，单段输出
type PlainTextExtractor struct{}

func (e *PlainTextExtractor) MediaTypes() []string {
	return []string{MediaTypePlain}
}

func (e *PlainTextExtractor) Extract(data []byte) ([]TextSegment, error) {
	return appendSegment(nil, string(data), HintBody), nil
}

// ── Markdown ─────────────────────────────────────────────────

// MarkdownExtractor 去除 Markdown 格式标记，按段落切分
type MarkdownExtractor struct{}

var (
	reMarkdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reMarkdownBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reMarkdownItalic = regexp.MustCompile(`\*(.+?)\*`)
	reMarkdownCode   = regexp.MustCompile("```[\\s\\S]*?```")
	reMarkdownInline = regexp.MustCompile("`([^`]+)`")
	reMarkdownLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reMarkdownImage  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reMarkdownHTML   = regexp.MustCompile(`<[^>]+>`)
)

func (e *MarkdownExtractor) MediaTypes() []string {
	return []string{MediaTypeMarkdown}
}

func (e *MarkdownExtractor) Extract(data []byte) ([]TextSegment, error) {
	text := string(data)

	// 去除代码块标记，保留代码内容
	text = reMarkdownCode.ReplaceAllStringFunc(text, func(s string) string {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(s, "```")
		return strings.TrimSpace(s)
	})

	text = reMarkdownImage.ReplaceAllString(text, "$1")
	text = reMarkdownLink.ReplaceAllString(text, "$1")
	text = reMarkdownBold.ReplaceAllString(text, "$1")
	text = reMarkdownItalic.ReplaceAllString(text, "$1")
	text = reMarkdownInline.ReplaceAllString(text, "$1")
	text = reMarkdownHTML.ReplaceAllString(text, "")

	var segs []TextSegment
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		hint := HintBody
		if reMarkdownHeader.MatchString(para) {
			hint = HintHeading
			para = reMarkdownHeader.ReplaceAllString(para, "")
		}
		segs = appendSegment(segs, para, hint)
	}
	return segs, nil
}

// ── PDF ──────────────────────────────────────────────────────

// PDFExtractor 逐页提取 PDF 文本，保持阅读顺序
type PDFExtractor struct{}

func (e *PDFExtractor) MediaTypes() []string {
	return []string{MediaTypePDF}
}

func (e *PDFExtractor) Extract(data []byte) (segs []TextSegment, err error) {
	// pdf 库对损坏文件可能 panic，统一归为 CorruptDocument
	defer func() {
		if r := recover(); r != nil {
			segs, err = nil, E(KindCorruptDocument, "pdf parse panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, E(KindCorruptDocument, "open pdf: %v", err)
	}

	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			applog.Warn("[Extractor/PDF] Failed to extract page text", "page", i, "error", err)
			continue
		}
		segs = appendSegment(segs, text, HintPage)
	}

	if len(segs) == 0 {
		return nil, E(KindCorruptDocument, "no text recovered from %d pdf pages", pages)
	}
	return segs, nil
}

// ── DOCX ─────────────────────────────────────────────────────

// DOCXExtractor 逐段提取 Word 文档文本，内嵌表格按行展平
type DOCXExtractor struct{}

func (e *DOCXExtractor) MediaTypes() []string {
	return []string{MediaTypeDOCX}
}

func (e *DOCXExtractor) Extract(data []byte) ([]TextSegment, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, E(KindCorruptDocument, "open docx: %v", err)
	}
	defer r.Close()

	// docx 库返回 document.xml 原文，需要自行提取 w:p / w:tbl
	segs, err := parseDocumentXML(r.Editable().GetContent())
	if err != nil {
		return nil, E(KindCorruptDocument, "parse docx xml: %v", err)
	}
	if len(segs) == 0 {
		return nil, E(KindCorruptDocument, "no text recovered from docx")
	}
	return segs, nil
}

// parseDocumentXML 扫描 document.xml：
//   - 表格外的 <w:p> 逐段输出（pStyle Heading* → heading）
//   - <w:tbl> 内按 <w:tr> 展平为行文本段，单元格以空格分隔
//
// 图片、嵌入对象等非文本节点直接忽略，不视为错误。
func parseDocumentXML(content string) ([]TextSegment, error) {
	dec := xml.NewDecoder(strings.NewReader(content))

	var (
		segs       []TextSegment
		paraBuf    strings.Builder
		rowBuf     strings.Builder
		tableDepth int
		inText     bool
		paraHint   SegmentHint
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode token: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				if tableDepth > 0 {
					rowBuf.Reset()
				}
			case "p":
				if tableDepth == 0 {
					paraBuf.Reset()
					paraHint = HintBody
				}
			case "pStyle":
				if tableDepth == 0 && isHeadingStyle(t) {
					paraHint = HintHeading
				}
			case "t":
				inText = true
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "tbl":
				if tableDepth > 0 {
					tableDepth--
				}
			case "tr":
				if tableDepth > 0 {
					segs = appendSegment(segs, rowBuf.String(), HintTable)
				}
			case "tc":
				if tableDepth > 0 {
					rowBuf.WriteByte(' ')
				}
			case "p":
				if tableDepth == 0 {
					segs = appendSegment(segs, paraBuf.String(), paraHint)
				}
			case "t":
				inText = false
			}

		case xml.CharData:
			if !inText {
				continue
			}
			if tableDepth > 0 {
				rowBuf.Write(t)
			} else {
				paraBuf.Write(t)
			}
		}
	}

	return segs, nil
}

func isHeadingStyle(el xml.StartElement) bool {
	for _, attr := range el.Attr {
		if attr.Name.Local != "val" {
			continue
		}
		v := strings.ToLower(attr.Value)
		if strings.HasPrefix(v, "heading") || v == "title" {
			return true
		}
	}
	return false
}
