package extraction

import (
	"path/filepath"
	"sort"
	"strings"
)

// 仅存储、不参与文本提取的媒体类型（图片与演示文稿直接入对象存储）
const (
	MediaTypePNG  = "image/png"
	MediaTypeJPEG = "image/jpeg"
	MediaTypePPT  = "application/vnd.ms-powerpoint"
	MediaTypePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// mediaTypeByExt 上传时按扩展名推断媒体类型
var mediaTypeByExt = map[string]string{
	".txt":  MediaTypePlain,
	".text": MediaTypePlain,
	".log":  MediaTypePlain,
	".md":   MediaTypeMarkdown,
	".pdf":  MediaTypePDF,
	".docx": MediaTypeDOCX,
	".png":  MediaTypePNG,
	".jpg":  MediaTypeJPEG,
	".jpeg": MediaTypeJPEG,
	".ppt":  MediaTypePPT,
	".pptx": MediaTypePPTX,
}

// storeOnlyMediaTypes 可上传但不可提取的类型
var storeOnlyMediaTypes = map[string]struct{}{
	MediaTypePNG:  {},
	MediaTypeJPEG: {},
	MediaTypePPT:  {},
	MediaTypePPTX: {},
}

// MediaTypeForFilename 按扩展名推断媒体类型，未知扩展名返回 false
func MediaTypeForFilename(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	mt, ok := mediaTypeByExt[ext]
	return mt, ok
}

// IsStoreOnly 是否仅存储、不进提取管线
func IsStoreOnly(mediaType string) bool {
	_, ok := storeOnlyMediaTypes[mediaType]
	return ok
}

// Registry 媒体类型到提取器的路由表
type Registry struct {
	byMediaType map[string]Extractor
}

// NewRegistry 注册全部内置提取器
func NewRegistry() *Registry {
	r := &Registry{byMediaType: make(map[string]Extractor)}
	r.Register(&PlainTextExtractor{})
	r.Register(&MarkdownExtractor{})
	r.Register(&PDFExtractor{})
	r.Register(&DOCXExtractor{})
	return r
}

// Register 注册提取器，同一媒体类型后注册的覆盖先注册的
func (r *Registry) Register(e Extractor) {
	for _, mt := range e.MediaTypes() {
		r.byMediaType[mt] = e
	}
}

// Lookup 查找媒体类型对应的提取器，无匹配返回 UnsupportedFormat
func (r *Registry) Lookup(mediaType string) (Extractor, error) {
	if e, ok := r.byMediaType[mediaType]; ok {
		return e, nil
	}
	return nil, E(KindUnsupportedFormat, "no extractor registered for media type %q (supported: %s)",
		mediaType, strings.Join(r.SupportedMediaTypes(), ", "))
}

// SupportedMediaTypes 已注册的媒体类型，字典序
func (r *Registry) SupportedMediaTypes() []string {
	out := make([]string, 0, len(r.byMediaType))
	for mt := range r.byMediaType {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}
