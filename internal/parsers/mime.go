package parsers

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/sercha-local/internal/core/domain"
)

type fileType struct {
	mime     string
	category domain.Category
}

// knownTypes maps lowercase extensions to a media type and category.
var knownTypes = map[string]fileType{
	".txt":  {"text/plain", domain.CategoryText},
	".text": {"text/plain", domain.CategoryText},
	".log":  {"text/plain", domain.CategoryText},
	".csv":  {"text/csv", domain.CategoryText},
	".tsv":  {"text/tab-separated-values", domain.CategoryText},
	".json": {"application/json", domain.CategoryText},
	".yaml": {"text/yaml", domain.CategoryText},
	".yml":  {"text/yaml", domain.CategoryText},
	".toml": {"text/toml", domain.CategoryText},
	".xml":  {"application/xml", domain.CategoryMarkup},
	".go":   {"text/x-go", domain.CategoryText},
	".py":   {"text/x-python", domain.CategoryText},
	".rs":   {"text/x-rust", domain.CategoryText},
	".java": {"text/x-java", domain.CategoryText},
	".c":    {"text/x-c", domain.CategoryText},
	".h":    {"text/x-c", domain.CategoryText},
	".cpp":  {"text/x-c++", domain.CategoryText},
	".rb":   {"text/x-ruby", domain.CategoryText},
	".sh":   {"text/x-shellscript", domain.CategoryText},
	".sql":  {"text/x-sql", domain.CategoryText},
	".js":   {"text/javascript", domain.CategoryText},
	".ts":   {"text/typescript", domain.CategoryText},
	".css":  {"text/css", domain.CategoryText},
	".md":   {"text/markdown", domain.CategoryMarkup},
	".mdx":  {"text/markdown", domain.CategoryMarkup},
	".html": {"text/html", domain.CategoryMarkup},
	".htm":  {"text/html", domain.CategoryMarkup},
	".eml":  {"message/rfc822", domain.CategoryDocument},
	".pdf":  {"application/pdf", domain.CategoryPDF},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", domain.CategoryDocument},
	".png":  {"image/png", domain.CategoryImage},
	".jpg":  {"image/jpeg", domain.CategoryImage},
	".jpeg": {"image/jpeg", domain.CategoryImage},
	".tif":  {"image/tiff", domain.CategoryImage},
	".tiff": {"image/tiff", domain.CategoryImage},
	".bmp":  {"image/bmp", domain.CategoryImage},
	".gif":  {"image/gif", domain.CategoryImage},
	".webp": {"image/webp", domain.CategoryImage},
	".zip":  {"application/zip", domain.CategoryArchive},
	".tar":  {"application/x-tar", domain.CategoryArchive},
	".gz":   {"application/gzip", domain.CategoryArchive},
	".tgz":  {"application/gzip", domain.CategoryArchive},
	".7z":   {"application/x-7z-compressed", domain.CategoryArchive},
	".rar":  {"application/vnd.rar", domain.CategoryArchive},
}

// DetectMIME returns the media type for path, by extension.
func DetectMIME(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := knownTypes[ext]; ok {
		return t.mime
	}
	if m := mime.TypeByExtension(ext); m != "" {
		if i := strings.IndexByte(m, ';'); i > 0 {
			m = m[:i]
		}
		return m
	}
	return "application/octet-stream"
}

// CategoryFor returns the coarse category for path.
func CategoryFor(path string) domain.Category {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := knownTypes[ext]; ok {
		return t.category
	}
	m := DetectMIME(path)
	switch {
	case strings.HasPrefix(m, "image/"):
		return domain.CategoryImage
	case strings.HasPrefix(m, "text/"):
		return domain.CategoryText
	default:
		return domain.CategoryOther
	}
}
