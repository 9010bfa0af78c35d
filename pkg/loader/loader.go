package loader

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/xhad/docrag/internal/models"
)

type LoaderConfig struct {
	Password string // for encrypted PDFs
	MaxPages int    // 0 means no limit
}

// Loader turns a PDF file into ordered page-level text fragments.
type Loader struct {
	config LoaderConfig
}

func NewWithConfig(config LoaderConfig) *Loader {
	return &Loader{config: config}
}

func New() *Loader {
	return NewWithConfig(LoaderConfig{})
}

// Load reads the PDF at path and returns one Page per PDF page, in order.
func (l *Loader) Load(ctx context.Context, path string) ([]models.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat pdf: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("failed to parse pdf: empty file")
	}

	var opts []documentloaders.PDFOptions
	if l.config.Password != "" {
		opts = append(opts, documentloaders.WithPassword(l.config.Password))
	}

	docs, err := documentloaders.NewPDF(f, info.Size(), opts...).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}

	pages := make([]models.Page, 0, len(docs))
	for i, doc := range docs {
		if l.config.MaxPages > 0 && i >= l.config.MaxPages {
			break
		}
		pages = append(pages, models.Page{
			Number:  i + 1,
			Content: sanitizeUTF8(doc.PageContent),
		})
	}

	return pages, nil
}

// JoinPages concatenates page text with newlines.
func JoinPages(pages []models.Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Content
	}
	return strings.Join(parts, "\n")
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
