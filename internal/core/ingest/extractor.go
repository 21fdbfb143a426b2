package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	s3client "chroma-rag/pkg/s3"

	"github.com/ledongthuc/pdf"
)

var (
	ErrEmptyContent     = errors.New("empty content")
	ErrUnsupportedInput = errors.New("unsupported source")
)

// Downloader fetches objects addressed as s3://bucket/key.
type Downloader interface {
	Download(ctx context.Context, uri string) ([]byte, error)
}

// Fetch reads a local path or an s3:// object.
func Fetch(ctx context.Context, source string, s3 Downloader) ([]byte, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrUnsupportedInput)
	}
	if s3client.IsURI(source) {
		if s3 == nil {
			return nil, fmt.Errorf("%w: s3 is not configured", ErrUnsupportedInput)
		}
		return s3.Download(ctx, source)
	}

	abs := source
	if !filepath.IsAbs(abs) {
		// allow relative paths
		cwd, _ := os.Getwd()
		abs = filepath.Join(cwd, source)
	}
	return os.ReadFile(abs)
}

// ExtractPages returns sanitized text per page. PDFs are detected by magic bytes;
// anything else must be UTF-8 text and counts as a single page.
func ExtractPages(data []byte) ([]string, error) {
	var pages []string
	if IsPDF(data) {
		var err error
		if pages, err = extractPDFPages(data); err != nil {
			return nil, err
		}
	} else {
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: not a pdf nor utf-8 text", ErrUnsupportedInput)
		}
		pages = []string{string(data)}
	}

	out := make([]string, len(pages))
	empty := true
	for i, p := range pages {
		out[i] = sanitizeUTF8Printable(p)
		if out[i] != "" {
			empty = false
		}
	}
	if empty {
		return nil, ErrEmptyContent
	}
	return out, nil
}

func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// extractPDFPages extracts text by pages using ledongthuc/pdf. Pages that fail to
// decode come back empty so page numbers stay aligned.
func extractPDFPages(data []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedInput, err)
	}
	pages := make([]string, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = text
	}
	return pages, nil
}

// sanitizeUTF8Printable removes BOM and non-printable runes, keeping common whitespace.
func sanitizeUTF8Printable(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\uFEFF' || r == unicode.ReplacementChar {
			continue
		}
		if r == '\n' || r == '\t' || r == '\r' {
			// keep
		} else if !unicode.IsPrint(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
