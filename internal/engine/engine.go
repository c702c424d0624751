// Package engine adapts the PDF libraries to what the annotation pipeline
// consumes: page count, page sizes, positioned text spans and page previews.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	annerrors "github.com/a3tai/mcp-pdf-annotator/internal/errors"
	"github.com/a3tai/mcp-pdf-annotator/internal/spans"
	"github.com/a3tai/mcp-pdf-annotator/internal/viewport"
)

// Document is an opened document. Pages are 0-based.
type Document interface {
	// ID is the stable document identity
	ID() string
	// Name is the file name shown to users
	Name() string
	PageCount() int
	PageSize(page int) (viewport.Size, error)
	TextSpans(page int) ([]spans.TextSpan, error)
	RenderPage(ctx context.Context, page int, scale float64) (image.Image, error)
	Close() error
}

// Engine opens PDF files
type Engine struct {
	validator *Validator
	paths     *PathValidator
	debug     bool
}

// New creates an Engine. Documents must lie inside dir and be at most
// maxFileSize bytes.
func New(dir string, maxFileSize int64, debug bool) (*Engine, error) {
	paths, err := NewPathValidator(dir)
	if err != nil {
		return nil, err
	}
	return &Engine{
		validator: NewValidator(maxFileSize),
		paths:     paths,
		debug:     debug,
	}, nil
}

// Directory returns the directory documents are opened from
func (e *Engine) Directory() string {
	return e.paths.Directory()
}

// Open validates and loads a document. On failure nothing stays open and the
// error is a DocumentLoadFailure. Relative paths are taken from the
// configured directory.
func (e *Engine) Open(path string) (Document, error) {
	fail := func(msg string, err error) error {
		return annerrors.Wrap(annerrors.ErrorTypeDocumentLoadFailure, msg, err).WithContext(path)
	}

	path, err := e.paths.Resolve(path)
	if err != nil {
		return nil, fail("path rejected", err)
	}
	if err := e.paths.ValidatePath(path); err != nil {
		return nil, fail("path rejected", err)
	}
	if err := e.validator.ValidateFile(path); err != nil {
		return nil, fail("invalid document", err)
	}

	id, err := Identity(path)
	if err != nil {
		return nil, fail("cannot read document", err)
	}

	sizes, err := pageSizes(path)
	if err != nil {
		return nil, fail("cannot read page geometry", err)
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fail("cannot read page content", err)
	}
	if reader.NumPage() != len(sizes) {
		f.Close()
		return nil, fail("page count mismatch",
			fmt.Errorf("pdfcpu reports %d pages, content reader %d", len(sizes), reader.NumPage()))
	}

	if e.debug {
		log.Printf("Opened %s: %d pages, id %s", path, len(sizes), id[:12])
	}

	return &pdfDocument{
		id:     id,
		name:   baseName(path),
		file:   f,
		reader: reader,
		sizes:  sizes,
	}, nil
}

// Identity returns the SHA-256 of the file content as hex. The same bytes
// always give the same identity, wherever the file lives.
func Identity(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// pageSizes reads the page dimensions with pdfcpu, which resolves inherited
// boxes and rotation
func pageSizes(path string) ([]viewport.Size, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(f, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}
	if ctx.PageCount == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	dims, err := ctx.PageDims()
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	sizes := make([]viewport.Size, len(dims))
	for i, d := range dims {
		sizes[i] = viewport.Size{Width: d.Width, Height: d.Height}
	}
	return sizes, nil
}

// pdfDocument is a Document backed by pdfcpu geometry and ledongthuc content
type pdfDocument struct {
	id   string
	name string

	// mu guards the content reader, which is not safe for concurrent use
	mu     sync.Mutex
	file   *os.File
	reader *pdf.Reader
	sizes  []viewport.Size
	closed bool
}

func (d *pdfDocument) ID() string     { return d.id }
func (d *pdfDocument) Name() string   { return d.name }
func (d *pdfDocument) PageCount() int { return len(d.sizes) }

func (d *pdfDocument) PageSize(page int) (viewport.Size, error) {
	if page < 0 || page >= len(d.sizes) {
		return viewport.Size{}, fmt.Errorf("page %d out of range [0, %d)", page, len(d.sizes))
	}
	return d.sizes[page], nil
}

func (d *pdfDocument) TextSpans(page int) ([]spans.TextSpan, error) {
	size, err := d.PageSize(page)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("document closed")
	}
	glyphs, err := pageGlyphs(d.reader, page+1)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from page %d: %w", page, err)
	}
	return GroupGlyphs(glyphs, size.Height), nil
}

func (d *pdfDocument) RenderPage(ctx context.Context, page int, scale float64) (image.Image, error) {
	size, err := d.PageSize(page)
	if err != nil {
		return nil, err
	}
	text, err := d.TextSpans(page)
	if err != nil {
		return nil, err
	}
	return Wireframe(ctx, size, text, scale)
}

func (d *pdfDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.file.Close()
}
