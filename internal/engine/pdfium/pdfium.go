// Package pdfium implements the engine contract on top of the PDFium
// library via github.com/klippa-app/go-pdfium.
package pdfium

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"

	"github.com/pagedock/pagedock/internal/document"
	"github.com/pagedock/pagedock/internal/engine"
)

// baseDPI is the resolution a scale factor of 1.0 maps to. PDF user space
// is 72 points per inch, so rendering at 72 DPI yields one pixel per point.
const baseDPI = 72

type handle struct {
	doc references.FPDF_DOCUMENT
}

// Engine wraps a single-threaded PDFium worker. The underlying C library is
// not safe for concurrent use, so every call is serialized on mu; sessions
// above the adapter still use per-session synchronization for lifecycle.
type Engine struct {
	pool     pdfium.Pool
	instance pdfium.Pdfium
	mu       sync.Mutex
}

var _ engine.Engine = (*Engine)(nil)

// New starts a PDFium worker and returns the adapter.
func New() (*Engine, error) {
	pool, err := webassembly.Init(webassembly.Config{})
	if err != nil {
		return nil, fmt.Errorf("initializing pdfium: %w", err)
	}
	instance, err := pool.GetInstance(30 * time.Second)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("acquiring pdfium instance: %w", err)
	}
	return &Engine{pool: pool, instance: instance}, nil
}

// Shutdown releases the PDFium worker. No handles may be used afterwards.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.instance.Close(); err != nil {
		return fmt.Errorf("closing pdfium instance: %w", err)
	}
	return e.pool.Close()
}

func (e *Engine) Open(data []byte) (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resp, err := e.instance.OpenDocument(&requests.OpenDocument{File: &data})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", document.ErrParse, err)
	}
	return &handle{doc: resp.Document}, nil
}

func (e *Engine) PageCount(h engine.Handle) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resp, err := e.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: h.(*handle).doc,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: page count: %v", document.ErrRender, err)
	}
	return resp.PageCount, nil
}

func (e *Engine) Metadata(h engine.Handle) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resp, err := e.instance.GetMetaData(&requests.GetMetaData{
		Document: h.(*handle).doc,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", document.ErrRender, err)
	}
	meta := make(map[string]string, len(resp.Tags))
	for _, tag := range resp.Tags {
		meta[strings.ToLower(tag.Tag)] = tag.Value
	}
	return meta, nil
}

func (e *Engine) RenderPage(h engine.Handle, pageIndex int, scale float64) (*engine.RenderedPage, error) {
	if err := e.checkPage(h, pageIndex); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	dpi := int(float64(baseDPI)*scale + 0.5)
	if dpi < 1 {
		dpi = 1
	}
	resp, err := e.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: dpi,
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{Document: h.(*handle).doc, Index: pageIndex},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", document.ErrRender, pageIndex, err)
	}
	img := resp.Result.Image
	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, fmt.Errorf("%w: encoding page %d: %v", document.ErrRender, pageIndex, err)
	}
	bounds := img.Bounds()
	return &engine.RenderedPage{
		PNG:    out.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

func (e *Engine) ExtractText(h engine.Handle, pageIndex int) (string, error) {
	if err := e.checkPage(h, pageIndex); err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	resp, err := e.instance.GetPageText(&requests.GetPageText{
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{Document: h.(*handle).doc, Index: pageIndex},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: text of page %d: %v", document.ErrRender, pageIndex, err)
	}
	return resp.Text, nil
}

// SearchText matches at text-rect granularity, not character granularity:
// each rect PDFium reports is a run of text with a single position, so every
// occurrence of query inside a rect yields that rect's box, and occurrences
// sharing a rect share identical coordinates. Match counts are exact; only
// the box tightness is coarser than a per-character search.
func (e *Engine) SearchText(h engine.Handle, pageIndex int, query string) ([]document.Box, error) {
	if err := e.checkPage(h, pageIndex); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	resp, err := e.instance.GetPageTextStructured(&requests.GetPageTextStructured{
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{Document: h.(*handle).doc, Index: pageIndex},
		},
		Mode: requests.GetPageTextStructuredModeRects,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: searching page %d: %v", document.ErrRender, pageIndex, err)
	}
	needle := strings.ToLower(query)
	var boxes []document.Box
	for _, rect := range resp.Rects {
		n := strings.Count(strings.ToLower(rect.Text), needle)
		for i := 0; i < n; i++ {
			boxes = append(boxes, document.Box{
				X0: rect.PointPosition.Left,
				Y0: rect.PointPosition.Top,
				X1: rect.PointPosition.Right,
				Y1: rect.PointPosition.Bottom,
			})
		}
	}
	return boxes, nil
}

func (e *Engine) CreateEmpty() (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	resp, err := e.instance.FPDF_CreateNewDocument(&requests.FPDF_CreateNewDocument{})
	if err != nil {
		return nil, fmt.Errorf("%w: creating document: %v", document.ErrRender, err)
	}
	return &handle{doc: resp.Document}, nil
}

func (e *Engine) InsertPages(dst, src engine.Handle) error {
	count, err := e.PageCount(dst)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.instance.FPDF_ImportPages(&requests.FPDF_ImportPages{
		Source:      src.(*handle).doc,
		Destination: dst.(*handle).doc,
		Index:       count,
	})
	if err != nil {
		return fmt.Errorf("%w: importing pages: %v", document.ErrRender, err)
	}
	return nil
}

func (e *Engine) SaveToPath(h engine.Handle, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.instance.FPDF_SaveAsCopy(&requests.FPDF_SaveAsCopy{
		Document: h.(*handle).doc,
		FilePath: &path,
	})
	if err != nil {
		return fmt.Errorf("%w: saving to %s: %v", document.ErrIO, path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: saved file missing: %v", document.ErrIO, err)
	}
	return nil
}

func (e *Engine) Close(h engine.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: h.(*handle).doc,
	})
	if err != nil {
		return fmt.Errorf("closing document: %w", err)
	}
	return nil
}

func (e *Engine) checkPage(h engine.Handle, pageIndex int) error {
	count, err := e.PageCount(h)
	if err != nil {
		return err
	}
	if pageIndex < 0 || pageIndex >= count {
		return fmt.Errorf("%w: %d", document.ErrInvalidPage, pageIndex+1)
	}
	return nil
}
