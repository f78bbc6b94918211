// Package enginetest provides an in-memory engine implementation for tests.
//
// Documents are encoded as a "%PDF" prefix followed by page texts separated
// by form feeds, so tests can fabricate documents with known content:
//
//	data := enginetest.DocBytes("page one", "page two")
//
// Rendering is deterministic: the PNG bytes encode the page index, scale and
// page text, so tests can assert that concurrent renders do not cross talk.
package enginetest

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pagedock/pagedock/internal/document"
	"github.com/pagedock/pagedock/internal/engine"
)

const docPrefix = "%PDF"

// DocBytes builds a fake document from page texts.
func DocBytes(pages ...string) []byte {
	return []byte(docPrefix + strings.Join(pages, "\f"))
}

type doc struct {
	pages  []string
	meta   map[string]string
	closed bool
}

// Engine is an in-memory engine.Engine. It is safe for concurrent use.
type Engine struct {
	mu   sync.Mutex
	docs map[*doc]struct{}

	// OpenErr, when set, is returned by Open regardless of input.
	OpenErr error
	// SaveErr, when set, is returned by SaveToPath.
	SaveErr error
	// RenderErr, when set, is returned by RenderPage for valid pages.
	RenderErr error
	// CreateEmptyHook, when set, runs at the start of CreateEmpty. Tests use
	// it to interleave work between merge validation and handle acquisition.
	CreateEmptyHook func()
}

var _ engine.Engine = (*Engine)(nil)

// New returns an empty fake engine.
func New() *Engine {
	return &Engine{docs: make(map[*doc]struct{})}
}

// OpenCount reports how many handles are currently open, for leak checks.
func (e *Engine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for d := range e.docs {
		if !d.closed {
			n++
		}
	}
	return n
}

func (e *Engine) Open(data []byte) (engine.Handle, error) {
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	if !bytes.HasPrefix(data, []byte(docPrefix)) {
		return nil, fmt.Errorf("%w: bad magic", document.ErrParse)
	}
	body := string(data[len(docPrefix):])
	d := &doc{
		pages: strings.Split(body, "\f"),
		meta:  map[string]string{"producer": "enginetest"},
	}
	e.mu.Lock()
	e.docs[d] = struct{}{}
	e.mu.Unlock()
	return d, nil
}

func (e *Engine) PageCount(h engine.Handle) (int, error) {
	d, err := e.resolve(h)
	if err != nil {
		return 0, err
	}
	return len(d.pages), nil
}

func (e *Engine) Metadata(h engine.Handle) (map[string]string, error) {
	d, err := e.resolve(h)
	if err != nil {
		return nil, err
	}
	return d.meta, nil
}

func (e *Engine) RenderPage(h engine.Handle, pageIndex int, scale float64) (*engine.RenderedPage, error) {
	d, err := e.resolve(h)
	if err != nil {
		return nil, err
	}
	if pageIndex < 0 || pageIndex >= len(d.pages) {
		return nil, fmt.Errorf("%w: %d", document.ErrInvalidPage, pageIndex+1)
	}
	if e.RenderErr != nil {
		return nil, e.RenderErr
	}
	return &engine.RenderedPage{
		PNG:    []byte(fmt.Sprintf("png[%d@%g]%s", pageIndex, scale, d.pages[pageIndex])),
		Width:  int(612 * scale),
		Height: int(792 * scale),
	}, nil
}

func (e *Engine) ExtractText(h engine.Handle, pageIndex int) (string, error) {
	d, err := e.resolve(h)
	if err != nil {
		return "", err
	}
	if pageIndex < 0 || pageIndex >= len(d.pages) {
		return "", fmt.Errorf("%w: %d", document.ErrInvalidPage, pageIndex+1)
	}
	return d.pages[pageIndex], nil
}

func (e *Engine) SearchText(h engine.Handle, pageIndex int, query string) ([]document.Box, error) {
	d, err := e.resolve(h)
	if err != nil {
		return nil, err
	}
	if pageIndex < 0 || pageIndex >= len(d.pages) {
		return nil, fmt.Errorf("%w: %d", document.ErrInvalidPage, pageIndex+1)
	}
	var boxes []document.Box
	text := strings.ToLower(d.pages[pageIndex])
	needle := strings.ToLower(query)
	for at := 0; ; {
		i := strings.Index(text[at:], needle)
		if i < 0 {
			break
		}
		off := float64(at + i)
		boxes = append(boxes, document.Box{X0: off, Y0: 0, X1: off + float64(len(needle)), Y1: 10})
		at += i + len(needle)
	}
	return boxes, nil
}

func (e *Engine) CreateEmpty() (engine.Handle, error) {
	if e.CreateEmptyHook != nil {
		e.CreateEmptyHook()
	}
	d := &doc{pages: nil, meta: map[string]string{"producer": "enginetest"}}
	e.mu.Lock()
	e.docs[d] = struct{}{}
	e.mu.Unlock()
	return d, nil
}

func (e *Engine) InsertPages(dst, src engine.Handle) error {
	dd, err := e.resolve(dst)
	if err != nil {
		return err
	}
	sd, err := e.resolve(src)
	if err != nil {
		return err
	}
	e.mu.Lock()
	dd.pages = append(dd.pages, sd.pages...)
	e.mu.Unlock()
	return nil
}

func (e *Engine) SaveToPath(h engine.Handle, path string) error {
	d, err := e.resolve(h)
	if err != nil {
		return err
	}
	if e.SaveErr != nil {
		return e.SaveErr
	}
	if err := os.WriteFile(path, DocBytes(d.pages...), 0600); err != nil {
		return fmt.Errorf("%w: %v", document.ErrIO, err)
	}
	return nil
}

func (e *Engine) Close(h engine.Handle) error {
	d, err := e.resolve(h)
	if err != nil {
		return err
	}
	e.mu.Lock()
	d.closed = true
	e.mu.Unlock()
	return nil
}

// resolve fails loudly on use-after-close: the registry's state machine is
// supposed to make that impossible.
func (e *Engine) resolve(h engine.Handle) (*doc, error) {
	d, ok := h.(*doc)
	if !ok {
		return nil, fmt.Errorf("%w: foreign handle", document.ErrRender)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%w: use after close", document.ErrRender)
	}
	return d, nil
}
