// Package engine defines the narrow contract between the service and the
// external document engine. Implementations translate engine-specific
// failures into the document error taxonomy at this boundary; nothing above
// the adapter sees an engine-native error.
package engine

import "github.com/pagedock/pagedock/internal/document"

// Handle is an opaque reference to a parsed document held by an Engine.
// Every handle is owned by exactly one session; the registry's state machine
// guarantees Close is called at most once per handle.
type Handle any

// RenderedPage is the result of rasterizing a single page.
type RenderedPage struct {
	PNG    []byte
	Width  int
	Height int
}

// Engine is the document engine contract. Calls are synchronous and may
// block on CPU-bound parsing or rendering work.
type Engine interface {
	// Open parses data into a document handle. Returns document.ErrParse
	// (wrapped) when the bytes are not a valid document.
	Open(data []byte) (Handle, error)

	// PageCount reports the number of pages behind h.
	PageCount(h Handle) (int, error)

	// Metadata returns the document's metadata as an opaque string map.
	Metadata(h Handle) (map[string]string, error)

	// RenderPage rasterizes the 0-based pageIndex at the given scale factor
	// (1.0 is native resolution). Returns document.ErrInvalidPage for an
	// out-of-range index and document.ErrRender on engine failure.
	RenderPage(h Handle, pageIndex int, scale float64) (*RenderedPage, error)

	// ExtractText returns the raw text of the 0-based pageIndex.
	ExtractText(h Handle, pageIndex int) (string, error)

	// SearchText returns one bounding box per occurrence of query on the
	// 0-based pageIndex, in engine order. Box granularity is engine-defined:
	// an engine may report the box of the text run containing the match
	// rather than the match itself. Empty slice on no match.
	SearchText(h Handle, pageIndex int, query string) ([]document.Box, error)

	// CreateEmpty returns a handle to a new document with no pages.
	CreateEmpty() (Handle, error)

	// InsertPages appends all pages of src, in order, to the end of dst.
	// src is not modified.
	InsertPages(dst, src Handle) error

	// SaveToPath writes the document behind h to path.
	SaveToPath(h Handle, path string) error

	// Close releases engine resources for h. Must be called exactly once.
	Close(h Handle) error
}
