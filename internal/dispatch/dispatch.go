// Package dispatch implements the user-facing document operations. Each
// operation validates its inputs before touching the engine or storage,
// returns exactly one typed error on failure, and performs compensating
// cleanup when a failure strikes mid-operation.
package dispatch

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pagedock/pagedock/internal/document"
	"github.com/pagedock/pagedock/internal/engine"
	"github.com/pagedock/pagedock/internal/metrics"
	"github.com/pagedock/pagedock/internal/registry"
	"github.com/pagedock/pagedock/internal/storage"
)

// Dispatcher coordinates the registry, engine and storage for each
// user-facing operation.
type Dispatcher struct {
	registry *registry.Registry
	engine   engine.Engine
	storage  *storage.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New wires a dispatcher.
func New(reg *registry.Registry, eng engine.Engine, store *storage.Manager, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		engine:   eng,
		storage:  store,
		metrics:  m,
		logger:   logger.With().Str("component", "dispatch").Logger(),
	}
}

// RenderResult is a rasterized page encoded for transport.
type RenderResult struct {
	PageNum   int    `json:"page_num"`
	ImageData string `json:"image_data"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// TextResult is the raw text of one page.
type TextResult struct {
	PageNum int    `json:"page_num"`
	Text    string `json:"text"`
}

// SearchResult aggregates matches across the whole document.
type SearchResult struct {
	Query        string           `json:"query"`
	Results      []document.Match `json:"results"`
	TotalMatches int              `json:"total_matches"`
}

// MergeResult describes the session created by a merge.
type MergeResult struct {
	MergeID   string `json:"merge_id"`
	PageCount int    `json:"page_count"`
	Filename  string `json:"filename"`
}

// FileRef points at a downloadable backing file.
type FileRef struct {
	Path     string
	Filename string
}

// Register validates an upload and creates a session for it.
func (d *Dispatcher) Register(data []byte, filename string) (info document.Info, err error) {
	defer d.observe("register", time.Now(), &err)
	if filename == "" {
		return document.Info{}, fmt.Errorf("%w: no file selected", document.ErrInvalidInput)
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return document.Info{}, fmt.Errorf("%w: only PDF files are allowed", document.ErrInvalidInput)
	}
	if len(data) == 0 {
		return document.Info{}, fmt.Errorf("%w: empty file", document.ErrInvalidInput)
	}
	info, err = d.registry.Register(data, filename)
	if err != nil {
		return document.Info{}, err
	}
	d.metrics.DocumentsOpen.Inc()
	d.metrics.DocumentsTotal.Inc()
	d.metrics.UploadedBytesTotal.Add(float64(len(data)))
	return info, nil
}

// Info returns the session summary for id.
func (d *Dispatcher) Info(id string) (document.Info, error) {
	return d.registry.Get(id)
}

// Render rasterizes 1-based page pageNum. zoom is the raw query value: empty
// means 1.0, anything that does not parse as a positive number is an
// ErrInvalidParameter.
func (d *Dispatcher) Render(id string, pageNum int, zoom string) (res RenderResult, err error) {
	defer d.observe("render", time.Now(), &err)
	info, err := d.registry.Get(id)
	if err != nil {
		return RenderResult{}, err
	}
	if pageNum < 1 || pageNum > info.PageCount {
		return RenderResult{}, fmt.Errorf("%w: %d", document.ErrInvalidPage, pageNum)
	}
	scale := 1.0
	if zoom != "" {
		scale, err = strconv.ParseFloat(zoom, 64)
		if err != nil || scale <= 0 {
			return RenderResult{}, fmt.Errorf("%w: zoom %q", document.ErrInvalidParameter, zoom)
		}
	}

	handle, release, err := d.registry.Acquire(id)
	if err != nil {
		return RenderResult{}, err
	}
	defer release()

	page, err := d.engine.RenderPage(handle, pageNum-1, scale)
	if err != nil {
		return RenderResult{}, err
	}
	return RenderResult{
		PageNum:   pageNum,
		ImageData: "data:image/png;base64," + base64.StdEncoding.EncodeToString(page.PNG),
		Width:     page.Width,
		Height:    page.Height,
	}, nil
}

// ExtractText returns the text of 1-based page pageNum.
func (d *Dispatcher) ExtractText(id string, pageNum int) (res TextResult, err error) {
	defer d.observe("text", time.Now(), &err)
	info, err := d.registry.Get(id)
	if err != nil {
		return TextResult{}, err
	}
	if pageNum < 1 || pageNum > info.PageCount {
		return TextResult{}, fmt.Errorf("%w: %d", document.ErrInvalidPage, pageNum)
	}

	handle, release, err := d.registry.Acquire(id)
	if err != nil {
		return TextResult{}, err
	}
	defer release()

	text, err := d.engine.ExtractText(handle, pageNum-1)
	if err != nil {
		return TextResult{}, err
	}
	return TextResult{PageNum: pageNum, Text: text}, nil
}

// Search scans every page of the document in order and aggregates matches
// into one flat sequence; result order follows page order.
func (d *Dispatcher) Search(id, query string) (res SearchResult, err error) {
	defer d.observe("search", time.Now(), &err)
	if query == "" {
		return SearchResult{}, fmt.Errorf("%w: search query required", document.ErrInvalidParameter)
	}
	info, err := d.registry.Get(id)
	if err != nil {
		return SearchResult{}, err
	}

	handle, release, err := d.registry.Acquire(id)
	if err != nil {
		return SearchResult{}, err
	}
	defer release()

	matches := make([]document.Match, 0)
	for page := 0; page < info.PageCount; page++ {
		boxes, err := d.engine.SearchText(handle, page, query)
		if err != nil {
			return SearchResult{}, err
		}
		for _, b := range boxes {
			matches = append(matches, document.Match{
				PageNum: page + 1,
				BBox:    [4]float64{b.X0, b.Y0, b.X1, b.Y1},
				Text:    query,
			})
		}
	}
	return SearchResult{Query: query, Results: matches, TotalMatches: len(matches)}, nil
}

// Merge concatenates the page sequences of the given sessions, in id order,
// into a new session. All ids are validated before anything is mutated, and
// liveness is re-checked as each source handle is acquired; any failure
// aborts the whole merge with no partial registration. Source sessions are
// untouched.
func (d *Dispatcher) Merge(ids []string) (res MergeResult, err error) {
	defer d.observe("merge", time.Now(), &err)
	if len(ids) == 0 {
		return MergeResult{}, fmt.Errorf("%w: file ids required", document.ErrInvalidInput)
	}
	for _, id := range ids {
		if _, err := d.registry.Get(id); err != nil {
			return MergeResult{}, err
		}
	}

	dest, err := d.engine.CreateEmpty()
	if err != nil {
		return MergeResult{}, err
	}
	abort := func() {
		if closeErr := d.engine.Close(dest); closeErr != nil {
			d.logger.Error().Err(closeErr).Msg("discarding merge destination")
		}
	}

	for _, id := range ids {
		// A source may have been deleted since validation; re-check at the
		// point of use and abort wholesale if so.
		handle, release, acqErr := d.registry.Acquire(id)
		if acqErr != nil {
			abort()
			return MergeResult{}, acqErr
		}
		insErr := d.engine.InsertPages(dest, handle)
		release()
		if insErr != nil {
			abort()
			return MergeResult{}, insErr
		}
	}

	pageCount, err := d.engine.PageCount(dest)
	if err != nil {
		abort()
		return MergeResult{}, err
	}
	meta, err := d.engine.Metadata(dest)
	if err != nil {
		abort()
		return MergeResult{}, err
	}

	mergeID := uuid.NewString()
	filename := "merged_" + mergeID + ".pdf"
	path := d.storage.MergedPath(mergeID)
	if err := d.engine.SaveToPath(dest, path); err != nil {
		abort()
		return MergeResult{}, err
	}
	if err := d.registry.Insert(mergeID, filename, path, pageCount, meta, dest); err != nil {
		if rmErr := d.storage.Remove(path); rmErr != nil {
			d.logger.Error().Err(rmErr).Str("path", path).Msg("discarding merge file")
		}
		abort()
		return MergeResult{}, err
	}

	d.metrics.DocumentsOpen.Inc()
	d.metrics.DocumentsTotal.Inc()
	d.metrics.MergedPagesTotal.Add(float64(pageCount))
	d.logger.Info().Str("id", mergeID).Int("pages", pageCount).Int("sources", len(ids)).Msg("documents merged")
	return MergeResult{MergeID: mergeID, PageCount: pageCount, Filename: filename}, nil
}

// Download resolves a session to its backing file. A missing or unreadable
// file behind an Open session is an internal inconsistency reported as ErrIO.
func (d *Dispatcher) Download(id string) (ref FileRef, err error) {
	defer d.observe("download", time.Now(), &err)
	path, filename, err := d.registry.File(id)
	if err != nil {
		return FileRef{}, err
	}
	if err := d.storage.Stat(path); err != nil {
		return FileRef{}, err
	}
	return FileRef{Path: path, Filename: filename}, nil
}

// List returns all open sessions in insertion order.
func (d *Dispatcher) List() []document.Summary {
	return d.registry.List()
}

// Delete closes and removes a session.
func (d *Dispatcher) Delete(id string) (err error) {
	defer d.observe("delete", time.Now(), &err)
	err = d.registry.Delete(id)
	if err == nil || !errors.Is(err, document.ErrNotFound) {
		// The entry is gone even when file removal failed.
		d.metrics.DocumentsOpen.Dec()
	}
	return err
}

func (d *Dispatcher) observe(op string, start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
	}
	d.metrics.OperationsTotal.WithLabelValues(op, status).Inc()
	d.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
