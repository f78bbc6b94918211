package dispatch

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagedock/pagedock/internal/document"
	"github.com/pagedock/pagedock/internal/engine/enginetest"
	"github.com/pagedock/pagedock/internal/metrics"
	"github.com/pagedock/pagedock/internal/registry"
	"github.com/pagedock/pagedock/internal/storage"
)

type fixture struct {
	dispatcher *Dispatcher
	engine     *enginetest.Engine
	registry   *registry.Registry
	storage    *storage.Manager
	uploadDir  string
	mergedDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	eng := enginetest.New()
	base := t.TempDir()
	uploadDir := base + "/uploads"
	mergedDir := base + "/merged"
	store, err := storage.New(uploadDir, mergedDir, zerolog.Nop())
	require.NoError(t, err)
	reg := registry.New(eng, store, zerolog.Nop())
	d := New(reg, eng, store, metrics.New(), zerolog.Nop())
	return &fixture{
		dispatcher: d,
		engine:     eng,
		registry:   reg,
		storage:    store,
		uploadDir:  uploadDir,
		mergedDir:  mergedDir,
	}
}

func (f *fixture) mustRegister(t *testing.T, name string, pages ...string) document.Info {
	t.Helper()
	info, err := f.dispatcher.Register(enginetest.DocBytes(pages...), name)
	require.NoError(t, err)
	return info
}

func TestDispatcher_RegisterValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		data     []byte
		filename string
		wantErr  error
	}{
		{"empty filename", enginetest.DocBytes("p"), "", document.ErrInvalidInput},
		{"wrong extension", enginetest.DocBytes("p"), "notes.txt", document.ErrInvalidInput},
		{"empty data", nil, "empty.pdf", document.ErrInvalidInput},
		{"unparseable bytes", []byte("garbage"), "bad.pdf", document.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.dispatcher.Register(tt.data, tt.filename)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Uppercase extension is accepted.
	_, err := f.dispatcher.Register(enginetest.DocBytes("p"), "SCAN.PDF")
	assert.NoError(t, err)
}

func TestDispatcher_Render(t *testing.T) {
	f := newFixture(t)
	info := f.mustRegister(t, "doc.pdf", "alpha", "beta")

	res, err := f.dispatcher.Render(info.ID, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageNum)
	require.True(t, strings.HasPrefix(res.ImageData, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(res.ImageData, "data:image/png;base64,"))
	require.NoError(t, err)
	// Default zoom is 1.0 and the page index is converted to 0-based.
	assert.Equal(t, "png[1@1]beta", string(raw))
	assert.Equal(t, 612, res.Width)
	assert.Equal(t, 792, res.Height)
}

func TestDispatcher_RenderZoom(t *testing.T) {
	f := newFixture(t)
	info := f.mustRegister(t, "doc.pdf", "only")

	res, err := f.dispatcher.Render(info.ID, 1, "2.5")
	require.NoError(t, err)
	assert.Equal(t, 1530, res.Width)

	for _, zoom := range []string{"abc", "0", "-1.5", "2x"} {
		t.Run(zoom, func(t *testing.T) {
			_, err := f.dispatcher.Render(info.ID, 1, zoom)
			assert.ErrorIs(t, err, document.ErrInvalidParameter)
		})
	}
}

func TestDispatcher_RenderInvalidPage(t *testing.T) {
	f := newFixture(t)
	info := f.mustRegister(t, "doc.pdf", "a", "b", "c")

	for _, page := range []int{0, -1, 4, 100} {
		_, err := f.dispatcher.Render(info.ID, page, "")
		assert.ErrorIs(t, err, document.ErrInvalidPage, "page %d", page)
	}
}

func TestDispatcher_RenderUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.Render("missing", 1, "")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestDispatcher_ConcurrentRendersDoNotCrossTalk(t *testing.T) {
	f := newFixture(t)
	pages := make([]string, 10)
	for i := range pages {
		pages[i] = fmt.Sprintf("content-%d", i)
	}
	info := f.mustRegister(t, "doc.pdf", pages...)

	var wg sync.WaitGroup
	for i := 1; i <= len(pages); i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			res, err := f.dispatcher.Render(info.ID, page, "")
			if !assert.NoError(t, err) {
				return
			}
			raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(res.ImageData, "data:image/png;base64,"))
			assert.Equal(t, fmt.Sprintf("png[%d@1]content-%d", page-1, page-1), string(raw))
		}(i)
	}
	wg.Wait()
}

func TestDispatcher_ExtractText(t *testing.T) {
	f := newFixture(t)
	info := f.mustRegister(t, "doc.pdf", "first page", "second page")

	res, err := f.dispatcher.ExtractText(info.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageNum)
	assert.Equal(t, "second page", res.Text)

	_, err = f.dispatcher.ExtractText(info.ID, 3)
	assert.ErrorIs(t, err, document.ErrInvalidPage)
}

func TestDispatcher_Search(t *testing.T) {
	f := newFixture(t)
	info := f.mustRegister(t, "doc.pdf",
		"the quick brown fox",
		"nothing here",
		"fox and fox again")

	res, err := f.dispatcher.Search(info.ID, "fox")
	require.NoError(t, err)
	assert.Equal(t, "fox", res.Query)
	assert.Equal(t, 3, res.TotalMatches)
	require.Len(t, res.Results, 3)
	// Page iteration order is preserved: page 1 first, then page 3 twice.
	assert.Equal(t, 1, res.Results[0].PageNum)
	assert.Equal(t, 3, res.Results[1].PageNum)
	assert.Equal(t, 3, res.Results[2].PageNum)
	for _, m := range res.Results {
		assert.Equal(t, "fox", m.Text)
	}
}

func TestDispatcher_SearchNoMatches(t *testing.T) {
	f := newFixture(t)
	info := f.mustRegister(t, "doc.pdf", "some text", "more text")

	res, err := f.dispatcher.Search(info.ID, "Zzyzx")
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalMatches)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
}

func TestDispatcher_SearchMissingQuery(t *testing.T) {
	f := newFixture(t)
	info := f.mustRegister(t, "doc.pdf", "text")

	_, err := f.dispatcher.Search(info.ID, "")
	assert.ErrorIs(t, err, document.ErrInvalidParameter)
}

func TestDispatcher_Merge(t *testing.T) {
	f := newFixture(t)
	a := f.mustRegister(t, "a.pdf", "a1", "a2", "a3")
	b := f.mustRegister(t, "b.pdf", "b1", "b2")

	res, err := f.dispatcher.Merge([]string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, res.PageCount)
	assert.Equal(t, "merged_"+res.MergeID+".pdf", res.Filename)

	// Page i of the result matches page i of A, then pages of B follow.
	for i, want := range []string{"a1", "a2", "a3", "b1", "b2"} {
		got, err := f.dispatcher.ExtractText(res.MergeID, i+1)
		require.NoError(t, err)
		assert.Equal(t, want, got.Text)
	}

	// Sources remain open and untouched.
	for _, src := range []document.Info{a, b} {
		got, err := f.dispatcher.Info(src.ID)
		require.NoError(t, err)
		assert.Equal(t, src.PageCount, got.PageCount)
	}

	// The merged file exists and is downloadable.
	ref, err := f.dispatcher.Download(res.MergeID)
	require.NoError(t, err)
	assert.Equal(t, res.Filename, ref.Filename)
	_, err = os.Stat(ref.Path)
	require.NoError(t, err)
}

func TestDispatcher_MergeUnknownIDIsAtomic(t *testing.T) {
	f := newFixture(t)
	a := f.mustRegister(t, "a.pdf", "a1")

	before := f.registry.Len()
	_, err := f.dispatcher.Merge([]string{a.ID, "missing"})
	require.ErrorIs(t, err, document.ErrNotFound)

	assert.Equal(t, before, f.registry.Len(), "no session may be created")
	entries, readErr := os.ReadDir(f.mergedDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "no merge file may be left behind")

	// The valid source is untouched.
	_, err = f.dispatcher.Info(a.ID)
	assert.NoError(t, err)
}

func TestDispatcher_MergeSourceDeletedBeforeUse(t *testing.T) {
	f := newFixture(t)
	a := f.mustRegister(t, "a.pdf", "a1")
	b := f.mustRegister(t, "b.pdf", "b1")

	// Delete b in the window between merge validation and handle
	// acquisition; Merge re-checks liveness at the point of use.
	f.engine.CreateEmptyHook = func() {
		f.engine.CreateEmptyHook = nil
		require.NoError(t, f.dispatcher.Delete(b.ID))
	}

	before := f.registry.Len() - 1 // b is about to go
	openBefore := f.engine.OpenCount() - 1
	_, err := f.dispatcher.Merge([]string{a.ID, b.ID})
	require.ErrorIs(t, err, document.ErrNotFound)
	assert.Equal(t, before, f.registry.Len())
	assert.Equal(t, openBefore, f.engine.OpenCount(), "merge destination handle must be released")
}

func TestDispatcher_MergeEmptyList(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.Merge(nil)
	assert.ErrorIs(t, err, document.ErrInvalidInput)
}

func TestDispatcher_MergeSaveFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	a := f.mustRegister(t, "a.pdf", "a1")
	f.engine.SaveErr = fmt.Errorf("%w: disk full", document.ErrIO)

	before := f.registry.Len()
	openBefore := f.engine.OpenCount()
	_, err := f.dispatcher.Merge([]string{a.ID})
	require.ErrorIs(t, err, document.ErrIO)
	assert.Equal(t, before, f.registry.Len())
	assert.Equal(t, openBefore, f.engine.OpenCount())
}

func TestDispatcher_Download(t *testing.T) {
	f := newFixture(t)
	info := f.mustRegister(t, "contract.pdf", "p1")

	ref, err := f.dispatcher.Download(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "contract.pdf", ref.Filename)

	// A missing backing file behind an open session is an internal
	// inconsistency, not a NotFound.
	require.NoError(t, os.Remove(ref.Path))
	_, err = f.dispatcher.Download(info.ID)
	assert.ErrorIs(t, err, document.ErrIO)

	_, err = f.dispatcher.Download("missing")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestDispatcher_DeleteThenEverythingNotFound(t *testing.T) {
	f := newFixture(t)
	info := f.mustRegister(t, "doc.pdf", "p1", "p2")

	require.NoError(t, f.dispatcher.Delete(info.ID))

	_, err := f.dispatcher.Info(info.ID)
	assert.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.dispatcher.Render(info.ID, 1, "")
	assert.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.dispatcher.ExtractText(info.ID, 1)
	assert.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.dispatcher.Search(info.ID, "p")
	assert.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.dispatcher.Download(info.ID)
	assert.ErrorIs(t, err, document.ErrNotFound)
	assert.ErrorIs(t, f.dispatcher.Delete(info.ID), document.ErrNotFound)
}

func TestDispatcher_ListTracksLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.mustRegister(t, "a.pdf", "p")
	b := f.mustRegister(t, "b.pdf", "p")

	ids := func() []string {
		var out []string
		for _, s := range f.dispatcher.List() {
			out = append(out, s.ID)
		}
		return out
	}
	assert.Equal(t, []string{a.ID, b.ID}, ids())

	res, err := f.dispatcher.Merge([]string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, res.MergeID}, ids())

	require.NoError(t, f.dispatcher.Delete(a.ID))
	assert.Equal(t, []string{b.ID, res.MergeID}, ids())
}
