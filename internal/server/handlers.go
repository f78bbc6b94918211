package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pagedock/pagedock/internal/document"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type mergeRequest struct {
	FileIDs []string `json:"file_ids"`
}

type listResponse struct {
	Documents []document.Summary `json:"documents"`
}

type deleteResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "healthy", Service: "pagedock"})
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "no file provided"})
	}
	f, err := fh.Open()
	if err != nil {
		return s.respondError(c, document.ErrIO)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return s.respondError(c, document.ErrIO)
	}

	info, err := s.dispatcher.Register(data, fh.Filename)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleInfo(c echo.Context) error {
	info, err := s.dispatcher.Info(c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	// The info route reports the summary only; metadata is returned by
	// upload.
	return c.JSON(http.StatusOK, document.Summary{
		ID:        info.ID,
		Filename:  info.Filename,
		PageCount: info.PageCount,
	})
}

func (s *Server) handleRender(c echo.Context) error {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return s.respondError(c, document.ErrInvalidPage)
	}
	res, err := s.dispatcher.Render(c.Param("id"), page, c.QueryParam("zoom"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleText(c echo.Context) error {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return s.respondError(c, document.ErrInvalidPage)
	}
	res, err := s.dispatcher.ExtractText(c.Param("id"), page)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "search query required"})
	}
	res, err := s.dispatcher.Search(c.Param("id"), req.Query)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleMerge(c echo.Context) error {
	var req mergeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "file ids required"})
	}
	res, err := s.dispatcher.Merge(req.FileIDs)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleDownload(c echo.Context) error {
	ref, err := s.dispatcher.Download(c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.Attachment(ref.Path, ref.Filename)
}

func (s *Server) handleList(c echo.Context) error {
	return c.JSON(http.StatusOK, listResponse{Documents: s.dispatcher.List()})
}

func (s *Server) handleDelete(c echo.Context) error {
	if err := s.dispatcher.Delete(c.Param("id")); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, deleteResponse{Message: "document deleted"})
}

// respondError maps a typed error to a status code and a stable message.
// Validation errors carry our own wrap text and are safe to return; engine
// and storage failures are reported generically and logged with full detail.
func (s *Server) respondError(c echo.Context, err error) error {
	var status int
	var msg string
	switch {
	case errors.Is(err, document.ErrNotFound):
		status, msg = http.StatusNotFound, document.ErrNotFound.Error()
	case errors.Is(err, document.ErrInvalidInput),
		errors.Is(err, document.ErrInvalidPage),
		errors.Is(err, document.ErrInvalidParameter):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, document.ErrParse):
		status, msg = http.StatusInternalServerError, document.ErrParse.Error()
	case errors.Is(err, document.ErrRender):
		status, msg = http.StatusInternalServerError, "document engine failure"
	case errors.Is(err, document.ErrIO):
		status, msg = http.StatusInternalServerError, "storage failure"
	default:
		status, msg = http.StatusInternalServerError, "internal error"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	}
	return c.JSON(status, errorResponse{Error: msg})
}
