package document

import "errors"

// Sentinel errors shared by the registry, dispatcher, storage manager and
// engine adapters. Callers classify failures with errors.Is; the HTTP layer
// maps each kind to a status code.
var (
	// ErrNotFound is returned when a session id is unknown or already closed.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidInput is returned for a missing file, missing query, missing
	// id list or a non-PDF upload.
	ErrInvalidInput = errors.New("invalid input")

	// ErrParse is returned when bytes cannot be opened as a document.
	ErrParse = errors.New("failed to parse document")

	// ErrInvalidPage is returned for a page number outside [1, pageCount].
	ErrInvalidPage = errors.New("invalid page number")

	// ErrInvalidParameter is returned for a malformed request parameter,
	// such as a zoom factor that is not a positive number.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrRender is returned when the engine fails mid-operation.
	ErrRender = errors.New("render failed")

	// ErrIO is returned when backing storage cannot be read, written or
	// removed.
	ErrIO = errors.New("storage failure")
)
