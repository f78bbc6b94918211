// Package document holds the value types and error taxonomy shared by the
// registry, dispatcher, storage manager and engine adapters.
package document

// Info is an immutable snapshot of an open session.
type Info struct {
	ID        string            `json:"file_id"`
	Filename  string            `json:"filename"`
	PageCount int               `json:"page_count"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Summary is the listing view of an open session.
type Summary struct {
	ID        string `json:"file_id"`
	Filename  string `json:"filename"`
	PageCount int    `json:"page_count"`
}

// Box is a rectangle in page coordinate space locating a search match.
type Box struct {
	X0 float64
	Y0 float64
	X1 float64
	Y1 float64
}

// Match is a single search hit, tagged with its 1-based page number.
type Match struct {
	PageNum int        `json:"page_num"`
	BBox    [4]float64 `json:"bbox"`
	Text    string     `json:"text"`
}
