package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Slug           string `json:"slug"`
	Snippet        string `json:"snippet"`
	RevisionNumber int    `json:"revisionNumber,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	State  string // empty = any workflow state
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ContentRecord is the data we index for a content item. Body is the plain
// text of its blocks at the indexed revision.
type ContentRecord struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Slug           string `json:"slug"`
	Body           string `json:"body"`
	State          string `json:"state"`
	RevisionNumber int    `json:"revisionNumber"`
}
