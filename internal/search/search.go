package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	FolderID string `json:"folderId,omitempty"`
	OwnerID  string `json:"ownerId"`
}

// Query describes a search request. ActorID scopes results to diagrams the
// actor can read: owned, directly shared, or reachable through a folder share.
type Query struct {
	Text    string
	ActorID string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push diagrams into a search index.
type Indexer interface {
	IndexDiagram(d DiagramRecord) error
	DeleteDiagram(id string) error
}

// DiagramRecord is the data we index for a diagram. AccessIDs carries the
// owner plus every share subject so the index can filter per actor.
type DiagramRecord struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	FolderID  string   `json:"folderId"`
	OwnerID   string   `json:"ownerId"`
	AccessIDs []string `json:"accessIds"`
}
