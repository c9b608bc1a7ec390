package reference

// BatchKind distinguishes network searches from file or id-list imports.
type BatchKind string

const (
	KindSearch BatchKind = "search"
	KindImport BatchKind = "import"
)

// ImportBatch is one execution of a search or upload that produced or
// attached references.
type ImportBatch struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Source    string    `json:"source"`
	Kind      BatchKind `json:"kind"`
	Title     string    `json:"title"`
	Query     string    `json:"query,omitempty"`     // search string or id list
	FileName  string    `json:"file_name,omitempty"` // uploaded file, for imports
	CreatedAt string    `json:"created_at,omitempty"`
}
