package persona

// ListFilter narrows an instance listing. Empty or nil fields do not filter.
type ListFilter struct {
	TypeID   string `json:"persona_type_id,omitempty"`
	Project  string `json:"project,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
}

const (
	// DefaultPageSize is used when a caller asks for a non-positive page size.
	DefaultPageSize = 100
	// MaxPageSize bounds a single page.
	MaxPageSize = 1000
)

// Page is one page of an instance listing.
type Page struct {
	Items      []Instance `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}

// TotalPages returns ceil(total/size), and 0 for an empty listing.
func TotalPages(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// PageBounds clamps page (1-based) and size and returns the limit and offset
// that select it.
func PageBounds(page, size int) (limit, offset, clampedPage, clampedSize int) {
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page < 1 {
		page = 1
	}
	return size, (page - 1) * size, page, size
}
