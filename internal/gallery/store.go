package gallery

// Store defines gallery persistence. Two implementations exist: FileStore
// (JSON file, bounded size) and GormStore (Postgres). Both share one policy,
// documented in DESIGN.md: newest-first ordering and case-insensitive
// substring search over the prompt.
type Store interface {
	// Add inserts an item. Re-adding an existing job id is a no-op apart
	// from refreshing the stored media URLs when the new item carries any.
	Add(item Item) error
	// Get returns the item or nil when absent.
	Get(jobID string) *Item
	// List returns a page of public items. typeFilter "" or "all" means
	// unfiltered; a non-empty search matches the prompt case-insensitively.
	List(typeFilter string, limit, offset int, search string) ListResult
	// ListByWallet matches the owner wallet case-insensitively. A limit
	// of zero or less means no explicit cap for the file backend.
	ListByWallet(wallet string, limit int) []Item
	Delete(jobID string) error
	SetPublic(jobID string, isPublic bool) error
	Count() int
}
