package common

// TileFetchResult represents the result of fetching a single tile
type TileFetchResult struct {
	// Col and Row locate the tile inside its grid
	Col int
	Row int

	// Data contains the raw tile image data
	Data []byte

	// Success indicates whether the fetch succeeded
	Success bool

	// Error contains any error that occurred during the fetch
	Error error

	// Index preserves the original order for async operations
	Index int
}
