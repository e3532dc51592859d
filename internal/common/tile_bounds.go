package common

// TileBounds represents the min/max row and column bounds of a tile set
type TileBounds struct {
	MinCol int
	MaxCol int
	MinRow int
	MaxRow int
}

// Cols returns the number of columns in the bounds
func (tb TileBounds) Cols() int {
	return tb.MaxCol - tb.MinCol + 1
}

// Rows returns the number of rows in the bounds
func (tb TileBounds) Rows() int {
	return tb.MaxRow - tb.MinRow + 1
}

// Contains reports whether (col, row) lies inside the bounds
func (tb TileBounds) Contains(col, row int) bool {
	return col >= tb.MinCol && col <= tb.MaxCol && row >= tb.MinRow && row <= tb.MaxRow
}

// GridBounds returns the bounds of the full 2^zoom x 2^zoom tile grid
func GridBounds(zoom int) TileBounds {
	if zoom < 0 {
		zoom = 0
	}
	n := 1 << zoom
	return TileBounds{MinCol: 0, MaxCol: n - 1, MinRow: 0, MaxRow: n - 1}
}

// NeighborhoodBounds returns the square of tiles within radius of (col, row).
// The result is not clipped to any grid.
func NeighborhoodBounds(col, row, radius int) TileBounds {
	return TileBounds{
		MinCol: col - radius,
		MaxCol: col + radius,
		MinRow: row - radius,
		MaxRow: row + radius,
	}
}
