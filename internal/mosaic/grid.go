package mosaic

import (
	"fmt"
	"image"
	"math"
)

// GridSpec holds the inputs of the grid layout.
type GridSpec struct {
	TargetTiles     int     // upper bound on columns*rows
	TileSize        int     // cell edge in pixels
	AspectRatio     float64 // columns / rows
	MaxCanvasHeight int     // 0 means unbounded
}

// Validate rejects non-positive configuration values.
func (s GridSpec) Validate() error {
	switch {
	case s.TargetTiles <= 0:
		return fmt.Errorf("%w: target tile count %d", ErrInvalidGrid, s.TargetTiles)
	case s.TileSize <= 0:
		return fmt.Errorf("%w: tile size %d", ErrInvalidGrid, s.TileSize)
	case !(s.AspectRatio > 0) || math.IsInf(s.AspectRatio, 0):
		return fmt.Errorf("%w: aspect ratio %v", ErrInvalidGrid, s.AspectRatio)
	case s.MaxCanvasHeight < 0:
		return fmt.Errorf("%w: max canvas height %d", ErrInvalidGrid, s.MaxCanvasHeight)
	case s.MaxCanvasHeight > 0 && s.MaxCanvasHeight < s.TileSize:
		return fmt.Errorf("%w: max canvas height %d is below one tile (%d)",
			ErrInvalidGrid, s.MaxCanvasHeight, s.TileSize)
	}
	return nil
}

// Grid partitions the canvas into equal cells. Canvas dimensions are derived
// from the cell count so the cells tile it exactly.
type Grid struct {
	Columns      int `json:"columns"`
	Rows         int `json:"rows"`
	CellWidth    int `json:"cellWidth"`
	CellHeight   int `json:"cellHeight"`
	CanvasWidth  int `json:"canvasWidth"`
	CanvasHeight int `json:"canvasHeight"`
}

// CellID is the raster index of a cell: row*Columns + column.
type CellID int

// Cell is one rectangle of a grid.
type Cell struct {
	ID   CellID
	Col  int
	Row  int
	Rect image.Rectangle
	Tile TileID
}

// ComputeGrid picks columns and rows so that columns/rows approximates the
// aspect ratio and columns*rows does not exceed the target. Rows are the
// constrained dimension: they are rounded down first and capped by the
// maximum canvas height.
func ComputeGrid(spec GridSpec) (Grid, error) {
	if err := spec.Validate(); err != nil {
		return Grid{}, err
	}

	rows := int(math.Floor(math.Sqrt(float64(spec.TargetTiles) / spec.AspectRatio)))
	if rows < 1 {
		rows = 1
	}
	if spec.MaxCanvasHeight > 0 {
		if maxRows := spec.MaxCanvasHeight / spec.TileSize; rows > maxRows {
			rows = maxRows
		}
	}
	if rows > spec.TargetTiles {
		rows = spec.TargetTiles
	}

	// Clamp in float space so extreme aspect ratios cannot overflow int.
	cols := spec.TargetTiles / rows
	if want := math.Round(float64(rows) * spec.AspectRatio); want < float64(cols) {
		cols = max(int(want), 1)
	}

	return NewGrid(cols, rows, spec.TileSize, spec.TileSize), nil
}

// NewGrid builds a grid from explicit dimensions.
func NewGrid(cols, rows, cellWidth, cellHeight int) Grid {
	return Grid{
		Columns:      cols,
		Rows:         rows,
		CellWidth:    cellWidth,
		CellHeight:   cellHeight,
		CanvasWidth:  cols * cellWidth,
		CanvasHeight: rows * cellHeight,
	}
}

// Validate checks the exact-tiling invariant.
func (g Grid) Validate() error {
	switch {
	case g.Columns <= 0 || g.Rows <= 0:
		return fmt.Errorf("%w: %dx%d cells", ErrInvalidGrid, g.Columns, g.Rows)
	case g.CellWidth <= 0 || g.CellHeight <= 0:
		return fmt.Errorf("%w: cell %dx%d", ErrInvalidGrid, g.CellWidth, g.CellHeight)
	case g.Columns*g.CellWidth != g.CanvasWidth || g.Rows*g.CellHeight != g.CanvasHeight:
		return fmt.Errorf("%w: canvas %dx%d does not match %dx%d cells of %dx%d",
			ErrInvalidGrid, g.CanvasWidth, g.CanvasHeight, g.Columns, g.Rows, g.CellWidth, g.CellHeight)
	}
	return nil
}

// Len returns the number of cells.
func (g Grid) Len() int { return g.Columns * g.Rows }

// Bounds returns the canvas rectangle.
func (g Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.CanvasWidth, g.CanvasHeight)
}

// Rect returns the pixel rectangle of the cell at (col, row).
func (g Grid) Rect(col, row int) image.Rectangle {
	x0 := col * g.CellWidth
	y0 := row * g.CellHeight
	return image.Rect(x0, y0, x0+g.CellWidth, y0+g.CellHeight)
}

// ID returns the raster index of (col, row).
func (g Grid) ID(col, row int) CellID { return CellID(row*g.Columns + col) }

// Cell returns the unassigned cell with the given id.
func (g Grid) Cell(id CellID) Cell {
	col := int(id) % g.Columns
	row := int(id) / g.Columns
	return Cell{ID: id, Col: col, Row: row, Rect: g.Rect(col, row), Tile: NoTile}
}

// Cells returns all cells in raster (row-major) order.
func (g Grid) Cells() []Cell {
	cells := make([]Cell, 0, g.Len())
	for id := 0; id < g.Len(); id++ {
		cells = append(cells, g.Cell(CellID(id)))
	}
	return cells
}

// Scale returns the same grid with square cells of the given size. Used to
// render the high quality tier from the preview layout.
func (g Grid) Scale(tileSize int) Grid {
	return NewGrid(g.Columns, g.Rows, tileSize, tileSize)
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d cells of %dx%d px (%dx%d canvas)",
		g.Columns, g.Rows, g.CellWidth, g.CellHeight, g.CanvasWidth, g.CanvasHeight)
}
