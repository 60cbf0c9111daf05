package mosaic

import (
	"context"
	"fmt"
	"image"
	"runtime"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
)

// Matches maps every cell of a grid, in raster order, to a tile id.
type Matches struct {
	Columns int      `json:"columns"`
	Rows    int      `json:"rows"`
	Tiles   []TileID `json:"tiles"`
	// Fallback marks cells where every candidate was excluded by the
	// neighbour window and the globally closest tile was used instead.
	Fallback []bool `json:"fallback"`
	// Library is the fingerprint of the snapshot the matches refer to.
	Library string `json:"library"`
}

// Fits reports whether m was produced for a grid with g's cell layout.
func (m *Matches) Fits(g Grid) error {
	if m == nil {
		return fmt.Errorf("%w: no matches", ErrInvalidGrid)
	}
	if m.Columns != g.Columns || m.Rows != g.Rows || len(m.Tiles) != g.Len() {
		return fmt.Errorf("%w: matches for %dx%d do not fit grid %dx%d",
			ErrInvalidGrid, m.Columns, m.Rows, g.Columns, g.Rows)
	}
	return nil
}

// FallbackCount returns the number of cells that fell back.
func (m *Matches) FallbackCount() int {
	n := 0
	for _, f := range m.Fallback {
		if f {
			n++
		}
	}
	return n
}

// Cells returns g's cells with their assigned tiles.
func (m *Matches) Cells(g Grid) []Cell {
	cells := g.Cells()
	for i := range cells {
		if i < len(m.Tiles) {
			cells[i].Tile = m.Tiles[i]
		}
	}
	return cells
}

// AssignedView is the read side of the assignments made so far. The
// selection step only consults it, never the matcher's internal state.
type AssignedView struct {
	grid  Grid
	tiles []TileID
}

// At returns the tile assigned to (col, row), or NoTile.
func (v AssignedView) At(col, row int) TileID {
	if col < 0 || row < 0 || col >= v.grid.Columns || row >= v.grid.Rows {
		return NoTile
	}
	return v.tiles[v.grid.ID(col, row)]
}

// Neighbours appends the assigned tiles of the four adjacent cells to buf.
func (v AssignedView) Neighbours(col, row int, buf []TileID) []TileID {
	buf = buf[:0]
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		if id := v.At(col+d[0], row+d[1]); id != NoTile {
			buf = append(buf, id)
		}
	}
	return buf
}

// Matcher assigns library tiles to grid cells.
type Matcher struct {
	Workers   int
	BatchRows int
}

func (m Matcher) workers() int {
	if m.Workers > 0 {
		return m.Workers
	}
	return runtime.NumCPU()
}

func (m Matcher) batchRows() int {
	if m.BatchRows > 0 {
		return m.BatchRows
	}
	return 4
}

// MatchAll samples the region of src under every cell and picks the closest
// tile that none of the cell's already assigned neighbours use. Signatures
// are computed in parallel; selection runs in raster order.
func (m Matcher) MatchAll(ctx context.Context, src image.Image, grid Grid, lib *Library) (*Matches, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if lib == nil || lib.Len() == 0 {
		return nil, ErrLibraryEmpty
	}
	if src == nil || src.Bounds().Empty() {
		return nil, &DecodeError{Path: "source", Err: fmt.Errorf("empty source image")}
	}

	sigs, err := m.sampleSignatures(ctx, imaging.Clone(src), grid, lib.Space())
	if err != nil {
		return nil, err
	}
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}

	matches := &Matches{
		Columns:  grid.Columns,
		Rows:     grid.Rows,
		Tiles:    make([]TileID, grid.Len()),
		Fallback: make([]bool, grid.Len()),
		Library:  lib.Fingerprint(),
	}
	for i := range matches.Tiles {
		matches.Tiles[i] = NoTile
	}

	view := AssignedView{grid: grid, tiles: matches.Tiles}
	buf := make([]TileID, 0, 4)
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Columns; col++ {
			id := grid.ID(col, row)
			tile, ok := selectTile(lib, sigs[id], view, col, row, buf)
			matches.Tiles[id] = tile
			matches.Fallback[id] = !ok
		}
	}

	return matches, nil
}

// selectTile is one step of the raster walk.
func selectTile(lib *Library, sig Signature, view AssignedView, col, row int, buf []TileID) (TileID, bool) {
	excluded := view.Neighbours(col, row, buf)
	tile, ok := lib.FindClosest(sig, excluded)
	return tile.ID, ok
}

func (m Matcher) sampleSignatures(ctx context.Context, src *image.NRGBA, grid Grid, space SignatureSpace) ([]Signature, error) {
	sigs := make([]Signature, grid.Len())
	batch := m.batchRows()

	for start := 0; start < grid.Rows; start += batch {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		end := min(start+batch, grid.Rows)

		var g errgroup.Group
		g.SetLimit(m.workers())
		for row := start; row < end; row++ {
			row := row
			g.Go(func() error {
				for col := 0; col < grid.Columns; col++ {
					r := SourceRect(grid.Rect(col, row), grid, src.Bounds())
					sigs[grid.ID(col, row)] = space.Compute(src, r)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return sigs, nil
}

// SourceRect maps a canvas-space cell rectangle into src by linear scaling.
// The result is never empty as long as src is not.
func SourceRect(cell image.Rectangle, grid Grid, src image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	cw, ch := grid.CanvasWidth, grid.CanvasHeight

	x0, x1 := scaleSpan(cell.Min.X, cell.Max.X, sw, cw)
	y0, y1 := scaleSpan(cell.Min.Y, cell.Max.Y, sh, ch)
	return image.Rect(src.Min.X+x0, src.Min.Y+y0, src.Min.X+x1, src.Min.Y+y1)
}

// scaleSpan maps [a, b) from a space of size from into a space of size to,
// flooring the start and ceiling the end.
func scaleSpan(a, b, to, from int) (int, int) {
	lo := a * to / from
	hi := (b*to + from - 1) / from
	if hi > to {
		hi = to
	}
	if lo >= hi {
		if lo >= to {
			lo = to - 1
		}
		hi = lo + 1
	}
	return lo, hi
}
