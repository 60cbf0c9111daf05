package mosaic

import (
	"fmt"
	"testing"
)

func decorationLibrary(t *testing.T, n int) *Library {
	t.Helper()
	tiles := make([]Tile, n)
	for i := range tiles {
		tiles[i] = sigTile(fmt.Sprintf("tiles/t%02d.jpg", i), float64(i), 0, 0)
	}
	lib, err := NewLibrary(SpaceRGB, tiles)
	if err != nil {
		t.Fatal(err)
	}
	return lib
}

func TestPlaceDecorations(t *testing.T) {
	lib := decorationLibrary(t, 20)
	grid := NewGrid(10, 8, 10, 10)

	got := PlaceDecorations(grid, lib, 12, 30, 42)
	if len(got) != 12 {
		t.Fatalf("decorations = %d, want 12", len(got))
	}

	tiles := map[TileID]bool{}
	slots := map[int]bool{}
	for _, d := range got {
		if tiles[d.TileID] {
			t.Errorf("tile %d used twice", d.TileID)
		}
		if slots[d.Index] {
			t.Errorf("slot %d used twice", d.Index)
		}
		tiles[d.TileID], slots[d.Index] = true, true

		if d.Index >= 3*grid.Columns {
			t.Errorf("slot %d beyond the cutoff rows", d.Index)
		}
		cell := grid.Cell(CellID(d.Index))
		if d.X != cell.Rect.Min.X || d.Y != cell.Rect.Min.Y || d.Size != 10 {
			t.Errorf("decoration %+v does not sit on cell %v", d, cell.Rect)
		}
		tile, _ := lib.Tile(d.TileID)
		if d.Title != tile.Title() {
			t.Errorf("title = %q, want %q", d.Title, tile.Title())
		}
	}
}

func TestPlaceDecorationsSeeded(t *testing.T) {
	lib := decorationLibrary(t, 20)
	grid := NewGrid(10, 8, 10, 10)

	a := PlaceDecorations(grid, lib, 10, 0, 7)
	b := PlaceDecorations(grid, lib, 10, 0, 7)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed gave %+v and %+v", a[i], b[i])
		}
	}
}

func TestPlaceDecorationsLimits(t *testing.T) {
	lib := decorationLibrary(t, 4)
	grid := NewGrid(10, 8, 10, 10)

	if got := PlaceDecorations(grid, lib, 50, 0, 1); len(got) != 4 {
		t.Errorf("limited by library: %d, want 4", len(got))
	}
	if got := PlaceDecorations(grid, decorationLibrary(t, 40), 50, 20, 1); len(got) != 20 {
		t.Errorf("limited by slots: %d, want 20", len(got))
	}
	if got := PlaceDecorations(grid, lib, 5, 5, 1); got != nil {
		t.Errorf("cutoff above first row: %v", got)
	}
	if got := PlaceDecorations(grid, lib, 0, 0, 1); got != nil {
		t.Errorf("n=0: %v", got)
	}
}
