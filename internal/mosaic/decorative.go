package mosaic

import "math/rand"

// Decoration is a library tile shown floating over a grid cell.
type Decoration struct {
	TileID TileID `json:"tileId"`
	Title  string `json:"title"`
	Index  int    `json:"index"`
	X      int    `json:"left"`
	Y      int    `json:"top"`
	Size   int    `json:"size"`
}

// PlaceDecorations picks up to n distinct tiles and places each on a
// distinct cell. Only rows whose top edge lies above cutoffPx are used;
// cutoffPx <= 0 allows every row. The same seed gives the same placement.
func PlaceDecorations(grid Grid, lib *Library, n int, cutoffPx int, seed int64) []Decoration {
	if n <= 0 || lib == nil || lib.Len() == 0 || grid.Validate() != nil {
		return nil
	}

	rows := grid.Rows
	if cutoffPx > 0 {
		rows = min(cutoffPx/grid.CellHeight, grid.Rows)
	}
	slots := rows * grid.Columns
	if slots == 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(seed))
	tiles := rng.Perm(lib.Len())
	indexes := rng.Perm(slots)

	count := min(n, len(tiles), len(indexes))
	out := make([]Decoration, 0, count)
	for i := 0; i < count; i++ {
		tile, _ := lib.Tile(TileID(tiles[i]))
		cell := grid.Cell(CellID(indexes[i]))
		out = append(out, Decoration{
			TileID: tile.ID,
			Title:  tile.Title(),
			Index:  indexes[i],
			X:      cell.Rect.Min.X,
			Y:      cell.Rect.Min.Y,
			Size:   grid.CellWidth,
		})
	}
	return out
}
