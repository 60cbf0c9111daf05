package mosaic

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"runtime"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// ErrLibraryMismatch is returned when matches were computed against another
// library snapshot than the one passed to Render.
var ErrLibraryMismatch = errors.New("matches refer to a different tile library")

// Compositor renders matched tiles into a canvas.
type Compositor struct {
	Codec     ImageIO
	Workers   int
	BatchRows int
	// Progress, when set, is called after every finished row batch.
	Progress func(doneRows, totalRows int)
}

func (c Compositor) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

func (c Compositor) batchRows() int {
	if c.BatchRows > 0 {
		return c.BatchRows
	}
	return 4
}

// Render draws the tile variant for tier into every cell of grid. Each
// variant is decoded and scaled once per call. Cancellation is checked
// between row batches.
func (c Compositor) Render(ctx context.Context, grid Grid, matches *Matches, lib *Library, tier Tier) (*image.RGBA, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if err := matches.Fits(grid); err != nil {
		return nil, err
	}
	if lib == nil || lib.Len() == 0 {
		return nil, ErrLibraryEmpty
	}
	if matches.Library != "" && matches.Library != lib.Fingerprint() {
		return nil, ErrLibraryMismatch
	}
	if c.Codec == nil {
		return nil, errors.New("compositor: no image codec configured")
	}

	scaled, err := c.prepareTiles(ctx, grid, matches, lib, tier)
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(grid.Bounds())
	batch := c.batchRows()

	for start := 0; start < grid.Rows; start += batch {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		end := min(start+batch, grid.Rows)

		var g errgroup.Group
		g.SetLimit(c.workers())
		for row := start; row < end; row++ {
			row := row
			g.Go(func() error {
				for col := 0; col < grid.Columns; col++ {
					tile := scaled[matches.Tiles[grid.ID(col, row)]]
					draw.Draw(canvas, grid.Rect(col, row), tile, image.Point{}, draw.Src)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if c.Progress != nil {
			c.Progress(end, grid.Rows)
		}
	}

	return canvas, nil
}

// prepareTiles decodes every distinct matched tile and scales it to the
// cell size. The result is indexed by TileID.
func (c Compositor) prepareTiles(ctx context.Context, grid Grid, matches *Matches, lib *Library, tier Tier) ([]*image.RGBA, error) {
	seen := make([]bool, lib.Len())
	var used []TileID
	for _, id := range matches.Tiles {
		if id < 0 || int(id) >= lib.Len() {
			return nil, fmt.Errorf("%w: tile id %d outside library of %d", ErrLibraryMismatch, id, lib.Len())
		}
		if !seen[id] {
			seen[id] = true
			used = append(used, id)
		}
	}

	scaled := make([]*image.RGBA, lib.Len())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for _, id := range used {
		tile, _ := lib.Tile(id)
		g.Go(func() error {
			if err := checkCancelled(gctx); err != nil {
				return err
			}
			img, err := c.decodeVariant(tile.Variant(tier))
			if err != nil {
				return err
			}
			scaled[tile.ID] = scaleTo(img, grid.CellWidth, grid.CellHeight)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scaled, nil
}

func (c Compositor) decodeVariant(path string) (image.Image, error) {
	if path == "" {
		return nil, &DecodeError{Path: path, Err: errors.New("tile has no variant for this tier")}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	img, err := c.Codec.Decode(f)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return img, nil
}

// scaleTo returns img as an RGBA of exactly w x h pixels, resampled with
// the bilinear kernel when the size differs.
func scaleTo(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
