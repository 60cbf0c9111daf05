package mosaic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/disintegration/imaging"
	"github.com/photomosaic/api/internal/imageio"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// TileID identifies a tile inside one library snapshot. IDs are dense,
// starting at 0, and assigned in relative path order.
type TileID int

// NoTile marks a cell that has not been matched yet.
const NoTile TileID = -1

// Tier selects which tile variant the compositor uses.
type Tier string

const (
	TierPreview Tier = "preview"
	TierHQ      Tier = "hq"
)

// ImageIO decodes and encodes pixel buffers. Implemented by imageio.Codec.
type ImageIO interface {
	Decode(r io.Reader) (image.Image, error)
	Encode(w io.Writer, img image.Image, format string) error
}

// Tile is one immutable library entry.
type Tile struct {
	ID        TileID
	Name      string // path relative to the library directory, slash separated
	Path      string
	Hash      string // xxhash of the source file bytes
	Signature Signature
	Preview   string // preview variant path
	HQ        string // high quality variant path
}

// Title returns the file name without directory and extension.
func (t Tile) Title() string {
	base := filepath.Base(t.Name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Variant returns the variant path for tier.
func (t Tile) Variant(tier Tier) string {
	if tier == TierHQ {
		return t.HQ
	}
	return t.Preview
}

// LibraryOptions configures Load.
type LibraryOptions struct {
	// CacheDir receives the resized variants and the signature index.
	// Defaults to <dir>/.variants which the scanner skips as hidden.
	CacheDir   string
	TileSize   int
	TileSizeHQ int
	Space      SignatureSpace
	Workers    int
	Codec      ImageIO
}

// LoadReport summarises a library load.
type LoadReport struct {
	Scanned   int
	Loaded    int
	Indexed   int // signatures reused from the on-disk index
	Generated int // tiles whose variants were (re)built
	Skipped   []error
}

// Library is a read-only tile set. It is safe for concurrent use.
type Library struct {
	dir         string
	space       SignatureSpace
	tiles       []Tile
	fingerprint string
	report      LoadReport
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

type tileSource struct {
	abs string
	rel string
}

// scanTiles walks dir and returns image files sorted by relative path.
func scanTiles(dir string) ([]tileSource, error) {
	var sources []tileSource

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		sources = append(sources, tileSource{abs: path, rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].rel < sources[j].rel })
	return sources, nil
}

type loadResult struct {
	tile    Tile
	err     error
	fromIdx bool
	rebuilt bool
}

// Load scans dir, computes tile signatures and writes preview and HQ
// variants into the cache directory. Unreadable files are skipped with a
// warning and reported as *DecodeError in the LoadReport.
func Load(ctx context.Context, dir string, opts LibraryOptions) (*Library, error) {
	if opts.Codec == nil {
		return nil, errors.New("library load: no image codec configured")
	}
	if opts.TileSize <= 0 || opts.TileSizeHQ <= 0 {
		return nil, fmt.Errorf("%w: tile sizes %d/%d", ErrInvalidGrid, opts.TileSize, opts.TileSizeHQ)
	}
	if opts.Space == "" {
		opts.Space = SpaceRGB
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(dir, ".variants")
	}

	sources, err := scanTiles(dir)
	if err != nil {
		return nil, err
	}

	for _, tier := range []Tier{TierPreview, TierHQ} {
		if err := os.MkdirAll(filepath.Join(opts.CacheDir, string(tier)), 0o755); err != nil {
			return nil, &StorageWriteError{Path: opts.CacheDir, Err: err}
		}
	}

	idx := loadIndexFor(opts.CacheDir, opts.Space)
	results := make([]loadResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			if err := checkCancelled(gctx); err != nil {
				return err
			}
			res, err := loadTile(src, idx.lookup(src.rel), opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lib := &Library{dir: dir, space: opts.Space}
	lib.report.Scanned = len(sources)
	next := newIndex(opts.Space)

	for _, res := range results {
		if res.err != nil {
			log.WithError(res.err).Warn("skipping unreadable tile")
			lib.report.Skipped = append(lib.report.Skipped, res.err)
			continue
		}
		tile := res.tile
		tile.ID = TileID(len(lib.tiles))
		lib.tiles = append(lib.tiles, tile)
		next.put(tile)
		if res.fromIdx {
			lib.report.Indexed++
		}
		if res.rebuilt {
			lib.report.Generated++
		}
	}
	lib.report.Loaded = len(lib.tiles)

	if len(lib.tiles) == 0 {
		return nil, fmt.Errorf("%w: %s (%d files skipped)", ErrLibraryEmpty, dir, len(lib.report.Skipped))
	}
	lib.fingerprint = fingerprint(lib.tiles)

	if err := next.save(opts.CacheDir); err != nil {
		log.WithError(err).Warn("could not persist tile signature index")
	}

	log.WithFields(log.Fields{
		"dir":       dir,
		"tiles":     lib.report.Loaded,
		"indexed":   lib.report.Indexed,
		"generated": lib.report.Generated,
		"skipped":   len(lib.report.Skipped),
	}).Info("tile library loaded")

	return lib, nil
}

// loadTile reads one source file. Decode problems are returned inside the
// result; only cache write failures are returned as errors.
func loadTile(src tileSource, cached *indexEntry, opts LibraryOptions) (loadResult, error) {
	data, err := os.ReadFile(src.abs)
	if err != nil {
		return loadResult{err: &DecodeError{Path: src.rel, Err: err}}, nil
	}

	hash := imageio.ContentHash(data)
	tile := Tile{
		Name:    src.rel,
		Path:    src.abs,
		Hash:    hash,
		Preview: filepath.Join(opts.CacheDir, string(TierPreview), fmt.Sprintf("%s-%d.png", hash, opts.TileSize)),
		HQ:      filepath.Join(opts.CacheDir, string(TierHQ), fmt.Sprintf("%s-%d.png", hash, opts.TileSizeHQ)),
	}

	if cached != nil && cached.Hash == hash && fileExists(tile.Preview) && fileExists(tile.HQ) {
		tile.Signature = cached.Signature
		return loadResult{tile: tile, fromIdx: true}, nil
	}

	img, err := opts.Codec.Decode(bytes.NewReader(data))
	if err != nil {
		return loadResult{err: &DecodeError{Path: src.rel, Err: err}}, nil
	}
	b := img.Bounds()
	if b.Empty() {
		return loadResult{err: &DecodeError{Path: src.rel, Err: errors.New("empty image")}}, nil
	}

	tile.Signature = opts.Space.Compute(img, b)

	variants := []struct {
		path string
		size int
	}{
		{tile.Preview, opts.TileSize},
		{tile.HQ, opts.TileSizeHQ},
	}
	for _, v := range variants {
		if fileExists(v.path) {
			continue
		}
		resized := imaging.Fill(img, v.size, v.size, imaging.Center, imaging.Lanczos)
		if err := writeImageFile(opts.Codec, resized, v.path); err != nil {
			return loadResult{}, err
		}
	}

	return loadResult{tile: tile, rebuilt: true}, nil
}

// writeImageFile encodes img as PNG next to path and renames it into place.
func writeImageFile(codec ImageIO, img image.Image, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return &StorageWriteError{Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if err := codec.Encode(tmp, img, "png"); err != nil {
		tmp.Close()
		return &StorageWriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageWriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &StorageWriteError{Path: path, Err: err}
	}
	return nil
}

// NewLibrary builds a library from tiles already in memory. IDs are assigned
// by position. Used by callers that compute signatures themselves.
func NewLibrary(space SignatureSpace, tiles []Tile) (*Library, error) {
	if len(tiles) == 0 {
		return nil, ErrLibraryEmpty
	}
	lib := &Library{space: space, tiles: make([]Tile, len(tiles))}
	for i, t := range tiles {
		t.ID = TileID(i)
		lib.tiles[i] = t
	}
	lib.fingerprint = fingerprint(lib.tiles)
	lib.report.Scanned = len(tiles)
	lib.report.Loaded = len(tiles)
	return lib, nil
}

// Len returns the number of tiles.
func (l *Library) Len() int { return len(l.tiles) }

// Dir returns the directory the library was loaded from.
func (l *Library) Dir() string { return l.dir }

// Space returns the signature space tiles were indexed in.
func (l *Library) Space() SignatureSpace { return l.space }

// Report returns the load summary.
func (l *Library) Report() LoadReport { return l.report }

// Fingerprint identifies the snapshot by tile names and content hashes.
func (l *Library) Fingerprint() string { return l.fingerprint }

// Tile returns the tile with the given id.
func (l *Library) Tile(id TileID) (Tile, bool) {
	if id < 0 || int(id) >= len(l.tiles) {
		return Tile{}, false
	}
	return l.tiles[id], true
}

// Tiles returns a copy of all tiles in id order.
func (l *Library) Tiles() []Tile {
	out := make([]Tile, len(l.tiles))
	copy(out, l.tiles)
	return out
}

// FindClosest returns the tile nearest to sig that is not in excluded.
// Ties break towards the lowest id. When every tile is excluded the
// globally closest tile is returned and ok is false.
func (l *Library) FindClosest(sig Signature, excluded []TileID) (tile Tile, ok bool) {
	best, bestAllowed := -1, -1
	var bestDist, bestAllowedDist float64

	for i := range l.tiles {
		d := distanceSq(sig, l.tiles[i].Signature)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
		if containsTile(excluded, TileID(i)) {
			continue
		}
		if bestAllowed < 0 || d < bestAllowedDist {
			bestAllowed, bestAllowedDist = i, d
		}
	}

	if bestAllowed < 0 {
		return l.tiles[best], false
	}
	return l.tiles[bestAllowed], true
}

func containsTile(ids []TileID, id TileID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func fingerprint(tiles []Tile) string {
	d := xxhash.New()
	for _, t := range tiles {
		d.WriteString(t.Name)
		d.WriteString("\x00")
		d.WriteString(t.Hash)
		d.WriteString("\x00")
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
