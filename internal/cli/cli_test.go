package cli

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func writeSolidPNG(t *testing.T, path string, size int, c color.Color) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// setupLibrary writes three solid tiles and a photo, and points the mosaic
// settings at a small 3x3 grid.
func setupLibrary(t *testing.T) (library, photo string) {
	t.Helper()

	library = t.TempDir()
	writeSolidPNG(t, filepath.Join(library, "a_red.png"), 8, color.NRGBA{R: 255, A: 255})
	writeSolidPNG(t, filepath.Join(library, "b_green.png"), 8, color.NRGBA{G: 255, A: 255})
	writeSolidPNG(t, filepath.Join(library, "c_blue.png"), 8, color.NRGBA{B: 255, A: 255})

	photo = filepath.Join(t.TempDir(), "photo.png")
	writeSolidPNG(t, photo, 30, color.NRGBA{R: 200, G: 20, B: 20, A: 255})

	t.Setenv("MOSAIC_MAX_TILES", "9")
	t.Setenv("MOSAIC_ASPECT_RATIO", "1")
	t.Setenv("MOSAIC_TILE_SIZE", "4")
	t.Setenv("MOSAIC_TILE_SIZE_HQ", "8")
	t.Setenv("MOSAIC_MAX_CANVAS_HEIGHT", "0")
	t.Setenv("MOSAIC_CACHE_DIR", filepath.Join(t.TempDir(), "cache"))
	return library, photo
}

// execute runs the root command with args and returns stdout and stderr.
// Flag variables keep their values between runs, so they are reset first.
func execute(ctx context.Context, t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	verbose = false
	renderOutDir, renderLibrary, renderFormat = "", "", ""
	renderHQ, renderWorkers = false, 0
	gridTiles, gridAspect, gridTileSize, gridMaxHeight = 0, 0, 0, -1

	var setCtx func(c *cobra.Command)
	setCtx = func(c *cobra.Command) {
		c.SetContext(ctx)
		for _, sub := range c.Commands() {
			setCtx(sub)
		}
	}
	setCtx(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func outputFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestRenderPreviewAndHQ(t *testing.T) {
	library, photo := setupLibrary(t)
	out := t.TempDir()

	stdout, _, err := execute(context.Background(), t,
		"render", photo, "--library", library, "--out", out, "--format", "png", "--hq")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	files := outputFiles(t, out)
	if len(files) != 2 {
		t.Fatalf("files = %v, want preview and hq", files)
	}
	var preview, hq bool
	for _, f := range files {
		preview = preview || strings.HasSuffix(f, "/preview.png")
		hq = hq || strings.HasSuffix(f, "/hq.png")
	}
	if !preview || !hq {
		t.Errorf("files = %v", files)
	}

	if !strings.Contains(stdout, "3x3 cells of 4x4 px") {
		t.Errorf("report missing grid:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Fallbacks:") {
		t.Errorf("report missing fallbacks:\n%s", stdout)
	}
}

func TestRenderCancelledLeavesNoFiles(t *testing.T) {
	library, photo := setupLibrary(t)
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := execute(ctx, t, "render", photo, "--library", library, "--out", out, "--format", "png")
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("err = %v, want cancelled render", err)
	}
	if files := outputFiles(t, out); len(files) != 0 {
		t.Errorf("cancelled render left files: %v", files)
	}
}

func TestRenderMissingPhoto(t *testing.T) {
	library, _ := setupLibrary(t)

	_, _, err := execute(context.Background(), t,
		"render", filepath.Join(t.TempDir(), "nope.png"), "--library", library, "--out", t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing photo")
	}
}

func TestLibraryIndexReusesSignatures(t *testing.T) {
	library, _ := setupLibrary(t)

	stdout, _, err := execute(context.Background(), t, "library", "index", library)
	if err != nil {
		t.Fatalf("first index: %v", err)
	}
	if !strings.Contains(stdout, "Generated:   3") {
		t.Errorf("first run:\n%s", stdout)
	}

	stdout, _, err = execute(context.Background(), t, "library", "index", library)
	if err != nil {
		t.Fatalf("second index: %v", err)
	}
	if !strings.Contains(stdout, "From index:  3") || !strings.Contains(stdout, "Generated:   0") {
		t.Errorf("second run:\n%s", stdout)
	}
}

func TestGridCommand(t *testing.T) {
	setupLibrary(t)

	stdout, _, err := execute(context.Background(), t,
		"grid", "--tiles", "4000", "--aspect", "1.7777778", "--tile-size", "10", "--max-height", "0")
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	if !strings.Contains(stdout, "84x47 cells of 10x10 px") {
		t.Errorf("preview grid:\n%s", stdout)
	}
	if !strings.Contains(stdout, "84x47 cells of 8x8 px") {
		t.Errorf("hq grid:\n%s", stdout)
	}
}
