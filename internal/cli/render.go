package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/photomosaic/api/internal/imageio"
	"github.com/photomosaic/api/internal/jobstore"
	"github.com/photomosaic/api/internal/model"
	"github.com/photomosaic/api/internal/mosaic"
	"github.com/photomosaic/api/internal/pipeline"
	"github.com/photomosaic/api/internal/storage"
	"github.com/spf13/cobra"
)

var (
	renderOutDir  string
	renderLibrary string
	renderHQ      bool
	renderFormat  string
	renderWorkers int
)

var renderCmd = &cobra.Command{
	Use:   "render <photo>",
	Short: "Render a photo as a mosaic",
	Long: `Matches every grid cell of the photo against the tile library and writes
<out>/<job>/preview.<ext>. With --hq the high quality canvas is rendered
from the same matches and written next to it.

Ctrl-C cancels the render; nothing partial is left in the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVarP(&renderOutDir, "out", "o", "", "output directory (default mosaic.output_dir)")
	renderCmd.Flags().StringVarP(&renderLibrary, "library", "l", "", "tile library directory (default mosaic.library_dir)")
	renderCmd.Flags().BoolVar(&renderHQ, "hq", false, "also render the high quality canvas")
	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "", "output format: jpeg, png, bmp, tiff")
	renderCmd.Flags().IntVarP(&renderWorkers, "workers", "w", 0, "parallel workers (0 = config)")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	start := time.Now()

	cfg, err := loadConfig(renderLibrary)
	if err != nil {
		return err
	}
	if renderOutDir != "" {
		cfg.Mosaic.OutputDir = renderOutDir
	}
	if renderFormat != "" {
		cfg.Mosaic.OutputFormat = renderFormat
	}
	if renderWorkers > 0 {
		cfg.Mosaic.Workers = renderWorkers
	}

	source, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve photo path: %w", err)
	}
	if _, err := os.Stat(source); err != nil {
		return err
	}

	out, err := storage.NewLocalStorage(cfg.Mosaic.OutputDir, cfg.Mosaic.PublicPath)
	if err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec := imageio.New(cfg.Mosaic.JPEGQuality)
	store := jobstore.NewMemoryStore()
	library := mosaic.NewRegistry(cfg.Mosaic.LibraryDir, cfg.Mosaic.LibraryOptions(codec))

	p := pipeline.New(pipeline.Config{
		Grid:         cfg.Mosaic.GridSpec(),
		TileSizeHQ:   cfg.Mosaic.TileSizeHQ,
		Workers:      cfg.Mosaic.Workers,
		BatchRows:    cfg.Mosaic.BatchRows,
		OutputFormat: cfg.Mosaic.OutputFormat,
	}, library, store, out, codec, &progressPrinter{w: cmd.ErrOrStderr()})

	job := model.NewMosaicJob(uuid.New().String(), source, filepath.Base(source))
	if err := store.Save(ctx, job); err != nil {
		return err
	}
	logVerbose(cmd, "job:     %s", job.ID)
	logVerbose(cmd, "library: %s", cfg.Mosaic.LibraryDir)
	logVerbose(cmd, "output:  %s", out.Root())

	job, err = p.RenderPreview(ctx, job.ID)
	if err != nil {
		return renderError(err)
	}
	if renderHQ {
		job, err = p.RenderHQ(ctx, job.ID)
		if err != nil {
			return renderError(err)
		}
	}

	printRenderReport(cmd, job, time.Since(start))
	return nil
}

func renderError(err error) error {
	return fmt.Errorf("render failed (%s): %w", mosaic.Kind(err), err)
}

func printRenderReport(cmd *cobra.Command, job *model.MosaicJob, elapsed time.Duration) {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	if job.Grid != nil {
		fmt.Fprintf(w, "  Grid:      %s\n", job.Grid)
	}
	if job.Matches != nil {
		fmt.Fprintf(w, "  Fallbacks: %d\n", job.Matches.FallbackCount())
	}
	for _, o := range []*model.Output{job.Outputs.Preview, job.Outputs.HQ} {
		if o == nil {
			continue
		}
		fmt.Fprintf(w, "  %-9s  %s (%dx%d, %s)\n", o.Tier+":", o.Path, o.Width, o.Height, formatBytes(o.Size))
	}
	fmt.Fprintf(w, "  Time:      %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintln(w)
}

// logVerbose prints a message only when --verbose is set.
func logVerbose(cmd *cobra.Command, format string, args ...any) {
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[mosaic] "+format+"\n", args...)
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
