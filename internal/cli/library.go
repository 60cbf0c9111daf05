package cli

import (
	"fmt"
	"time"

	"github.com/photomosaic/api/internal/imageio"
	"github.com/photomosaic/api/internal/mosaic"
	"github.com/spf13/cobra"
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "Inspect and prepare tile libraries",
}

var libraryIndexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Build tile variants and the signature index",
	Long: `Scans the tile directory, writes preview and high quality variants into
the cache directory and saves the signature index, so the first render
does not pay for it. Unchanged tiles are reused from the index.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLibraryIndex,
}

func init() {
	libraryCmd.AddCommand(libraryIndexCmd)
	rootCmd.AddCommand(libraryCmd)
}

func runLibraryIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	var dir string
	if len(args) > 0 {
		dir = args[0]
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}

	codec := imageio.New(cfg.Mosaic.JPEGQuality)
	lib, err := mosaic.Load(cmd.Context(), cfg.Mosaic.LibraryDir, cfg.Mosaic.LibraryOptions(codec))
	if err != nil {
		return fmt.Errorf("load library: %w", err)
	}

	r := lib.Report()
	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Library:     %s\n", lib.Dir())
	fmt.Fprintf(w, "  Signature:   %s\n", lib.Space())
	fmt.Fprintf(w, "  Scanned:     %d\n", r.Scanned)
	fmt.Fprintf(w, "  Loaded:      %d\n", r.Loaded)
	fmt.Fprintf(w, "  From index:  %d\n", r.Indexed)
	fmt.Fprintf(w, "  Generated:   %d\n", r.Generated)
	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "  Skipped:     %d\n", len(r.Skipped))
		for _, err := range r.Skipped {
			fmt.Fprintf(w, "    %v\n", err)
		}
	}
	fmt.Fprintf(w, "  Fingerprint: %s\n", lib.Fingerprint())
	fmt.Fprintf(w, "  Time:        %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintln(w)
	return nil
}
