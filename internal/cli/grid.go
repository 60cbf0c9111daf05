package cli

import (
	"fmt"

	"github.com/photomosaic/api/internal/mosaic"
	"github.com/spf13/cobra"
)

var (
	gridTiles     int
	gridAspect    float64
	gridTileSize  int
	gridMaxHeight int
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Show the grid a render would use",
	Args:  cobra.NoArgs,
	RunE:  runGrid,
}

func init() {
	gridCmd.Flags().IntVar(&gridTiles, "tiles", 0, "target tile count (0 = mosaic.max_tiles)")
	gridCmd.Flags().Float64Var(&gridAspect, "aspect", 0, "width/height ratio (0 = mosaic.aspect_ratio)")
	gridCmd.Flags().IntVar(&gridTileSize, "tile-size", 0, "preview tile size in px (0 = mosaic.tile_size)")
	gridCmd.Flags().IntVar(&gridMaxHeight, "max-height", -1, "canvas height cap in px (-1 = config, 0 = none)")
	rootCmd.AddCommand(gridCmd)
}

func runGrid(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}

	spec := cfg.Mosaic.GridSpec()
	if gridTiles > 0 {
		spec.TargetTiles = gridTiles
	}
	if gridAspect > 0 {
		spec.AspectRatio = gridAspect
	}
	if gridTileSize > 0 {
		spec.TileSize = gridTileSize
	}
	if gridMaxHeight >= 0 {
		spec.MaxCanvasHeight = gridMaxHeight
	}

	grid, err := mosaic.ComputeGrid(spec)
	if err != nil {
		return err
	}
	hq := grid.Scale(cfg.Mosaic.TileSizeHQ)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "  Cells:    %d (target %d)\n", grid.Len(), spec.TargetTiles)
	fmt.Fprintf(w, "  Preview:  %s\n", grid)
	fmt.Fprintf(w, "  HQ:       %s\n", hq)
	return nil
}
