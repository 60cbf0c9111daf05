// Package cli implements the mosaic command line tool. It runs the same
// render pipeline as the server, in process, without Redis or a queue.
package cli

import (
	"fmt"
	"runtime"

	"github.com/photomosaic/api/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "Build photomosaics from a tile library",
	Long: `mosaic renders a photo as a grid of small tile images chosen by
average colour, first as a small preview and then, from the same matches,
at high quality.

Settings come from config.yaml and MOSAIC_* environment variables, the
same as the API server; flags override them.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.WarnLevel)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"mosaic %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))
}

// loadConfig reads the shared configuration and applies the library
// directory override when one is given.
func loadConfig(libraryDir string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if libraryDir != "" {
		dir, err := config.ExpandPath(libraryDir)
		if err != nil {
			return nil, err
		}
		cfg.Mosaic.LibraryDir = dir
	}
	return cfg, nil
}
