// Package cmd wires the qtrc-extract CLI: a single root command (no
// subcommands — the tool does one thing) over internal/orchestrate,
// in the teacher's cobra + viper idiom.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deploymenttheory/qtrc-extract/internal/bundle"
	"github.com/deploymenttheory/qtrc-extract/internal/config"
	"github.com/deploymenttheory/qtrc-extract/internal/orchestrate"
)

var (
	outputDir string
	verbose   bool
	quiet     bool
)

var rootCmd = &cobra.Command{
	Use:   "qtrc-extract <input-executable>",
	Short: "Recover an embedded Qt resource bundle from an ELF or PE executable",
	Long: `qtrc-extract recovers a Qt-style resource bundle (name table, file
tree, and data blobs) embedded in an ELF or PE executable, using purely
structural and heuristic discovery — no symbol table or section-header
pointer into the bundle is required.`,
	Version: "0.1.0-dev",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtract(args[0])
	},
}

// Execute runs the root command, exiting nonzero on input/parse errors.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qtrc-extract: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default: current directory, or QTRC_OUTPUT_DIR/config)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable per-candidate discovery narration")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all narration except errors")
}

func runExtract(inputPath string) error {
	if verbose {
		viper.Set("verbose", true)
	}
	if quiet {
		viper.Set("quiet", true)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}

	log := config.NewLogger(cfg)

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("open %q: %w", inputPath, err)
	}

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory %q: %w", cfg.OutputDir, err)
	}

	stats, err := orchestrate.Run(fs, cfg.OutputDir, data, log, cfg.MaxCandidates)
	if err != nil && stats.NameTablesSeen == 0 && !errors.Is(err, bundle.ErrNoNameTables) {
		// Run failed before the name scan: the executable mapping could
		// not be parsed.
		return err
	}
	if err != nil && stats.TreesWritten.Load() == 0 {
		// Discovery/extraction exhausted every candidate: per spec.md §7
		// this is "nothing found", not a program failure, matching
		// original_source/src/main.rs which never treats an empty result
		// as an error — exit 0, just report it.
		log.Infof("nothing extracted: %v", err)
		return nil
	}

	log.Infof("extraction complete: %d tree(s), %d byte(s) written", stats.TreesWritten.Load(), stats.BytesWritten.Load())
	return nil
}
