package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"stem-splitter/config"
	"stem-splitter/core/executor"
	"stem-splitter/core/models"
	"stem-splitter/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSeparateCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var outputDir string
	var modelFlag string
	var zipFlag bool

	cmd := &cobra.Command{
		Use:   "separate <audio-file>",
		Short: "Separate a local audio file into stems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			audioPath := args[0]
			if _, err := os.Stat(audioPath); err != nil {
				return fmt.Errorf("input file: %w", err)
			}

			fallback := models.ModelVariant(cfg.Separation.DefaultVariant)
			variant, err := models.ParseModelVariant(modelFlag, fallback)
			if err != nil {
				return err
			}

			outDir, err := filepath.Abs(outputDir)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			invoker := newSeparationInvoker(cfg.Separation, logger)
			result, err := invoker.Invoke(cmd.Context(), executor.SeparationRequest{
				AudioPath: audioPath,
				OutputDir: outDir,
				Variant:   variant,
			})
			if err != nil {
				var sepErr *executor.SeparationError
				if errors.As(err, &sepErr) && sepErr.Diagnostics != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), sepErr.Diagnostics)
				}
				return err
			}

			stemDir, err := storage.StemDir(variant, result.OutputRoot, result.Model, audioPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stems written to %s\n", stemDir)

			if !zipFlag {
				return nil
			}
			archive, err := storage.NewArchivePackager(logger).Pack(result.OutputRoot, variant, result.Model, audioPath, outDir)
			if err != nil {
				return err
			}
			logger.Info("archive written", zap.String("path", archive.Path), zap.Int("entries", len(archive.Entries)))
			fmt.Fprintf(cmd.OutOrStdout(), "Archive written to %s\n", archive.Path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "separated", "Output directory")
	cmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Model variant: general or fine_tuned")
	cmd.Flags().BoolVar(&zipFlag, "zip", false, "Also package the stems as "+storage.ArchiveName)

	return cmd
}
