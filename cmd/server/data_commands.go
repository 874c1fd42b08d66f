package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a JSON backup of progress, notes and workshop data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		data, err := a.gateway.ExportData(cmd.Context())
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		if exportOutput == "" || exportOutput == "-" {
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportOutput, err)
		}
		a.logger.Info("Exported workshop data", zap.String("output", exportOutput), zap.Int("bytes", len(data)))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore a JSON backup produced by export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		a, err := bootstrap(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.gateway.ImportData(cmd.Context(), data); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		a.logger.Info("Imported workshop data", zap.String("file", args[0]))
		fmt.Fprintln(cmd.OutOrStdout(), "Import complete")
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all stored progress, notes and workshop data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.gateway.ClearAllData(cmd.Context()); err != nil {
			a.logger.Warn("Failed to clear stored data, removing legacy progress only", zap.Error(err))
			if err := a.gateway.ClearLegacyProgress(cmd.Context()); err != nil {
				return fmt.Errorf("reset failed: %w", err)
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All workshop data cleared")
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")
}
