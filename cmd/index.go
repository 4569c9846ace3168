package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flanksource/code-ledger/models"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run a one-shot full index of the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		result, err := l.Reindex()
		if err != nil {
			return err
		}
		return printIndexResult(result)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Index the workspace and keep watching it for changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		unsubscribe := l.OnIndexed(func(result models.IndexResult) {
			color.Green("indexed %d files (%d symbols, %d relations) in %dms",
				result.IndexedFiles, result.TotalSymbols, result.TotalRelations, result.DurationMs)
			for _, failed := range result.FailedFiles {
				color.Yellow("  failed: %s", failed)
			}
		})
		defer unsubscribe()

		fmt.Printf("watching as %s; press ctrl-c to stop\n", l.Role())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		return nil
	},
}

func printIndexResult(result *models.IndexResult) error {
	if jsonOutput {
		return printJSON(result)
	}
	color.Green("indexed %d files, removed %d (%d symbols, %d relations) in %dms",
		result.IndexedFiles, result.RemovedFiles, result.TotalSymbols, result.TotalRelations, result.DurationMs)
	if len(result.FailedFiles) > 0 {
		color.Yellow("%d files failed:", len(result.FailedFiles))
		for _, failed := range result.FailedFiles {
			fmt.Printf("  %s\n", failed)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
}
