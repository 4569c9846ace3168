package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flanksource/code-ledger/ledger"
)

var (
	workspaceRoot string
	jsonOutput    bool

	getVersionInfo func() (string, string, string)
)

var rootCmd = &cobra.Command{
	Use:   "code-ledger",
	Short: "Code-intelligence index for source workspaces",
	Long: `code-ledger watches a source tree, extracts symbols and inter-file
relations into an embedded SQLite index, and answers symbol, relation and
dependency-graph queries.

One process per workspace owns the file watcher; additional processes open
the same index read-only and promote themselves if the owner dies.`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// SetVersionInfo wires the build-time version variables from main.
func SetVersionInfo(fn func() (string, string, string)) {
	getVersionInfo = fn
	if fn != nil {
		v, c, d := fn()
		rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
	}
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceRoot, "workspace", "w", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "format output as JSON")

	viper.SetEnvPrefix("CODE_LEDGER")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
}

// resolveWorkspace returns the absolute workspace root from the flag, the
// environment, or the current directory.
func resolveWorkspace() (string, error) {
	root := workspaceRoot
	if root == "" {
		root = viper.GetString("workspace")
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = wd
	}
	return filepath.Abs(root)
}

// openLedger opens the index for the resolved workspace.
func openLedger() (*ledger.Ledger, error) {
	root, err := resolveWorkspace()
	if err != nil {
		return nil, err
	}
	return ledger.Open(ledger.Options{WorkspaceRoot: root})
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
