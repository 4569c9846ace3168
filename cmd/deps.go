package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var depsProject string

var depsCmd = &cobra.Command{
	Use:   "deps [path]",
	Short: "List the files a file imports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		deps, err := l.Dependencies(args[0], depsProject)
		if err != nil {
			return err
		}
		return printPaths(deps)
	},
}

var dependentsCmd = &cobra.Command{
	Use:   "dependents [path]",
	Short: "List every file that transitively depends on a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		dependents, err := l.Dependents(args[0], depsProject)
		if err != nil {
			return err
		}
		return printPaths(dependents)
	},
}

var affectedCmd = &cobra.Command{
	Use:   "affected [paths...]",
	Short: "List the union of transitive dependents of the given files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		affected, err := l.Affected(args, depsProject)
		if err != nil {
			return err
		}
		return printPaths(affected)
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Check the import graph for cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		hasCycle, err := l.HasCycle(depsProject)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]bool{"has_cycle": hasCycle})
		}
		if hasCycle {
			color.Red("import cycle detected")
		} else {
			color.Green("no import cycles")
		}
		return nil
	},
}

func printPaths(paths []string) error {
	if jsonOutput {
		return printJSON(paths)
	}
	if len(paths) > 0 {
		fmt.Println(strings.Join(paths, "\n"))
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{depsCmd, dependentsCmd, affectedCmd, cycleCmd} {
		c.Flags().StringVar(&depsProject, "project", "", "project to query")
		rootCmd.AddCommand(c)
	}
}
