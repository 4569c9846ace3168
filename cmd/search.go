package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/flanksource/code-ledger/models"
	"github.com/flanksource/code-ledger/search"
)

var (
	searchKind     string
	searchFile     string
	searchExported bool
	searchProject  string
	searchLimit    int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search symbols by name (prefix matching)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		req := search.SymbolsRequest{Limit: searchLimit}
		if len(args) > 0 {
			req.Query = args[0]
		}
		if searchKind != "" {
			kind := models.SymbolKind(searchKind)
			req.Kind = &kind
		}
		if searchFile != "" {
			req.FilePath = &searchFile
		}
		if cmd.Flags().Changed("exported") {
			req.IsExported = &searchExported
		}
		if searchProject != "" {
			req.Project = &searchProject
		}

		hits, err := l.SearchSymbols(req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(hits)
		}

		for _, hit := range hits {
			exported := " "
			if hit.IsExported {
				exported = color.GreenString("+")
			}
			fmt.Printf("%s %-10s %-30s %s:%d:%d\n",
				exported, hit.Kind, hit.Name, hit.FilePath, hit.Span.Start.Line, hit.Span.Start.Column)
		}
		return nil
	},
}

var (
	relSrc     string
	relDst     string
	relType    string
	relProject string
	relLimit   int
)

var relationsCmd = &cobra.Command{
	Use:   "relations",
	Short: "Search relations by any combination of endpoints and type",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		q := models.RelationQuery{Limit: relLimit}
		if relSrc != "" {
			q.SrcFilePath = &relSrc
		}
		if relDst != "" {
			q.DstFilePath = &relDst
		}
		if relType != "" {
			t := models.RelationType(relType)
			q.Type = &t
		}
		if relProject != "" {
			q.Project = &relProject
		}

		relations, err := l.SearchRelations(q)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(relations)
		}

		for _, rel := range relations {
			src := rel.SrcFilePath
			if rel.SrcSymbolName != nil {
				src += "#" + *rel.SrcSymbolName
			}
			dst := rel.DstFilePath
			if rel.DstSymbolName != nil {
				dst += "#" + *rel.DstSymbolName
			}
			fmt.Printf("%-10s %s -> %s\n", rel.Type, src, dst)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [project]",
	Short: "Show index statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		project := ""
		if len(args) > 0 {
			project = args[0]
		}
		stats, err := l.Stats(project)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(stats)
		}
		fmt.Printf("files: %d\nsymbols: %d\n", stats.FileCount, stats.SymbolCount)
		return nil
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the project boundaries in the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLedger()
		if err != nil {
			return err
		}
		defer l.Close()

		projects := l.Projects()
		if jsonOutput {
			return printJSON(projects)
		}
		fmt.Println(strings.Join(projects, "\n"))
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchKind, "kind", "", "filter by symbol kind")
	searchCmd.Flags().StringVar(&searchFile, "file", "", "filter by exact file path")
	searchCmd.Flags().BoolVar(&searchExported, "exported", false, "filter by exported flag")
	searchCmd.Flags().StringVar(&searchProject, "project", "", "filter by project")
	searchCmd.Flags().IntVar(&searchLimit, "limit", search.DefaultSymbolLimit, "maximum results")

	relationsCmd.Flags().StringVar(&relSrc, "src", "", "filter by source file")
	relationsCmd.Flags().StringVar(&relDst, "dst", "", "filter by destination file")
	relationsCmd.Flags().StringVar(&relType, "type", "", "filter by relation type")
	relationsCmd.Flags().StringVar(&relProject, "project", "", "filter by project")
	relationsCmd.Flags().IntVar(&relLimit, "limit", search.DefaultRelationLimit, "maximum results")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(relationsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(projectsCmd)
}
