package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/pathwise/internal/catalog"
	"github.com/abhisek/pathwise/internal/ui/theme"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect and validate content catalogs",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a catalog file (defaults to --catalog or the built-in catalog)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := catalogPath(cmd)
		if len(args) == 1 {
			path = args[0]
		}
		g, err := catalog.Load(path)
		if err != nil {
			return err
		}
		name := path
		if name == "" {
			name = "built-in catalog"
		}
		fmt.Printf("%s %s: version %s, %d items, %d topics\n",
			theme.Completed.Render("✓"), name, g.Version(), len(g.Items()), len(g.Topics()))
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List content items in prerequisite order",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := catalogPath(cmd)
		subject, _ := cmd.Flags().GetString("subject")
		typ, _ := cmd.Flags().GetString("type")
		if typ != "" && !catalog.ContentType(typ).Valid() {
			return fmt.Errorf("unknown content type %q", typ)
		}

		g, err := catalog.Load(path)
		if err != nil {
			return err
		}

		var items []catalog.Item
		for _, it := range g.Items() {
			if subject != "" && it.SubjectArea != subject {
				continue
			}
			if typ != "" && string(it.Type) != typ {
				continue
			}
			items = append(items, it)
		}
		if len(items) == 0 {
			fmt.Println("No matching content.")
			return nil
		}

		// Header.
		fmt.Printf("%-16s  %-32s  %-10s  %-10s  %5s  %s\n",
			"ID", "Title", "Type", "Subject", "Mins", "Requires")
		fmt.Println(strings.Repeat("─", 100))

		for _, it := range items {
			fmt.Printf("%-16s  %-32s  %-10s  %-10s  %5d  %s\n",
				it.ID, truncate(it.Title, 32), it.Type, it.SubjectArea,
				it.EstimatedMins, formatPrereqs(it.Prerequisites))
		}

		fmt.Printf("\n%d items (catalog %s)\n", len(items), g.Version())
		return nil
	},
}

// catalogPath returns --catalog, then PATHWISE_CATALOG. Empty selects the
// built-in catalog.
func catalogPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("catalog"); p != "" {
		return p
	}
	return os.Getenv("PATHWISE_CATALOG")
}

func formatPrereqs(prereqs []catalog.Prerequisite) string {
	if len(prereqs) == 0 {
		return "-"
	}
	parts := make([]string, len(prereqs))
	for i, p := range prereqs {
		parts[i] = p.ContentID
		if p.MinScore != nil {
			parts[i] += fmt.Sprintf(" (≥%g)", *p.MinScore)
		}
	}
	return strings.Join(parts, ", ")
}

func init() {
	catalogListCmd.Flags().String("subject", "", "Filter by subject area (e.g. algebra)")
	catalogListCmd.Flags().String("type", "", "Filter by content type (course, lesson, assessment)")

	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogListCmd)
}
