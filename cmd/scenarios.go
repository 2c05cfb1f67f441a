package cmd

import (
	"fmt"
	"strconv"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/drillsim/internal/scenario"
	"github.com/abhisek/drillsim/internal/ui/layout"
	"github.com/abhisek/drillsim/internal/ui/theme"
)

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "List available scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")

		cat, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}

		var rows [][]string
		for _, sc := range cat.List() {
			if kind != "" && string(sc.Kind) != kind {
				continue
			}
			work := len(sc.InvestigationSteps) + len(sc.ResolutionSteps)
			if sc.Kind == scenario.KindChecklist {
				work = len(sc.Objectives)
			}
			rows = append(rows, []string{
				sc.ID,
				string(sc.Kind),
				sc.Difficulty,
				sc.TimeLimit.String(),
				strconv.Itoa(work),
				strconv.Itoa(len(sc.Hints)),
			})
		}
		if len(rows) == 0 {
			fmt.Println("No scenarios found.")
			return nil
		}

		fmt.Print(layout.RenderTable(
			[]string{"ID", "Kind", "Difficulty", "Limit", "Steps", "Hints"}, rows))
		fmt.Printf("\n%d scenarios\n", len(rows))
		return nil
	},
}

var scenariosShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a scenario briefing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog(cmd.Context())
		if err != nil {
			return err
		}
		sc, err := cat.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Println(layout.RenderBanner(sc.Title, fmt.Sprintf("%s · %s", sc.Kind, sc.TimeLimit), layout.DefaultWidth))
		if sc.Summary != "" {
			fmt.Println(theme.Body.Width(layout.DefaultWidth).Render(sc.Summary))
		}
		section := func(title string, items []string) {
			if len(items) == 0 {
				return
			}
			fmt.Println()
			fmt.Println(theme.Header.Render(title))
			for _, it := range items {
				fmt.Println("  • " + it)
			}
		}
		var inv, res, obj []string
		for _, s := range sc.InvestigationSteps {
			inv = append(inv, s.Title)
		}
		for _, s := range sc.ResolutionSteps {
			res = append(res, s.Title)
		}
		for _, o := range sc.Objectives {
			obj = append(obj, o.Description)
		}
		section("Investigation", inv)
		section("Resolution", res)
		section("Objectives", obj)
		return nil
	},
}

var scenariosValidateCmd = &cobra.Command{
	Use:   "validate <dir>...",
	Short: "Validate scenario files in one or more directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok := lipgloss.NewStyle().Foreground(theme.Success).Render("ok")
		for _, dir := range args {
			scs, err := scenario.LoadDir(cmd.Context(), dir)
			if err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			if _, err := scenario.NewCatalog(scs); err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			fmt.Printf("%s  %s (%d scenarios)\n", ok, dir, len(scs))
		}
		return nil
	},
}

func init() {
	scenariosCmd.Flags().String("kind", "", "Filter by kind (detailed or checklist)")

	scenariosCmd.AddCommand(scenariosShowCmd)
	scenariosCmd.AddCommand(scenariosValidateCmd)
}
