package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillsim/internal/ui/layout"
	"github.com/abhisek/drillsim/internal/ui/theme"
)

var statsCmd = &cobra.Command{
	Use:   "stats <user>",
	Short: "Show a learner's performance across scenarios",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := args[0]
		limit, _ := cmd.Flags().GetInt("recent")
		ctx := cmd.Context()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		perfs, err := st.ListPerformance(ctx, user)
		if err != nil {
			return fmt.Errorf("list performance: %w", err)
		}
		if len(perfs) == 0 {
			fmt.Printf("No attempts recorded for %s.\n", user)
			return nil
		}

		fmt.Println(layout.RenderBanner("drillsim stats", "user "+user, layout.DefaultWidth))

		var rows [][]string
		for _, p := range perfs {
			rows = append(rows, []string{
				p.ScenarioID,
				theme.Level(p.MasteryLevel),
				fmt.Sprintf("%d/%d", p.SuccessfulAttempts, p.Attempts),
				strconv.Itoa(p.BestScore),
				(time.Duration(p.AverageTimeToResolve) * time.Second).Round(time.Second).String(),
				strconv.Itoa(p.TroubleshootingSpeed),
				p.LastAttemptedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		fmt.Print(layout.RenderTable(
			[]string{"Scenario", "Mastery", "Solved", "Best", "Avg time", "Speed", "Last"}, rows))

		if limit <= 0 {
			return nil
		}
		recent, err := st.ListAttempts(ctx, user, "", limit)
		if err != nil {
			return fmt.Errorf("list attempts: %w", err)
		}
		rows = rows[:0]
		for _, a := range recent {
			outcome := theme.Failed.Render("failed")
			switch {
			case a.Success:
				outcome = theme.Passed.Render("resolved")
			case a.TimedOut:
				outcome = theme.Failed.Render("timed out")
			}
			completed := ""
			if a.CompletedAt != nil {
				completed = a.CompletedAt.Local().Format("2006-01-02 15:04")
			}
			rows = append(rows, []string{
				completed,
				a.ScenarioID,
				outcome,
				strconv.Itoa(a.Score),
				strconv.Itoa(a.HintsUsed),
			})
		}
		fmt.Println()
		fmt.Print(layout.RenderTable([]string{"Completed", "Scenario", "Outcome", "Score", "Hints"}, rows))
		return nil
	},
}

func init() {
	statsCmd.Flags().Int("recent", 5, "Number of recent attempts to show (0 to hide)")
}
