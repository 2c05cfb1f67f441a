package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/drillsim/internal/drill"
	"github.com/abhisek/drillsim/internal/store"
	"github.com/abhisek/drillsim/internal/ui/components"
	"github.com/abhisek/drillsim/internal/ui/layout"
	"github.com/abhisek/drillsim/internal/ui/theme"
)

var drillCmd = &cobra.Command{
	Use:   "drill <script.yaml>",
	Short: "Replay a scripted attempt on a simulated clock",
	Long: "Replays the actions in a drill script against the attempt engine,\n" +
		"advancing a simulated clock between steps, and prints the scored result.\n" +
		"With --dry-run nothing is written to the database.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		ctx := cmd.Context()

		script, err := drill.Load(args[0])
		if err != nil {
			return err
		}
		cat, err := openCatalog(ctx)
		if err != nil {
			return err
		}

		var st *store.Store
		if dryRun {
			st, err = store.Open("file::memory:")
		} else {
			st, err = openStore()
		}
		if err != nil {
			return err
		}
		defer st.Close()

		runner := drill.NewRunner(cat, st, drill.WithLogger(logger))
		rep, err := runner.Run(ctx, script)
		if rep != nil {
			printEvents(rep)
		}
		if err != nil {
			return err
		}
		printResult(rep)
		return nil
	},
}

func printEvents(rep *drill.Report) {
	var rows [][]string
	for _, ev := range rep.Events {
		note := ev.Note
		if ev.Err != nil {
			note = theme.Hint.Render("expected: " + ev.Err.Error())
		}
		target := ev.Step.ID
		if target == "" {
			target = ev.Step.Text
		}
		rows = append(rows, []string{
			formatElapsed(ev.Elapsed),
			string(ev.Step.Action),
			truncate(target, 36),
			string(ev.Phase),
			note,
		})
	}
	fmt.Print(layout.RenderTable([]string{"T+", "Action", "Target", "Phase", "Note"}, rows))
}

func printResult(rep *drill.Report) {
	a := rep.Result.Attempt
	outcome := theme.Failed.Render("FAILED")
	switch {
	case a.Success:
		outcome = theme.Passed.Render("RESOLVED")
	case a.TimedOut:
		outcome = theme.Failed.Render("TIMED OUT")
	}

	fmt.Println()
	fmt.Println(layout.RenderBanner(a.ScenarioID, outcome, layout.DefaultWidth))
	const width = 60
	for _, bar := range []components.ScoreBar{
		{Label: "Score", Value: a.Score, ShowValue: true, Width: width, LabelWidth: 10},
		{Label: "Accuracy", Value: int(a.Accuracy), ShowValue: true, Width: width, LabelWidth: 10},
		{Label: "Efficiency", Value: int(a.Efficiency), ShowValue: true, Width: width, LabelWidth: 10},
	} {
		fmt.Println(bar.View())
	}

	if p := rep.Result.Performance; p != nil {
		fmt.Printf("\nMastery: %s after %d attempts (best %d)\n", theme.Level(p.MasteryLevel), p.Attempts, p.BestScore)
	}
	if c := rep.Result.LevelChange; c != nil {
		fmt.Printf("Level changed: %s → %s\n", c.From, theme.Level(c.To))
	}
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	drillCmd.Flags().Bool("dry-run", false, "Use an in-memory database instead of the configured one")
}
