package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resetCmd = &cobra.Command{
	Use:   "reset <user>",
	Short: "Delete a learner's attempts and performance records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := args[0]
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to delete data for %s without --yes", user)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ResetUser(cmd.Context(), user)
		if err != nil {
			return fmt.Errorf("reset %s: %w", user, err)
		}
		logger.Info("Reset learner", zap.String("user", user), zap.Int("attempts", n))
		fmt.Printf("Removed %d attempts for %s.\n", n, user)
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "Confirm deletion")
}
