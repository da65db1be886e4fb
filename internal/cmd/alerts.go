package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Wikid82/warden/internal/services"
)

var testAlertsCmd = &cobra.Command{
	Use:   "test-alerts",
	Short: "Send a test message to every configured alert destination",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n := services.NewAlertNotifier(cfg.Security.AlertURLs)
		if !n.Enabled() {
			return errors.New("no alert destinations configured (security.alert_urls)")
		}
		if err := n.Test(); err != nil {
			return fmt.Errorf("send test alert: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "test alert sent")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testAlertsCmd)
}
