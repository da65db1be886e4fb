package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Wikid82/warden/internal/api/middleware"
)

var tokenTTL time.Duration

var issueKeyCmd = &cobra.Command{
	Use:   "issue-key <actor>",
	Short: "Issue a new admin API key, replacing any previous one",
	Long: `Issue a new admin API key for a privileged actor. The key is printed
once; only its hash is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		key, err := c.privileges.IssueAPIKey(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <actor>",
	Short: "Sign a bearer token for an actor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("jwt_secret is not configured")
		}
		token, err := middleware.SignActorToken([]byte(cfg.JWTSecret), args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	rootCmd.AddCommand(issueKeyCmd, tokenCmd)
}
