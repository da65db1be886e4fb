package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/services"
)

var (
	blockReason   string
	blockDuration time.Duration
	actorFlag     string
	historyIP     string

	eventsRisk   string
	eventsAction string
	eventsIP     string
	eventsLimit  int
	eventsOffset int
)

var blockCmd = &cobra.Command{
	Use:   "block <ip>",
	Short: "Block a client address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		req := services.BlockRequest{
			IPAddress: args[0],
			Reason:    blockReason,
			Actor:     cliActor(),
			Source:    "cli",
		}
		if blockDuration != 0 {
			secs := int64(blockDuration / time.Second)
			req.DurationSeconds = &secs
		}
		rec, err := c.admin.Block(cmd.Context(), req)
		if err != nil && !errors.Is(err, services.ErrAuditIncomplete) {
			return err
		}
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <ip>",
	Short: "Lift the active block on a client address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		changed, err := c.admin.Unblock(cmd.Context(), args[0], cliActor())
		if err != nil && !errors.Is(err, services.ErrAuditIncomplete) {
			return err
		}
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
		}
		return printJSON(cmd.OutOrStdout(), map[string]bool{"unblocked": changed})
	},
}

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "List enforced blocks, or every record for one address with --history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		if historyIP != "" {
			rows, err := c.store.History(cmd.Context(), historyIP)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		}
		if _, err := c.admin.Hydrate(cmd.Context()); err != nil {
			return err
		}
		listing, err := c.admin.ListBlocked(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), listing.Persisted)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query the security event ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		page, err := c.ledger.Query(cmd.Context(), services.EventFilter{
			RiskLevel: models.RiskLevel(eventsRisk),
			Action:    models.EventAction(eventsAction),
			IPAddress: eventsIP,
		}, services.Page{Limit: eventsLimit, Offset: eventsOffset})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), page)
	},
}

func init() {
	blockCmd.Flags().StringVar(&blockReason, "reason", "", "Why the address is blocked")
	blockCmd.Flags().DurationVar(&blockDuration, "duration", 0, "Block length (e.g. 1h); omit for a permanent block")
	for _, c := range []*cobra.Command{blockCmd, unblockCmd} {
		c.Flags().StringVar(&actorFlag, "actor", "", "Actor recorded in the audit trail (defaults to the OS user)")
	}

	blocksCmd.Flags().StringVar(&historyIP, "history", "", "Show every block record ever written for this address, newest first")

	eventsCmd.Flags().StringVar(&eventsRisk, "risk", "", "Filter by risk level (LOW, MEDIUM, HIGH, CRITICAL)")
	eventsCmd.Flags().StringVar(&eventsAction, "action", "", "Filter by action")
	eventsCmd.Flags().StringVar(&eventsIP, "ip", "", "Filter by client address")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", services.DefaultPageLimit, "Page size")
	eventsCmd.Flags().IntVar(&eventsOffset, "offset", 0, "Page offset")

	rootCmd.AddCommand(blockCmd, unblockCmd, blocksCmd, eventsCmd)
}

func cliActor() string {
	if actorFlag != "" {
		return actorFlag
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return services.SystemActor
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
