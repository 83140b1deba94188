package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/payment-authgate/cmd/authgatectl/adminclient"
)

// rootFlags are the persistent flags every rotation subcommand shares.
type rootFlags struct {
	serverURL string
	token     string
}

func (f *rootFlags) client() (*adminclient.Client, error) {
	token, err := resolveToken(f.token)
	if err != nil {
		return nil, err
	}
	if f.serverURL == "" {
		return nil, fmt.Errorf("--server is required")
	}
	return adminclient.New(f.serverURL, token), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRotationsCommand groups the admin rotation operations under
// `authgatectl rotations <verb>`, one HTTP call per verb against the
// admin surface served by `authgatectl serve`.
func NewRotationsCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "rotations",
		Short: "Manage credential rotations",
	}
	cmd.PersistentFlags().StringVar(&flags.serverURL, "server", "", "base URL of the admin surface served by authgatectl serve")
	cmd.PersistentFlags().StringVar(&flags.token, "token", "", "administrative bearer token (overrides the stored one)")

	cmd.AddCommand(
		newInitiateCmd(flags),
		newGetCmd(flags),
		newAdvanceCmd(flags),
		newCompleteCmd(flags),
		newCancelCmd(flags),
		newByClientCmd(flags),
		newActiveCmd(flags),
	)
	return cmd
}

func newInitiateCmd(flags *rootFlags) *cobra.Command {
	var (
		reason            string
		transitionMinutes int
		force             bool
	)
	cmd := &cobra.Command{
		Use:   "initiate <clientId>",
		Short: "Start a rotation: mint a new credential version in DUAL_ACTIVE alongside the old one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			resp, err := c.Initiate(cmd.Context(), args[0], reason, transitionMinutes, force)
			if err != nil {
				return err
			}
			fmt.Printf("rotation %s initiated; new secret (store this now, it is never shown again):\n%s\n\n", resp.Record.RotationID, resp.NewRawSecret)
			return printJSON(resp.Record)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason for rotation")
	cmd.Flags().IntVar(&transitionMinutes, "transition-minutes", 60, "dual-active transition period in minutes")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the single-in-flight-rotation guard")
	return cmd
}

func newGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <rotationId>",
		Short: "Show one rotation record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			rec, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func newAdvanceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <rotationId> <targetState>",
		Short: "Advance a rotation to the next state (DUAL_ACTIVE, OLD_DEPRECATED, NEW_ACTIVE)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			rec, err := c.Advance(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func newCompleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <rotationId>",
		Short: "Advance a rotation through every remaining state to NEW_ACTIVE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			rec, err := c.Complete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func newCancelCmd(flags *rootFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <rotationId>",
		Short: "Abort an in-progress rotation and restore the prior credential state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			rec, err := c.Cancel(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason for cancellation")
	return cmd
}

func newByClientCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <clientId>",
		Short: "List every rotation recorded for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			recs, err := c.ByClient(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(recs)
		},
	}
}

func newActiveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List every rotation currently in a non-terminal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			recs, err := c.Active(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(recs)
		},
	}
}
