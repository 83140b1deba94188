// Command authgatectl is the credential-rotation operator tool: it runs
// the rotation admin API and scheduler (serve) and drives them remotely
// (login, rotations).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/payment-authgate/cmd/authgatectl/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:     "authgatectl",
		Short:   "Operate the payment gateway's credential rotation lifecycle",
		Long:    `authgatectl runs the rotation admin API and scheduler, and drives rotations against a running one.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.AddCommand(
		commands.NewLoginCommand(),
		commands.NewLogoutCommand(),
		commands.NewRotationsCommand(),
		commands.NewServeCommand(),
	)

	return rootCmd.Execute()
}
