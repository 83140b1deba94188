package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
)

const (
	keyringService = "authgatectl"
	keyringAccount = "admin-token"
)

// NewLoginCommand stores the administrative bearer token in the OS
// keychain so subsequent rotation commands don't need --token on every
// invocation.
func NewLoginCommand() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the administrative bearer token for this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			if err := keyring.Set(keyringService, keyringAccount, token); err != nil {
				return fmt.Errorf("store admin token: %w", err)
			}
			fmt.Println("Admin token stored.")
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "administrative bearer token")
	return cmd
}

// NewLogoutCommand removes the stored administrative bearer token.
func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored administrative bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keyring.Delete(keyringService, keyringAccount); err != nil && err != keyring.ErrNotFound {
				return fmt.Errorf("remove admin token: %w", err)
			}
			fmt.Println("Admin token removed.")
			return nil
		},
	}
}

// resolveToken prefers an explicit --token flag, falling back to the
// keychain entry NewLoginCommand stored.
func resolveToken(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	token, err := keyring.Get(keyringService, keyringAccount)
	if err != nil {
		return "", fmt.Errorf("no admin token available: run 'authgatectl login --token <token>' first: %w", err)
	}
	return token, nil
}
