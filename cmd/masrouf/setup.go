package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/masrouf/pkg/client"
)

// setupScopes returns the OAuth scopes of the configured mirror, or those of
// the sheets mirror when the configured one needs none.
func (a *app) setupScopes() ([]string, error) {
	scopes, err := a.registry.Scopes(a.cfg.MirrorPlugin)
	if err != nil {
		return nil, err
	}
	if len(scopes) > 0 {
		return scopes, nil
	}
	return a.registry.Scopes("sheets")
}

func (a *app) setupCmd() *cobra.Command {
	var (
		force bool
		port  int
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Authorize Google Sheets access and cache the OAuth token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			secretPath := a.cfg.ClientSecretPath
			tokenPath := a.cfg.TokenPath()

			fmt.Fprintln(out, "=== Masrouf Setup ===")
			fmt.Fprintln(out)

			if _, err := os.Stat(secretPath); errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("credentials file not found: %s\n\nTo get your credentials:\n"+
					"1. Go to https://console.cloud.google.com/apis/credentials\n"+
					"2. Create an OAuth 2.0 Client ID (Desktop application)\n"+
					"3. Download the JSON file and save it as '%s' (or set GOOGLE_CLIENT_SECRET)", secretPath, secretPath)
			}

			if !force {
				if _, err := os.Stat(tokenPath); err == nil {
					fmt.Fprintf(out, "Already authenticated! Token file exists: %s\n", tokenPath)
					fmt.Fprintln(out)
					fmt.Fprintln(out, "To re-authenticate, run: masrouf setup --force")
					return nil
				}
			} else {
				if err := os.Remove(tokenPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
					a.logger.Warn("failed to remove existing token", "error", err)
				}
				fmt.Fprintln(out, "Forcing re-authentication...")
				fmt.Fprintln(out)
			}

			scopes, err := a.setupScopes()
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(tokenPath), 0o755); err != nil {
				return fmt.Errorf("creating token directory: %w", err)
			}

			fmt.Fprintln(out, "Required permissions:")
			fmt.Fprintln(out, "  - Sheets: Read and write spreadsheets (to mirror expenses)")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Starting authentication...")
			fmt.Fprintln(out)

			_, err = client.New(cmd.Context(), client.Config{
				SecretPath:   secretPath,
				TokenPath:    tokenPath,
				Interactive:  true,
				CallbackPort: port,
			}, a.logger.With("component", "oauth"), scopes...)
			if err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "=== Setup Complete ===")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Token saved to: %s\n", tokenPath)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Next steps:")
			fmt.Fprintln(out, "  1. Set MASROUF_MIRROR=sheets and GSHEETS_NAME plus GSHEETS_ID or GSHEETS_TITLE")
			fmt.Fprintln(out, "  2. Run 'masrouf run' to start recording expenses")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "discard the cached token and authorize again")
	cmd.Flags().IntVar(&port, "port", client.DefaultCallbackPort, "local port for the OAuth callback")
	return cmd
}
