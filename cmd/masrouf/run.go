package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/masrouf/internal/daemon"
	"github.com/ArionMiles/masrouf/pkg/client"
)

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the chat bot, HTTP API and mirror",
		Long: `Run polls the Telegram bot (when TELEGRAM_TOKEN is set), serves the HTTP
API (when MASROUF_HTTP_ADDR is set) and feeds every new expense to the
mirror selected by MASROUF_MIRROR. It stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			scopes, err := a.registry.Scopes(a.cfg.MirrorPlugin)
			if err != nil {
				return err
			}

			var httpClient *http.Client
			if len(scopes) > 0 {
				httpClient, err = client.New(ctx, client.Config{
					SecretPath: a.cfg.ClientSecretPath,
					TokenPath:  a.cfg.TokenPath(),
				}, a.logger.With("component", "oauth"), scopes...)
				if err != nil {
					return fmt.Errorf("creating http client: %w", err)
				}
			}

			return daemon.New(a.registry, httpClient, nil, a.logger).Run(ctx, a.cfg)
		},
	}
}
