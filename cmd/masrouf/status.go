package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/masrouf/pkg/client"
)

// statusReport prints one check per line and remembers whether any failed.
type statusReport struct {
	out     io.Writer
	allGood bool
}

func (r *statusReport) ok(name, format string, args ...any) {
	fmt.Fprintf(r.out, "%s: ✓ %s\n", name, fmt.Sprintf(format, args...))
}

func (r *statusReport) warn(name, format string, args ...any) {
	fmt.Fprintf(r.out, "%s: ⚠ %s\n", name, fmt.Sprintf(format, args...))
}

func (r *statusReport) fail(name string, err error) {
	fmt.Fprintf(r.out, "%s: ✗ %v\n", name, err)
	r.allGood = false
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, storage and credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := &statusReport{out: cmd.OutOrStdout(), allGood: true}
			ctx := cmd.Context()

			fmt.Fprintln(r.out, "=== Masrouf Status ===")
			fmt.Fprintln(r.out)

			a.checkStore(ctx, r)
			a.checkFrontends(r)
			httpClient := a.checkMirror(ctx, r)
			if httpClient != nil {
				a.checkSheetsAPI(ctx, r, httpClient)
			}

			fmt.Fprintln(r.out)
			if r.allGood {
				fmt.Fprintln(r.out, "Status: ✓ Ready to run")
				fmt.Fprintln(r.out)
				fmt.Fprintln(r.out, "Run 'masrouf run' to start recording expenses.")
			} else {
				fmt.Fprintln(r.out, "Status: ✗ Configuration issues detected")
				fmt.Fprintln(r.out)
				fmt.Fprintln(r.out, "Fix the issues above, then run 'masrouf status' again.")
			}
			return nil
		},
	}
}

func (a *app) checkStore(ctx context.Context, r *statusReport) {
	name := fmt.Sprintf("Store (%s)", a.cfg.StorePlugin)
	l, closeStore, err := a.openLedger(ctx)
	if err != nil {
		r.fail(name, err)
		return
	}
	defer closeStore()

	snap := l.Export()
	s := l.Settings()
	r.ok(name, "%d expenses, %d categories, budget %.2f %s",
		len(snap.Expenses), len(snap.Categories), s.MonthlyBudget, s.Currency)
}

func (a *app) checkFrontends(r *statusReport) {
	if a.cfg.Telegram.Token == "" {
		r.warn("Telegram bot", "disabled (TELEGRAM_TOKEN not set)")
	} else {
		r.ok("Telegram bot", "configured (poll every %s)", a.cfg.Telegram.PollInterval)
	}

	if a.cfg.HTTPAddr == "" {
		r.warn("HTTP API", "disabled (MASROUF_HTTP_ADDR not set)")
	} else {
		r.ok("HTTP API", "listening on %s", a.cfg.HTTPAddr)
	}

	if a.cfg.Telegram.Token == "" && a.cfg.HTTPAddr == "" {
		r.fail("Run mode", errors.New("nothing to run: set TELEGRAM_TOKEN or MASROUF_HTTP_ADDR"))
	}
}

// checkMirror validates the mirror configuration and, when the mirror needs
// OAuth, returns an authorized client built from the cached token.
func (a *app) checkMirror(ctx context.Context, r *statusReport) *http.Client {
	if a.cfg.MirrorPlugin == "" {
		r.warn("Mirror", "none")
		return nil
	}

	name := fmt.Sprintf("Mirror (%s)", a.cfg.MirrorPlugin)
	if _, err := a.registry.GetMirror(a.cfg.MirrorPlugin); err != nil {
		r.fail(name, err)
		return nil
	}
	if _, err := a.cfg.MirrorPluginConfig(); err != nil {
		r.fail(name, err)
		return nil
	}
	r.ok(name, "configured")

	scopes, err := a.registry.Scopes(a.cfg.MirrorPlugin)
	if err != nil || len(scopes) == 0 {
		return nil
	}

	secretName := fmt.Sprintf("Credentials file (%s)", a.cfg.ClientSecretPath)
	if _, err := os.Stat(a.cfg.ClientSecretPath); errors.Is(err, fs.ErrNotExist) {
		r.fail(secretName, errors.New("not found"))
		return nil
	}
	r.ok(secretName, "found")

	tokenName := fmt.Sprintf("OAuth token (%s)", a.cfg.TokenPath())
	token, err := client.TokenFromFile(a.cfg.TokenPath())
	if err != nil {
		r.fail(tokenName, fmt.Errorf("not usable (run 'masrouf setup'): %w", err))
		return nil
	}
	if token.Expiry.Before(time.Now()) {
		r.warn(tokenName, "expired (will refresh on next run)")
	} else {
		r.ok(tokenName, "valid (expires: %s)", token.Expiry.Format(time.RFC3339))
	}

	httpClient, err := client.New(ctx, client.Config{
		SecretPath: a.cfg.ClientSecretPath,
		TokenPath:  a.cfg.TokenPath(),
	}, a.logger.With("component", "oauth"), scopes...)
	if err != nil {
		r.fail("OAuth client", err)
		return nil
	}
	return httpClient
}

func (a *app) checkSheetsAPI(ctx context.Context, r *statusReport, httpClient *http.Client) {
	if a.cfg.Sheets.ID == "" {
		r.warn("Sheets API", "skipped (spreadsheet will be created on first run)")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		r.fail("Sheets API", fmt.Errorf("creating service: %w", err))
		return
	}
	sheet, err := svc.Spreadsheets.Get(a.cfg.Sheets.ID).Context(ctx).Do()
	if err != nil {
		r.fail("Sheets API", fmt.Errorf("API call failed: %w", err))
		return
	}
	title := a.cfg.Sheets.ID
	if sheet.Properties != nil {
		title = sheet.Properties.Title
	}
	r.ok("Sheets API", "connected to %q", title)
}
