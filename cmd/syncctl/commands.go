package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Harvey-AU/ad-metrics-sync/internal/adsync"
	"github.com/Harvey-AU/ad-metrics-sync/internal/db"
	"github.com/Harvey-AU/ad-metrics-sync/internal/metatoken"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type syncRunner interface {
	Platforms() []adsync.Platform
	SyncAll(ctx context.Context, platforms []adsync.Platform, trigger string) *adsync.BatchResult
}

type tokenManager interface {
	Status(ctx context.Context) *metatoken.Status
	AutoRefresh(ctx context.Context) *metatoken.RefreshResult
}

type clientLister interface {
	ListClients(ctx context.Context, activeOnly bool) ([]*db.Client, error)
}

// env is what a command needs at run time
type env struct {
	runner  syncRunner
	tokens  tokenManager
	clients clientLister
	close   func() error
}

type envLoader func(ctx context.Context) (*env, error)

// errSyncFailures makes the process exit non-zero when any platform failed
var errSyncFailures = errors.New("sync completed with failures")

type options struct {
	jsonOutput bool
	verbose    bool
}

func newRootCmd(load envLoader) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "syncctl",
		Short:        "Operate the ad metrics sync from the command line",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newSyncCmd(load, opts),
		newTokenCmd(load),
		newClientsCmd(load, opts),
	)
	return root
}

// withEnv loads the environment, runs fn and releases it
func withEnv(cmd *cobra.Command, load envLoader, fn func(*env) error) error {
	e, err := load(cmd.Context())
	if err != nil {
		return err
	}
	if e.close != nil {
		defer e.close()
	}
	return fn(e)
}

func newSyncCmd(load envLoader, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [platform...]",
		Short: "Sync every active client for the given platforms",
		Long: `Run the batch sync now. With no arguments every configured platform is synced.

Platforms: google_ads, meta_ads, tiktok_ads, ga4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			platforms, err := adsync.ParsePlatforms(args)
			if err != nil {
				return err
			}

			return withEnv(cmd, load, func(e *env) error {
				if len(args) == 0 {
					platforms = e.runner.Platforms()
				}
				if len(platforms) == 0 {
					return errors.New("no platforms are configured")
				}

				result := e.runner.SyncAll(cmd.Context(), platforms, adsync.TriggerCLI)
				if err := printBatch(cmd.OutOrStdout(), result, opts.jsonOutput); err != nil {
					return err
				}
				if result.HasFailures() {
					return errSyncFailures
				}
				return nil
			})
		},
	}
}

func newTokenCmd(load envLoader) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect or refresh the Meta access token",
	}

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the Meta token's validity and expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, load, func(e *env) error {
				return printJSON(cmd.OutOrStdout(), e.tokens.Status(cmd.Context()))
			})
		},
	})

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Exchange the Meta token when it is close to expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, load, func(e *env) error {
				result := e.tokens.AutoRefresh(cmd.Context())
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if !result.Success {
					return fmt.Errorf("token refresh needs manual intervention: %s", result.Reason)
				}
				return nil
			})
		},
	})

	return tokenCmd
}

func newClientsCmd(load envLoader, opts *options) *cobra.Command {
	clientsCmd := &cobra.Command{
		Use:   "clients",
		Short: "Inspect the client registry",
	}

	var activeOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, load, func(e *env) error {
				clients, err := e.clients.ListClients(cmd.Context(), activeOnly)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), clients)
				}
				return printClients(cmd.OutOrStdout(), clients)
			})
		},
	}
	listCmd.Flags().BoolVar(&activeOnly, "active", false, "only active clients")

	clientsCmd.AddCommand(listCmd)
	return clientsCmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBatch(w io.Writer, result *adsync.BatchResult, asJSON bool) error {
	if asJSON {
		return printJSON(w, result)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATFORM\tSTATUS\tCLIENTS\tOK\tFAILED\tROWS\tDURATION")
	for _, s := range result.Summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%dms\n",
			s.Platform, s.Status, s.TotalClients, s.Successful, s.Failed, s.TotalRows, s.DurationMS)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range result.Summaries {
		if s.Error != "" {
			fmt.Fprintf(w, "%s: %s\n", s.Platform, s.Error)
		}
		for _, ce := range s.Errors {
			fmt.Fprintf(w, "%s: %s (%s): %s\n", s.Platform, ce.ClientName, ce.ClientID, ce.Error)
		}
	}
	return nil
}

func printClients(w io.Writer, clients []*db.Client) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tINDUSTRY\tACTIVE\tPLATFORMS")
	for _, c := range clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", c.ClientID, c.ClientName, c.Industry, c.Active, linkedPlatforms(c))
	}
	return tw.Flush()
}

func linkedPlatforms(c *db.Client) string {
	var linked []string
	for _, p := range adsync.AllPlatforms() {
		if c.AccountID(p.AccountColumn()) != "" {
			linked = append(linked, string(p))
		}
	}
	if len(linked) == 0 {
		return "-"
	}
	return strings.Join(linked, ",")
}
