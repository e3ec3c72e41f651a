package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"goflare.io/freshen"
	"goflare.io/freshen/models"
	"goflare.io/freshen/store"
	"goflare.io/freshen/utils"
)

func newFetchCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:       "fetch <events|news|users|school>",
		Short:     "Load a resource through the cache and print it",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"events", "news", "users", "school"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(c *freshen.Client, _ store.Adapter) error {
				ctx := cmd.Context()
				var (
					data    any
					loadErr error
				)
				switch args[0] {
				case "events", "news", "users":
					ls := map[string]*freshen.ListStore{"events": c.Events(), "news": c.News(), "users": c.Users()}[args[0]]
					view := ls.Mount(ctx)
					defer view.Unmount()
					if refresh {
						loadErr = ignoreInFlight(view.Refresh(ctx))
					}
					ls.Wait()
					st := view.State()
					data = st.Data
					if loadErr == nil {
						loadErr = st.Err
					}
				case "school":
					view := c.SchoolInfo().Mount(ctx)
					defer view.Unmount()
					if refresh {
						loadErr = ignoreInFlight(view.Refresh(ctx))
					}
					c.SchoolInfo().Wait()
					st := view.State()
					data = st.Data
					if loadErr == nil {
						loadErr = st.Err
					}
				default:
					return fmt.Errorf("unknown resource %q", args[0])
				}
				if loadErr != nil {
					return fmt.Errorf("%s: %w", freshen.KindOf(loadErr), loadErr)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(data)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch from the API even when the cache is fresh")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the age and staleness of every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(c *freshen.Client, adapter store.Adapter) error {
				ctx := cmd.Context()
				codec := c.Config().Serialization.Codec
				now := time.Now()

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tAGE\tSTALE\tEXPIRED\tBYTES")
				for _, key := range models.AllKeys() {
					raw, found, err := adapter.Get(ctx, key)
					if err != nil {
						return err
					}
					if !found {
						fmt.Fprintf(w, "%s\t-\t-\t-\t0\n", key)
						continue
					}
					payload, ts, err := codec.DecodeEntry([]byte(raw))
					if err != nil {
						fmt.Fprintf(w, "%s\tcorrupt\t-\t-\t%d\n", key, len(raw))
						continue
					}
					entry := models.Entry{Data: payload, Timestamp: ts}
					policy := c.Config().Policy(key)
					fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\n", key,
						utils.Age(ts, now).Truncate(time.Second),
						entry.IsStale(now, policy.Stale),
						entry.IsExpired(now, policy.HardExpiry),
						len(raw))
				}
				return w.Flush()
			})
		},
	}
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, func(c *freshen.Client, _ store.Adapter) error {
				return c.ClearAllCaches(cmd.Context())
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored auth token",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <token>",
			Short: "Store the auth token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, func(c *freshen.Client, _ store.Adapter) error {
					return c.SetToken(cmd.Context(), args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Forget the token and every cached resource",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withClient(cmd, func(c *freshen.Client, _ store.Adapter) error {
					return c.Logout(cmd.Context())
				})
			},
		},
	)
	return cmd
}

// ignoreInFlight drops ErrRefreshInFlight; the running refresh reaches the view.
func ignoreInFlight(err error) error {
	if errors.Is(err, freshen.ErrRefreshInFlight) {
		return nil
	}
	return err
}
