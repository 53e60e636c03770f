package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"subwatch/internal/model"
	"subwatch/internal/query"
	"subwatch/internal/subscription"
)

// errNoMatch makes "match" exit non-zero so it can be scripted.
var errNoMatch = errors.New("no match")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errNoMatch) {
			fmt.Fprintf(os.Stderr, "subctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subctl",
		Short: "Inspect subscription queries and the subscriptions file",
		Long: `subctl checks subscription queries offline: it shows how a query is parsed,
tests it against a hand-written submission and prints the stored subscriptions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newParseCmd(),
		newMatchCmd(),
		newListCmd(),
	)
	return cmd
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <query>",
		Short: "Print the canonical form of a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), q.String())
			return nil
		},
	}
}

func newMatchCmd() *cobra.Command {
	var (
		sub      model.Submission
		keywords []string
		rating   string
	)
	cmd := &cobra.Command{
		Use:   "match <query>",
		Short: "Test a query against a submission described by flags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			r, ok := model.ParseRating(rating)
			if !ok {
				return fmt.Errorf("unknown rating %q", rating)
			}
			sub.Rating = r
			sub.Keywords = keywords

			out := cmd.OutOrStdout()
			if !q.Matches(&sub) {
				fmt.Fprintln(out, "no match")
				return errNoMatch
			}
			fmt.Fprintln(out, "match")
			if loc, ok := q.(query.Locator); ok {
				texts := query.FieldAny.TextsByKey(&sub)
				locs := loc.Locations(&sub)
				slices.SortFunc(locs, func(a, b query.Location) int {
					return cmp.Or(strings.Compare(a.Key, b.Key), a.Start-b.Start)
				})
				for _, l := range locs {
					fmt.Fprintf(out, "  %s [%d:%d] %q\n", l.Key, l.Start, l.End, texts[l.Key][l.Start:l.End])
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sub.Title, "title", "", "Submission title")
	cmd.Flags().StringVar(&sub.Description, "description", "", "Submission description")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "Submission keywords (comma separated or repeated)")
	cmd.Flags().StringVar(&sub.Artist.Name, "artist", "", "Artist display name")
	cmd.Flags().StringVar(&sub.Artist.Profile, "profile", "", "Artist profile name")
	cmd.Flags().StringVar(&rating, "rating", "general", "Rating: general, mature or adult")
	return cmd
}

func newListCmd() *cobra.Command {
	var (
		file string
		dest int64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the subscriptions and blocklists in a subscriptions file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := subscription.Load(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			current := int64(0)
			first := true
			for _, sub := range registry.All() {
				if dest != 0 && sub.Destination != dest {
					continue
				}
				if first || sub.Destination != current {
					current, first = sub.Destination, false
					fmt.Fprintf(out, "%d:\n", current)
					for _, b := range registry.Blocks(current) {
						fmt.Fprintf(out, "  block %s\n", b)
					}
				}
				status := ""
				if sub.Paused {
					status = " (paused)"
				}
				fmt.Fprintf(out, "  %s%s\n", sub.Query, status)
			}
			if id, ok := registry.LatestID(); ok {
				fmt.Fprintf(out, "latest %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "./data/subscriptions.json", "Subscriptions file")
	cmd.Flags().Int64Var(&dest, "dest", 0, "Only show this destination")
	return cmd
}
