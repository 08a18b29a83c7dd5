package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"recipe_recommend/internal/logger"
	"recipe_recommend/internal/model"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "recommend",
		Short:        "Serve precomputed recipe recommendations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default "+defaultConfigPath+")")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("catalog", "", "Path or URL of the recipe catalog artifact")
	root.PersistentFlags().String("user-map", "", "Path or URL of the user id map artifact")

	load := func(cmd *cobra.Command) (*AppConfig, error) {
		return loadConfig(cmd, configPath)
	}

	root.AddCommand(
		newServeCmd(load),
		newTopNCmd(load),
		newUsersCmd(load),
		newStatsCmd(load),
	)
	return root
}

type configLoader func(cmd *cobra.Command) (*AppConfig, error)

func newServeCmd(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", "", "Listen address, e.g. :8080")
	cmd.Flags().Bool("debug", false, "Enable debug logging")
	cmd.Flags().Bool("watch", false, "Reload automatically when local artifacts change")
	return cmd
}

func newTopNCmd(load configLoader) *cobra.Command {
	var (
		n        int
		tieBreak string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "topn <variant> <user_id>",
		Short: "Print the top-N recommendations for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			svc, _, err := setup(cmd.Context(), cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("n") {
				n = cfg.DefaultN
			}
			res, err := svc.GetTopN(cmd.Context(), args[0], args[1], n, tieBreak)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return writeResult(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 0, "Number of recommendations (default from config)")
	cmd.Flags().StringVar(&tieBreak, "tie-break", "", "Tie-break policy: recipe_id_asc, recipe_id_desc, source_order")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newUsersCmd(load configLoader) *cobra.Command {
	var (
		limit int
		after string
	)
	cmd := &cobra.Command{
		Use:   "users <variant>",
		Short: "List users that have recommendations, in lexicographic order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			svc, _, err := setup(cmd.Context(), cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			users, err := svc.ListKnownUsersAfter(args[0], after, limit)
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of users")
	cmd.Flags().StringVar(&after, "after", "", "Return users strictly after this id")
	return cmd
}

func newStatsCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print artifact statistics and configured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			svc, _, err := setup(cmd.Context(), cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"snapshot": svc.Info(),
				"models":   svc.Models(),
				"stats":    svc.Stats(),
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeResult(w io.Writer, res *model.Result) error {
	if res.NoRecommendations() {
		_, err := fmt.Fprintf(w, "no recommendations for user %s under %s\n", res.UserID, res.Variant)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tRECIPE_ID\tSCORE\tNAME\tMINUTES\tTAGS")
	for _, it := range res.Items {
		minutes := "-"
		if it.Recipe.Minutes != nil {
			minutes = strconv.Itoa(*it.Recipe.Minutes)
		}
		name := it.Recipe.DisplayName()
		if it.Placeholder {
			name += " (not in catalog)"
		}
		fmt.Fprintf(tw, "%d\t%d\t%.4f\t%s\t%s\t%s\n",
			it.Rank, it.Recipe.RecipeID, it.Score.PredictedScore, name, minutes, strings.Join(it.Recipe.Tags, ","))
	}
	return tw.Flush()
}
