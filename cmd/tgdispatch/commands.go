package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tgdispatch/internal/app"
)

const defaultConfigPath = "./config.yaml"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "tgdispatch",
		Short:         "Cron-scheduled Telegram message dispatcher",
		Long:          "tgdispatch reads a task sheet, decides which rows are due by their cron schedules, and posts or forwards their payloads to Telegram chats.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file (json, yaml or toml)")

	open := func(ctx context.Context) (*app.App, error) {
		return app.New(ctx, cfgPath)
	}
	root.AddCommand(
		newRunCmd(open),
		newServeCmd(open),
		newIndexCmd(open),
		newValidateCmd(open),
	)
	return root
}

type opener func(ctx context.Context) (*app.App, error)

func newRunCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one dispatch pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.RunPass(cmd.Context())
			if path := a.Config().Metrics.Textfile; path != "" {
				if werr := a.WriteTextfile(path); werr != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "metrics textfile:", werr)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pass %s: %d processed, %d delivered, %d failed, %d deactivated (%s)\n",
				sum.PassID, sum.Processed, sum.Succeeded, sum.Failed, sum.Deactivated,
				sum.Finished.Sub(sum.Started).Round(time.Millisecond))
			if sum.Failed > 0 {
				return fmt.Errorf("%d tasks failed", sum.Failed)
			}
			return nil
		},
	}
}

func newServeCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run passes on serve.schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(cmd.Context())
		},
	}
}

func newIndexCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Record channel messages for album lookups until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.RunIndex(cmd.Context())
		},
	}
}

func newValidateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and every task row without sending anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.CheckTasks(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s tasks, %s active\n", humanize.Comma(int64(res.Total)), humanize.Comma(int64(res.Active)))
			if len(res.Problems) == 0 {
				fmt.Fprintln(out, "ok")
				return nil
			}
			lines := make([]string, 0, len(res.Problems))
			for _, p := range res.Problems {
				lines = append(lines, "  "+p.Error())
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return fmt.Errorf("%d problems found", len(res.Problems))
		},
	}
}
