package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the inbox live and print unread changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openWatchApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.Live() {
			return errors.New("watch needs change events, set realtime.url or FRAMEZ_REALTIME_URL")
		}
		if err := a.Watch(ctx); err != nil {
			return err
		}
		if err := a.Load(ctx); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printInbox(out, a)
		last := a.Inbox.TotalUnread()
		var lastErr error

		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.Canceled) {
					return nil
				}
				return ctx.Err()
			case <-ticker.C:
				if total := a.Inbox.TotalUnread(); total != last {
					last = total
					fmt.Fprintf(out, "%s unread: %d\n", time.Now().Format(time.TimeOnly), total)
				}
				if err := a.Inbox.Err(); err != nil && err != lastErr {
					log.Sugar().Warnw("inbox error", "error", err)
				}
				lastErr = a.Inbox.Err()
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "how often to check for changes")
}
