package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Socheema/Framez-sub000/internal/app"
	"github.com/Socheema/Framez-sub000/store/message"
)

var sendCmd = &cobra.Command{
	Use:   "send <user-id> <text>...",
	Short: "Send a direct message, starting the conversation if needed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.Inbox.StartConversation(ctx, args[0]); err != nil {
			return err
		}
		if err := a.Inbox.SendMessage(ctx, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		msgs := a.Inbox.Messages()
		if len(msgs) > 0 {
			printMessages(cmd.OutOrStdout(), a.UserID, msgs[len(msgs)-1:])
		}
		return nil
	},
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List conversations with their unread counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Inbox.LoadConversations(ctx); err != nil {
			return err
		}
		printInbox(cmd.OutOrStdout(), a)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <user-id>",
	Short: "Show the conversation with a user and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Inbox.LoadConversations(ctx); err != nil {
			return err
		}
		if _, err := a.Inbox.StartConversation(ctx, args[0]); err != nil {
			return err
		}
		printMessages(cmd.OutOrStdout(), a.UserID, a.Inbox.Messages())
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d unread in total\n", a.Inbox.TotalUnread())
		return nil
	},
}

func printInbox(w io.Writer, a *app.App) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WITH\tUNREAD\tLAST ACTIVITY\tCONVERSATION")
	for _, c := range a.Inbox.Conversations() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.Other(a.UserID), a.Inbox.UnreadCount(c.ID), c.UpdatedAt.Format(time.DateTime), c.ID)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d unread\n", a.Inbox.TotalUnread())
}

func printMessages(w io.Writer, me string, msgs []message.Message) {
	for _, m := range msgs {
		from := m.SenderID
		if from == me {
			from = "me"
		}
		mark := " "
		if !m.Read && m.SenderID == me {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s %s: %s\n", m.CreatedAt.Format(time.Kitchen), mark, from, m.Text)
	}
}

func init() {
	rootCmd.AddCommand(sendCmd, inboxCmd, readCmd)
}
