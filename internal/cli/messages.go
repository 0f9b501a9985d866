package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newMessagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages CHAT_ID",
		Short: "Print a chat's history",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.messages.LoadSnapshot(ctx, id); err != nil {
				return err
			}
			v := a.messages.View()
			printMessages(a.out, v.Messages, v.Pending, a.self(), time.Now())
			return nil
		}),
	}
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send CHAT_ID TEXT...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: withSession(func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.messages.LoadSnapshot(ctx, id); err != nil {
				return err
			}
			msg, err := a.messages.Submit(ctx, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, messageLine(msg, a.self(), time.Now()))
			return nil
		}),
	}
}

func newEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit MESSAGE_ID TEXT...",
		Short: "Change the text of a message you sent",
		Args:  cobra.MinimumNArgs(2),
		RunE: withSession(func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			msg, err := a.messages.Edit(ctx, id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, messageLine(msg, a.self(), time.Now()))
			return nil
		}),
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm MESSAGE_ID",
		Aliases: []string{"delete"},
		Short:   "Delete a message you sent",
		Args:    cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, a *app, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.messages.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted message %d\n", id)
			return nil
		}),
	}
}
