package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chatsync/internal/model"
)

func newChatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List and manage chats",
		Args:  cobra.NoArgs,
		RunE:  withSession(listChats),
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List your chats",
			Args:  cobra.NoArgs,
			RunE:  withSession(listChats),
		},
		newChatCreateCmd(),
		&cobra.Command{
			Use:   "show CHAT_ID",
			Short: "Show a chat and its participants",
			Args:  cobra.ExactArgs(1),
			RunE: withSession(func(ctx context.Context, a *app, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				chat, err := a.chats.Get(ctx, id)
				if err != nil {
					return err
				}
				printChat(a.out, chat, a.self())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "rename CHAT_ID TITLE",
			Short: "Change a chat's title",
			Args:  cobra.ExactArgs(2),
			RunE: withSession(func(ctx context.Context, a *app, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				title := args[1]
				chat, err := a.chats.Update(ctx, id, model.ChatUpdate{Title: &title})
				if err != nil {
					return err
				}
				printChat(a.out, chat, a.self())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "add CHAT_ID EMAIL",
			Short: "Add a participant by email",
			Args:  cobra.ExactArgs(2),
			RunE: withSession(func(ctx context.Context, a *app, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				chat, err := a.chats.AddParticipant(ctx, id, args[1])
				if err != nil {
					return err
				}
				printChat(a.out, chat, a.self())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "remove CHAT_ID EMAIL",
			Short: "Remove a participant by email",
			Args:  cobra.ExactArgs(2),
			RunE: withSession(func(ctx context.Context, a *app, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				chat, err := a.chats.RemoveParticipant(ctx, id, args[1])
				if err != nil {
					return err
				}
				printChat(a.out, chat, a.self())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "leave CHAT_ID",
			Short: "Leave a chat",
			Args:  cobra.ExactArgs(1),
			RunE: withSession(func(ctx context.Context, a *app, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := a.chats.Leave(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Left chat %d\n", id)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete CHAT_ID",
			Short: "Delete a chat you created",
			Args:  cobra.ExactArgs(1),
			RunE: withSession(func(ctx context.Context, a *app, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := a.chats.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted chat %d\n", id)
				return nil
			}),
		},
	)
	return cmd
}

func newChatCreateCmd() *cobra.Command {
	var title, with string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a chat",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, a *app, _ []string) error {
			ids, err := parseIDs(with)
			if err != nil {
				return err
			}
			spec := model.ChatCreate{ParticipantIDs: ids}
			if title != "" {
				spec.Title = &title
			}
			chat, err := a.chats.Create(ctx, spec)
			if err != nil {
				return err
			}
			printChat(a.out, chat, a.self())
			return nil
		}),
	}
	cmd.Flags().StringVar(&title, "title", "", "chat title")
	cmd.Flags().StringVar(&with, "with", "", "comma separated user ids to add")
	return cmd
}

func listChats(ctx context.Context, a *app, _ []string) error {
	if err := a.chats.FetchAll(ctx); err != nil {
		return err
	}
	printChats(a.out, a.chats.Chats(), a.self(), time.Now())
	return nil
}

func (a *app) self() int64 {
	if u := a.session.Current().User; u != nil {
		return u.ID
	}
	return 0
}
