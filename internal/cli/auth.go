package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chatsync/internal/apperr"
	"chatsync/internal/model"
)

func newRegisterCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			password, err := readPassword(a.errOut, "Password: ")
			if err != nil {
				return err
			}
			res, err := a.session.Register(ctx, model.Registration{Name: name, Email: email, Password: password})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, res.Message)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			password, err := readPassword(a.errOut, "Password: ")
			if err != nil {
				return err
			}
			if err := a.session.Login(ctx, model.Credentials{Email: email, Password: password}); err != nil {
				return err
			}
			u := a.session.Current().User
			fmt.Fprintf(a.out, "Signed in as %s <%s>\n", u.Name, u.Email)
			return nil
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			a.session.Logout()
			fmt.Fprintln(a.out, "Signed out")
			return nil
		}),
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			err := a.session.Initialize(ctx)
			if err != nil && !apperr.KindOf(err).IsAuth() {
				return err
			}
			s := a.session.Current()
			if s.User == nil {
				fmt.Fprintf(a.out, "%s\n", s.Status)
				return nil
			}
			fmt.Fprintf(a.out, "%s <%s> (id %d)\n", s.User.Name, s.User.Email, s.User.ID)
			return nil
		}),
	}
}
