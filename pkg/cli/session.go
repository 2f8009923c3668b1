package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/harrisonrobin/eventdesk/pkg/auth"
	"github.com/harrisonrobin/eventdesk/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const passwordEnv = "EVENTDESK_PASSWORD"

func loginCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the backend",
		Long: `Signs in with email and password. The password is read from
$EVENTDESK_PASSWORD when set, otherwise from the first line of stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Backend.URL == "" {
				return errors.New("backend.url is not configured")
			}
			if email == "" {
				return errors.New("--email is required")
			}
			password := os.Getenv(passwordEnv)
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			s, err := a.authenticator().SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			claims, err := s.Claims()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", claims.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.authenticator().SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.authenticator().Session()
			if errors.Is(err, auth.ErrNoSession) {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			if err != nil {
				return err
			}
			c, err := s.Claims()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", c.Email, c.UserID)
			if c.Role != "" {
				fmt.Fprintf(out, "role: %s\n", c.Role)
			}
			if !c.ExpiresAt.IsZero() {
				fmt.Fprintf(out, "session expires: %s\n", c.ExpiresAt.Local().Format("Mon Jan 2 15:04"))
			}
			return nil
		},
	}
}

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				shown := *a.cfg
				if shown.Backend.AnonKey != "" {
					shown.Backend.AnonKey = "(set)"
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(shown)
			},
		},
		&cobra.Command{
			Use:   "set-calendar NAME",
			Short: "Set the Google Calendar that receives the agenda",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(a.cfgPath)
				if err != nil {
					return err
				}
				cfg.Calendar.Name = args[0]
				if err := config.Save(a.cfgPath, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Default calendar set to: %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
