package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"helpdesk/internal/status"
	"helpdesk/models"
	"helpdesk/security"
)

// readPassword reads from passwordFile, or prompts on the terminal when it is empty or "-".
func readPassword(cmd *cobra.Command, passwordFile string) (string, error) {
	if passwordFile != "" && passwordFile != "-" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", passwordFile, err)
		}
		pw := strings.TrimRight(string(data), "\r\n")
		if pw == "" {
			return "", status.Validation("password", "file %s is empty", passwordFile)
		}
		return pw, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", status.Validation("password", "no terminal available for a password prompt (use --password-file)")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

func newLoginCommand(a *app) *cobra.Command {
	var passwordFile string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in and remember the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, passwordFile)
			if err != nil {
				return err
			}
			user, err := a.session.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Signed in as %s (%s)\n", user.Email, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&passwordFile, "password-file", "", `read the password from a file ("-" prompts)`)
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the remembered session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireSession(cmd.Context()); err != nil {
				return err
			}
			u := a.session.Snapshot().User
			renderUser(a.out, u, security.HomeFor(u))
			return nil
		},
	}
}

func newRegisterCommand(a *app) *cobra.Command {
	var (
		reg          models.Registration
		role         string
		passwordFile string
	)
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, passwordFile)
			if err != nil {
				return err
			}
			reg.Email = strings.TrimSpace(args[0])
			reg.Role = models.Role(strings.ToLower(strings.TrimSpace(role)))
			reg.Password = password
			if err := a.session.Register(cmd.Context(), reg); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Account created for %s; sign in with `helpdesk login %s`\n", reg.Email, reg.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&reg.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&role, "role", string(models.RoleStudent), "student, teacher or employee")
	cmd.Flags().StringVar(&passwordFile, "password-file", "", `read the password from a file ("-" prompts)`)
	return cmd
}
