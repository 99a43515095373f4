package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
	"github.com/oneflow-erp/oneflow-api/internal/user"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User administration commands",
	Long:  `Create administrators, revoke tokens and deactivate users without going through the API`,
}

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin user",
	Long:  `Create an admin user. The password is read from the terminal, or from stdin when piped.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		return withUserService(cmd.Context(), func(ctx context.Context, svc *user.Service) error {
			u, err := svc.CreateUser(ctx, user.CreateUserInput{
				Name:     adminName,
				Email:    adminEmail,
				Password: password,
				Role:     coreuser.RoleAdmin,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (id %d)\n", u.Email, u.ID)
			return nil
		})
	},
}

var revokeTokensCmd = &cobra.Command{
	Use:   "revoke [user-id]",
	Short: "Invalidate every token issued to a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		return withUserService(cmd.Context(), func(ctx context.Context, svc *user.Service) error {
			ok, err := svc.RevokeTokens(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no active user with id %d", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked tokens of user %d\n", id)
			return nil
		})
	},
}

var deactivateUserCmd = &cobra.Command{
	Use:   "deactivate [user-id]",
	Short: "Deactivate a user and revoke their tokens",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		return withUserService(cmd.Context(), func(ctx context.Context, svc *user.Service) error {
			ok, err := svc.DeactivateUser(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no active user with id %d", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated user %d\n", id)
			return nil
		})
	},
}

var (
	adminName  string
	adminEmail string
)

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

// readPassword prompts without echo on a terminal and reads one line otherwise.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

// withUserService runs fn against a user service backed by the configured
// database, then drains pending events and closes the pool.
func withUserService(ctx context.Context, fn func(ctx context.Context, svc *user.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	deps, err := initializeDependencies(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		deps.close(closeCtx)
	}()

	return fn(ctx, newUserService(deps))
}

func init() {
	createAdminCmd.Flags().StringVar(&adminName, "name", "Administrator", "Display name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "Login email")
	_ = createAdminCmd.MarkFlagRequired("email")

	userCmd.AddCommand(createAdminCmd)
	userCmd.AddCommand(revokeTokensCmd)
	userCmd.AddCommand(deactivateUserCmd)

	rootCmd.AddCommand(userCmd)
}
