package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		Long: `Create a user with the given email and name. The password is read
from the terminal without echo, or from the first line of stdin when
stdin is not a terminal. Pending migrations are applied first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			pw, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			app, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := migrateApp(ctx, app); err != nil {
				return err
			}

			msg, err := app.Service().Signup(ctx, email, pw, name)
			if err != nil {
				return err
			}

			cmd.Println(msg.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		defer common.WipeByteArray(b)
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", oops.Code("PASSWORD_READ_FAILED").Errorf("no password given on stdin")
	}
	return line, nil
}
