// Package user implements the user management commands.
package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"syscall"
	"time"

	"s3ftp/internal/auth"
	"s3ftp/internal/config"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

type Flags struct {
	Config    string
	Home      string
	WritePath string
	ReadOnly  bool
}

// readPassword prompts on stdout and reads without echo.
var readPassword = func(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // move to next line after input
	return string(b), err
}

func promptNewPassword() (string, error) {
	password, err := readPassword("Password: ")
	if err != nil {
		return "", err
	}
	confirm, err := readPassword("Confirm your password again: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	if password == "" {
		return "", auth.ErrEmptyPassword
	}
	return password, nil
}

func openStore(ctx context.Context, path string) (*auth.Store, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return auth.Open(ctx, cfg.Auth.Driver, cfg.Auth.Source)
}

func withStore(flags Flags, fn func(context.Context, *auth.Store) error) {
	ctx := context.Background()
	st, err := openStore(ctx, flags.Config)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()
	if err := fn(ctx, st); err != nil {
		log.Fatal(err)
	}
}

func Add(flags Flags, username string) {
	withStore(flags, func(ctx context.Context, st *auth.Store) error {
		password, err := promptNewPassword()
		if err != nil {
			return err
		}
		return add(ctx, st, os.Stdout, flags, username, password)
	})
}

func add(ctx context.Context, st *auth.Store, out io.Writer, flags Flags, username, password string) error {
	writePath := flags.WritePath
	if writePath == "" && !flags.ReadOnly {
		p, err := auth.HomeWritePath(flags.Home)
		if err != nil {
			return err
		}
		writePath = p
	}
	if flags.ReadOnly {
		writePath = ""
	}

	if err := st.CreateUser(ctx, username, password, flags.Home, writePath); err != nil {
		return err
	}
	access := "read-only"
	if writePath != "" {
		access = "write under " + writePath
	}
	fmt.Fprintf(out, "User %s created with home %s (%s).\n", username, flags.Home, access)
	return nil
}

func List(flags Flags) {
	withStore(flags, func(ctx context.Context, st *auth.Store) error {
		return list(ctx, st, os.Stdout)
	})
}

func list(ctx context.Context, st *auth.Store, out io.Writer) error {
	users, err := st.Users(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(out, "No users.")
		return nil
	}
	for _, u := range users {
		write := u.WritePath
		if write == "" {
			write = "<read-only>"
		}
		created := u.CreatedAt
		if t, err := time.Parse(time.RFC3339, u.CreatedAt); err == nil {
			created = humanize.Time(t)
		}
		fmt.Fprintf(out, "%s %s (write: %s; created %s)\n", u.Username, u.HomeDir, write, created)
	}
	return nil
}

func Remove(flags Flags, username string) {
	withStore(flags, func(ctx context.Context, st *auth.Store) error {
		if err := st.DeleteUser(ctx, username); err != nil {
			return err
		}
		fmt.Printf("User %s removed.\n", username)
		return nil
	})
}

func Passwd(flags Flags, username string) {
	withStore(flags, func(ctx context.Context, st *auth.Store) error {
		if _, err := st.User(ctx, username); err != nil {
			return err
		}
		password, err := promptNewPassword()
		if err != nil {
			return err
		}
		if err := st.SetPassword(ctx, username, password); err != nil {
			return err
		}
		fmt.Printf("Password for %s updated.\n", username)
		return nil
	})
}
