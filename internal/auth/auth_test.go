package auth

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"s3ftp/internal/vfs"

	"golang.org/x/crypto/bcrypt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cost = bcrypt.MinCost
	src := fmt.Sprintf("file:%s?cache=shared&mode=rwc", filepath.Join(t.TempDir(), "users.db"))
	s, err := Open(context.Background(), "sqlite", src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndVerify(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateUser(ctx, "alice", "secret", "main:files/alice", "/files/alice"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.CreateUser(ctx, "alice", "other", "main:files", ""); !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("CreateUser twice: expected ErrUserAlreadyExists got %v", err)
	}

	u, err := s.Verify(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if u.Name() != "alice" || u.Home() != "main:files/alice" || u.WritePath != "/files/alice" {
		t.Fatalf("Verify: unexpected user %+v", u)
	}
	if u.CreatedAt == "" {
		t.Fatal("Verify: created_at not set")
	}

	if _, err := s.Verify(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Verify wrong password: got %v", err)
	}
	if _, err := s.Verify(ctx, "bob", "secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Verify unknown user: got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateUser(ctx, "anonymous", "x", "main:files", ""); !errors.Is(err, ErrReservedUsername) {
		t.Fatalf("reserved name: got %v", err)
	}
	if err := s.CreateUser(ctx, "carol", "x", "no-store", ""); !errors.Is(err, vfs.ErrInvalidHome) {
		t.Fatalf("bad home: got %v", err)
	}
	if err := s.CreateUser(ctx, "carol", "", "main:files", ""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("empty password: got %v", err)
	}
	if err := s.CreateUser(ctx, " ", "x", "main:files", ""); err == nil {
		t.Fatal("blank name: expected error")
	}
}

func TestUsersDeleteAndPassword(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, name := range []string{"zed", "amy"} {
		if err := s.CreateUser(ctx, name, "pw", "main:files/"+name, ""); err != nil {
			t.Fatalf("CreateUser %s: %v", name, err)
		}
	}

	users, err := s.Users(ctx)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 || users[0].Username != "amy" || users[1].Username != "zed" {
		t.Fatalf("Users: got %+v", users)
	}

	if err := s.SetPassword(ctx, "amy", "new"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if _, err := s.Verify(ctx, "amy", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still valid: %v", err)
	}
	if _, err := s.Verify(ctx, "amy", "new"); err != nil {
		t.Fatalf("new password: %v", err)
	}
	if err := s.SetPassword(ctx, "nobody", "x"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("SetPassword unknown: got %v", err)
	}

	if err := s.DeleteUser(ctx, "zed"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := s.DeleteUser(ctx, "zed"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("DeleteUser twice: got %v", err)
	}
	if _, err := s.User(ctx, "zed"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("User after delete: got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	u := &User{Username: "alice", HomeDir: "main:files/alice", WritePath: "/files/alice"}

	tests := []struct {
		path   string
		intent vfs.Intent
		want   bool
	}{
		{"/files/bob/x", vfs.IntentRead, true},
		{"/files/alice/x", vfs.IntentWrite, true},
		{"/files/alice/", vfs.IntentWrite, true},
		{"/files/alice", vfs.IntentWrite, true},
		{"/files/alicex/y", vfs.IntentWrite, false},
		{"/files/bob/x", vfs.IntentWrite, false},
	}
	for _, tt := range tests {
		if got := u.Authorize(tt.path, tt.intent); got != tt.want {
			t.Fatalf("Authorize(%q, %v): got %v want %v", tt.path, tt.intent, got, tt.want)
		}
	}

	all := &User{WritePath: "/"}
	if !all.Authorize("/any/thing", vfs.IntentWrite) {
		t.Fatal("write path / must allow everything")
	}

	anon := Anonymous("main:public")
	if anon.Name() != AnonymousName || anon.Home() != "main:public" {
		t.Fatalf("Anonymous: got %+v", anon)
	}
	if anon.Authorize("/public/x", vfs.IntentWrite) || !anon.Authorize("/public/x", vfs.IntentRead) {
		t.Fatal("anonymous must be read-only")
	}
}

func TestHomeWritePath(t *testing.T) {
	for home, want := range map[string]string{
		"main:files":         "/files",
		"main:files/a/b":     "/files/a/b",
		"main:files/a/../c/": "/files/c",
	} {
		got, err := HomeWritePath(home)
		if err != nil {
			t.Fatalf("HomeWritePath(%q): %v", home, err)
		}
		if got != want {
			t.Fatalf("HomeWritePath(%q): got %q want %q", home, got, want)
		}
	}
	if _, err := HomeWritePath("bad"); err == nil {
		t.Fatal("HomeWritePath: expected error")
	}
}
