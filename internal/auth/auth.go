// Package auth stores FTP users and decides what they may write.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"s3ftp/internal/vfs"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

type AuthError string

// implement the error interface
func (e AuthError) Error() string {
	return string(e)
}

// define auth errors
const (
	ErrUserAlreadyExists  AuthError = "user already exists"
	ErrUserNotFound       AuthError = "user not found"
	ErrInvalidCredentials AuthError = "invalid username or password"
	ErrReservedUsername   AuthError = "username is reserved"
	ErrEmptyPassword      AuthError = "password must not be empty"
)

// AnonymousName is the login name of the anonymous user.
const AnonymousName = "anonymous"

var reservedUsername = []string{AnonymousName, "ftp"}

var cost = bcrypt.DefaultCost

// User is a stored account. It is the principal bound to a session.
type User struct {
	Username string
	HomeDir  string
	// WritePath is the physical path prefix the user may write under.
	// Empty means read-only.
	WritePath string
	CreatedAt string

	hash string
}

func (u *User) Name() string { return u.Username }

func (u *User) Home() string { return u.HomeDir }

// Authorize allows every read, and writes at or below WritePath.
func (u *User) Authorize(physicalPath string, intent vfs.Intent) bool {
	if intent == vfs.IntentRead {
		return true
	}
	if u.WritePath == "" {
		return false
	}
	root := strings.TrimSuffix(u.WritePath, "/")
	return physicalPath == root || strings.HasPrefix(physicalPath, root+"/")
}

// Anonymous returns the read-only anonymous user rooted at home.
func Anonymous(home string) *User {
	return &User{Username: AnonymousName, HomeDir: home}
}

// HomeWritePath is the physical path of a home directory, for granting a
// user write access to everything under it.
func HomeWritePath(home string) (string, error) {
	h, err := vfs.ParseHome(home)
	if err != nil {
		return "", err
	}
	if h.Path == "" {
		return "/" + h.Bucket, nil
	}
	return "/" + h.Bucket + "/" + h.Path, nil
}

// Store keeps users in a sqlite or libsql database.
type Store struct {
	db *sql.DB
}

// Open connects to the user database and creates the users table.
func Open(ctx context.Context, driver, source string) (*Store, error) {
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("auth: open database: %w", err)
	}

	query := `
        CREATE TABLE IF NOT EXISTS users (
            username VARCHAR(255) PRIMARY KEY,
            password VARCHAR(255) NOT NULL,
            home VARCHAR(1024) NOT NULL,
            write_path VARCHAR(1024),
            created_at VARCHAR(255)
        )`
	if _, err := db.ExecContext(ctx, query); err != nil {
		db.Close()
		return nil, fmt.Errorf("auth: create table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// hash a plain text password
func hashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// compare a plain text password with a hashed password
func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateUser adds a user. The home is validated; the write path is stored as given.
func (s *Store) CreateUser(ctx context.Context, username, password, home, writePath string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrInvalidCredentials
	}
	if slices.Contains(reservedUsername, strings.ToLower(username)) {
		return ErrReservedUsername
	}
	if _, err := vfs.ParseHome(home); err != nil {
		return err
	}

	if _, err := s.User(ctx, username); err == nil {
		return ErrUserAlreadyExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (username, password, home, write_path, created_at) VALUES (?, ?, ?, ?, ?)",
		username, hashed, home, nullIfEmpty(writePath), time.Now().Format(time.RFC3339),
	)
	return err
}

// User looks up one user.
func (s *Store) User(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT username, password, home, write_path, created_at FROM users WHERE username = ?", username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Users lists every user ordered by name.
func (s *Store) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT username, password, home, write_path, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetPassword replaces a user's password.
func (s *Store) SetPassword(ctx context.Context, username, password string) error {
	hashed, err := hashPassword(password)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE users SET password = ? WHERE username = ?", hashed, username)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Verify checks a login. Unknown users and wrong passwords both yield
// ErrInvalidCredentials.
func (s *Store) Verify(ctx context.Context, username, password string) (*User, error) {
	u, err := s.User(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !checkPassword(password, u.hash) {
		log.Printf("[auth] wrong password for %s", username)
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	var (
		u         User
		writePath sql.NullString
		createdAt sql.NullString
	)
	if err := row.Scan(&u.Username, &u.hash, &u.HomeDir, &writePath, &createdAt); err != nil {
		return nil, err
	}
	u.WritePath = writePath.String
	u.CreatedAt = createdAt.String
	return &u, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ vfs.Principal = (*User)(nil)
