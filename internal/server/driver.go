// Package server runs the FTP engine on top of per-session vfs views.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"s3ftp/internal/auth"
	"s3ftp/internal/config"
	"s3ftp/internal/metrics"
	"s3ftp/internal/vfs"

	ftpserver "github.com/fclairamb/ftpserverlib"
)

var (
	ErrTooManyLogins = errors.New("too many concurrent logins")
	ErrAnonymous     = errors.New("anonymous login is disabled")
	ErrNoTLS         = errors.New("tls is not configured")

	errDisconnected = errors.New("client disconnected during login")
)

const banner = "s3ftp ready"

// Authenticator checks credentials against the user database.
type Authenticator interface {
	Verify(ctx context.Context, username, password string) (*auth.User, error)
}

type session struct {
	user   string
	view   *vfs.View
	cancel context.CancelFunc
}

// Driver implements ftpserver.MainDriver. Each authenticated connection
// gets its own view, disposed when the connection ends.
type Driver struct {
	cfg     *config.Config
	users   Authenticator
	factory *vfs.Factory
	metrics *metrics.Collector
	tls     *tls.Config

	mu       sync.Mutex
	sessions map[uint32]*session
}

// NewDriver loads the TLS key pair when one is configured. collector may be
// nil.
func NewDriver(cfg *config.Config, users Authenticator, factory *vfs.Factory, collector *metrics.Collector) (*Driver, error) {
	d := &Driver{
		cfg:      cfg,
		users:    users,
		factory:  factory,
		metrics:  collector,
		sessions: map[uint32]*session{},
	}
	if cfg.Server.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("server: load tls key pair: %w", err)
		}
		d.tls = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return d, nil
}

func (d *Driver) GetSettings() (*ftpserver.Settings, error) {
	start, end, err := d.cfg.Server.Passive.PortRange()
	if err != nil {
		return nil, err
	}

	s := &ftpserver.Settings{
		ListenAddr:  d.cfg.Server.ListenAddr(),
		PublicHost:  d.cfg.Server.Passive.ExternalAddress,
		IdleTimeout: d.cfg.Server.IdleTimeout,
	}
	if end > 0 {
		s.PassiveTransferPortRange = &ftpserver.PortRange{Start: start, End: end}
	}
	if d.tls != nil && d.cfg.Server.TLS.Implicit {
		s.TLSRequired = ftpserver.ImplicitEncryption
	}
	return s, nil
}

func (d *Driver) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	log.Printf("[ftp] client %d connected from %s", cc.ID(), cc.RemoteAddr())
	return banner, nil
}

func (d *Driver) ClientDisconnected(cc ftpserver.ClientContext) {
	log.Printf("[ftp] client %d disconnected", cc.ID())
	d.logout(cc.ID())
}

func (d *Driver) AuthUser(cc ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	fs, err := d.login(context.Background(), cc.ID(), user, pass)
	if err != nil {
		log.Printf("[ftp] client %d login %q failed: %v", cc.ID(), user, err)
		return nil, err
	}
	return fs, nil
}

func (d *Driver) GetTLSConfig() (*tls.Config, error) {
	if d.tls == nil {
		return nil, ErrNoTLS
	}
	return d.tls, nil
}

// authenticate resolves the principal for a login attempt.
func (d *Driver) authenticate(ctx context.Context, user, pass string) (*auth.User, error) {
	if strings.EqualFold(user, auth.AnonymousName) {
		anon := d.cfg.Server.Anonymous
		if !anon.Enabled {
			return nil, ErrAnonymous
		}
		return auth.Anonymous(anon.Home), nil
	}
	return d.users.Verify(ctx, user, pass)
}

// login authenticates, enforces max_logins and builds the session view.
func (d *Driver) login(ctx context.Context, id uint32, user, pass string) (*clientFS, error) {
	u, err := d.authenticate(ctx, user, pass)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if limit := d.cfg.Server.MaxLogins; limit > 0 && len(d.sessions) >= limit {
		d.mu.Unlock()
		return nil, ErrTooManyLogins
	}
	// Reserve the slot before the backend round trip.
	sess := &session{user: u.Name()}
	d.sessions[id] = sess
	d.mu.Unlock()

	view, err := d.factory.CreateView(ctx, u)
	if err != nil {
		d.mu.Lock()
		delete(d.sessions, id)
		d.mu.Unlock()
		return nil, err
	}

	fsCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	if d.sessions[id] != sess {
		d.mu.Unlock()
		cancel()
		_ = view.Dispose()
		return nil, errDisconnected
	}
	sess.view, sess.cancel = view, cancel
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.SessionStarted()
	}
	log.Printf("[ftp] client %d logged in as %s (%s)", id, u.Name(), u.Home())
	return &clientFS{ctx: fsCtx, view: view}, nil
}

// logout releases the session slot and disposes its view.
func (d *Driver) logout(id uint32) {
	d.mu.Lock()
	sess, ok := d.sessions[id]
	delete(d.sessions, id)
	d.mu.Unlock()
	if !ok || sess.view == nil {
		return
	}

	sess.cancel()
	if err := sess.view.Dispose(); err != nil {
		log.Printf("[ftp] client %d dispose: %v", id, err)
	}
	if d.metrics != nil {
		d.metrics.SessionEnded()
	}
	log.Printf("[ftp] client %d (%s) logged out", id, sess.user)
}

// active returns the number of logged in sessions.
func (d *Driver) active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
