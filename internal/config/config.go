// Package config loads the server configuration file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"s3ftp/internal/store"
	"s3ftp/internal/vfs"
	"s3ftp/pkg/object"

	"github.com/dustin/go-humanize"
	"github.com/gnitoahc/go-dotenv"
	"gopkg.in/yaml.v3"
)

// Size is a byte count written as "10MiB", "5 MB" or a plain number.
type Size int64

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	n, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid size %q: %w", value.Line, value.Value, err)
	}
	*s = Size(n)
	return nil
}

func (s Size) String() string { return humanize.IBytes(uint64(s)) }

type Config struct {
	Server  Server                  `yaml:"server"`
	Storage Storage                 `yaml:"storage"`
	Auth    Auth                    `yaml:"auth"`
	Metrics Metrics                 `yaml:"metrics"`
	Stores  map[string]store.Config `yaml:"stores"`
}

type Server struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	// IdleTimeout is in seconds.
	IdleTimeout int       `yaml:"idle_timeout"`
	MaxLogins   int       `yaml:"max_logins"`
	Passive     Passive   `yaml:"passive"`
	TLS         TLS       `yaml:"tls"`
	Anonymous   Anonymous `yaml:"anonymous"`
}

type Passive struct {
	ExternalAddress string `yaml:"external_address"`
	// Ports is an inclusive range such as "30000-30100".
	Ports string `yaml:"ports"`
}

type TLS struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Implicit bool   `yaml:"implicit"`
}

type Anonymous struct {
	Enabled bool   `yaml:"enabled"`
	Home    string `yaml:"home"`
}

type Storage struct {
	MaxListKeys     int32 `yaml:"max_list_keys"`
	WriteBufferSize Size  `yaml:"write_buffer_size"`
	MaxAppendOffset Size  `yaml:"max_append_offset"`
}

type Auth struct {
	Driver string `yaml:"driver"`
	Source string `yaml:"source"`
}

type Metrics struct {
	// Address serves /metrics when set, e.g. ":9100".
	Address string `yaml:"address"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:        2121,
			IdleTimeout: 300,
			MaxLogins:   10,
		},
		Storage: Storage{
			MaxListKeys:     vfs.DefaultMaxListKeys,
			WriteBufferSize: vfs.DefaultBufferSize,
			MaxAppendOffset: vfs.DefaultMaxAppendOffset,
		},
		Auth: Auth{
			Driver: "sqlite",
			Source: "file:users.db?cache=shared",
		},
		Stores: map[string]store.Config{},
	}
}

// Load reads path after loading .env, expands ${VAR} references, applies
// S3FTP_PORT and S3FTP_BIND_ADDRESS overrides and validates the result.
func Load(path string) (*Config, error) {
	dotenv.Load(".env")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if p := dotenv.Get("S3FTP_PORT", ""); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("config: S3FTP_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	cfg.Server.BindAddress = dotenv.Get("S3FTP_BIND_ADDRESS", cfg.Server.BindAddress)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults, expanding environment references.
// It does not validate.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.IdleTimeout < 0 {
		errs = append(errs, errors.New("server.idle_timeout must not be negative"))
	}
	if c.Server.MaxLogins < 0 {
		errs = append(errs, errors.New("server.max_logins must not be negative"))
	}
	if _, _, err := c.Server.Passive.PortRange(); err != nil {
		errs = append(errs, err)
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}
	if c.Server.TLS.Implicit && c.Server.TLS.CertFile == "" {
		errs = append(errs, errors.New("server.tls.implicit needs a certificate"))
	}
	if c.Server.Anonymous.Enabled {
		if err := c.checkHome(c.Server.Anonymous.Home); err != nil {
			errs = append(errs, fmt.Errorf("server.anonymous.home: %w", err))
		}
	}

	if c.Storage.WriteBufferSize < object.MinPartSize {
		errs = append(errs, fmt.Errorf("storage.write_buffer_size %s is below the %s minimum part size",
			c.Storage.WriteBufferSize, Size(object.MinPartSize)))
	}
	if c.Storage.MaxListKeys < 1 {
		errs = append(errs, errors.New("storage.max_list_keys must be positive"))
	}
	if c.Storage.MaxAppendOffset < 0 {
		errs = append(errs, errors.New("storage.max_append_offset must not be negative"))
	}

	switch c.Auth.Driver {
	case "sqlite", "libsql":
	default:
		errs = append(errs, fmt.Errorf("auth.driver %q is not sqlite or libsql", c.Auth.Driver))
	}

	if len(c.Stores) == 0 {
		errs = append(errs, errors.New("no stores configured"))
	}
	if _, err := store.New(c.Stores); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// checkHome parses home and makes sure its store is configured.
func (c *Config) checkHome(home string) error {
	h, err := vfs.ParseHome(home)
	if err != nil {
		return err
	}
	if _, ok := c.Stores[h.Store]; !ok {
		return fmt.Errorf("%w: %s", store.ErrUnknownStore, h.Store)
	}
	return nil
}

// PortRange parses Ports. An empty range returns zeros.
func (p Passive) PortRange() (int, int, error) {
	if strings.TrimSpace(p.Ports) == "" {
		return 0, 0, nil
	}
	lo, hi, ok := strings.Cut(p.Ports, "-")
	if !ok {
		hi = lo
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(lo))
	end, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil || start < 1 || end > 65535 || start > end {
		return 0, 0, fmt.Errorf("server.passive.ports %q is not a valid range", p.Ports)
	}
	return start, end, nil
}

// ListenAddr is the control connection address.
func (s Server) ListenAddr() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.Port))
}

// VFSOptions converts storage settings for the vfs package.
func (s Storage) VFSOptions() vfs.Options {
	return vfs.Options{
		BufferSize:      int(s.WriteBufferSize),
		MinPartSize:     object.MinPartSize,
		MaxListKeys:     s.MaxListKeys,
		MaxAppendOffset: int64(s.MaxAppendOffset),
	}
}
