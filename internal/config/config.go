package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	ModeInteractive = "interactive"
	ModeHeadless    = "headless"
	ModeMCP         = "mcp"
)

const (
	DefaultTarget       = "127.0.0.1:4943"
	DefaultStatusURL    = "http://127.0.0.1:4944"
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 3 * time.Second
)

type Config struct {
	Mode         string
	LogLevel     string
	DatabasePath string
	MCPAddress   string

	// Backend endpoint and trust settings.
	Target    string
	TargetID  string
	StatusURL string
	Local     bool
	Insecure  bool
	RootKey   []byte
	CAFile    string
	Timeout   time.Duration

	PollInterval time.Duration

	// Embedded runs the client against a seeded in-process backend instead of
	// dialing Target.
	Embedded bool
}

// fileConfig mirrors the optional YAML config file. Pointer fields distinguish
// "unset" from zero values.
type fileConfig struct {
	Mode         string `yaml:"mode"`
	LogLevel     string `yaml:"log_level"`
	DatabasePath string `yaml:"db"`
	MCPAddress   string `yaml:"mcp_address"`
	Backend      struct {
		Target    string `yaml:"target"`
		TargetID  string `yaml:"target_id"`
		StatusURL string `yaml:"status_url"`
		Local     *bool  `yaml:"local"`
		Insecure  *bool  `yaml:"insecure"`
		RootKey   string `yaml:"root_key"`
		CAFile    string `yaml:"ca_file"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"backend"`
	PollInterval string `yaml:"poll_interval"`
}

// Load builds the configuration from, in increasing precedence: built-in
// defaults, the YAML file named by --config or CHAT_CONFIG, CHAT_* environment
// variables (a .env file in the working directory is loaded first), and
// command-line flags.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".canister-chat")

	var (
		cfg        Config
		configPath string
		rootKeyHex string
		local      bool
	)

	fs := pflag.NewFlagSet("canister-chat", pflag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "YAML config file")
	fs.StringVar(&cfg.Mode, "mode", ModeInteractive, "Run mode: interactive, headless, or mcp")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.DatabasePath, "db", filepath.Join(dataDir, "chat.db"), "Local database file path")
	fs.StringVar(&cfg.MCPAddress, "mcp-addr", "127.0.0.1:8080", "MCP SSE server address")
	fs.StringVar(&cfg.Target, "backend", DefaultTarget, "Backend gRPC address")
	fs.StringVar(&cfg.TargetID, "target-id", "", "Backend target (canister) id")
	fs.StringVar(&cfg.StatusURL, "status-url", DefaultStatusURL, "Status endpoint used to fetch the root key in local mode")
	fs.BoolVar(&local, "local", false, "Local development mode (fetch root key, lenient health checks)")
	fs.BoolVar(&cfg.Insecure, "insecure", false, "Dial the backend without TLS")
	fs.StringVar(&rootKeyHex, "root-key", "", "Pinned root key (hex) for non-local mode")
	fs.StringVar(&cfg.CAFile, "ca-file", "", "PEM CA bundle for the backend TLS connection")
	fs.DurationVar(&cfg.Timeout, "timeout", DefaultTimeout, "Bound on connection setup and each call")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", DefaultPollInterval, "Active chat polling interval")
	fs.BoolVar(&cfg.Embedded, "embedded", false, "Use a seeded in-process backend (demo)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = os.Getenv("CHAT_CONFIG")
	}
	var localSet bool
	if configPath != "" {
		fc, err := readFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := applyFile(fs, &cfg, fc, &rootKeyHex); err != nil {
			return nil, err
		}
		if fc.Backend.Local != nil && !fs.Changed("local") {
			local, localSet = *fc.Backend.Local, true
		}
	}

	if err := applyEnv(fs, &cfg, &rootKeyHex); err != nil {
		return nil, err
	}
	if v := os.Getenv("CHAT_LOCAL"); v != "" && !fs.Changed("local") {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("CHAT_LOCAL: %w", err)
		}
		local, localSet = b, true
	}
	if fs.Changed("local") {
		localSet = true
	}

	if localSet {
		cfg.Local = local
	} else {
		cfg.Local = IsLocalTarget(cfg.Target)
	}

	if rootKeyHex != "" {
		key, err := hex.DecodeString(rootKeyHex)
		if err != nil {
			return nil, fmt.Errorf("root key: %w", err)
		}
		cfg.RootKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeInteractive, ModeHeadless, ModeMCP:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// IsLocalTarget reports whether addr points at the local machine.
func IsLocalTarget(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func readFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}

func applyFile(fs *pflag.FlagSet, cfg *Config, fc *fileConfig, rootKeyHex *string) error {
	strs := []struct {
		flag  string
		dst   *string
		value string
	}{
		{"mode", &cfg.Mode, fc.Mode},
		{"log-level", &cfg.LogLevel, fc.LogLevel},
		{"db", &cfg.DatabasePath, fc.DatabasePath},
		{"mcp-addr", &cfg.MCPAddress, fc.MCPAddress},
		{"backend", &cfg.Target, fc.Backend.Target},
		{"target-id", &cfg.TargetID, fc.Backend.TargetID},
		{"status-url", &cfg.StatusURL, fc.Backend.StatusURL},
		{"root-key", rootKeyHex, fc.Backend.RootKey},
		{"ca-file", &cfg.CAFile, fc.Backend.CAFile},
	}
	for _, s := range strs {
		if !fs.Changed(s.flag) {
			setString(s.dst, s.value)
		}
	}

	if fc.Backend.Insecure != nil && !fs.Changed("insecure") {
		cfg.Insecure = *fc.Backend.Insecure
	}
	if !fs.Changed("timeout") {
		if err := setDuration(&cfg.Timeout, fc.Backend.Timeout); err != nil {
			return fmt.Errorf("backend.timeout: %w", err)
		}
	}
	if !fs.Changed("poll-interval") {
		if err := setDuration(&cfg.PollInterval, fc.PollInterval); err != nil {
			return fmt.Errorf("poll_interval: %w", err)
		}
	}
	return nil
}

// applyEnv overlays CHAT_* variables on every setting whose flag was not given
// explicitly.
func applyEnv(fs *pflag.FlagSet, cfg *Config, rootKeyHex *string) error {
	strs := []struct {
		flag, env string
		dst       *string
	}{
		{"mode", "CHAT_MODE", &cfg.Mode},
		{"log-level", "CHAT_LOG_LEVEL", &cfg.LogLevel},
		{"db", "CHAT_DATABASE_PATH", &cfg.DatabasePath},
		{"mcp-addr", "CHAT_MCP_ADDRESS", &cfg.MCPAddress},
		{"backend", "CHAT_BACKEND", &cfg.Target},
		{"target-id", "CHAT_TARGET_ID", &cfg.TargetID},
		{"status-url", "CHAT_STATUS_URL", &cfg.StatusURL},
		{"root-key", "CHAT_ROOT_KEY", rootKeyHex},
		{"ca-file", "CHAT_CA_FILE", &cfg.CAFile},
	}
	for _, s := range strs {
		if !fs.Changed(s.flag) {
			setString(s.dst, os.Getenv(s.env))
		}
	}

	if v := os.Getenv("CHAT_INSECURE"); v != "" && !fs.Changed("insecure") {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHAT_INSECURE: %w", err)
		}
		cfg.Insecure = b
	}
	if !fs.Changed("timeout") {
		if err := setDuration(&cfg.Timeout, os.Getenv("CHAT_TIMEOUT")); err != nil {
			return fmt.Errorf("CHAT_TIMEOUT: %w", err)
		}
	}
	if !fs.Changed("poll-interval") {
		if err := setDuration(&cfg.PollInterval, os.Getenv("CHAT_POLL_INTERVAL")); err != nil {
			return fmt.Errorf("CHAT_POLL_INTERVAL: %w", err)
		}
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
