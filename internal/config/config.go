// Package config loads client and server settings from flags, CHORDKEEPER_*
// environment variables and an optional .env file. Flags win over the
// environment, the environment wins over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iudanet/chordkeeper/internal/logging"
)

const (
	envPrefix = "CHORDKEEPER_"
	// EnvFile путь к .env файлу можно переопределить этой переменной
	EnvFile = envPrefix + "ENV_FILE"
)

// Log flags shared by both binaries.
type Log struct {
	Level  string
	Format string
	File   string
}

// Logging converts the flags into logging.Config.
func (l Log) Logging() logging.Config {
	return logging.Config{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// Client настройки клиента
type Client struct {
	Log            Log
	ServerURL      string
	DBPath         string
	DisplayName    string
	Instruments    []string
	ContentTimeout time.Duration
	ShowVersion    bool
}

// Server настройки сервера
type Server struct {
	Log             Log
	Addr            string
	DBPath          string
	JWTSecret       string
	IssueToken      string // IssueToken выпустить токен для владельца и выйти
	TokenTTL        time.Duration
	RelayJoinRate   int
	RelayJoinWindow time.Duration
	ShowVersion     bool
}

// LoadEnv loads the .env file named by CHORDKEEPER_ENV_FILE, or ./.env.
// A missing default file is not an error. Existing variables are kept.
func LoadEnv() error {
	path, explicit := os.LookupEnv(EnvFile)
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadClient parses client flags from args (without the program name) and
// returns the remaining arguments: the command and its arguments.
func LoadClient(args []string, output io.Writer) (*Client, []string, error) {
	if err := LoadEnv(); err != nil {
		return nil, nil, err
	}

	cfg := &Client{}
	var instruments string

	flags := flag.NewFlagSet("chordkeeper", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flags.StringVar(&cfg.ServerURL, "server", env("SERVER", "http://localhost:8080"), "Server URL")
	flags.StringVar(&cfg.DBPath, "db", env("DB", "chordkeeper.db"), "Path to local database")
	flags.StringVar(&cfg.DisplayName, "name", env("NAME", ""), "Display name shown to session participants")
	flags.StringVar(&instruments, "instruments", env("INSTRUMENTS", ""), "Comma separated instruments you play")
	flags.DurationVar(&cfg.ContentTimeout, "content-timeout", envDuration("CONTENT_TIMEOUT", 10*time.Second), "How long to wait for a song from the session host")
	logFlags(flags, &cfg.Log)

	if err := flags.Parse(args); err != nil {
		return nil, nil, err
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	cfg.Instruments = splitList(instruments)
	if cfg.ContentTimeout <= 0 {
		return nil, nil, fmt.Errorf("content timeout must be positive")
	}

	return cfg, flags.Args(), nil
}

// LoadServer parses server flags from args (without the program name).
func LoadServer(args []string, output io.Writer) (*Server, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	cfg := &Server{}

	flags := flag.NewFlagSet("chordkeeper-server", flag.ContinueOnError)
	flags.SetOutput(output)
	flags.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flags.StringVar(&cfg.Addr, "addr", env("ADDR", ":8080"), "Listen address")
	flags.StringVar(&cfg.DBPath, "db", env("SERVER_DB", "chordkeeper-server.db"), "Path to sqlite database")
	flags.StringVar(&cfg.JWTSecret, "jwt-secret", env("JWT_SECRET", ""), "Secret used to sign owner tokens")
	flags.StringVar(&cfg.IssueToken, "issue-token", "", "Print an access token for the given owner and exit")
	flags.DurationVar(&cfg.TokenTTL, "token-ttl", envDuration("TOKEN_TTL", 0), "Owner token lifetime, 0 means no expiry")
	flags.IntVar(&cfg.RelayJoinRate, "relay-rate", envInt("RELAY_RATE", 30), "Relay connections allowed per IP per window")
	flags.DurationVar(&cfg.RelayJoinWindow, "relay-window", envDuration("RELAY_WINDOW", time.Minute), "Relay rate limit window")
	logFlags(flags, &cfg.Log)

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	if len(cfg.JWTSecret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 characters (flag -jwt-secret or %sJWT_SECRET)", envPrefix)
	}
	if cfg.RelayJoinRate <= 0 || cfg.RelayJoinWindow <= 0 {
		return nil, fmt.Errorf("relay rate and window must be positive")
	}

	return cfg, nil
}

func logFlags(flags *flag.FlagSet, l *Log) {
	flags.StringVar(&l.Level, "log-level", env("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flags.StringVar(&l.Format, "log-format", env("LOG_FORMAT", "text"), "Log format: text or json")
	flags.StringVar(&l.File, "log-file", env("LOG_FILE", ""), "Write logs to a rotated file")
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	return fallback
}

// envInt и envDuration молча игнорируют неразбираемые значения
func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
