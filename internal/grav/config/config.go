// Package config loads grav settings from flags, environment variables, an
// optional .env file and an optional YAML session file.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the grav configuration
type Config struct {
	HTTPAddr      string
	GRPCAddr      string
	AdvertiseAddr string // Address written into exported SDP
	LogLevel      string
	LogFile       string
	SessionsFile  string

	// Sessions to bring up at start
	Video          []string
	Audio          []string
	Rotate         []string
	EncryptionKeys map[string]string

	RotateInterval time.Duration // 0 disables timed rotation
	IdleSleep      time.Duration
	PassInterval   time.Duration
	SourceTimeout  time.Duration
}

// SessionFile is the YAML layout of the -sessions file.
type SessionFile struct {
	Video          []string          `yaml:"video"`
	Audio          []string          `yaml:"audio"`
	Rotate         []string          `yaml:"rotate"`
	RotateInterval string            `yaml:"rotate_interval"`
	Encryption     map[string]string `yaml:"encryption"`
}

// Load reads .env if present, then parses the command line and environment.
func Load() (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()
	return Parse(flag.CommandLine, os.Args[1:], os.Getenv)
}

// Parse builds a Config from args, with getenv overrides applied on top of
// flags and the session file merged last.
func Parse(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{EncryptionKeys: make(map[string]string)}
	var video, audio, rotate string

	fs.StringVar(&cfg.HTTPAddr, "http", "0.0.0.0:8080", "HTTP control API listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc", "0.0.0.0:9090", "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address advertised in exported SDP (auto-detected if not set)")
	fs.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFile, "logfile", "", "Also write debug-level logs to this file")
	fs.StringVar(&cfg.SessionsFile, "sessions", "", "YAML file listing startup sessions")
	fs.StringVar(&video, "video", "", "Comma-separated video session addresses")
	fs.StringVar(&audio, "audio", "", "Comma-separated audio session addresses")
	fs.StringVar(&rotate, "rotate", "", "Comma-separated video rotation candidates")
	fs.DurationVar(&cfg.RotateInterval, "rotate-interval", 0, "Advance rotation on this interval (0 disables)")
	fs.DurationVar(&cfg.IdleSleep, "idle-sleep", 10*time.Millisecond, "Driver pause when no session is enabled")
	fs.DurationVar(&cfg.PassInterval, "pass-interval", time.Millisecond, "Driver pause between active passes")
	fs.DurationVar(&cfg.SourceTimeout, "source-timeout", 30*time.Second, "Drop a stream source after this much silence")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Environment overrides
	if v := getenv("GRAV_HTTP"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := getenv("GRAV_GRPC"); v != "" {
		cfg.GRPCAddr = v
	}
	if v := getenv("GRAV_ADVERTISE"); v != "" {
		cfg.AdvertiseAddr = v
	}
	if v := getenv("GRAV_LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("GRAV_LOGFILE"); v != "" {
		cfg.LogFile = v
	}
	if v := getenv("GRAV_SESSIONS"); v != "" {
		cfg.SessionsFile = v
	}
	if v := getenv("GRAV_VIDEO"); v != "" {
		video = v
	}
	if v := getenv("GRAV_AUDIO"); v != "" {
		audio = v
	}
	if v := getenv("GRAV_ROTATE"); v != "" {
		rotate = v
	}
	for name, dst := range map[string]*time.Duration{
		"GRAV_ROTATE_INTERVAL": &cfg.RotateInterval,
		"GRAV_IDLE_SLEEP":      &cfg.IdleSleep,
		"GRAV_PASS_INTERVAL":   &cfg.PassInterval,
		"GRAV_SOURCE_TIMEOUT":  &cfg.SourceTimeout,
	} {
		if v := getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}

	cfg.Video = splitList(video)
	cfg.Audio = splitList(audio)
	cfg.Rotate = splitList(rotate)

	if cfg.SessionsFile != "" {
		if err := cfg.mergeSessionFile(cfg.SessionsFile); err != nil {
			return nil, err
		}
	}

	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}
	return cfg, nil
}

func (c *Config) mergeSessionFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}
	var sf SessionFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse session file %s: %w", path, err)
	}

	c.Video = appendUnique(c.Video, sf.Video...)
	c.Audio = appendUnique(c.Audio, sf.Audio...)
	c.Rotate = appendUnique(c.Rotate, sf.Rotate...)
	for addr, key := range sf.Encryption {
		c.EncryptionKeys[addr] = key
	}
	if sf.RotateInterval != "" && c.RotateInterval == 0 {
		d, err := time.ParseDuration(sf.RotateInterval)
		if err != nil {
			return fmt.Errorf("session file rotate_interval: %w", err)
		}
		c.RotateInterval = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = appendUnique(out, p)
		}
	}
	return out
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(list, it) {
			list = append(list, it)
		}
	}
	return list
}

// getPrimaryInterfaceIP returns the first IPv4 address of an up,
// non-loopback interface.
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}
