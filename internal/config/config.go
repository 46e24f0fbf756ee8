// Package config loads the bot configuration from TOML or YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/matt0x6f/alis-bot/internal/dispatch"
	"github.com/matt0x6f/alis-bot/internal/irc"
	"github.com/matt0x6f/alis-bot/internal/network"
	"github.com/matt0x6f/alis-bot/internal/transport"
	"github.com/matt0x6f/alis-bot/internal/validation"
)

// File is the structure of one configuration file. The top-level server
// keys describe a single network, for files written for one network only.
type File struct {
	Bot      BotSection       `toml:"bot" yaml:"bot"`
	Networks []NetworkSection `toml:"networks" yaml:"networks"`

	Server   string `toml:"server,omitempty" yaml:"server,omitempty"`
	Port     int    `toml:"port,omitempty" yaml:"port,omitempty"`
	UseTLS   *bool  `toml:"use_tls,omitempty" yaml:"use_tls,omitempty"`
	Nickname string `toml:"nickname,omitempty" yaml:"nickname,omitempty"`
	Username string `toml:"username,omitempty" yaml:"username,omitempty"`
	Realname string `toml:"realname,omitempty" yaml:"realname,omitempty"`
	Password string `toml:"password,omitempty" yaml:"password,omitempty"`
}

// BotSection holds process-wide settings. Zero values take the defaults.
type BotSection struct {
	LogLevel                   string `toml:"log_level" yaml:"log_level"`
	ListTimeoutSeconds         int    `toml:"list_timeout_seconds" yaml:"list_timeout_seconds"`
	QueueCapacity              int    `toml:"queue_capacity" yaml:"queue_capacity"`
	FloodDelayMillis           int    `toml:"flood_delay_ms" yaml:"flood_delay_ms"`
	RegistrationTimeoutSeconds int    `toml:"registration_timeout_seconds" yaml:"registration_timeout_seconds"`
	IdleTimeoutSeconds         int    `toml:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	ReconnectMaxSeconds        int    `toml:"reconnect_max_seconds" yaml:"reconnect_max_seconds"`
	MetricsAddr                string `toml:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
	JournalPath                string `toml:"journal_path,omitempty" yaml:"journal_path,omitempty"`
}

// NetworkSection describes one server to connect to
type NetworkSection struct {
	Name                 string `toml:"name" yaml:"name"`
	Host                 string `toml:"host" yaml:"host"`
	Port                 int    `toml:"port" yaml:"port"`
	TLS                  *bool  `toml:"tls" yaml:"tls"`
	TLSSkipVerify        bool   `toml:"tls_skip_verify,omitempty" yaml:"tls_skip_verify,omitempty"`
	Nickname             string `toml:"nickname" yaml:"nickname"`
	Username             string `toml:"username" yaml:"username"`
	Realname             string `toml:"realname" yaml:"realname"`
	Password             string `toml:"password,omitempty" yaml:"password,omitempty"`
	PasswordFromKeychain bool   `toml:"password_from_keychain,omitempty" yaml:"password_from_keychain,omitempty"`
}

// DefaultBotSection returns the default process settings
func DefaultBotSection() BotSection {
	return BotSection{
		LogLevel:                   "info",
		ListTimeoutSeconds:         90,
		QueueCapacity:              3,
		FloodDelayMillis:           1000,
		RegistrationTimeoutSeconds: 60,
		IdleTimeoutSeconds:         180,
		ReconnectMaxSeconds:        300,
		JournalPath:                "",
	}
}

// PasswordSource looks up stored network passwords
type PasswordSource interface {
	GetPassword(network string) (string, error)
}

// ExpandHome replaces a leading "~/" with the user's home directory
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// DecodeFile decodes one TOML or YAML file, chosen by extension
func DecodeFile(path string) (File, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return File{}, err
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return File{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return File{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return File{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		return File{}, fmt.Errorf("config file %s: unsupported extension (want .toml, .yaml or .yml)", path)
	}
	return f, nil
}

// Discover lists the configuration files in dir, sorted by name
func Discover(dir string) ([]string, error) {
	dir, err := ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("config directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config directory %s is not a directory", dir)
	}

	var paths []string
	for _, pattern := range []string{"*.toml", "*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no configuration files in %s", dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// Load decodes every path and merges them in order: later bot settings
// override earlier ones, networks accumulate.
func Load(paths []string) (File, error) {
	if len(paths) == 0 {
		return File{}, errors.New("no configuration files given")
	}
	merged := File{Bot: DefaultBotSection()}
	for _, path := range paths {
		f, err := DecodeFile(path)
		if err != nil {
			return File{}, err
		}
		merged.Bot = merged.Bot.merge(f.Bot)
		merged.Networks = append(merged.Networks, f.networks()...)
	}
	if len(merged.Networks) == 0 {
		return File{}, errors.New("no networks configured")
	}
	return merged, nil
}

// networks returns the file's networks, including the top-level one
func (f File) networks() []NetworkSection {
	nets := append([]NetworkSection(nil), f.Networks...)
	if f.Server != "" {
		nets = append(nets, NetworkSection{
			Name:     f.Server,
			Host:     f.Server,
			Port:     f.Port,
			TLS:      f.UseTLS,
			Nickname: f.Nickname,
			Username: f.Username,
			Realname: f.Realname,
			Password: f.Password,
		})
	}
	return nets
}

func (b BotSection) merge(o BotSection) BotSection {
	if o.LogLevel != "" {
		b.LogLevel = o.LogLevel
	}
	if o.ListTimeoutSeconds != 0 {
		b.ListTimeoutSeconds = o.ListTimeoutSeconds
	}
	if o.QueueCapacity != 0 {
		b.QueueCapacity = o.QueueCapacity
	}
	if o.FloodDelayMillis != 0 {
		b.FloodDelayMillis = o.FloodDelayMillis
	}
	if o.RegistrationTimeoutSeconds != 0 {
		b.RegistrationTimeoutSeconds = o.RegistrationTimeoutSeconds
	}
	if o.IdleTimeoutSeconds != 0 {
		b.IdleTimeoutSeconds = o.IdleTimeoutSeconds
	}
	if o.ReconnectMaxSeconds != 0 {
		b.ReconnectMaxSeconds = o.ReconnectMaxSeconds
	}
	if strings.TrimSpace(o.MetricsAddr) != "" {
		b.MetricsAddr = o.MetricsAddr
	}
	if strings.TrimSpace(o.JournalPath) != "" {
		b.JournalPath = o.JournalPath
	}
	return b
}

// Validate checks the process settings
func (b BotSection) Validate() error {
	if b.ListTimeoutSeconds < 0 || b.RegistrationTimeoutSeconds < 0 || b.IdleTimeoutSeconds < 0 || b.ReconnectMaxSeconds < 0 {
		return errors.New("timeouts must not be negative")
	}
	if b.QueueCapacity < 0 {
		return errors.New("queue_capacity must not be negative")
	}
	if b.FloodDelayMillis < 0 {
		return errors.New("flood_delay_ms must not be negative")
	}
	if b.MetricsAddr != "" {
		if err := validation.ValidateListenAddress(b.MetricsAddr); err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
	}
	return nil
}

// NetworkOptions converts the settings for the connection manager
func (b BotSection) NetworkOptions() network.Options {
	opts := network.DefaultOptions()
	if b.RegistrationTimeoutSeconds > 0 {
		opts.RegistrationTimeout = time.Duration(b.RegistrationTimeoutSeconds) * time.Second
	}
	if b.IdleTimeoutSeconds > 0 {
		opts.IdleTimeout = time.Duration(b.IdleTimeoutSeconds) * time.Second
	}
	if b.ReconnectMaxSeconds > 0 {
		opts.Backoff.Max = time.Duration(b.ReconnectMaxSeconds) * time.Second
	}
	opts.FloodDelay = time.Duration(b.FloodDelayMillis) * time.Millisecond
	return opts
}

// DispatchOptions converts the settings for request dispatchers
func (b BotSection) DispatchOptions() dispatch.Options {
	opts := dispatch.DefaultOptions()
	if b.ListTimeoutSeconds > 0 {
		opts.ListTimeout = time.Duration(b.ListTimeoutSeconds) * time.Second
	}
	opts.QueueCapacity = b.QueueCapacity
	return opts
}

// JournalFile returns the journal path with ~ expanded, "" when disabled
func (b BotSection) JournalFile() (string, error) {
	if strings.TrimSpace(b.JournalPath) == "" {
		return "", nil
	}
	return ExpandHome(b.JournalPath)
}

// Descriptors validates the networks and resolves their passwords. keys
// may be nil when no network reads its password from the keychain.
func (f File) Descriptors(keys PasswordSource) ([]network.Descriptor, error) {
	descs := make([]network.Descriptor, 0, len(f.Networks))
	seen := make(map[string]bool)
	for i, n := range f.Networks {
		d, err := n.descriptor(keys)
		if err != nil {
			label := n.Name
			if label == "" {
				label = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("network %s: %w", label, err)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("network %s: configured more than once", d.Name)
		}
		seen[d.Name] = true
		descs = append(descs, d)
	}
	return descs, nil
}

func (n NetworkSection) descriptor(keys PasswordSource) (network.Descriptor, error) {
	useTLS := true
	if n.TLS != nil {
		useTLS = *n.TLS
	}
	port := n.Port
	if port == 0 {
		port = 6667
		if useTLS {
			port = 6697
		}
	}
	name := n.Name
	if name == "" {
		name = n.Host
	}
	if err := validation.ValidateNetworkConfig(name, n.Host, port, n.Nickname, n.Username); err != nil {
		return network.Descriptor{}, err
	}

	password := n.Password
	if n.PasswordFromKeychain {
		if keys == nil {
			return network.Descriptor{}, errors.New("password_from_keychain set but no keychain available")
		}
		pw, err := keys.GetPassword(name)
		if err != nil {
			return network.Descriptor{}, err
		}
		if pw == "" {
			return network.Descriptor{}, fmt.Errorf("no password stored in the keychain for %s", name)
		}
		password = pw
	}

	return network.Descriptor{
		Name: name,
		Endpoint: transport.Endpoint{
			Host:       n.Host,
			Port:       port,
			TLS:        useTLS,
			SkipVerify: n.TLSSkipVerify,
		},
		Identity: irc.Identity{
			Nick:     n.Nickname,
			User:     n.Username,
			RealName: n.Realname,
			Password: password,
		},
	}, nil
}
