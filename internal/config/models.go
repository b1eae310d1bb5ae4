package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/bryanchriswhite/pwnegotiator/internal/negotiate"
	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
	"gopkg.in/yaml.v3"
)

// ProfileConfig describes a negotiation profile in the config file. Unset
// fields are inherited from Base, which names a built-in profile.
type ProfileConfig struct {
	Name      string                    `json:"name" yaml:"name"`
	Base      string                    `json:"base,omitempty" yaml:"base,omitempty"`
	Formats   []spa.VideoFormat         `json:"formats,omitempty" yaml:"formats,omitempty"`
	Size      *negotiate.RectangleRange `json:"size,omitempty" yaml:"size,omitempty"`
	Framerate *negotiate.FractionRange  `json:"framerate,omitempty" yaml:"framerate,omitempty"`
	// Table maps server format names (e.g. "BGRx") to pixel format names.
	Table map[string]string `json:"table,omitempty" yaml:"table,omitempty"`
	// Sources selects what the ScreenCast portal offers: "monitor", "window"
	// or "virtual".
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Config represents the application configuration
type Config struct {
	LogLevel      string          `json:"log_level" yaml:"log_level"`
	ServerPort    int             `json:"server_port" yaml:"server_port"`
	ActiveProfile string          `json:"active_profile" yaml:"active_profile"`
	Profiles      []ProfileConfig `json:"profiles" yaml:"profiles"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(configDir, "pwnegotiator", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty. A missing
// file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = m.getDefaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	// Fail at startup, not in the middle of a negotiation round.
	if _, err := m.Profiles(); err != nil {
		return nil, err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Int("custom_profiles", len(m.config.Profiles)).
		Str("active_profile", m.config.ActiveProfile).
		Msg("Config loaded")

	return m, nil
}

// getDefaults returns default configuration
func (m *Manager) getDefaults() *Config {
	return &Config{
		LogLevel:      "info",
		ServerPort:    8080,
		ActiveProfile: negotiate.ProfileDesktop,
		Profiles:      []ProfileConfig{},
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	defaults := m.getDefaults()
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = defaults.ServerPort
	}
	if cfg.ActiveProfile == "" {
		cfg.ActiveProfile = defaults.ActiveProfile
	}
	if cfg.Profiles == nil {
		cfg.Profiles = []ProfileConfig{}
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return m.getDefaults()
	}
	cfg := *m.config
	cfg.Profiles = append([]ProfileConfig(nil), m.config.Profiles...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = m.getDefaults()
	}

	log := logger.WithComponent("config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	log.Debug().Str("path", m.configPath).Msg("Config saved")
	return nil
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port number: %d", port)
	}
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	if _, err := logger.ParseLevel(level); err != nil {
		return err
	}
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// SetActiveProfile switches the profile used when none is requested.
func (m *Manager) SetActiveProfile(name string) error {
	profiles, err := m.Profiles()
	if err != nil {
		return err
	}
	if _, ok := profiles[name]; !ok {
		return fmt.Errorf("profile not found: %s", name)
	}
	m.mu.Lock()
	m.config.ActiveProfile = name
	m.mu.Unlock()
	return m.Save()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Profiles resolves the built-in and configured profiles. Configured
// profiles with a built-in's name replace it.
func (m *Manager) Profiles() (map[string]negotiate.Profile, error) {
	cfg := m.Get()

	profiles := negotiate.BuiltinProfiles()
	for _, pc := range cfg.Profiles {
		p, err := pc.Resolve()
		if err != nil {
			return nil, err
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}

// Profile returns the named profile, or the active one when name is empty.
func (m *Manager) Profile(name string) (negotiate.Profile, error) {
	if name == "" {
		name = m.Get().ActiveProfile
	}
	profiles, err := m.Profiles()
	if err != nil {
		return negotiate.Profile{}, err
	}
	p, ok := profiles[name]
	if !ok {
		return negotiate.Profile{}, fmt.Errorf("profile not found: %s", name)
	}
	return p, nil
}

// Sources returns the portal source names configured for a profile. Built-in
// profiles capture monitors, plus windows for screencast.
func (m *Manager) Sources(name string) []string {
	for _, pc := range m.Get().Profiles {
		if pc.Name == name && len(pc.Sources) > 0 {
			return append([]string(nil), pc.Sources...)
		}
	}
	if name == negotiate.ProfileScreencast {
		return []string{"monitor", "window"}
	}
	return []string{"monitor"}
}

// Resolve turns the config entry into a validated profile.
func (pc ProfileConfig) Resolve() (negotiate.Profile, error) {
	if pc.Name == "" {
		return negotiate.Profile{}, fmt.Errorf("%w: profile without a name", negotiate.ErrInvalidRange)
	}

	base := negotiate.Profile{}
	if pc.Base != "" {
		b, ok := negotiate.BuiltinProfiles()[pc.Base]
		if !ok {
			return negotiate.Profile{}, fmt.Errorf("profile %s: unknown base profile %q", pc.Name, pc.Base)
		}
		base = b
	}
	p := base
	p.Name = pc.Name

	if pc.Formats != nil {
		p.Range.Formats = append([]spa.VideoFormat(nil), pc.Formats...)
	}
	if pc.Size != nil {
		p.Range.Size = *pc.Size
	}
	if pc.Framerate != nil {
		p.Range.Framerate = *pc.Framerate
	}
	if pc.Table != nil {
		entries := make(map[spa.VideoFormat]negotiate.PixelFormat, len(pc.Table))
		for server, pixel := range pc.Table {
			id, err := spa.ParseVideoFormat(server)
			if err != nil {
				return negotiate.Profile{}, fmt.Errorf("profile %s: table: %w", pc.Name, err)
			}
			pf, err := negotiate.ParsePixelFormat(pixel)
			if err != nil {
				return negotiate.Profile{}, fmt.Errorf("profile %s: table: %w", pc.Name, err)
			}
			entries[id] = pf
		}
		table, err := negotiate.NewFormatTable(entries)
		if err != nil {
			return negotiate.Profile{}, fmt.Errorf("profile %s: %w", pc.Name, err)
		}
		p.Table = table
	}

	if err := p.Validate(); err != nil {
		return negotiate.Profile{}, err
	}
	return p, nil
}
