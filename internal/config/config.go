package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"cratemirror/internal/match"
	"cratemirror/internal/remote"
)

// Config contains the program configuration
type Config struct {
	// SeratoDir is the library root holding the Subcrates directory.
	SeratoDir string `yaml:"serato_dir"`
	// DatabasePath is the mapping database location.
	DatabasePath string `yaml:"database_path"`

	Verbose bool `yaml:"verbose"`

	// Match tunes the identity matcher.
	Match match.Config `yaml:"match"`

	// TidalClientID overrides the built-in device-flow client ID.
	TidalClientID string `yaml:"tidal_client_id"`
	// PlaylistFolder is the collection folder new mirror playlists are
	// created in ("root" for the top level).
	PlaylistFolder string `yaml:"playlist_folder"`

	// DownloaderBinary is the external download tool on PATH.
	DownloaderBinary string `yaml:"downloader_binary"`
	// DownloadDir is where the downloader drops files before they are
	// moved into the library.
	DownloadDir string `yaml:"download_dir"`
	// Quality is the tier requested for recovered downloads.
	Quality string `yaml:"quality"`

	// MaxBitrate marks tracks below this kbps for recovery (0 disables
	// the bitrate check; missing files always qualify).
	MaxBitrate int `yaml:"max_bitrate_kbps"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		SeratoDir:        filepath.Join(homeDir(), "Music", "_Serato_"),
		DatabasePath:     filepath.Join(xdg.DataHome, "cratemirror", "mappings.db"),
		Match:            match.DefaultConfig(),
		PlaylistFolder:   "root",
		DownloaderBinary: "tidal-dl-ng",
		DownloadDir:      filepath.Join(xdg.CacheHome, "cratemirror", "downloads"),
		Quality:          string(remote.QualityLossless),
	}
}

// LoadConfigFile loads configuration from a YAML file.
// If path is empty, searches standard locations. Returns defaults if no file found.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.SeratoDir = ExpandHome(cfg.SeratoDir)
	cfg.DatabasePath = ExpandHome(cfg.DatabasePath)
	cfg.DownloadDir = ExpandHome(cfg.DownloadDir)

	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	locations := []string{
		"./cratemirror.yaml",
		"./cratemirror.yml",
		filepath.Join(xdg.ConfigHome, "cratemirror", "config.yaml"),
		filepath.Join(xdg.ConfigHome, "cratemirror", "config.yml"),
		filepath.Join(homeDir(), ".cratemirror.yaml"),
	}

	for _, path := range locations {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// SaveConfigFile saves the current configuration to a YAML file
func SaveConfigFile(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "cratemirror", "config.yaml")
}

// GetDefaultLogPath returns the default log directory path
func GetDefaultLogPath() string {
	return filepath.Join(xdg.DataHome, "cratemirror", "logs")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SeratoDir == "" {
		return fmt.Errorf("serato_dir cannot be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path cannot be empty")
	}

	if err := c.Match.Validate(); err != nil {
		return fmt.Errorf("match: %w", err)
	}

	if _, err := remote.ParseQuality(c.Quality); err != nil {
		return err
	}

	if c.MaxBitrate < 0 {
		return fmt.Errorf("max_bitrate_kbps cannot be negative, got %d", c.MaxBitrate)
	}

	if c.DownloaderBinary == "" {
		return fmt.Errorf("downloader_binary cannot be empty")
	}

	return nil
}
