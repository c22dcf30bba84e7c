package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/openmined/cardsync/internal/utils"
)

var (
	home, _             = os.UserHomeDir()
	DefaultConfigPath   = filepath.Join(home, ".cardsync", "config.json")
	DefaultMetadataPath = filepath.Join(home, ".cardsync", "metadata.db")
	DefaultLogFilePath  = filepath.Join(home, ".cardsync", "logs", "cardsync.log")
)

const (
	DefaultAPIURL         = "https://api.github.com"
	DefaultBranch         = "main"
	DefaultSettleDelay    = time.Second
	DefaultSettleAttempts = 3
	DefaultCacheSize      = 1024
	DefaultTreeRetries    = 10
)

var (
	ErrNoRepository = errors.New("config: github repository missing")
	ErrNoToken      = errors.New("config: github token missing")
	ErrNoSnapshot   = errors.New("config: snapshot path missing")

	repositoryPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
)

type Config struct {
	GitHub       GitHubConfig  `json:"github" mapstructure:"github"`
	Publish      PublishConfig `json:"publish" mapstructure:"publish"`
	MetadataPath string        `json:"metadata_path" mapstructure:"metadata_path"`
	SnapshotPath string        `json:"snapshot_path" mapstructure:"snapshot_path"`
	LogFile      string        `json:"log_file" mapstructure:"log_file"`
	Path         string        `json:"-" mapstructure:"-"`
}

type GitHubConfig struct {
	APIURL     string `json:"api_url" mapstructure:"api_url"`
	Repository string `json:"repository" mapstructure:"repository"` // owner/name
	Branch     string `json:"branch" mapstructure:"branch"`
	Token      string `json:"-" mapstructure:"token"`
}

type PublishConfig struct {
	RootDir           string        `json:"root_dir" mapstructure:"root_dir"`
	PublishUnverified bool          `json:"publish_unverified" mapstructure:"publish_unverified"`
	DryRun            bool          `json:"dry_run" mapstructure:"dry_run"`
	Ignore            []string      `json:"ignore" mapstructure:"ignore"`
	SettleDelay       time.Duration `json:"settle_delay" mapstructure:"settle_delay"`
	SettleAttempts    int           `json:"settle_attempts" mapstructure:"settle_attempts"`
	CacheSize         int           `json:"cache_size" mapstructure:"cache_size"`
	TreeRetries       int           `json:"tree_retries" mapstructure:"tree_retries"`
}

// Default returns a config with every optional field populated. Tree
// retries default here rather than in applyDefaults so an explicit 0 stays 0.
func Default() *Config {
	cfg := &Config{Publish: PublishConfig{TreeRetries: DefaultTreeRetries}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = DefaultAPIURL
	}
	if c.GitHub.Branch == "" {
		c.GitHub.Branch = DefaultBranch
	}
	if c.MetadataPath == "" {
		c.MetadataPath = DefaultMetadataPath
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFilePath
	}
	if c.Publish.SettleDelay <= 0 {
		c.Publish.SettleDelay = DefaultSettleDelay
	}
	if c.Publish.SettleAttempts <= 0 {
		c.Publish.SettleAttempts = DefaultSettleAttempts
	}
	if c.Publish.CacheSize == 0 {
		c.Publish.CacheSize = DefaultCacheSize
	}
}

// Validate fills defaults, normalizes paths and checks that the config can
// drive a publish run. The snapshot path is checked separately by commands
// that need it (see RequireSnapshot).
func (c *Config) Validate() error {
	c.applyDefaults()

	c.GitHub.APIURL = strings.TrimRight(c.GitHub.APIURL, "/")
	if err := validateURL(c.GitHub.APIURL); err != nil {
		return fmt.Errorf("invalid api url: %w", err)
	}

	c.GitHub.Repository = strings.TrimSpace(c.GitHub.Repository)
	if c.GitHub.Repository == "" {
		return ErrNoRepository
	}
	if !repositoryPattern.MatchString(c.GitHub.Repository) {
		return fmt.Errorf("invalid repository %q: expected owner/name", c.GitHub.Repository)
	}

	c.GitHub.Branch = strings.TrimPrefix(strings.TrimSpace(c.GitHub.Branch), "refs/heads/")
	if c.GitHub.Branch == "" {
		return fmt.Errorf("invalid branch: empty")
	}

	if c.GitHub.Token == "" && !c.Publish.DryRun {
		return ErrNoToken
	}

	c.Publish.RootDir = strings.Trim(strings.TrimSpace(c.Publish.RootDir), "/")

	if c.Publish.CacheSize < 0 {
		return fmt.Errorf("invalid cache size %d", c.Publish.CacheSize)
	}
	if c.Publish.TreeRetries < 0 {
		return fmt.Errorf("invalid tree retries %d", c.Publish.TreeRetries)
	}

	metadataPath, err := utils.ResolvePath(c.MetadataPath)
	if err != nil {
		return fmt.Errorf("invalid metadata path: %w", err)
	}
	c.MetadataPath = metadataPath

	logFile, err := utils.ResolvePath(c.LogFile)
	if err != nil {
		return fmt.Errorf("invalid log file: %w", err)
	}
	c.LogFile = logFile

	if c.SnapshotPath != "" {
		snapshotPath, err := utils.ResolvePath(c.SnapshotPath)
		if err != nil {
			return fmt.Errorf("invalid snapshot path: %w", err)
		}
		c.SnapshotPath = snapshotPath
	}

	if c.Path != "" {
		configPath, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("invalid config path: %w", err)
		}
		c.Path = configPath
	}

	return nil
}

// RequireSnapshot errors when no snapshot file is configured or it does not exist.
func (c *Config) RequireSnapshot() error {
	if c.SnapshotPath == "" {
		return ErrNoSnapshot
	}
	if !utils.FileExists(c.SnapshotPath) {
		return fmt.Errorf("snapshot %s: %w", c.SnapshotPath, os.ErrNotExist)
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
