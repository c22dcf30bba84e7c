package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/openmined/cardsync/internal/config"
	"github.com/openmined/cardsync/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envAliases are the variable names the publisher reads in CI, checked after
// the CARDSYNC_ prefixed form of each key.
var envAliases = map[string][]string{
	"github.token":               {"GITHUB_TOKEN"},
	"github.repository":          {"GITHUB_REPOSITORY"},
	"github.api_url":             {"GITHUB_API_URL"},
	"github.branch":              {"GITHUB_REF_NAME"},
	"publish.root_dir":           {"COLLECTION_DIRECTORY_PATH"},
	"publish.publish_unverified": {"PUBLISH_UNVERIFIED_CARDS"},
	"publish.dry_run":            {"DRY_RUN"},
}

var configKeys = []string{
	"github.api_url",
	"github.repository",
	"github.branch",
	"github.token",
	"publish.root_dir",
	"publish.publish_unverified",
	"publish.dry_run",
	"publish.ignore",
	"publish.settle_delay",
	"publish.settle_attempts",
	"publish.cache_size",
	"publish.tree_retries",
	"metadata_path",
	"snapshot_path",
	"log_file",
}

// flagKeys maps command flags onto config keys.
var flagKeys = map[string]string{
	"repo":               "github.repository",
	"branch":             "github.branch",
	"root":               "publish.root_dir",
	"dry-run":            "publish.dry_run",
	"publish-unverified": "publish.publish_unverified",
	"snapshot":           "snapshot_path",
	"metadata":           "metadata_path",
}

func envName(key string) string {
	return "CARDSYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// loadConfig resolves the config from, in increasing priority: the config
// file, a dotenv file, the environment and the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" && utils.FileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("env file '%s': %w", envFile, err)
		}
	}

	v := viper.New()
	if flag := cmd.Flag("config"); flag != nil && flag.Changed {
		v.SetConfigFile(flag.Value.String())
	} else if path := os.Getenv("CARDSYNC_CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Dir(config.DefaultConfigPath))
		v.SetConfigName("config")
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for _, key := range configKeys {
		names := append([]string{key, envName(key)}, envAliases[key]...)
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	return cfg, nil
}

// prepare loads and validates the config and starts logging. Every command
// that touches the remote or the metadata store runs it first.
func prepare(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	if err := setupLogging(cfg.LogFile, verbose); err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true
	return cfg, nil
}
