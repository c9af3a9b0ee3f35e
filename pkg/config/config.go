// Package config loads the runtime configuration from the environment (with
// optional .env file) and from the line-per-entry lookup files the transform
// rules consume. The configuration is loaded once at startup and treated as
// immutable for the rest of the run.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bibops/alma-user-batch/pkg/record"
	"github.com/joho/godotenv"
)

// Environment variables consumed by Load.
const (
	EnvRegion         = "ALMA_REGION"
	EnvAPIKey         = "ALMA_APIKEY"
	EnvCategoriesFile = "CATEGORIES_TO_REMOVE"
	EnvGroupsFile     = "EXTERNAL_USER_GROUPS"
	EnvRateLimit      = "ALMA_RATE_LIMIT"
	EnvPageSize       = "ALMA_PAGE_SIZE"
)

// Defaults for values the environment does not override.
const (
	DefaultPageSize  = 100
	DefaultRateLimit = 10
)

// Config is the full runtime configuration for a batch run.
type Config struct {
	// Region selects the Alma API host.
	Region string

	// APIKey is the institution API key.
	APIKey string

	// PageSize is the listing limit per page.
	PageSize int

	// RateLimit is the outbound request admission rate per second.
	RateLimit int

	// CategoriesToRemove holds the category_type values to strip.
	CategoriesToRemove record.Set

	// ExternalGroups holds the user groups classified as external.
	ExternalGroups record.Set
}

// Load reads the configuration from the environment, after loading a .env
// file when one is present. Region and API key are required; the lookup
// files are optional and default to empty sets.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Region:    os.Getenv(EnvRegion),
		APIKey:    os.Getenv(EnvAPIKey),
		PageSize:  DefaultPageSize,
		RateLimit: DefaultRateLimit,
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("%s is required", EnvRegion)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s is required", EnvAPIKey)
	}

	var err error
	if cfg.PageSize, err = intFromEnv(EnvPageSize, DefaultPageSize); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = intFromEnv(EnvRateLimit, DefaultRateLimit); err != nil {
		return nil, err
	}

	if cfg.CategoriesToRemove, err = optionalLineSet(EnvCategoriesFile); err != nil {
		return nil, err
	}
	if cfg.ExternalGroups, err = optionalLineSet(EnvGroupsFile); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Rules builds the transform rule configuration from the loaded lookup sets.
func (c *Config) Rules() record.Rules {
	return record.Rules{
		CategoriesToRemove:  c.CategoriesToRemove,
		ExternalGroups:      c.ExternalGroups,
		NormalizeTitles:     true,
		PruneRoleParameters: true,
	}
}

func intFromEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a positive integer", key, v)
	}
	return n, nil
}

func optionalLineSet(key string) (record.Set, error) {
	path := os.Getenv(key)
	if path == "" {
		return record.Set{}, nil
	}
	set, err := ReadLineSet(path)
	if err != nil {
		return nil, fmt.Errorf("read %s file: %w", key, err)
	}
	return set, nil
}

// ReadLineSet loads a one-entry-per-line file into a set, skipping blank
// lines and surrounding whitespace.
func ReadLineSet(path string) (record.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set := record.Set{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		set[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}
