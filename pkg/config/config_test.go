package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lines.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestReadLineSet(t *testing.T) {
	path := writeTempFile(t, "FULL_PART_TIME\n\n  EMPLOYEE_DEPT  \n\nFULL_PART_TIME\n")

	set, err := ReadLineSet(path)
	if err != nil {
		t.Fatalf("ReadLineSet() error = %v", err)
	}
	if len(set) != 2 {
		t.Errorf("len = %d, want 2 (blanks skipped, duplicates collapsed)", len(set))
	}
	if !set.Contains("FULL_PART_TIME") || !set.Contains("EMPLOYEE_DEPT") {
		t.Errorf("set = %v, want FULL_PART_TIME and EMPLOYEE_DEPT", set)
	}
}

func TestReadLineSet_MissingFile(t *testing.T) {
	if _, err := ReadLineSet(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Error("ReadLineSet() error = nil, want error for missing file")
	}
}

func TestLoad(t *testing.T) {
	categories := writeTempFile(t, "FULL_PART_TIME\n")

	t.Setenv(EnvRegion, "eu")
	t.Setenv(EnvAPIKey, "secret")
	t.Setenv(EnvCategoriesFile, categories)
	t.Setenv(EnvGroupsFile, "")
	t.Setenv(EnvRateLimit, "25")
	t.Setenv(EnvPageSize, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Region != "eu" || cfg.APIKey != "secret" {
		t.Errorf("Region/APIKey = %q/%q, want eu/secret", cfg.Region, cfg.APIKey)
	}
	if cfg.RateLimit != 25 {
		t.Errorf("RateLimit = %d, want 25", cfg.RateLimit)
	}
	if cfg.PageSize != DefaultPageSize {
		t.Errorf("PageSize = %d, want default %d", cfg.PageSize, DefaultPageSize)
	}
	if !cfg.CategoriesToRemove.Contains("FULL_PART_TIME") {
		t.Errorf("CategoriesToRemove = %v, want FULL_PART_TIME", cfg.CategoriesToRemove)
	}
	if len(cfg.ExternalGroups) != 0 {
		t.Errorf("ExternalGroups = %v, want empty set", cfg.ExternalGroups)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name   string
		region string
		apiKey string
		extra  map[string]string
	}{
		{name: "missing region", region: "", apiKey: "k"},
		{name: "missing api key", region: "eu", apiKey: ""},
		{name: "non-numeric rate limit", region: "eu", apiKey: "k", extra: map[string]string{EnvRateLimit: "fast"}},
		{name: "zero page size", region: "eu", apiKey: "k", extra: map[string]string{EnvPageSize: "0"}},
		{name: "missing categories file", region: "eu", apiKey: "k", extra: map[string]string{EnvCategoriesFile: "/does/not/exist"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvRegion, tt.region)
			t.Setenv(EnvAPIKey, tt.apiKey)
			t.Setenv(EnvCategoriesFile, "")
			t.Setenv(EnvGroupsFile, "")
			t.Setenv(EnvRateLimit, "")
			t.Setenv(EnvPageSize, "")
			for k, v := range tt.extra {
				t.Setenv(k, v)
			}

			if _, err := Load(); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestRules(t *testing.T) {
	cfg := &Config{
		CategoriesToRemove: map[string]struct{}{"FULL_PART_TIME": {}},
		ExternalGroups:     map[string]struct{}{"GUEST": {}},
	}

	rules := cfg.Rules()
	if !rules.NormalizeTitles || !rules.PruneRoleParameters {
		t.Error("Rules() must enable title normalization and role parameter pruning")
	}
	if !rules.CategoriesToRemove.Contains("FULL_PART_TIME") || !rules.ExternalGroups.Contains("GUEST") {
		t.Errorf("Rules() lookup sets not carried over: %+v", rules)
	}
}
