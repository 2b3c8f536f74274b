// Package config loads the harvester/analyzer configuration surface
// through koanf's file/env/yaml providers, with stdlib flag values
// applied last as overrides — the teacher's per-binary flag.Parse()
// enriched with a config-file layer for the bigger surface these two
// pipelines need (access tokens, per-provider thresholds, multiple
// input paths).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ProviderConfig holds one provider's access token and thresholds.
type ProviderConfig struct {
	AccessToken    string `koanf:"access_token"`
	CountThreshold int64  `koanf:"count_threshold"`
	SizeThreshold  int64  `koanf:"size_threshold"`
}

// Config is the full configuration surface shared by cmd/harvest and
// cmd/analyze.
type Config struct {
	IdentifierListPath string `koanf:"identifier_list_path"`
	StorePath          string `koanf:"store_path"`
	CheckpointPath     string `koanf:"checkpoint_path"`
	ScratchRoot        string `koanf:"scratch_root"`
	ListenAddr         string `koanf:"listen_addr"`

	SuccessfulThreshold int64 `koanf:"successful_threshold"`
	WallClockBudgetSecs int64 `koanf:"wall_clock_budget_seconds"`

	Providers map[string]ProviderConfig `koanf:"providers"`
}

// Default mirrors the defaults implicit in threaded_metadata_harvester.py
// and threaded_dataset_analysis.py's module-level constants.
func Default() Config {
	return Config{
		StorePath:           "geoextent.sqlite3",
		CheckpointPath:      "checkpoint.json",
		ScratchRoot:         os.TempDir(),
		SuccessfulThreshold: 100000,
		WallClockBudgetSecs: 10 * 60 * 60,
		Providers:           map[string]ProviderConfig{},
	}
}

// Load builds a Config by layering, lowest precedence first: built-in
// defaults, an optional YAML file at filePath (skipped silently if
// filePath is empty or the file does not exist), then environment
// variables prefixed GEOEXTENT_ (double underscore as the nesting
// separator, e.g. GEOEXTENT_PROVIDERS__DRYAD__ACCESS_TOKEN).
func Load(filePath string) (Config, error) {
	k := koanf.New(".")

	cfg := Default()
	if err := k.Load(structProvider(cfg), nil); err != nil {
		return Config{}, fmt.Errorf("config: loading defaults: %w", err)
	}

	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("config: loading %s: %w", filePath, err)
			}
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: "GEOEXTENT_",
		TransformFunc: func(k, v string) (string, any) {
			key := strings.ToLower(strings.TrimPrefix(k, "GEOEXTENT_"))
			key = strings.ReplaceAll(key, "__", ".")
			return key, v
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("config: loading environment: %w", err)
	}

	var out Config
	if err := k.Unmarshal("", &out); err != nil {
		return Config{}, fmt.Errorf("config: unmarshalling: %w", err)
	}
	return out, nil
}

// structProvider adapts a Config value into a koanf-compatible source so
// Default() can be loaded through the same Load path as file/env layers.
func structProvider(cfg Config) koanfStructProvider {
	return koanfStructProvider{cfg: cfg}
}

type koanfStructProvider struct {
	cfg Config
}

func (p koanfStructProvider) Read() (map[string]any, error) {
	return map[string]any{
		"store_path":                p.cfg.StorePath,
		"checkpoint_path":           p.cfg.CheckpointPath,
		"scratch_root":              p.cfg.ScratchRoot,
		"successful_threshold":      p.cfg.SuccessfulThreshold,
		"wall_clock_budget_seconds": p.cfg.WallClockBudgetSecs,
	}, nil
}

func (p koanfStructProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("config: structProvider does not support ReadBytes")
}
