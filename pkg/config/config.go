package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// S3 holds the bucket names and region for the S3 backend.
type S3 struct {
	CitationBucket string `yaml:"citationBucket"`
	DraftBucket    string `yaml:"draftBucket"`
	DocumentBucket string `yaml:"documentBucket"`
	TypeBucket     string `yaml:"typeBucket"`
	QueueBucket    string `yaml:"queueBucket"`
	Region         string `yaml:"region"`
}

// Config is the repository's recognized configuration surface,
// CLI/env/YAML-agnostic.
type Config struct {
	Root          string        `yaml:"root"`
	RemoteURI     string        `yaml:"remoteURI"`
	S3            S3            `yaml:"s3"`
	Debug         int           `yaml:"debug"`
	CacheCapacity int           `yaml:"cacheCapacity"`
	BagCapacity   int           `yaml:"bagCapacity"`
	BagLease      time.Duration `yaml:"-"`
	BagLeaseSecs  int           `yaml:"bagLease"`
	// Peers lists advisory gRPC peer-announce targets for
	// storage.Remote. Empty disables announcing.
	Peers []string `yaml:"peers"`
}

// Default returns a Config populated with the documented defaults.
func Default() Config {
	root := filepath.Join(homeDir(), ".bali")
	return Config{
		Root:          root,
		Debug:         0,
		CacheCapacity: 256,
		BagCapacity:   10,
		BagLease:      60 * time.Second,
		BagLeaseSecs:  60,
		S3: S3{
			CitationBucket: "nebula-names",
			DraftBucket:    "nebula-drafts",
			DocumentBucket: "nebula-contracts",
			TypeBucket:     "nebula-certificates",
			QueueBucket:    "nebula-messages",
		},
	}
}

func homeDir() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return h
}

// Load builds a Config starting from Default(), overlaying an optional
// YAML file, then environment variables (NEBULA_*). CLI flags are applied
// by the caller (cmd/vaultd) on top of the result, matching the
// precedence documented in the package doc comment.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		switch {
		case os.IsNotExist(err):
			// A missing file leaves the defaults in place.
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", yamlPath, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.BagLeaseSecs > 0 {
		cfg.BagLease = time.Duration(cfg.BagLeaseSecs) * time.Second
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NEBULA_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("NEBULA_REMOTE_URI"); v != "" {
		cfg.RemoteURI = strings.TrimSuffix(v, "/")
	}
	if v := os.Getenv("NEBULA_DEBUG"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Debug = n
		}
	}
	if v := os.Getenv("NEBULA_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheCapacity = n
		}
	}
	if v := os.Getenv("NEBULA_BAG_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BagCapacity = n
		}
	}
	if v := os.Getenv("NEBULA_BAG_LEASE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BagLeaseSecs = n
		}
	}
	if v := os.Getenv("NEBULA_S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("NEBULA_PEERS"); v != "" {
		cfg.Peers = strings.Split(v, ",")
	}
}
