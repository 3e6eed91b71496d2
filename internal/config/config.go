// Package config loads tessera's configuration: storage, proxy, router,
// embedding and curator settings, with a search-path fallback to built-in
// defaults when no config file exists.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of config.yaml.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Router    RouterConfig    `yaml:"router"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Curator   CuratorConfig   `yaml:"curator"`
	Semantic  SemanticConfig  `yaml:"semantic"`
}

// StorageConfig controls where and how the tiered store persists data.
type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	HotCacheGB    int    `yaml:"hot_cache_gb"`
	WarmStorageGB int    `yaml:"warm_storage_gb"`
	ColdEnabled   bool   `yaml:"cold_enabled"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// ProxyConfig controls the ingress HTTP surface.
type ProxyConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	AdminListenAddr    string `yaml:"admin_listen_addr"`
	UpstreamURL        string `yaml:"upstream_url"`
	TimeoutSecs        int    `yaml:"timeout_secs"`
	MaxInjectionTokens int    `yaml:"max_injection_tokens"`
}

// RouterConfig controls retrieval ranking thresholds.
type RouterConfig struct {
	Strategy           string  `yaml:"strategy"`
	MaxMemories        int     `yaml:"max_memories"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
}

// EmbeddingConfig controls the embedding collaborator.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "http" or "simple"
	APIURL    string `yaml:"api_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// CuratorConfig controls the curator's local/remote/hybrid policy.
type CuratorConfig struct {
	Mode   string               `yaml:"mode"` // "local", "remote", "hybrid"
	Local  *LocalCuratorConfig  `yaml:"local,omitempty"`
	Remote *RemoteCuratorConfig `yaml:"remote,omitempty"`
}

type LocalCuratorConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Model     string `yaml:"model"`
}

type RemoteCuratorConfig struct {
	APIURL      string `yaml:"api_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// SemanticConfig controls the optional entity co-occurrence graph. It is
// disabled by default since it requires a running Dgraph alpha node.
type SemanticConfig struct {
	Enabled  bool   `yaml:"enabled"`
	AlphaURL string `yaml:"alpha_url"`
}

// Default returns the built-in configuration used when no config file is
// found anywhere on the search path.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:       "./tessera-data",
			HotCacheGB:    1,
			WarmStorageGB: 10,
			ColdEnabled:   true,
			RedisAddr:     "localhost:6379",
			RedisDB:       0,
		},
		Proxy: ProxyConfig{
			ListenAddr:         "127.0.0.1:8787",
			AdminListenAddr:    "127.0.0.1:8788",
			UpstreamURL:        "https://api.openai.com",
			TimeoutSecs:        60,
			MaxInjectionTokens: 1000,
		},
		Router: RouterConfig{
			Strategy:           "similarity_weighted",
			MaxMemories:        5,
			RelevanceThreshold: 0.35,
		},
		Embedding: EmbeddingConfig{
			Provider:  "simple",
			APIURL:    "http://localhost:8000",
			Model:     "default",
			Dimension: 384,
			BatchSize: 32,
		},
		Curator: CuratorConfig{
			Mode: "local",
			Local: &LocalCuratorConfig{
				OllamaURL: "http://localhost:11434",
				Model:     "qwen2.5-coder:7b",
			},
		},
		Semantic: SemanticConfig{
			Enabled:  false,
			AlphaURL: "localhost:9080",
		},
	}
}

// searchPaths returns the ordered list of config.yaml locations tried when
// no explicit path is given: ~/.tessera/config.yaml, $XDG_CONFIG_HOME
// /tessera/config.yaml, then ./config.yaml.
func searchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".tessera", "config.yaml"))
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "tessera", "config.yaml"))
	}
	paths = append(paths, "config.yaml")
	return paths
}

// Load reads explicitPath if given; otherwise it walks searchPaths and
// parses the first file that exists. A missing file (no explicit path, and
// none of the search paths exist) is not an error: Load returns Default().
func Load(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return parseFile(explicitPath)
	}

	for _, p := range searchPaths() {
		if _, err := os.Stat(p); err == nil {
			return parseFile(p)
		}
	}

	return Default(), nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
