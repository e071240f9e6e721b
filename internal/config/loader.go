package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SIMILARD_"

	maxConfigFileSize = 1024 * 1024
)

// subsections lists nested blocks per top-level section, so that
// SIMILARD_VECTORSTORE_QDRANT_HOST maps to vectorstore.qdrant.host while
// SIMILARD_EMBEDDINGS_BASE_URL maps to embeddings.base_url.
var subsections = map[string][]string{
	"embeddings":  {"retry"},
	"vectorstore": {"qdrant", "chromem", "retry"},
	"sync":        {"state"},
	"catalog":     {"file", "sqlite"},
	"recommend":   {"weights", "breaker"},
	"logging":     {"output", "sampling", "redaction"},
	"telemetry":   {"sampling", "metrics", "shutdown"},
}

// Options control where Load reads from.
type Options struct {
	// Path is the YAML file. Empty means DefaultPath, which may be absent.
	Path string

	// EnvFiles are .env files loaded into the process environment before
	// SIMILARD_* variables are read. Missing files are skipped.
	EnvFiles []string
}

// DefaultPath returns ~/.config/similard/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "similard", "config.yaml")
}

// Load reads configuration from the YAML file at path, then .env in the
// working directory, then the environment.
func Load(path string) (*Config, error) {
	return LoadWithOptions(Options{Path: path, EnvFiles: []string{".env"}})
}

// LoadWithOptions is Load with explicit sources.
//
// An explicit Path must exist. The file must not be world-writable and
// must be smaller than 1MB.
func LoadWithOptions(opts Options) (*Config, error) {
	k := koanf.New(".")

	path, required := opts.Path, true
	if path == "" {
		path, required = DefaultPath(), false
	}
	if path != "" {
		content, err := readConfigFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !required:
		case err != nil:
			return nil, err
		default:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.k = k

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o002 != 0 {
		return nil, fmt.Errorf("config file %s is world-writable (%v)", path, info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(f)
}

// loadEnvFiles sets variables from .env files without overriding the real
// environment.
func loadEnvFiles(files []string) error {
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("loading %s: %w", file, err)
		}
	}
	return nil
}

// envKey maps SIMILARD_SECTION_FIELD_NAME to section.field_name, keeping
// known subsections nested.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	for _, sub := range subsections[section] {
		if field, found := strings.CutPrefix(rest, sub+"_"); found {
			return section + "." + sub + "." + field
		}
	}
	return section + "." + rest
}

// EnsureDir creates the directory holding path with owner-only access.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}
