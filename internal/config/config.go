package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// FormatKey is the style key that selects the output format instead of being
// passed to the engine.
const FormatKey = "$format"

// Config represents the main configuration for attache.
type Config struct {
	Model         string   `toml:"model"`
	Directory     string   `toml:"directory"`
	IDAsDirectory bool     `toml:"id_as_directory"`
	FilenameID    string   `toml:"filename_id,omitempty"`
	BaseDir       string   `toml:"base_dir"`
	LogDir        string   `toml:"log_dir"`
	LogLevel      string   `toml:"log_level,omitempty"` // "debug", "info" (default), "warn" or "error"
	WorkDir       string   `toml:"work_dir,omitempty"`
	Formats       []string `toml:"formats,omitempty"` // registered as processable on startup

	Engine     EngineConfig              `toml:"engine"`
	Storage    StorageConfig             `toml:"storage"`
	Database   DatabaseConfig            `toml:"database"`
	Encryption EncryptionConfig          `toml:"encryption"`
	Properties map[string]PropertyConfig `toml:"properties"`

	// argOrder holds style argument names in document order, keyed by
	// styleKey(property, style). Only populated by Read.
	argOrder map[string][]string
}

// EngineConfig selects the image engine.
type EngineConfig struct {
	Type         string `toml:"type"` // "imagemagick" (default)
	IdentifyPath string `toml:"identify_path,omitempty"`
	ConvertPath  string `toml:"convert_path,omitempty"`
}

// StorageConfig selects the storage provider by name. Options are passed to
// the provider factory unchanged; which keys matter depends on the provider.
type StorageConfig struct {
	Provider string         `toml:"provider"` // "memory", "filesystem", "s3" or a registered name
	Encrypt  bool           `toml:"encrypt"`  // age-encrypt files before storing
	Options  map[string]any `toml:"options"`
}

// DatabaseConfig represents configuration for the record store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// EncryptionConfig holds paths to the age key pair used when storage.encrypt is set.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// PropertyConfig declares an attachment property.
type PropertyConfig struct {
	UploadDirectory string                 `toml:"upload_directory,omitempty"`
	Styles          map[string]StyleConfig `toml:"styles"`
}

// StyleConfig maps engine argument names to a scalar or a list of scalars.
// FormatKey selects the output format.
type StyleConfig map[string]any

// NewConfig creates a new Config with default paths under baseDir and a
// sample "image" property.
func NewConfig(baseDir string) *Config {
	return &Config{
		Model:     "record",
		Directory: "attachments",
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		LogLevel:  "info",
		Engine:    EngineConfig{Type: "imagemagick"},
		Storage: StorageConfig{
			Provider: "filesystem",
			Options: map[string]any{
				"root": filepath.Join(baseDir, "storage"),
			},
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "attache.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "attache.key"),
		},
		Properties: map[string]PropertyConfig{
			"image": {
				Styles: map[string]StyleConfig{
					"original": {},
					"thumb":    {"resize": "100x100"},
				},
			},
		},
	}
}

func styleKey(property, style string) string {
	return property + "\x00" + style
}

// StyleArgOrder returns the argument names of a style in the order they
// appear in the config file, excluding FormatKey. For configs not produced
// by Read the names are sorted.
func (c *Config) StyleArgOrder(property, style string) []string {
	if names, ok := c.argOrder[styleKey(property, style)]; ok {
		return names
	}

	p, ok := c.Properties[property]
	if !ok {
		return nil
	}
	var names []string
	for name := range p.Styles[style] {
		if name != FormatKey {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// properties.<property>.styles.<style>.<arg>
	cfg.argOrder = make(map[string][]string)
	for _, key := range md.Keys() {
		if len(key) == 4 && key[0] == "properties" && key[2] == "styles" {
			k := styleKey(key[1], key[3])
			if _, ok := cfg.argOrder[k]; !ok {
				cfg.argOrder[k] = []string{}
			}
			continue
		}
		if len(key) != 5 || key[0] != "properties" || key[2] != "styles" || key[4] == FormatKey {
			continue
		}
		k := styleKey(key[1], key[3])
		cfg.argOrder[k] = append(cfg.argOrder[k], key[4])
	}

	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
