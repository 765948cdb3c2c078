package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/flashsync/internal/concept"
	"github.com/starford/flashsync/internal/depth"
	"github.com/starford/flashsync/internal/flashcards"
	"github.com/starford/flashsync/internal/reconcile"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Vault      VaultConfig       `yaml:"vault"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Auth       AuthConfig        `yaml:"auth"`
	Flashcards FlashcardsConfig  `yaml:"flashcards"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Flashcards.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// FlashcardsConfig holds the concept folder mappings and the flashcard
// naming scheme.
//
// Mappings may be given as a list of records or, for older configs, as the
// space-separated parallel lists under "legacy". Validate converts the lists
// into Mappings. When SettingsPath names an existing file, the mappings
// saved there replace the configured ones at startup.
type FlashcardsConfig struct {
	Mappings        []concept.Mapping  `yaml:"mappings"`
	Legacy          *LegacyListsConfig `yaml:"legacy"`
	FlashcardPrefix string             `yaml:"flashcard_prefix"`
	PlaceholderName string             `yaml:"placeholder_name"`
	RenameDelay     time.Duration      `yaml:"rename_delay"`
	MaxDepth        int                `yaml:"max_depth"`
	LinkFormat      string             `yaml:"link_format"`
	SettingsPath    string             `yaml:"settings_path"`
}

// LegacyListsConfig is the parallel-list form of the mappings.
type LegacyListsConfig struct {
	ConceptFolders   string `yaml:"concept_folders"`
	FlashcardFolders string `yaml:"flashcard_folders"`
	Templates        string `yaml:"templates"`
	Tags             string `yaml:"tags"`
}

// Validate validates the flashcards configuration.
func (c *FlashcardsConfig) Validate() error {
	if c.Legacy != nil {
		if len(c.Mappings) > 0 {
			return fmt.Errorf("flashcards: set either mappings or legacy lists, not both")
		}
		ms, err := concept.FromLists(c.Legacy.ConceptFolders, c.Legacy.FlashcardFolders, c.Legacy.Templates, c.Legacy.Tags)
		if err != nil {
			return fmt.Errorf("flashcards: %w", err)
		}
		c.Mappings = ms
		c.Legacy = nil
	}
	if c.FlashcardPrefix == "" {
		c.FlashcardPrefix = concept.DefaultFlashcardPrefix
	}
	if c.PlaceholderName == "" {
		c.PlaceholderName = concept.DefaultPlaceholderName
	}

	if err := validation.ValidateStruct(c,
		validation.Field(&c.RenameDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxDepth, validation.Min(0)),
		validation.Field(&c.LinkFormat, validation.In(
			string(reconcile.FormatWikilink), string(reconcile.FormatMarkdown))),
	); err != nil {
		return fmt.Errorf("flashcards: %w", err)
	}

	// Mappings may come from the settings file alone.
	if len(c.Mappings) == 0 && c.SettingsPath != "" {
		return nil
	}
	if err := concept.ValidateMappings(c.Mappings); err != nil {
		return fmt.Errorf("flashcards: %w", err)
	}
	return nil
}

// ClassifierOptions returns the naming options for concept.NewClassifier.
func (c *FlashcardsConfig) ClassifierOptions() []concept.Option {
	return []concept.Option{
		concept.WithFlashcardPrefix(c.FlashcardPrefix),
		concept.WithPlaceholderName(c.PlaceholderName),
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./flashsync.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Flashcards: FlashcardsConfig{
			FlashcardPrefix: concept.DefaultFlashcardPrefix,
			PlaceholderName: concept.DefaultPlaceholderName,
			RenameDelay:     flashcards.DefaultRenameDelay,
			MaxDepth:        depth.DefaultMaxDepth,
			LinkFormat:      string(reconcile.FormatWikilink),
			SettingsPath:    "./flashsync.settings.yaml",
		},
	}
}
