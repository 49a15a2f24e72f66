// Package config provides configuration for the parakeet binary.
// Loads from: CLI flags > env vars > parakeet.json > built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/parakeet-labs/parakeet/internal/fault"
)

// Default model settings.
const (
	EmbeddingModel = "nomic-embed-text"
	LLMModel       = "llama3.1:8b"
)

// Provider timeouts for a single call. Retries get a fresh timeout.
const (
	EmbedTimeout = 30 * time.Second
	LLMTimeout   = 60 * time.Second
)

// File and directory names anchored at the vault root.
const (
	AppDirName     = ".parakeet"
	ConfigFileName = "parakeet.json"
)

// Provider names inferred from model strings.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ModelInfo describes a known model.
type ModelInfo struct {
	Name     string
	Dims     int // 0 for chat models
	Provider string
}

// KnownModels lists models with fixed provider routing and, for embedding
// models, their vector dimensions. Unlisted models fall back to prefix rules.
var KnownModels = []ModelInfo{
	{"nomic-embed-text", 768, ProviderOllama},
	{"mxbai-embed-large", 1024, ProviderOllama},
	{"all-minilm", 384, ProviderOllama},
	{"snowflake-arctic-embed2", 768, ProviderOllama},
	{"bge-m3", 1024, ProviderOllama},
	{"text-embedding-3-small", 1536, ProviderOpenAI},
	{"text-embedding-3-large", 3072, ProviderOpenAI},
	{"text-embedding-ada-002", 1536, ProviderOpenAI},
	{"text-embedding-004", 768, ProviderGemini},
	{"gemini-embedding-001", 3072, ProviderGemini},
}

// ProviderFor routes a model name to its provider. Known models route by
// table; otherwise gemini-* goes to Gemini, gpt-* and text-embedding-* go
// to OpenAI, and everything else is assumed local Ollama.
func ProviderFor(model string) string {
	for _, m := range KnownModels {
		if m.Name == model {
			return m.Provider
		}
	}
	switch {
	case strings.HasPrefix(model, "gemini-"):
		return ProviderGemini
	case strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "text-embedding-"):
		return ProviderOpenAI
	default:
		return ProviderOllama
	}
}

// EmbeddingDim returns the vector dimensions for an embedding model,
// defaulting to 768 for unknown local models.
func EmbeddingDim(model string) int {
	for _, m := range KnownModels {
		if m.Name == model && m.Dims > 0 {
			return m.Dims
		}
	}
	return 768
}

// Config holds all parakeet configuration, loaded from JSON + env + flags.
// API keys are env-only and never read from or written to parakeet.json,
// since the config file lives inside the vault and often syncs with it.
type Config struct {
	VaultPath      string   `json:"vault_path,omitempty"`
	IndexPath      string   `json:"index_path,omitempty"`
	SnapshotPath   string   `json:"snapshot_path,omitempty"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
	LLMModel       string   `json:"llm_model,omitempty"`
	AutoBackup     bool     `json:"auto_backup"`
	Exclusions     []string `json:"exclusions,omitempty"`
	MaxNotesPerRun int      `json:"max_notes_per_run,omitempty"`
	NeighborK      int      `json:"neighbor_k,omitempty"`
	RecentHistoryN int      `json:"recent_history_n,omitempty"`

	OllamaURL string `json:"ollama_url,omitempty"`
	OpenAIURL string `json:"openai_url,omitempty"`
	OpenAIKey string `json:"-"`
	GeminiKey string `json:"-"`

	// Source is the config file the values came from, "" when none was found.
	Source string `json:"-"`
	// Warnings collects non-fatal findings (unknown keys) for the CLI to print.
	Warnings []string `json:"-"`
}

// VaultOverride is set by the --vault global flag.
var VaultOverride string

// ConfigOverride is set by the --config global flag.
var ConfigOverride string

// DefaultConfig returns a Config with all built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingModel: EmbeddingModel,
		LLMModel:       LLMModel,
		AutoBackup:     true,
		NeighborK:      5,
		RecentHistoryN: 1000,
		OllamaURL:      "http://localhost:11434",
	}
}

// Load merges all configuration sources: defaults < parakeet.json < env vars,
// then resolves and validates the vault path (flag > env > file > discovery)
// and derives index/snapshot paths from it when unset. A missing vault is not
// an error here; commands that need one call RequireVault.
func Load() (*Config, error) {
	return LoadFrom(findConfigFile())
}

// LoadFrom is Load with an explicit config file path. An empty path or a
// missing file loads defaults + env only.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fault.Wrapf(fault.KindPrecondition, err, "parse config %s", path)
			}
			cfg.Source = path
			cfg.Warnings = unknownKeyWarnings(data, filepath.Base(path))
		} else if !os.IsNotExist(err) {
			return nil, fault.Wrapf(fault.KindPrecondition, err, "read config %s", path)
		}
	}

	applyEnv(cfg)

	if VaultOverride != "" {
		cfg.VaultPath = VaultOverride
	}
	if cfg.VaultPath == "" {
		cfg.VaultPath = DiscoverVault()
	}
	if cfg.VaultPath != "" {
		validated, err := ValidateVaultPath(cfg.VaultPath)
		if err != nil {
			return nil, err
		}
		cfg.VaultPath = validated
	}

	if cfg.IndexPath == "" && cfg.VaultPath != "" {
		cfg.IndexPath = filepath.Join(cfg.VaultPath, AppDirName, "index")
	}
	if cfg.SnapshotPath == "" && cfg.VaultPath != "" {
		cfg.SnapshotPath = filepath.Join(cfg.VaultPath, AppDirName, "snapshots")
	}
	if cfg.NeighborK <= 0 {
		cfg.NeighborK = 5
	}
	if cfg.RecentHistoryN <= 0 {
		cfg.RecentHistoryN = 1000
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PARAKEET_VAULT"); v != "" {
		cfg.VaultPath = v
	}
	if v := os.Getenv("PARAKEET_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("PARAKEET_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("PARAKEET_OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := os.Getenv("PARAKEET_OPENAI_URL"); v != "" {
		cfg.OpenAIURL = v
	}
	cfg.OpenAIKey = os.Getenv("PARAKEET_OPENAI_KEY")
	if cfg.OpenAIKey == "" {
		cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.GeminiKey = os.Getenv("PARAKEET_GEMINI_KEY")
	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}
}

// findConfigFile looks for parakeet.json: --config flag, PARAKEET_CONFIG,
// the vault root (when already known from flag or env), then CWD.
func findConfigFile() string {
	if ConfigOverride != "" {
		return ConfigOverride
	}
	if v := os.Getenv("PARAKEET_CONFIG"); v != "" {
		return v
	}
	vault := VaultOverride
	if vault == "" {
		vault = os.Getenv("PARAKEET_VAULT")
	}
	if vault != "" {
		p := filepath.Join(vault, ConfigFileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		p := filepath.Join(cwd, ConfigFileName)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ConfigFilePath returns the path where the config file is written for a vault.
func ConfigFilePath(vaultPath string) string {
	return filepath.Join(vaultPath, ConfigFileName)
}

// Write persists cfg as indented JSON at path. Secrets are excluded by the
// struct tags, so the file is safe to sync with the vault.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fault.Wrapf(fault.KindPrecondition, err, "create config dir for %s", path)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fault.Wrapf(fault.KindPrecondition, err, "write config %s", path)
	}
	return nil
}

// RequireVault returns the resolved vault path or a precondition error.
func (c *Config) RequireVault() (string, error) {
	if c.VaultPath == "" {
		return "", ErrNoVault
	}
	if _, err := os.Stat(c.VaultPath); err != nil {
		return "", fault.Wrapf(fault.KindPrecondition, err, "vault %s", c.VaultPath)
	}
	return c.VaultPath, nil
}

// EmbeddingProvider returns the provider inferred from the embedding model.
func (c *Config) EmbeddingProvider() string {
	return ProviderFor(c.EmbeddingModel)
}

// LLMProvider returns the provider inferred from the LLM model.
func (c *Config) LLMProvider() string {
	return ProviderFor(c.LLMModel)
}

// Sentinel errors for consistent messaging across CLI and MCP surfaces.
var (
	// ErrNoVault is returned when no vault path can be resolved.
	ErrNoVault = fault.New(fault.KindPrecondition, "no vault found").
			WithHint("run 'parakeet init' in your vault, or set PARAKEET_VAULT")
	// ErrBackupDisabled is returned when apply runs with auto_backup=false.
	ErrBackupDisabled = fault.New(fault.KindPrecondition, "auto_backup is disabled; refusing to move files").
				WithHint("set \"auto_backup\": true in parakeet.json")
)

// paraMarkers are the top-level folders that identify a PARA vault.
var paraMarkers = []string{"00-Inbox", "01-Projects", "02-Areas", "03-Resources", "04-Archive"}

// vaultMarkers are dotdirs that identify a knowledge base root.
var vaultMarkers = []string{AppDirName, ".obsidian", ".logseq"}

// DiscoverVault walks up from CWD looking for a directory that carries a
// vault marker dotdir or at least three of the five PARA folders. Returns ""
// when nothing matches.
func DiscoverVault() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for i := 0; i < 6; i++ {
		if isVaultRoot(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func isVaultRoot(dir string) bool {
	for _, marker := range vaultMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	found := 0
	for _, folder := range paraMarkers {
		if info, err := os.Stat(filepath.Join(dir, folder)); err == nil && info.IsDir() {
			found++
		}
	}
	return found >= 3
}

// ValidateVaultPath rejects vault paths that are too broad (e.g., /, /home,
// /Users) and resolves symlinks so a link cannot point vault operations at a
// dangerous root.
func ValidateVaultPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fault.Wrapf(fault.KindPrecondition, err, "resolve vault path %s", path)
	}
	dangerous := []string{"/", "/home", "/Users", "/tmp", "/var", "/etc", "/opt"}
	if runtime.GOOS == "windows" && len(abs) >= 3 {
		for _, letter := range "ABCDEFGHIJKLMNOPQRSTUVWXYZ" {
			dangerous = append(dangerous, string(letter)+":\\")
		}
		driveRoot := abs[:3]
		dangerous = append(dangerous, filepath.Join(driveRoot, "Users"), filepath.Join(driveRoot, "Windows"))
	}
	tooBroad := func(p string) error {
		return fault.Newf(fault.KindPrecondition, "vault path %q is too broad", p).
			WithHint("point vault_path at the notes directory itself")
	}
	for _, d := range dangerous {
		if abs == d {
			return "", tooBroad(abs)
		}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path may not exist yet (e.g., during init); skip the symlink check.
		return abs, nil
	}
	for _, d := range dangerous {
		if resolved == d {
			return "", tooBroad(resolved)
		}
		if resolvedDangerous, err := filepath.EvalSymlinks(d); err == nil && resolved == resolvedDangerous {
			return "", tooBroad(resolved)
		}
	}
	return abs, nil
}

// SafeVaultSubpath resolves a relative path within the vault and validates
// that the result stays inside the vault root. Prevents exclusions or plan
// scopes from redirecting file operations outside the vault via traversal
// (e.g., "../../etc").
func SafeVaultSubpath(vaultRoot, relativePath string) (string, bool) {
	if vaultRoot == "" {
		return "", false
	}
	absVault, err := filepath.Abs(vaultRoot)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(filepath.Join(absVault, filepath.FromSlash(relativePath)))
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(absPath, absVault+string(filepath.Separator)) && absPath != absVault {
		return "", false
	}
	return absPath, true
}

// OllamaLocalURL validates the Ollama URL and requires a localhost host so
// note content is never embedded against a remote endpoint by accident.
func (c *Config) OllamaLocalURL() (string, error) {
	raw := c.OllamaURL
	if raw == "" {
		raw = "http://localhost:11434"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fault.Wrap(fault.KindPrecondition, err, "invalid ollama_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fault.Newf(fault.KindPrecondition, "ollama_url must use http or https, got %s", u.Scheme)
	}
	host := u.Hostname()
	if host != "localhost" && host != "127.0.0.1" && host != "::1" {
		return "", fault.New(fault.KindPrecondition, "ollama_url must point to localhost").
			WithHint("set PARAKEET_OLLAMA_URL to a local endpoint")
	}
	return raw, nil
}

// configKeys are the recognized parakeet.json keys.
var configKeys = map[string]bool{
	"vault_path":        true,
	"index_path":        true,
	"snapshot_path":     true,
	"embedding_model":   true,
	"llm_model":         true,
	"auto_backup":       true,
	"exclusions":        true,
	"max_notes_per_run": true,
	"neighbor_k":        true,
	"recent_history_n":  true,
	"ollama_url":        true,
	"openai_url":        true,
}

// configSuggestions maps common wrong keys to the correct JSON key name.
var configSuggestions = map[string]string{
	"vault":         "vault_path",
	"index_dir":     "index_path",
	"snapshot_dir":  "snapshot_path",
	"backup":        "auto_backup",
	"exclude":       "exclusions",
	"exclude_paths": "exclusions",
	"excludes":      "exclusions",
	"max_notes":     "max_notes_per_run",
	"neighbors":     "neighbor_k",
	"k":             "neighbor_k",
	"history":       "recent_history_n",
	"model":         "llm_model",
	"embed_model":   "embedding_model",
}

// unknownKeyWarnings reports unrecognized top-level keys so typos do not
// silently fall back to defaults.
func unknownKeyWarnings(data []byte, fname string) []string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	var warnings []string
	for key := range raw {
		if configKeys[key] {
			continue
		}
		if suggestion, ok := configSuggestions[key]; ok {
			warnings = append(warnings, fmt.Sprintf("unknown key %q in %s, did you mean %q?", key, fname, suggestion))
		} else {
			warnings = append(warnings, fmt.Sprintf("unknown key %q in %s (ignored)", key, fname))
		}
	}
	return warnings
}

// AcquireLock creates <dir>/lock using O_EXCL for atomic creation, guarding
// the index against concurrent writers. Locks older than 10 seconds are
// treated as stale and broken. Returns an unlock function.
func AcquireLock(dir string) (func(), error) {
	const maxRetries = 20
	const retryDelay = 50 * time.Millisecond

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fault.Wrapf(fault.KindPrecondition, err, "create %s", dir)
	}
	lockPath := filepath.Join(dir, "lock")
	for i := 0; i < maxRetries; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fault.Wrapf(fault.KindPrecondition, err, "lock %s", lockPath)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > 10*time.Second {
				os.Remove(lockPath)
				continue
			}
		}
		time.Sleep(retryDelay)
	}
	return nil, fault.Newf(fault.KindPrecondition, "another parakeet process holds %s", lockPath).
		WithHint("wait for it to finish, or delete the lock file if it crashed")
}
