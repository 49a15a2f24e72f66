package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/cli"
	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/embedding"
	"github.com/parakeet-labs/parakeet/internal/fault"
	"github.com/parakeet-labs/parakeet/internal/llm"
	"github.com/parakeet-labs/parakeet/internal/store"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// probeTimeout bounds each provider liveness probe so doctor stays fast
// even when a backend hangs.
const probeTimeout = 5 * time.Second

func doctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check vault, index, and provider health",
		Long: `Runs every health check parakeet knows: vault layout, config, index
integrity, embedding and LLM backends, search, locks, snapshots, and
exclusions. Each failure comes with the command that fixes it.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.Context(), jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")
	return cmd
}

// checkResult is one health check outcome.
type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "skip", "fail"
	Message string `json:"message,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// doctorReport is the complete JSON health report.
type doctorReport struct {
	Checks  []checkResult `json:"checks"`
	Summary struct {
		Total   int `json:"total"`
		Passed  int `json:"passed"`
		Skipped int `json:"skipped"`
		Failed  int `json:"failed"`
	} `json:"summary"`
}

// sanitizeForJSON strips filesystem paths from error messages so JSON
// reports can be shared without leaking directory layouts.
func sanitizeForJSON(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "/") || strings.Contains(msg, "\\") {
		if idx := strings.LastIndex(msg, ":"); idx != -1 {
			return strings.TrimSpace(msg[idx+1:])
		}
		return "operation failed"
	}
	return msg
}

func runDoctor(ctx context.Context, jsonOut bool) error {
	passed, failed, skipped := 0, 0, 0
	var results []checkResult

	check := func(name, hint string, fn func() (string, error)) {
		detail, err := fn()
		if err != nil {
			failed++
			if jsonOut {
				results = append(results, checkResult{Name: name, Status: "fail", Message: sanitizeForJSON(err), Hint: hint})
				return
			}
			fmt.Printf("  %s %s: %s\n", cli.Mark(false), name, err)
			if hint != "" {
				fmt.Printf("    %s→ %s%s\n", cli.Dim, hint, cli.Reset)
			}
			return
		}
		passed++
		if jsonOut {
			results = append(results, checkResult{Name: name, Status: "pass", Message: detail})
			return
		}
		if detail != "" {
			fmt.Printf("  %s %s (%s)\n", cli.Mark(true), name, detail)
		} else {
			fmt.Printf("  %s %s\n", cli.Mark(true), name)
		}
	}

	skip := func(name, reason string) {
		skipped++
		if jsonOut {
			results = append(results, checkResult{Name: name, Status: "skip", Message: reason})
			return
		}
		fmt.Printf("  %s-%s %s: %s\n", cli.Dim, cli.Reset, name, reason)
	}

	if !jsonOut {
		cli.Header("Parakeet Health Check")
		fmt.Println()
	}

	log := newLogger()
	cfg, cfgErr := config.Load()

	// 1. Config file
	check("Config", "fix the reported key, or delete parakeet.json to start over", func() (string, error) {
		if cfgErr != nil {
			return "", cfgErr
		}
		if len(cfg.Warnings) > 0 {
			return "", fmt.Errorf("%s", cfg.Warnings[0])
		}
		if cfg.Source == "" {
			return "defaults + env (no parakeet.json)", nil
		}
		return cli.ShortenHome(cfg.Source), nil
	})

	// 2. Vault path. Later checks skip instead of cascading when it fails.
	vaultOK := false
	var vaultRoot string
	check("Vault", "run 'parakeet init' in your vault, or set PARAKEET_VAULT", func() (string, error) {
		if cfgErr != nil {
			return "", fmt.Errorf("config did not load")
		}
		root, err := cfg.RequireVault()
		if err != nil {
			return "", err
		}
		folders := 0
		for _, c := range []vault.Category{vault.Inbox, vault.Projects, vault.Areas, vault.Resources, vault.Archive} {
			if info, statErr := os.Stat(filepath.Join(root, c.Folder())); statErr == nil && info.IsDir() {
				folders++
			}
		}
		if folders == 0 {
			return "", fmt.Errorf("no PARA folders at %s", cli.ShortenHome(root))
		}
		vaultOK = true
		vaultRoot = root
		return fmt.Sprintf("%s, %d/5 PARA folders", cli.ShortenHome(root), folders), nil
	})

	// Open the index once for the checks that need it.
	var idx *store.Store
	var noteCount int
	if vaultOK {
		var err error
		idx, err = store.Open(cfg.IndexPath, cfg.EmbeddingModel, config.EmbeddingDim(cfg.EmbeddingModel), log)
		if err == nil {
			defer idx.Close()
		} else {
			idx = nil
		}
	}

	// 3-5. Index state, integrity, and embedding metadata
	if idx == nil {
		reason := "skipped (vault not found)"
		if vaultOK {
			reason = "skipped (index did not open)"
		}
		skip("Index", reason)
		skip("Index integrity", reason)
		skip("Embedding config", reason)
	} else {
		check("Index", "run 'parakeet reindex' to build it", func() (string, error) {
			n, err := idx.Count()
			if err != nil {
				return "", err
			}
			vecs, err := idx.VectorCount()
			if err != nil {
				return "", err
			}
			if n == 0 {
				return "", fmt.Errorf("empty")
			}
			noteCount = n
			return fmt.Sprintf("%s notes, %s vectors", cli.FormatNumber(n), cli.FormatNumber(vecs)), nil
		})

		check("Index integrity", "rebuild with 'parakeet reindex --force'", func() (string, error) {
			return "", idx.Integrity()
		})

		check("Embedding config", "run 'parakeet reindex --force' after changing models", func() (string, error) {
			indexed, err := idx.EmbeddingModel()
			if err != nil || indexed == "" {
				return "no metadata stored yet", nil
			}
			if indexed != cfg.EmbeddingModel {
				return "", fmt.Errorf("index built with %q, config says %q", indexed, cfg.EmbeddingModel)
			}
			return fmt.Sprintf("%s, %dd", indexed, config.EmbeddingDim(indexed)), nil
		})
	}

	// Probe the embedding backend once so search checks can skip
	// gracefully when it is down.
	embedOK := false
	embedReason := "not configured"
	var embedder embedding.Provider
	if cfgErr == nil {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		p, err := embedding.NewProvider(probeCtx, cfg, log)
		if err != nil {
			embedReason = fmt.Sprintf("provider: %v", err)
		} else if _, err := p.Embed(probeCtx, "doctor probe", embedding.PurposeQuery); err != nil {
			embedReason = classifyProbeError(err, cfg.EmbeddingProvider())
		} else {
			embedOK = true
			embedder = p
		}
		cancel()
	}

	// 6. Embedding backend
	if embedOK {
		check("Embedding backend", "", func() (string, error) {
			return fmt.Sprintf("%s via %s", cfg.EmbeddingModel, cfg.EmbeddingProvider()), nil
		})
	} else {
		skip("Embedding backend", fmt.Sprintf("offline (%s) — rules and LLM still classify", embedReason))
	}

	// 7. LLM backend
	if cfgErr != nil {
		skip("LLM backend", "skipped (config did not load)")
	} else {
		check("LLM backend", llmHint(cfg.LLMProvider()), func() (string, error) {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			cls, err := llm.NewClassifier(probeCtx, cfg, log)
			if err != nil {
				return "", err
			}
			if pinger, ok := cls.(llm.Pinger); ok {
				if err := pinger.Ping(probeCtx); err != nil {
					return "", err
				}
				return fmt.Sprintf("%s via %s", cfg.LLMModel, cfg.LLMProvider()), nil
			}
			return fmt.Sprintf("%s via %s (no liveness probe)", cfg.LLMModel, cfg.LLMProvider()), nil
		})
	}

	// 8. Semantic search round trip
	switch {
	case idx == nil:
		skip("Semantic search", "skipped (index unavailable)")
	case !embedOK:
		skip("Semantic search", "skipped (embedding backend offline)")
	case noteCount == 0:
		skip("Semantic search", "skipped (nothing indexed yet)")
	default:
		check("Semantic search", "run 'parakeet reindex' to rebuild vectors", func() (string, error) {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			vec, err := embedder.Embed(probeCtx, "doctor search probe", embedding.PurposeQuery)
			if err != nil {
				return "", fmt.Errorf("embedding failed")
			}
			results, err := idx.KNN(vec, 1)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "", fmt.Errorf("no results from a populated index")
			}
			return "", nil
		})
	}

	// 9. Index lock
	if !vaultOK {
		skip("Index lock", "skipped (vault not found)")
	} else {
		check("Index lock", "delete <index>/lock if no parakeet process is running", func() (string, error) {
			info, err := os.Stat(filepath.Join(cfg.IndexPath, "lock"))
			if os.IsNotExist(err) {
				return "free", nil
			}
			if err != nil {
				return "", err
			}
			age := time.Since(info.ModTime())
			if age > 10*time.Second {
				return "", fmt.Errorf("stale lock, %s old", cli.FormatDuration(age))
			}
			return "held by a live process", nil
		})
	}

	// 10. Snapshots
	if !vaultOK {
		skip("Snapshots", "skipped (vault not found)")
	} else {
		check("Snapshots", "check permissions on the snapshot directory", func() (string, error) {
			if err := os.MkdirAll(cfg.SnapshotPath, 0o755); err != nil {
				return "", err
			}
			entries, err := os.ReadDir(cfg.SnapshotPath)
			if err != nil {
				return "", err
			}
			n := 0
			for _, e := range entries {
				if e.IsDir() {
					n++
				}
			}
			state := "auto-backup on"
			if !cfg.AutoBackup {
				state = "auto-backup OFF, apply will refuse to run"
			}
			return fmt.Sprintf("%d kept, %s", n, state), nil
		})
	}

	// 11. Exclusions
	if !vaultOK {
		skip("Exclusions", "skipped (vault not found)")
	} else {
		check("Exclusions", "", func() (string, error) {
			reg, _, err := openRegistry()
			if err != nil {
				return "", err
			}
			if reg.Len() == 0 {
				return "none configured — apply will ask before running unprotected", nil
			}
			return fmt.Sprintf("%d path(s) protected", reg.Len()), nil
		})
	}

	// 12. Where note content goes
	if cfgErr == nil {
		check("Note privacy", "", func() (string, error) {
			remote := map[string]bool{}
			for _, provider := range []string{cfg.EmbeddingProvider(), cfg.LLMProvider()} {
				if provider != "ollama" {
					remote[provider] = true
				}
			}
			if len(remote) == 0 {
				if strings.Contains(cfg.OllamaURL, "localhost") || strings.Contains(cfg.OllamaURL, "127.0.0.1") {
					return "notes never leave this machine", nil
				}
				return "ollama is remote — note content crosses the network", nil
			}
			names := make([]string, 0, len(remote))
			for name := range remote {
				names = append(names, name)
			}
			return fmt.Sprintf("note excerpts are sent to %s", strings.Join(names, ", ")), nil
		})
	}

	// 13. Vault under version control
	if vaultOK {
		check("Git state", "", func() (string, error) {
			gitRoot := findGitRoot(vaultRoot)
			if gitRoot == "" {
				return "not a git repo — snapshots are the only undo", nil
			}
			branch, dirty, untracked, err := gitVaultState(gitRoot)
			if err != nil {
				return "in git (state unavailable)", nil
			}
			if dirty+untracked > 0 {
				return fmt.Sprintf("branch %s, %d uncommitted — consider committing before apply", branch, dirty+untracked), nil
			}
			return fmt.Sprintf("branch %s, clean", branch), nil
		})
	}

	if jsonOut {
		var report doctorReport
		report.Checks = results
		report.Summary.Total = len(results)
		report.Summary.Passed = passed
		report.Summary.Skipped = skipped
		report.Summary.Failed = failed
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fault.Wrap(fault.KindData, err, "encode report")
		}
		fmt.Println(string(data))
		if failed > 0 {
			return fault.Newf(fault.KindPrecondition, "%d check(s) failed", failed)
		}
		return nil
	}

	summary := fmt.Sprintf("%d passed, %d failed", passed, failed)
	if skipped > 0 {
		summary += fmt.Sprintf(", %d skipped", skipped)
	}
	lines := []string{summary}
	if !vaultOK {
		lines = append(lines, "No vault. Run 'parakeet init' or set PARAKEET_VAULT.")
	} else if !embedOK {
		lines = append(lines, "Embedding offline: plans fall back to rules and the LLM.")
	}
	cli.Box(lines)
	cli.Footer()

	if failed > 0 {
		return fault.Newf(fault.KindPrecondition, "%d check(s) failed", failed)
	}
	return nil
}

// classifyProbeError turns raw connection failures into the reason a
// user can act on.
func classifyProbeError(err error, provider string) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		if provider == "ollama" {
			return "connection refused — start Ollama with 'ollama serve'"
		}
		return "connection refused"
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		return "timeout — the backend is slow or a model is still loading"
	case strings.Contains(msg, "no such host"):
		return "DNS failure — cannot resolve the backend host"
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return "rejected key — check the API key environment variable"
	default:
		return msg
	}
}

func llmHint(provider string) string {
	switch provider {
	case "openai":
		return "set OPENAI_API_KEY, or switch llm_model to a local ollama model"
	case "gemini":
		return "set GEMINI_API_KEY, or switch llm_model to a local ollama model"
	default:
		return "start Ollama with 'ollama serve' and pull the configured model"
	}
}
