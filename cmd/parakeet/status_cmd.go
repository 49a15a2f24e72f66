package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/parakeet-labs/parakeet/internal/cli"
	"github.com/parakeet-labs/parakeet/internal/config"
	"github.com/parakeet-labs/parakeet/internal/store"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// statusData is the JSON shape of 'parakeet status --json'.
type statusData struct {
	Version string `json:"version"`
	Vault   struct {
		Path   string `json:"path"`
		Source string `json:"config_source,omitempty"`
	} `json:"vault"`
	Index struct {
		Notes      int                    `json:"notes"`
		Vectors    int                    `json:"vectors"`
		Model      string                 `json:"embedding_model,omitempty"`
		SizeBytes  int64                  `json:"size_bytes,omitempty"`
		Categories map[vault.Category]int `json:"categories,omitempty"`
	} `json:"index"`
	Providers struct {
		Embedding providerStatus `json:"embedding"`
		LLM       providerStatus `json:"llm"`
	} `json:"providers"`
	Learning struct {
		Decisions int     `json:"decisions"`
		Feedback  int     `json:"feedback"`
		Accuracy  float64 `json:"accuracy_rate"`
	} `json:"learning"`
	Snapshots struct {
		Count  int    `json:"count"`
		Latest string `json:"latest,omitempty"`
	} `json:"snapshots"`
	Exclusions int `json:"exclusions"`
}

type providerStatus struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
	State    string `json:"state"`
}

func statusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Vault, index, provider, and learning state at a glance",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, jsonOut bool) error {
	sess, _, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	cfg := sess.Config()
	var data statusData
	data.Version = Version
	data.Vault.Path = sess.VaultRoot()
	data.Vault.Source = cfg.Source

	idx := sess.Index()
	data.Index.Notes, _ = idx.Count()
	data.Index.Vectors, _ = idx.VectorCount()
	data.Index.Model, _ = idx.EmbeddingModel()
	data.Index.Categories, _ = idx.CategoryDistribution()
	if info, err := os.Stat(filepath.Join(cfg.IndexPath, store.DBFileName)); err == nil {
		data.Index.SizeBytes = info.Size()
	}

	data.Providers.Embedding = providerState(cfg, cfg.EmbeddingModel, sess.Embedder() != nil)
	data.Providers.LLM = providerState(cfg, cfg.LLMModel, sess.Classifier() != nil)

	if st, err := sess.Learning().Status(); err == nil {
		data.Learning.Decisions = st.DecisionCount
		data.Learning.Feedback = st.FeedbackCount
		data.Learning.Accuracy = st.Metrics.AccuracyRate
	}

	if snaps, err := sess.Snapshots().List(); err == nil {
		data.Snapshots.Count = len(snaps)
		if len(snaps) > 0 {
			data.Snapshots.Latest = snaps[0].ID
		}
	}
	data.Exclusions = sess.Exclusions().Len()

	if jsonOut {
		return printJSON(data)
	}

	cli.Header("Parakeet Status")

	cli.Section("Vault")
	fmt.Printf("  path    %s\n", cli.ShortenHome(data.Vault.Path))
	source := data.Vault.Source
	if source == "" {
		source = "defaults + env"
	}
	fmt.Printf("  config  %s\n", cli.ShortenHome(source))

	cli.Section("Index")
	fmt.Printf("  notes %s · vectors %s", cli.FormatNumber(data.Index.Notes), cli.FormatNumber(data.Index.Vectors))
	if data.Index.SizeBytes > 0 {
		fmt.Printf(" · %s", formatBytes(data.Index.SizeBytes))
	}
	fmt.Println()
	if len(data.Index.Categories) > 0 {
		fmt.Print("  ")
		for i, cat := range []vault.Category{vault.Inbox, vault.Projects, vault.Areas, vault.Resources, vault.Archive} {
			if i > 0 {
				fmt.Print(" · ")
			}
			fmt.Printf("%s %d", cat, data.Index.Categories[cat])
		}
		fmt.Println()
	}

	cli.Section("Providers")
	printProvider("embedding", data.Providers.Embedding)
	printProvider("llm      ", data.Providers.LLM)

	cli.Section("Learning")
	fmt.Printf("  decisions %s · feedback %s · accuracy %.0f%%\n",
		cli.FormatNumber(data.Learning.Decisions), cli.FormatNumber(data.Learning.Feedback),
		data.Learning.Accuracy*100)

	cli.Section("Safety")
	fmt.Printf("  snapshots %d", data.Snapshots.Count)
	if data.Snapshots.Latest != "" {
		fmt.Printf(" · latest %s", data.Snapshots.Latest)
	}
	fmt.Printf(" · exclusions %d\n", data.Exclusions)

	cli.Footer()
	return nil
}

func printProvider(label string, p providerStatus) {
	ok := p.State == "ready"
	mark := cli.Mark(ok)
	if !ok && p.State != "offline" {
		mark = cli.WarnMark()
	}
	fmt.Printf("  %s %s %s via %s — %s\n", mark, label, p.Model, p.Provider, p.State)
}

// providerState reports whether a configured provider is usable right
// now. Ollama gets a quick liveness probe; hosted providers only need a
// key, reachability is checked by doctor.
func providerState(cfg *config.Config, model string, built bool) providerStatus {
	p := providerStatus{Model: model, Provider: config.ProviderFor(model)}
	switch {
	case !built && p.Provider == "ollama":
		p.State = "offline"
	case !built:
		p.State = "no key"
	case p.Provider == "ollama":
		if probeOllama(cfg.OllamaURL) {
			p.State = "ready"
		} else {
			p.State = "ollama not responding"
		}
	default:
		p.State = "ready"
	}
	return p
}

func probeOllama(url string) bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(url + "/api/tags")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
