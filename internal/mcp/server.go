// Package mcp exposes the vault to agents over the Model Context
// Protocol. Every tool is read-only with respect to vault files: agents
// can inspect the index, search it, and dry-run a plan, but applying
// moves stays with the CLI.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/parakeet-labs/parakeet/internal/embedding"
	"github.com/parakeet-labs/parakeet/internal/engine"
	"github.com/parakeet-labs/parakeet/internal/fusion"
	"github.com/parakeet-labs/parakeet/internal/learning"
	"github.com/parakeet-labs/parakeet/internal/vault"
)

// Plans embed and classify every scoped note, so repeated calls are
// rate-limited the way the CLI never needs to be.
const planCooldown = 60 * time.Second

const maxPlanNotes = 200

// Server adapts an engine session to MCP tools.
type Server struct {
	session *engine.Session
	log     *zap.Logger

	planMu   sync.Mutex
	lastPlan time.Time
}

// Serve runs the MCP server on stdio until ctx is cancelled or the
// client disconnects. The session stays open for the server's lifetime.
func Serve(ctx context.Context, session *engine.Session, version string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{session: session, log: log}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "parakeet",
		Version: version,
	}, nil)
	s.register(server)

	log.Info("mcp server listening on stdio", zap.String("vault", session.VaultRoot()))
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "vault_status",
		Description: "Check the health and size of the vault's semantic index. Use this first to see whether the index is populated and which signals are available.\n\nReturns indexed note count, embedded vector count, category distribution, embedding model, decision count, and any degraded signals.",
	}, s.handleVaultStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_similar",
		Description: "Find notes semantically similar to a query. Use this to surface prior notes on a topic before answering questions about the vault.\n\nArgs:\n  query: Natural language query (e.g. 'kubernetes migration plan')\n  top_k: Number of results (default 10, max 100)\n\nReturns ranked notes with path, title, category, and distance (lower is closer).",
	}, s.handleSearchSimilar)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "plan_simulate",
		Description: "Dry-run the classifier over a scope and return the move plan without touching any files. Use this to preview where notes would go.\n\nArgs:\n  scope: inbox, archive, all, or path:<subtree> (default inbox)\n  directive: Optional natural-language instruction biasing classification\n  max_notes: Cap on notes planned (default from config, max 200)\n\nReturns the full plan: actions with from/to paths, categories, confidence, and reasoning.",
	}, s.handlePlanSimulate)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "learning_status",
		Description: "Report how the classifier has been performing. Use this to see decision volume, feedback outcomes, the learned weight policy, and folder patterns that keep being accepted.\n\nReturns decision and feedback counts, accuracy metrics, the active policy, and top folder patterns.",
	}, s.handleLearningStatus)
}

// Tool input types

type searchInput struct {
	Query string `json:"query" jsonschema:"Natural language query"`
	TopK  int    `json:"top_k" jsonschema:"Number of results (default 10, max 100)"`
}

type planInput struct {
	Scope     string `json:"scope,omitempty" jsonschema:"inbox, archive, all, or path:<subtree>"`
	Directive string `json:"directive,omitempty" jsonschema:"Optional instruction biasing classification"`
	MaxNotes  int    `json:"max_notes,omitempty" jsonschema:"Cap on notes planned (max 200)"`
}

type emptyInput struct{}

// Tool output views

type statusView struct {
	VaultRoot      string                 `json:"vault_root"`
	NotesIndexed   int                    `json:"notes_indexed"`
	Vectors        int                    `json:"vectors"`
	EmbeddingModel string                 `json:"embedding_model,omitempty"`
	Categories     map[vault.Category]int `json:"categories,omitempty"`
	Decisions      int                    `json:"decisions"`
	Degraded       []string               `json:"degraded,omitempty"`
}

type similarResult struct {
	Path     string         `json:"path"`
	Title    string         `json:"title"`
	Category vault.Category `json:"category"`
	Folder   string         `json:"folder,omitempty"`
	Distance float64        `json:"distance"`
}

type learningView struct {
	Decisions    int                    `json:"decisions"`
	Feedback     int                    `json:"feedback"`
	IndexedNotes int                    `json:"indexed_notes"`
	Categories   map[vault.Category]int `json:"categories,omitempty"`
	Accuracy     float64                `json:"accuracy_rate"`
	Satisfaction float64                `json:"user_satisfaction"`
	Improvement  float64                `json:"improvement_score"`
	Policy       fusion.Policy          `json:"policy"`
	Patterns     []learning.Pattern     `json:"folder_patterns,omitempty"`
}

// Tool handlers. Failures come back as text so the agent can read and
// relay them instead of dropping the call.

func (s *Server) handleVaultStatus(ctx context.Context, req *mcp.CallToolRequest, input emptyInput) (*mcp.CallToolResult, any, error) {
	idx := s.session.Index()

	view := statusView{
		VaultRoot: s.session.VaultRoot(),
		Degraded:  s.session.Degraded(),
	}
	var err error
	if view.NotesIndexed, err = idx.Count(); err != nil {
		return textResult(fmt.Sprintf("Status error: %v", err)), nil, nil
	}
	if view.Vectors, err = idx.VectorCount(); err != nil {
		return textResult(fmt.Sprintf("Status error: %v", err)), nil, nil
	}
	if view.Categories, err = idx.CategoryDistribution(); err != nil {
		return textResult(fmt.Sprintf("Status error: %v", err)), nil, nil
	}
	if view.Decisions, err = idx.DecisionCount(); err != nil {
		return textResult(fmt.Sprintf("Status error: %v", err)), nil, nil
	}
	view.EmbeddingModel, _ = idx.EmbeddingModel()

	return jsonResult(view), nil, nil
}

func (s *Server) handleSearchSimilar(ctx context.Context, req *mcp.CallToolRequest, input searchInput) (*mcp.CallToolResult, any, error) {
	if input.Query == "" {
		return textResult("search_similar needs a query."), nil, nil
	}
	embedder := s.session.Embedder()
	if embedder == nil {
		return textResult("Embedding provider unavailable; semantic search is offline. Run 'parakeet doctor' on the host."), nil, nil
	}
	topK := clampTopK(input.TopK, 10)

	vec, err := embedder.Embed(ctx, input.Query, embedding.PurposeQuery)
	if err != nil {
		return textResult(fmt.Sprintf("Error embedding query: %v", err)), nil, nil
	}
	neighbors, err := s.session.Index().KNN(vec, topK)
	if err != nil {
		return textResult(fmt.Sprintf("Search error: %v", err)), nil, nil
	}
	if len(neighbors) == 0 {
		return textResult("No results. The index may be empty; run 'parakeet reindex' on the host."), nil, nil
	}

	results := make([]similarResult, 0, len(neighbors))
	for _, n := range neighbors {
		results = append(results, similarResult{
			Path:     n.ID,
			Title:    n.Title,
			Category: n.Category,
			Folder:   n.FolderName,
			Distance: n.Distance,
		})
	}
	return jsonResult(results), nil, nil
}

func (s *Server) handlePlanSimulate(ctx context.Context, req *mcp.CallToolRequest, input planInput) (*mcp.CallToolResult, any, error) {
	s.planMu.Lock()
	defer s.planMu.Unlock()

	if since := time.Since(s.lastPlan); since < planCooldown {
		remaining := int((planCooldown - since).Seconds())
		return textResult(fmt.Sprintf("Plan cooldown active. Try again in %ds.", remaining)), nil, nil
	}

	scope := input.Scope
	if scope == "" {
		scope = "inbox"
	}
	maxNotes := input.MaxNotes
	if maxNotes < 0 {
		maxNotes = 0
	}
	if maxNotes > maxPlanNotes {
		maxNotes = maxPlanNotes
	}

	s.lastPlan = time.Now()
	plan, err := s.session.Plan(ctx, engine.PlanParams{
		Scope:     scope,
		Directive: input.Directive,
		MaxNotes:  maxNotes,
	})
	if err != nil {
		return textResult(fmt.Sprintf("Plan error: %v", err)), nil, nil
	}
	s.log.Info("simulated plan for agent",
		zap.String("scope", scope),
		zap.Int("moves", plan.Summary.Moves))
	return jsonResult(plan), nil, nil
}

func (s *Server) handleLearningStatus(ctx context.Context, req *mcp.CallToolRequest, input emptyInput) (*mcp.CallToolResult, any, error) {
	status, err := s.session.Learning().Status()
	if err != nil {
		return textResult(fmt.Sprintf("Learning status error: %v", err)), nil, nil
	}
	view := learningView{
		Decisions:    status.DecisionCount,
		Feedback:     status.FeedbackCount,
		IndexedNotes: status.IndexedNotes,
		Categories:   status.Categories,
		Accuracy:     status.Metrics.AccuracyRate,
		Satisfaction: status.Metrics.UserSatisfaction,
		Improvement:  status.Metrics.ImprovementScore,
		Policy:       status.Policy,
		Patterns:     status.Patterns,
	}
	return jsonResult(view), nil, nil
}

// Helpers

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return textResult(fmt.Sprintf("Encoding error: %v", err))
	}
	return textResult(string(data))
}

func clampTopK(topK, defaultVal int) int {
	if topK <= 0 {
		return defaultVal
	}
	if topK > 100 {
		return 100
	}
	return topK
}
