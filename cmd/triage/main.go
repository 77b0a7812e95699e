package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openscreen/triage/internal/assessment"
	"github.com/openscreen/triage/internal/completion"
	"github.com/openscreen/triage/internal/config"
	"github.com/openscreen/triage/internal/engine"
	"github.com/openscreen/triage/internal/extraction"
	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/httpapi"
	"github.com/openscreen/triage/internal/knowledge"
	"github.com/openscreen/triage/internal/observability"
	"github.com/openscreen/triage/internal/retrieval"
	"github.com/openscreen/triage/internal/session"
	"github.com/openscreen/triage/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(512)

	ctx := context.Background()
	chunkStore, err := knowledge.NewStore(ctx, cfg.DatabaseURL, cfg.EmbeddingDim)
	if err != nil {
		logger.Fatal("knowledge store init failed", "error", err)
	}
	defer chunkStore.Close()

	sessionStore, err := session.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("session store init failed", "error", err)
	}
	defer sessionStore.Close()

	messageStore, err := session.NewMessageStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("message store init failed", "error", err)
	}
	defer messageStore.Close()

	embedder := knowledge.NewHashingEmbedder(cfg.EmbeddingDim)
	if mem, ok := chunkStore.(*knowledge.MemoryStore); ok {
		seedDemoCorpus(ctx, mem, embedder)
		logger.Info("knowledge store: in-memory with demo corpus")
	} else {
		logger.Info("knowledge store: postgres")
	}

	completions := completion.NewClient(completion.Config{Mode: cfg.CompletionMode, URL: cfg.CompletionURL})
	logger.Info("completion client ready", "mode", cfg.CompletionMode, "url", cfg.CompletionURL != "")

	pipeline := extraction.NewPipeline(
		extraction.NewPatternExtractor(),
		extraction.NewTaggerExtractor(),
		extraction.NewModelExtractor(completions, cfg.CompletionTimeout, logger),
		metrics,
		logger,
	)

	assessor := assessment.NewEngine(
		map[string]assessment.RiskCalculator{
			"family_history_heuristic": heuristicCalculator{},
		},
		completions,
		cfg.CompletionTimeout,
		metrics,
		logger,
	)

	orchestrator := engine.NewOrchestrator(
		sessionStore,
		messageStore,
		retrieval.NewService(chunkStore, embedder, logger),
		pipeline,
		assessor,
		completions,
		metrics,
		window,
		logger,
	)
	orchestrator.RegisterStrategy(demoStrategy(cfg))

	api := httpapi.New(cfg, orchestrator, metrics, window)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}

// heuristicCalculator is the built-in demo risk model: a coarse additive
// score over age and family history. Real deployments register calculators
// backed by validated clinical models.
type heuristicCalculator struct{}

func (heuristicCalculator) Compute(_ context.Context, data map[string]fieldmap.Value) (float64, error) {
	score := 0.05
	if age, ok := data["age"]; ok {
		if n, ok := age.AsNumber(); ok && n >= 50 {
			score += 0.10
		}
	}
	if fh, ok := data["family_history"]; ok {
		if text := strings.ToLower(fh.Text()); text != "" && text != "none" {
			score += 0.15
		}
	}
	return score, nil
}

func demoStrategy(cfg config.Config) strategy.Strategy {
	minAge, maxAge := 0.0, 120.0
	return strategy.Strategy{
		ID:                 "brca_screen",
		Goal:               "hereditary breast and ovarian cancer risk screening",
		KnowledgeSourceIDs: []string{"screening_guidelines"},
		Targeting: []strategy.TargetingRule{
			{Field: "age_band", Operator: strategy.OpIsNot, Value: fieldmap.String("pediatric"), Sequence: 1},
		},
		Extraction: []strategy.ExtractionRule{
			{Field: "age", Method: strategy.MethodHybrid, Priority: 1,
				Validation: &strategy.Validation{Min: &minAge, Max: &maxAge}},
			{Field: "family_history", Method: strategy.MethodPattern, Priority: 1},
			{Field: "cancer_type", Method: strategy.MethodHybrid, Priority: 2,
				Validation: &strategy.Validation{Enum: map[string]string{
					"breast":     "breast_cancer",
					"ovarian":    "ovarian_cancer",
					"colorectal": "colorectal_cancer",
				}}},
		},
		Criteria: strategy.AssessmentCriteria{
			RequiredFields: []string{"age", "family_history"},
			Conditions: []strategy.Condition{
				{Field: "age", Operator: assessment.OpGte, Value: fieldmap.Number(25)},
				{Field: "family_history", Operator: assessment.OpPresent},
				{Field: "family_history", Operator: assessment.OpNeq, Value: fieldmap.String("none")},
			},
			RiskModels: []string{"family_history_heuristic"},
		},
		MaxTurns:       cfg.DefaultMaxTurns,
		SemanticWeight: cfg.DefaultSemanticWeight,
	}
}

func seedDemoCorpus(ctx context.Context, store *knowledge.MemoryStore, embedder knowledge.Embedder) {
	passages := []string{
		"A first-degree relative with breast or ovarian cancer substantially raises hereditary cancer risk and lowers the recommended screening age.",
		"Genetic counseling referral is recommended when a patient reports a close relative diagnosed with breast cancer before age 50.",
		"Patient age, family history of cancer, and prior biopsies are the core inputs to hereditary risk screening.",
		"Screening conversations should collect the relative's relationship, the cancer type, and the age at diagnosis.",
	}
	for i, content := range passages {
		emb, err := embedder.Embed(ctx, content)
		if err != nil {
			continue
		}
		store.Add(knowledge.Chunk{
			SourceID:  "screening_guidelines",
			Content:   content,
			Embedding: emb,
			Ordinal:   i,
		})
	}
}
