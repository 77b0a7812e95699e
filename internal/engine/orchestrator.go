package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openscreen/triage/internal/assessment"
	"github.com/openscreen/triage/internal/completion"
	"github.com/openscreen/triage/internal/extraction"
	"github.com/openscreen/triage/internal/fieldmap"
	"github.com/openscreen/triage/internal/observability"
	"github.com/openscreen/triage/internal/policy"
	"github.com/openscreen/triage/internal/retrieval"
	"github.com/openscreen/triage/internal/session"
	"github.com/openscreen/triage/internal/strategy"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrSessionTerminal rejects messages sent to a finished conversation.
	ErrSessionTerminal  = errors.New("session is in a terminal state")
	ErrSessionNotActive = errors.New("session is not active")
)

const (
	defaultMaxTurns       = 10
	groundingLimit        = 3
	defaultSemanticWeight = 0.7
)

// Reply is what the orchestrator hands back for one turn.
type Reply struct {
	SessionID  string             `json:"session_id"`
	Text       string             `json:"text"`
	Kind       session.TurnKind   `json:"kind"`
	Done       bool               `json:"done"`
	Assessment *assessment.Result `json:"assessment,omitempty"`
	Sources    []string           `json:"sources,omitempty"`
	Missing    []string           `json:"missing,omitempty"`
}

// Orchestrator drives screening conversations end to end: it owns the
// session state machine and sequences extraction, retrieval, and assessment
// for each patient message. Turns for the same session are serialized; turns
// for different sessions run concurrently.
type Orchestrator struct {
	strategies  map[string]strategy.Strategy
	stratMu     sync.RWMutex
	sessions    session.Store
	messages    session.MessageStore
	retriever   *retrieval.Service
	pipeline    *extraction.Pipeline
	assessor    *assessment.Engine
	completions completion.Client
	metrics     *observability.Metrics
	window      *observability.StageWindow
	log         *observability.Logger

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	cancelled map[string]bool
}

func NewOrchestrator(
	sessions session.Store,
	messages session.MessageStore,
	retriever *retrieval.Service,
	pipeline *extraction.Pipeline,
	assessor *assessment.Engine,
	completions completion.Client,
	metrics *observability.Metrics,
	window *observability.StageWindow,
	log *observability.Logger,
) *Orchestrator {
	return &Orchestrator{
		strategies:  make(map[string]strategy.Strategy),
		sessions:    sessions,
		messages:    messages,
		retriever:   retriever,
		pipeline:    pipeline,
		assessor:    assessor,
		completions: completions,
		metrics:     metrics,
		window:      window,
		log:         log,
		locks:       make(map[string]*sync.Mutex),
		cancelled:   make(map[string]bool),
	}
}

// RegisterStrategy makes a strategy available to new sessions. Running
// sessions keep the snapshot they started with.
func (o *Orchestrator) RegisterStrategy(s strategy.Strategy) {
	o.stratMu.Lock()
	defer o.stratMu.Unlock()
	o.strategies[s.ID] = s.Snapshot()
}

// StartSession opens a conversation for the patient under the named
// strategy. Targeting is evaluated against the patient attributes and
// recorded; an ineligible patient still gets a session so intake flows can
// decide what to do with the verdict.
func (o *Orchestrator) StartSession(ctx context.Context, patientID, strategyID string, attrs map[string]fieldmap.Value) (Reply, error) {
	o.stratMu.RLock()
	strat, ok := o.strategies[strategyID]
	o.stratMu.RUnlock()
	if !ok {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategyID)
	}

	snapshot := strat.Snapshot()
	if snapshot.MaxTurns <= 0 {
		snapshot.MaxTurns = defaultMaxTurns
	}
	if snapshot.SemanticWeight <= 0 || snapshot.SemanticWeight > 1 {
		snapshot.SemanticWeight = defaultSemanticWeight
	}

	eligible, diags := strategy.EvaluateTargeting(snapshot.Targeting, attrs)

	now := time.Now().UTC()
	sess := session.Session{
		ID:             uuid.NewString(),
		PatientID:      patientID,
		StrategyID:     strategyID,
		Kind:           session.KindScreening,
		Status:         session.StatusActive,
		Strategy:       snapshot,
		Context:        attrs,
		Extracted:      fieldmap.Map{},
		Eligible:       eligible,
		Diagnostics:    diags,
		StartedAt:      now,
		LastActivityAt: now,
	}

	question, sources := o.nextQuestion(ctx, &sess, firstMissing(snapshot.Criteria.RequiredFields, sess.Extracted), false)

	if err := o.sessions.Save(ctx, sess); err != nil {
		return Reply{}, fmt.Errorf("save session: %w", err)
	}
	o.appendMessage(ctx, sess.ID, session.RoleAssistant, session.TurnQuestion, question, sources, nil)

	o.metrics.ActiveSessions.Inc()
	o.metrics.SessionEvents.WithLabelValues("started").Inc()
	o.log.Info("session started",
		"session_id", sess.ID,
		"strategy_id", strategyID,
		"eligible", eligible,
	)

	return Reply{SessionID: sess.ID, Text: question, Kind: session.TurnQuestion, Sources: sources}, nil
}

// HandleMessage processes one patient message: extract, merge, then either
// finalize or ask the next question. Messages to terminal sessions are a
// hard error; paused sessions must be resumed first.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, text string) (Reply, error) {
	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	if sess.Status.Terminal() {
		o.releaseSession(sessionID)
		return Reply{}, ErrSessionTerminal
	}
	if sess.Status != session.StatusActive {
		return Reply{}, ErrSessionNotActive
	}

	sess.Turns++
	sess.LastActivityAt = time.Now().UTC()
	o.metrics.Turns.WithLabelValues(string(session.TurnResponse)).Inc()

	start := time.Now()
	updates, diags := o.pipeline.Extract(ctx, text, sess.Strategy.Extraction, sess.Extracted)
	o.observeStage(observability.StageExtract, time.Since(start))
	sess.Diagnostics = append(sess.Diagnostics, diags...)
	for field, f := range updates {
		sess.Extracted.Set(field, f)
	}
	o.appendMessage(ctx, sess.ID, session.RolePatient, session.TurnResponse, text, nil, updates.Values())

	if o.isCancelled(sessionID) {
		// A concurrent Cancel won the race; drop this turn's results.
		return Reply{}, ErrSessionTerminal
	}

	switch {
	case assessment.CanAssess(sess.Strategy.Criteria.RequiredFields, sess.Extracted):
		return o.finalize(ctx, &sess)
	case sess.Turns >= sess.Strategy.MaxTurns:
		return o.finalizeIncomplete(ctx, &sess)
	default:
		return o.askNext(ctx, &sess, len(updates) == 0)
	}
}

// finalize runs the full assessment and completes the session.
func (o *Orchestrator) finalize(ctx context.Context, sess *session.Session) (Reply, error) {
	start := time.Now()
	result := o.assessor.Assess(ctx, sess.Strategy.Criteria, sess.Extracted)
	o.observeStage(observability.StageAssess, time.Since(start))

	if o.isCancelled(sess.ID) {
		return Reply{}, ErrSessionTerminal
	}

	sess.Assessment = &result
	if err := sess.Transition(session.StatusCompleted); err != nil {
		return Reply{}, err
	}
	if err := o.sessions.Save(ctx, *sess); err != nil {
		return Reply{}, fmt.Errorf("save session: %w", err)
	}

	text := summarizeResult(result)
	o.appendMessage(ctx, sess.ID, session.RoleAssistant, session.TurnAssessment, text, nil, nil)
	o.metrics.ActiveSessions.Dec()
	o.metrics.SessionEvents.WithLabelValues("completed").Inc()
	o.metrics.Turns.WithLabelValues(string(session.TurnAssessment)).Inc()
	o.log.Info("session completed",
		"session_id", sess.ID,
		"meets_criteria", result.MeetsCriteria,
		"partial", result.Partial,
		"turns", sess.Turns,
	)
	o.releaseSession(sess.ID)

	return Reply{SessionID: sess.ID, Text: text, Kind: session.TurnAssessment, Done: true, Assessment: &result}, nil
}

// finalizeIncomplete ends the session at the turn limit with an explicit
// incomplete verdict rather than guessing at missing fields.
func (o *Orchestrator) finalizeIncomplete(ctx context.Context, sess *session.Session) (Reply, error) {
	missing := missingFields(sess.Strategy.Criteria.RequiredFields, sess.Extracted)
	result := assessment.IncompleteResult(missing)

	sess.Assessment = &result
	if err := sess.Transition(session.StatusCompleted); err != nil {
		return Reply{}, err
	}
	if err := o.sessions.Save(ctx, *sess); err != nil {
		return Reply{}, fmt.Errorf("save session: %w", err)
	}

	text := "We have reached the end of this screening conversation. " + strings.Join(result.Recommendations, " ")
	o.appendMessage(ctx, sess.ID, session.RoleAssistant, session.TurnSummary, text, nil, nil)
	o.metrics.ActiveSessions.Dec()
	o.metrics.SessionEvents.WithLabelValues("turn_limit").Inc()
	o.log.Warn("session hit turn limit", "session_id", sess.ID, "missing", missing)
	o.releaseSession(sess.ID)

	return Reply{SessionID: sess.ID, Text: text, Kind: session.TurnSummary, Done: true, Assessment: &result, Missing: missing}, nil
}

// askNext persists progress and asks about the first still-missing
// required field. A turn that extracted nothing gets a clarification
// so the patient knows the last answer did not land.
func (o *Orchestrator) askNext(ctx context.Context, sess *session.Session, clarify bool) (Reply, error) {
	field := firstMissing(sess.Strategy.Criteria.RequiredFields, sess.Extracted)
	question, sources := o.nextQuestion(ctx, sess, field, clarify)

	if o.isCancelled(sess.ID) {
		return Reply{}, ErrSessionTerminal
	}
	if err := o.sessions.Save(ctx, *sess); err != nil {
		return Reply{}, fmt.Errorf("save session: %w", err)
	}

	kind := session.TurnQuestion
	if clarify {
		kind = session.TurnClarification
	}
	o.appendMessage(ctx, sess.ID, session.RoleAssistant, kind, question, sources, nil)
	o.metrics.Turns.WithLabelValues(string(kind)).Inc()

	return Reply{
		SessionID: sess.ID,
		Text:      question,
		Kind:      kind,
		Sources:   sources,
		Missing:   missingFields(sess.Strategy.Criteria.RequiredFields, sess.Extracted),
	}, nil
}

// nextQuestion grounds a question about the target field in retrieved
// guideline passages, then asks the completion service to phrase it. Both
// collaborators are optional at runtime: a missing or failing retriever
// drops the grounding, a missing or failing completion client falls back
// to a canned question.
func (o *Orchestrator) nextQuestion(ctx context.Context, sess *session.Session, field string, clarify bool) (string, []string) {
	if field == "" {
		return "Is there anything else you would like to add?", nil
	}

	var grounding []string
	var sources []string
	if o.retriever != nil && len(sess.Strategy.KnowledgeSourceIDs) > 0 {
		start := time.Now()
		query := sess.Strategy.Goal + " " + strings.ReplaceAll(field, "_", " ")
		results, err := o.retriever.Retrieve(ctx, query, sess.Strategy.KnowledgeSourceIDs, groundingLimit, sess.Strategy.SemanticWeight)
		o.observeStage(observability.StageRetrieve, time.Since(start))
		if err != nil {
			o.log.Warn("grounding retrieval failed", "session_id", sess.ID, "field", field, "error", err)
		}
		for _, r := range results {
			grounding = append(grounding, r.Content)
			sources = append(sources, r.SourceID)
		}
	}

	if o.completions == nil {
		return fallbackQuestion(field, clarify), sources
	}

	var sb strings.Builder
	sb.WriteString("Ask the patient one short, plain-language screening question.\n")
	fmt.Fprintf(&sb, "Topic: %s\n", field)
	if clarify {
		sb.WriteString("The previous answer could not be understood; gently re-ask.\n")
	}
	if sess.Strategy.Goal != "" {
		fmt.Fprintf(&sb, "Screening goal: %s\n", sess.Strategy.Goal)
	}

	out, err := o.completions.Complete(ctx, completion.Request{
		System:    "You are a clinical intake assistant. Ask exactly one question. Never diagnose.",
		Prompt:    sb.String(),
		Grounding: grounding,
	})
	if err != nil || strings.TrimSpace(out.Text) == "" {
		if err != nil {
			o.log.Warn("question generation failed, using fallback", "session_id", sess.ID, "field", field, "error", err)
			if o.window != nil {
				o.window.ObserveIndicator("completion_fallback")
			}
		}
		return fallbackQuestion(field, clarify), sources
	}
	return strings.TrimSpace(out.Text), sources
}

// Pause suspends an active session.
func (o *Orchestrator) Pause(ctx context.Context, sessionID string) error {
	return o.transition(ctx, sessionID, session.StatusPaused, "paused")
}

// Resume reactivates a paused session.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) error {
	return o.transition(ctx, sessionID, session.StatusActive, "resumed")
}

// Cancel abandons a session. The flag is raised before taking the session
// lock so an in-flight turn discards its results instead of racing the
// cancellation.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	o.cancelled[sessionID] = true
	o.mu.Unlock()

	err := o.transition(ctx, sessionID, session.StatusCancelled, "cancelled")
	if err != nil {
		o.mu.Lock()
		delete(o.cancelled, sessionID)
		o.mu.Unlock()
		return err
	}
	o.metrics.ActiveSessions.Dec()
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, sessionID string, to session.Status, event string) error {
	unlock := o.lockSession(sessionID)
	defer unlock()

	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := sess.Transition(to); err != nil {
		if sess.Status.Terminal() {
			o.releaseSession(sessionID)
		}
		return err
	}
	if err := o.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	o.metrics.SessionEvents.WithLabelValues(event).Inc()
	o.log.Info("session "+event, "session_id", sessionID)
	if to.Terminal() {
		o.releaseSession(sessionID)
	}
	return nil
}

// GetSession returns a copy of the session state.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	return o.sessions.Get(ctx, sessionID)
}

// Transcript returns the chronological message history.
func (o *Orchestrator) Transcript(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	return o.messages.History(ctx, sessionID, limit)
}

func (o *Orchestrator) lockSession(sessionID string) func() {
	o.mu.Lock()
	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[sessionID] = lock
	}
	o.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// releaseSession drops per-session bookkeeping once the session is
// terminal, so the lock and cancellation maps do not grow with every
// conversation the process has ever served. Late messages hit the
// terminal-status check and never need the old lock.
func (o *Orchestrator) releaseSession(sessionID string) {
	o.mu.Lock()
	delete(o.locks, sessionID)
	delete(o.cancelled, sessionID)
	o.mu.Unlock()
}

func (o *Orchestrator) isCancelled(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[sessionID]
}

// appendMessage logs a transcript entry with PII redaction applied to the
// stored copy. Transcript failures are logged, never fatal to the turn.
func (o *Orchestrator) appendMessage(ctx context.Context, sessionID string, role session.Role, kind session.TurnKind, content string, sources []string, entities map[string]fieldmap.Value) {
	if o.messages == nil {
		return
	}
	stored, changed := policy.RedactPII(content)
	if changed {
		o.log.Debug("redacted transcript entry", "session_id", sessionID)
	}
	err := o.messages.Append(ctx, session.Message{
		SessionID: sessionID,
		Role:      role,
		Kind:      kind,
		Content:   stored,
		Sources:   sources,
		Entities:  entities,
	})
	if err != nil {
		o.log.Error("transcript append failed", "session_id", sessionID, "error", err)
	}
}

func (o *Orchestrator) observeStage(stage string, d time.Duration) {
	o.metrics.ObserveStage(stage, d)
	if o.window != nil {
		o.window.Observe(stage, d)
	}
}

// fallbackQuestion keeps the conversation moving when no completion
// service is configured or the call failed. The field name doubles as
// the topic.
func fallbackQuestion(field string, clarify bool) string {
	topic := strings.ReplaceAll(field, "_", " ")
	if clarify {
		return fmt.Sprintf("Sorry, I didn't catch that. Could you tell me about your %s?", topic)
	}
	return fmt.Sprintf("Could you tell me about your %s?", topic)
}

func firstMissing(required []string, data fieldmap.Map) string {
	for _, field := range required {
		if !data.Has(field) {
			return field
		}
	}
	return ""
}

func missingFields(required []string, data fieldmap.Map) []string {
	var out []string
	for _, field := range required {
		if !data.Has(field) {
			out = append(out, field)
		}
	}
	return out
}

func summarizeResult(res assessment.Result) string {
	var sb strings.Builder
	if res.MeetsCriteria {
		sb.WriteString("Based on what you shared, you meet the criteria for this screening program. ")
	} else {
		sb.WriteString("Based on what you shared, you do not meet the criteria for this screening program at this time. ")
	}
	if res.Narrative != "" {
		sb.WriteString(res.Narrative + " ")
	}
	sb.WriteString(strings.Join(res.Recommendations, " "))
	return strings.TrimSpace(sb.String())
}
