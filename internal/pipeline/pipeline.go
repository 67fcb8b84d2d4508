// Package pipeline drives a claim through the verification phases and
// turns whatever the phases produced into the public result.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/statekit"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/veritas/internal/cache"
	"github.com/ppiankov/veritas/internal/llm"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/policy"
	"github.com/ppiankov/veritas/internal/retrieval"
	"github.com/ppiankov/veritas/internal/skill"
	"github.com/ppiankov/veritas/internal/state"
	"github.com/ppiankov/veritas/internal/tools"
	"github.com/ppiankov/veritas/internal/validate"
)

// Fixed rationales for runs that end before composing
const (
	RationaleMaxSteps     = "Max steps reached."
	RationaleCancelled    = "Run cancelled."
	RationaleInsufficient = "Insufficient evidence after retries."
)

// Retry counter keys
const (
	retryCompose     = "RETRIEVAL"
	retryEmpty       = "RETRIEVAL_EMPTY"
	retrySelectEmpty = "SELECT_EVIDENCE_EMPTY"
)

// Capabilities reports which optional retrieval sources are usable
type Capabilities interface {
	KBConfigured() bool
	WebConfigured() bool
	OpenWebEnabled() bool
}

// Options wires the collaborators of a pipeline. Zero fields get defaults.
type Options struct {
	Provider llm.Provider    // nil disables skills
	Policy   *policy.Policy  // nil uses policy.Default
	Registry *tools.Registry // nil builds the local tools from config
	Sources  Capabilities    // nil means wiki search only
	NewID    func() string   // Run id source, uuid by default
}

// Pipeline verifies claims. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	cfg        *model.Config
	policy     *policy.Policy
	tools      *tools.Registry
	skills     *skill.Invoker
	sources    Capabilities
	classifier *validate.CredibilityClassifier
	machine    *statekit.MachineConfig[*runContext]
	newID      func() string
	logger     *zap.Logger
}

// New creates a pipeline from configuration and collaborators
func New(cfg *model.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	machine, err := newPhaseMachine()
	if err != nil {
		return nil, eris.Wrap(err, "build phase machine")
	}

	pol := opts.Policy
	if pol == nil {
		pol = policy.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = tools.NewRegistry(cfg)
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	invoker := skill.NewInvoker(opts.Provider, pol, skill.Options{
		Retries:     cfg.Orchestrator.SkillRetries,
		Timeout:     time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	return &Pipeline{
		cfg:        cfg,
		policy:     pol,
		tools:      reg,
		skills:     invoker,
		sources:    opts.Sources,
		classifier: validate.NewCredibilityClassifier(cfg.Retrieval),
		machine:    machine,
		newID:      newID,
		logger:     zap.L().Named("pipeline"),
	}, nil
}

// NewFromConfig wires the model provider, the retrieval sources and the
// evidence log described by cfg.
func NewFromConfig(cfg *model.Config) (*Pipeline, error) {
	var provider llm.Provider
	if cfg.LLM.Provider != "" {
		inner, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM))
		if err != nil {
			return nil, eris.Wrap(err, "create model provider")
		}
		rc := llm.DefaultResilienceConfig()
		rc.MaxAttempts = cfg.LLM.TransportRetries + 1
		if cfg.LLM.BreakerThreshold > 0 {
			rc.BreakerThreshold = cfg.LLM.BreakerThreshold
		}
		provider = llm.NewResilientProvider(inner, rc)
	}

	var evidenceLog *retrieval.EvidenceLog
	if cfg.EvidenceLog.Enabled && cfg.EvidenceLog.Path != "" {
		evidenceLog = retrieval.NewEvidenceLog(cfg.EvidenceLog.Path)
	}
	sources := retrieval.NewSources(retrieval.NewClient(cfg.HTTP, nil), cfg.Retrieval, evidenceLog)
	reg := tools.NewRegistry(cfg)
	sources.Register(reg)

	return New(cfg, Options{Provider: provider, Registry: reg, Sources: sources})
}

// Config returns the configuration the pipeline was built with
func (p *Pipeline) Config() *model.Config {
	return p.cfg
}

// Verify runs one claim to completion. It always returns a result; the
// run is returned alongside for tracing. A panic inside a phase ends the
// run with insufficient verdicts.
func (p *Pipeline) Verify(ctx context.Context, claim string) (res *model.Result, run *state.Run) {
	run = state.New(p.newID(), claim)
	logger := p.logger.With(zap.String("run_id", run.ID))
	rc := &runContext{run: run, pages: cache.NewRunPages(), logger: logger}

	defer func() {
		if r := recover(); r != nil {
			run.Record("panic", "error", fmt.Sprint(r))
			logger.Error("run panicked", zap.Any("panic", r), zap.String("phase", string(run.Phase)), zap.Stack("stack"))
			res = p.finish(run, RationaleInsufficient)
		}
	}()

	interp := statekit.NewInterpreter(p.machine)
	interp.UpdateContext(func(c **runContext) {
		*c = rc
	})
	interp.Start()
	defer interp.Stop()

	logger.Debug("run started", zap.String("claim", claim))
	start := time.Now()

	for run.Steps < p.cfg.Orchestrator.MaxSteps {
		if err := ctx.Err(); err != nil {
			run.Record("cancelled", "error", err.Error())
			logger.Info("run cancelled", zap.Int("steps", run.Steps), zap.String("phase", string(run.Phase)))
			return p.finish(run, RationaleCancelled), run
		}
		run.Steps++

		if run.Phase.IsTerminal() {
			out := p.output(ctx, rc)
			logger.Info("run finished",
				zap.Int("steps", run.Steps),
				zap.String("decision", string(out.Decision())),
				zap.Int("evidence", len(run.Evidence)),
				zap.Duration("elapsed", time.Since(start)))
			return out, run
		}

		next, reason := p.step(ctx, rc)
		p.advance(rc, interp, next, reason)
	}

	run.Record("max_steps", "error", fmt.Sprintf("%d steps", run.Steps))
	logger.Warn("max steps reached", zap.Int("steps", run.Steps), zap.String("phase", string(run.Phase)))
	return p.finish(run, RationaleMaxSteps), run
}

func (p *Pipeline) step(ctx context.Context, rc *runContext) (model.Phase, string) {
	switch rc.run.Phase {
	case model.PhaseParseClaim:
		return p.parseClaim(ctx, rc)
	case model.PhaseRetrieval:
		return p.retrieve(ctx, rc)
	case model.PhaseSelectEvidence:
		return p.selectEvidence(ctx, rc)
	case model.PhaseNLIVerify:
		return p.verifyStance(ctx, rc)
	case model.PhaseDecide:
		return p.decide(ctx, rc)
	}
	ensureClaims(rc.run)
	rc.run.DefaultVerdicts()
	return model.PhaseOutput, "unknown phase " + string(rc.run.Phase)
}

// advance moves the run and the statechart to the next phase. A move the
// transition table does not allow goes to OUTPUT instead.
func (p *Pipeline) advance(rc *runContext, interp *statekit.Interpreter[*runContext], to model.Phase, reason string) {
	run := rc.run
	from := run.Phase
	if !Legal(from, to) {
		run.Record("illegal_transition", "error", string(from)+"->"+string(to))
		rc.logger.Warn("illegal transition, forcing output",
			zap.String("from", string(from)), zap.String("to", string(to)))
		ensureClaims(run)
		if len(run.Verdicts) == 0 {
			run.DefaultVerdicts()
		}
		to = model.PhaseOutput
		reason = "forced after illegal transition"
	}

	interp.Send(statekit.Event{
		Type:    eventFor(to),
		Payload: transitionPayload{From: from, Reason: reason},
	})
	if got := model.Phase(interp.State().Value); got != to {
		rc.logger.Error("statechart out of step with transition table",
			zap.String("expected", string(to)), zap.String("actual", string(got)))
	}
	run.Tick(to, reason)
}

// output composes the final verdicts. Labels and confidences always come
// from the run; citations are limited to the run's selection.
func (p *Pipeline) output(ctx context.Context, rc *runContext) *model.Result {
	run := rc.run
	ensureClaims(run)
	run.SetVerdicts(run.Verdicts)

	args := tools.ComposeResponseArgs{
		Claims:   run.Claims,
		Verdicts: run.Verdicts,
		Selected: run.Selected,
		Scores:   run.Scores,
	}
	composed, ok := firstOK(ctx, run, []strategy{
		p.skillStep(model.PhaseOutput, skill.ResponseComposer, args),
		p.toolStep(model.PhaseOutput, tools.ResponseCompose, args),
	}, func(d tools.ComposedData) (tools.ComposedData, error) {
		if len(d.Verdicts) == 0 {
			return d, errEmpty
		}
		return d, nil
	})

	var out []model.ComposedVerdict
	if ok {
		out = p.enforce(run, composed.Verdicts)
	} else {
		run.Record("response_fallback", "fallback", "")
		out = p.fallbackOutput(run)
	}
	run.Output = out
	return model.NewResult(out)
}

// enforce rebuilds composed verdicts so that they agree with the run
func (p *Pipeline) enforce(run *state.Run, composed []model.ComposedVerdict) []model.ComposedVerdict {
	byClaim := make(map[string]model.ComposedVerdict, len(composed))
	for _, cv := range composed {
		if _, dup := byClaim[cv.ClaimID]; !dup {
			byClaim[cv.ClaimID] = cv
		}
	}

	maxCitations := p.cfg.Orchestrator.MaxCitations
	out := make([]model.ComposedVerdict, 0, len(run.Claims))
	for i, c := range run.Claims {
		v := run.Verdicts[i]
		cv, ok := byClaim[c.ID]

		rationale := strings.TrimSpace(cv.Rationale)
		if !ok || rationale == "" {
			rationale = tools.Rationale(v.Label)
		}

		citations := []string{}
		if ok {
			seen := make(map[string]bool)
			for _, eid := range cv.Citations {
				if len(citations) == maxCitations {
					break
				}
				if seen[eid] || !run.IsSelected(eid, c.ID) {
					continue
				}
				seen[eid] = true
				citations = append(citations, eid)
			}
		} else {
			citations = tools.Citations(c.ID, v.Label, run.Selected, run.Scores, maxCitations)
		}

		out = append(out, model.ComposedVerdict{
			ClaimID:    c.ID,
			Label:      v.Label,
			Confidence: v.Confidence,
			Rationale:  tools.TruncateRationale(rationale),
			Citations:  citations,
		})
	}
	return out
}

// fallbackOutput renders the run verdicts without any composer
func (p *Pipeline) fallbackOutput(run *state.Run) []model.ComposedVerdict {
	out := make([]model.ComposedVerdict, 0, len(run.Claims))
	for i, c := range run.Claims {
		v := run.Verdicts[i]
		rationale := RationaleInsufficient
		if v.Label != model.LabelInsufficient {
			rationale = tools.Rationale(v.Label)
		}
		out = append(out, model.ComposedVerdict{
			ClaimID:    c.ID,
			Label:      v.Label,
			Confidence: v.Confidence,
			Rationale:  rationale,
			Citations:  tools.Citations(c.ID, v.Label, run.Selected, run.Scores, p.cfg.Orchestrator.MaxCitations),
		})
	}
	return out
}

// finish ends a run early with insufficient verdicts
func (p *Pipeline) finish(run *state.Run, rationale string) *model.Result {
	ensureClaims(run)
	verdicts := run.DefaultVerdicts()
	out := make([]model.ComposedVerdict, 0, len(verdicts))
	for _, v := range verdicts {
		out = append(out, model.ComposedVerdict{
			ClaimID:    v.ClaimID,
			Label:      v.Label,
			Confidence: v.Confidence,
			Rationale:  rationale,
			Citations:  []string{},
		})
	}
	run.Output = out
	return model.NewResult(out)
}

// ensureClaims gives a run that never got past normalization its raw
// claim as the single sub-claim, so every result has one verdict.
func ensureClaims(run *state.Run) {
	if len(run.Claims) > 0 {
		return
	}
	text := strings.Join(strings.Fields(run.Claim), " ")
	run.Claims = []model.Claim{{ID: "s1", Text: text}}
}
