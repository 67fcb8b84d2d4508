package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/veritas/internal/guard"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/policy"
	"github.com/ppiankov/veritas/internal/skill"
	"github.com/ppiankov/veritas/internal/state"
	"github.com/ppiankov/veritas/internal/tools"
)

// strategy is one way of producing a phase's data. A zero strategy is
// skipped, which lets callers list skills that are switched off.
type strategy struct {
	name string
	call func(ctx context.Context) guard.Payload
}

// firstOK tries strategies in order and returns the data of the first one
// whose payload is ok, decodes into T and passes check. Every attempt is
// recorded in the run history. check may clean the value it accepts.
func firstOK[T any](ctx context.Context, run *state.Run, strategies []strategy, check func(T) (T, error)) (T, bool) {
	var zero T
	for _, s := range strategies {
		if s.call == nil {
			continue
		}
		out := s.call(ctx)
		if !out.IsOK() {
			run.Record(s.name, "error", failure(out))
			continue
		}
		v, err := guard.Decode[T](out)
		if err == nil && check != nil {
			v, err = check(v)
		}
		if err != nil {
			run.Record(s.name, "error", err.Error())
			continue
		}
		run.Record(s.name, "ok", "")
		return v, true
	}
	return zero, false
}

func failure(p guard.Payload) string {
	if p.Error == nil {
		return string(p.Status)
	}
	return p.Error.Error()
}

// skillStep invokes a model-backed skill. It is skipped when skills are
// disabled or no provider is configured.
func (p *Pipeline) skillStep(phase model.Phase, id skill.ID, input any) strategy {
	if !p.cfg.Orchestrator.UseSkills || !p.skills.Available() {
		return strategy{}
	}
	return strategy{
		name: "skill:" + string(id),
		call: func(ctx context.Context) guard.Payload {
			return p.skills.Invoke(ctx, phase, id, input)
		},
	}
}

// toolStep runs a deterministic tool under the phase policy
func (p *Pipeline) toolStep(phase model.Phase, id tools.ID, args any) strategy {
	return strategy{
		name: "tool:" + string(id),
		call: func(ctx context.Context) guard.Payload {
			return p.runTool(ctx, phase, id, args)
		},
	}
}

// runTool checks the policy and calls the tool, repeating the call while
// the output is malformed. A disallowed tool is never called.
func (p *Pipeline) runTool(ctx context.Context, phase model.Phase, id tools.ID, args any) guard.Payload {
	if !p.policy.Allowed(phase, string(id), policy.KindTool) {
		return guard.Fail(guard.CodeScope, string(id)+" not allowed in "+string(phase), guard.RollbackState)
	}
	var out guard.Payload
	for attempt := 0; attempt <= p.cfg.Orchestrator.ToolRetries; attempt++ {
		out = p.tools.Run(ctx, id, args)
		if out.Code() != guard.CodeBadToolOutput {
			return out
		}
		p.logger.Debug("tool output rejected", zap.String("tool", string(id)), zap.Int("attempt", attempt+1))
	}
	return out
}

var errEmpty = eris.New("empty result")
