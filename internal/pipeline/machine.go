package pipeline

import (
	"github.com/felixgeelhaar/statekit"
	"go.uber.org/zap"

	"github.com/ppiankov/veritas/internal/cache"
	"github.com/ppiankov/veritas/internal/model"
	"github.com/ppiankov/veritas/internal/state"
)

// runContext carries one run through the statechart
type runContext struct {
	run          *state.Run
	pages        cache.Pages
	pagesFetched int
	entered      int // States entered, including the initial one
	logger       *zap.Logger
}

// transitionPayload rides along with every phase event
type transitionPayload struct {
	From   model.Phase
	Reason string
}

// State IDs as StateID type for statekit.
const (
	stateParseClaim     statekit.StateID = statekit.StateID(model.PhaseParseClaim)
	stateRetrieval      statekit.StateID = statekit.StateID(model.PhaseRetrieval)
	stateSelectEvidence statekit.StateID = statekit.StateID(model.PhaseSelectEvidence)
	stateNLIVerify      statekit.StateID = statekit.StateID(model.PhaseNLIVerify)
	stateDecide         statekit.StateID = statekit.StateID(model.PhaseDecide)
	stateOutput         statekit.StateID = statekit.StateID(model.PhaseOutput)
)

// Phase events. Each is named after the phase it enters.
const (
	eventRetrieval      = "RETRIEVAL"
	eventSelectEvidence = "SELECT_EVIDENCE"
	eventNLIVerify      = "NLI_VERIFY"
	eventDecide         = "DECIDE"
	eventOutput         = "OUTPUT"
)

// transitions lists the legal successors of every non-terminal phase.
// It must agree with newPhaseMachine.
var transitions = map[model.Phase][]model.Phase{
	model.PhaseParseClaim:     {model.PhaseRetrieval, model.PhaseOutput},
	model.PhaseRetrieval:      {model.PhaseSelectEvidence, model.PhaseRetrieval, model.PhaseOutput},
	model.PhaseSelectEvidence: {model.PhaseNLIVerify, model.PhaseRetrieval, model.PhaseOutput},
	model.PhaseNLIVerify:      {model.PhaseDecide, model.PhaseOutput},
	model.PhaseDecide:         {model.PhaseOutput},
}

// Legal reports whether a run may move from one phase to the other
func Legal(from, to model.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// eventFor returns the event that enters phase to
func eventFor(to model.Phase) statekit.EventType {
	return statekit.EventType(to)
}

// newPhaseMachine builds the verification statechart
func newPhaseMachine() (*statekit.MachineConfig[*runContext], error) {
	return statekit.NewMachine[*runContext]("verify").
		WithInitial(stateParseClaim).
		WithContext(&runContext{}).
		WithAction("logEntry", logPhaseEntry).
		WithAction("countEntry", countPhaseEntry).
		State(stateParseClaim).
			OnEntry("countEntry").
			On(eventRetrieval).Target(stateRetrieval).Do("logEntry").
			On(eventOutput).Target(stateOutput).Do("logEntry").
			Done().
		State(stateRetrieval).
			OnEntry("countEntry").
			On(eventSelectEvidence).Target(stateSelectEvidence).Do("logEntry").
			On(eventRetrieval).Target(stateRetrieval).Do("logEntry"). // Retry with fresh requests
			On(eventOutput).Target(stateOutput).Do("logEntry").
			Done().
		State(stateSelectEvidence).
			OnEntry("countEntry").
			On(eventNLIVerify).Target(stateNLIVerify).Do("logEntry").
			On(eventRetrieval).Target(stateRetrieval).Do("logEntry").
			On(eventOutput).Target(stateOutput).Do("logEntry").
			Done().
		State(stateNLIVerify).
			OnEntry("countEntry").
			On(eventDecide).Target(stateDecide).Do("logEntry").
			On(eventOutput).Target(stateOutput).Do("logEntry").
			Done().
		State(stateDecide).
			OnEntry("countEntry").
			On(eventOutput).Target(stateOutput).Do("logEntry").
			Done().
		State(stateOutput).
			Final().
			OnEntry("countEntry").
			Done().
		Build()
}

func logPhaseEntry(ctx **runContext, event statekit.Event) {
	rc := *ctx
	if rc == nil || rc.logger == nil {
		return
	}
	fields := []zap.Field{zap.String("to", string(event.Type))}
	if p, ok := event.Payload.(transitionPayload); ok {
		fields = append(fields, zap.String("from", string(p.From)), zap.String("reason", p.Reason))
	}
	rc.logger.Debug("phase transition", fields...)
}

func countPhaseEntry(ctx **runContext, _ statekit.Event) {
	if rc := *ctx; rc != nil {
		rc.entered++
	}
}
