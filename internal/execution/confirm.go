package execution

import (
	"context"
	"time"

	"github.com/emberhaus/ember-core/internal/platform"
	"github.com/emberhaus/ember-core/internal/validation"
)

// EventStream is the slice of the stream client the engine needs for
// state-change confirmation.
type EventStream interface {
	SubscribeEvents(eventType string, handler platform.EventHandler) (int, error)
	Unsubscribe(id int)
}

// expectedStates maps service names to the state an entity should
// report once the call took effect. Services not listed confirm on any
// observed change.
var expectedStates = map[string]string{
	"turn_on":     "on",
	"turn_off":    "off",
	"open":        "open",
	"open_cover":  "open",
	"close":       "closed",
	"close_cover": "closed",
}

// riskTimeoutScale stretches the confirmation wait for riskier specs.
var riskTimeoutScale = map[validation.RiskLevel]time.Duration{
	validation.RiskLow:    1,
	validation.RiskMedium: 2,
	validation.RiskHigh:   3,
}

func confirmationTimeout(base time.Duration, risk validation.RiskLevel) time.Duration {
	scale, ok := riskTimeoutScale[risk]
	if !ok {
		scale = 1
	}
	return base * scale
}

// ConfirmOutcome is the result of one confirmation wait.
type ConfirmOutcome struct {
	Confirmed bool   `json:"confirmed"`
	State     string `json:"state,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

// awaitConfirmation subscribes to state changes for the entity and waits
// for the expected state, or any change when no expectation is known.
// A timeout is reported, never treated as a failure to roll back.
func awaitConfirmation(ctx context.Context, stream EventStream, entityID, service string, timeout time.Duration) ConfirmOutcome {
	expected, hasExpected := expectedStates[service]

	confirmed := make(chan string, 1)
	subID, err := stream.SubscribeEvents("state_changed", func(ev platform.Event) {
		change, ok := platform.DecodeStateChange(ev)
		if !ok || change.EntityID != entityID {
			return
		}
		newState := ""
		if change.NewState != nil {
			newState = change.NewState.State
		}
		if hasExpected && newState != expected {
			return
		}
		select {
		case confirmed <- newState:
		default:
		}
	})
	if err != nil {
		return ConfirmOutcome{}
	}
	defer stream.Unsubscribe(subID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case state := <-confirmed:
		return ConfirmOutcome{Confirmed: true, State: state}
	case <-timer.C:
		return ConfirmOutcome{TimedOut: true}
	case <-ctx.Done():
		return ConfirmOutcome{TimedOut: true}
	}
}
