// Package tracker provides a reference consumer for the association
// event stream: a small association state machine plus outstanding
// request bookkeeping.
//
// Handling is a total function over the event vocabulary. The driver
// delivers events one at a time, so no locking is needed as long as
// the tracker's accessors are read from the same goroutine or after
// the association reached a terminal state.
package tracker

import (
	"github.com/rs/zerolog"

	"github.com/caio-sobreiro/dicomlink/events"
	"github.com/caio-sobreiro/dicomlink/types"
)

// State is the association lifecycle position.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateRejected
	StateAborted
	StateReleased
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	case StateAborted:
		return "aborted"
	case StateReleased:
		return "released"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the association can no longer be used.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateAborted || s == StateReleased || s == StateClosed
}

// Tracker follows one association through its event stream.
type Tracker struct {
	log zerolog.Logger

	state       State
	assoc       *types.Association
	rejection   *events.AssociationRejected
	closeCause  error
	outstanding map[uint16]*types.Message
	canSubmit   bool

	lateResponses int
}

// New creates a tracker in the connecting state.
func New(log zerolog.Logger) *Tracker {
	return &Tracker{
		log:         log,
		state:       StateConnecting,
		outstanding: make(map[uint16]*types.Message),
	}
}

// Submit records a request the application has handed to the driver, so
// later response events can be matched against it.
func (t *Tracker) Submit(req *types.Message) {
	if req == nil {
		return
	}
	t.outstanding[req.MessageID] = req
}

// OnEvent reacts to one event. Exactly one case per variant; the
// default branch is unreachable for events produced by the driver and
// is logged as a defect.
func (t *Tracker) OnEvent(ev events.Event) {
	switch ev := ev.(type) {
	case *events.AssociationAccepted:
		t.assoc = ev.Association()
		t.state = StateActive
		t.canSubmit = true
		t.log.Info().
			Str("called_ae", t.assoc.CalledAETitle).
			Uint32("max_pdu_length", t.assoc.MaxPDULength).
			Msg("association accepted")

	case *events.AssociationRejected:
		t.state = StateRejected
		t.rejection = ev
		t.canSubmit = false
		t.log.Warn().
			Str("result", ev.Result().String()).
			Str("source", ev.Source().String()).
			Str("reason", ev.Reason().String()).
			Msg("association rejected")

	case *events.AssociationAborted:
		t.state = StateAborted
		t.canSubmit = false
		t.log.Warn().
			Str("source", ev.Source().String()).
			Str("reason", ev.Reason().String()).
			Msg("association aborted")

	case *events.AssociationReleased:
		t.state = StateReleased
		t.canSubmit = false
		t.log.Info().Msg("association released")

	case *events.ConnectionClosed:
		t.state = StateClosed
		t.closeCause = ev.Cause()
		t.canSubmit = false
		if ev.Clean() {
			t.log.Info().Msg("connection closed")
		} else {
			t.log.Warn().Err(ev.Cause()).Msg("connection closed prematurely")
		}

	case *events.RequestPending:
		id := ev.Request().MessageID
		if _, ok := t.outstanding[id]; !ok {
			// Driver bug, not a fault in the event: repair the entry so
			// the final response still completes something.
			t.log.Warn().Uint16("message_id", id).Msg("pending response for untracked request, repairing")
			t.outstanding[id] = ev.Request()
		}
		t.log.Debug().
			Uint16("message_id", id).
			Uint16("status", ev.Response().Status).
			Msg("interim response")

	case *events.RequestCompleted:
		id := ev.Request().MessageID
		if _, ok := t.outstanding[id]; !ok {
			// Out of contract: the request already timed out or was
			// never tracked. Count it and drop.
			t.lateResponses++
			t.log.Warn().Uint16("message_id", id).Msg("final response for untracked request, dropping")
			return
		}
		delete(t.outstanding, id)
		t.log.Debug().
			Uint16("message_id", id).
			Uint16("status", ev.Response().Status).
			Msg("request completed")

	case *events.RequestTimedOut:
		id := ev.Request().MessageID
		if _, ok := t.outstanding[id]; !ok {
			t.log.Warn().Uint16("message_id", id).Msg("timeout for untracked request")
			return
		}
		delete(t.outstanding, id)
		t.log.Warn().
			Uint16("message_id", id).
			Dur("timeout", ev.Timeout()).
			Msg("request timed out")

	case *events.SendQueueEmpty:
		t.canSubmit = true

	default:
		t.log.Error().Msgf("unhandled event variant %T", ev)
	}
}

// State returns the current association state.
func (t *Tracker) State() State { return t.state }

// Association returns the negotiated descriptor once accepted.
func (t *Tracker) Association() *types.Association { return t.assoc }

// Rejection returns the rejection event when state is rejected.
func (t *Tracker) Rejection() *events.AssociationRejected { return t.rejection }

// CloseCause returns the transport fault behind a closed state, nil
// when the closure was clean.
func (t *Tracker) CloseCause() error { return t.closeCause }

// Outstanding returns how many requests still await a final outcome.
func (t *Tracker) Outstanding() int { return len(t.outstanding) }

// CanSubmit reports whether more work may be pushed to the driver.
func (t *Tracker) CanSubmit() bool { return t.canSubmit }

// LateResponses counts final responses that arrived after their request
// was already retired.
func (t *Tracker) LateResponses() int { return t.lateResponses }
