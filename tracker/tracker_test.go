package tracker

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomlink/events"
	"github.com/caio-sobreiro/dicomlink/types"
)

func newTracker() *Tracker {
	return New(zerolog.Nop())
}

func acceptedEvent(t *testing.T) *events.AssociationAccepted {
	t.Helper()
	ev, err := events.NewAssociationAccepted(&types.Association{
		CallingAETitle: "SCU",
		CalledAETitle:  "SCP",
		MaxPDULength:   16384,
		PresentationCtxs: map[byte]*types.PresentationContext{
			1: {ID: 1, AbstractSyntax: types.StudyRootQueryRetrieveInformationModelFind, TransferSyntax: types.ExplicitVRLittleEndian, Accepted: true},
		},
	})
	require.NoError(t, err)
	return ev
}

func findRequest(id uint16) *types.Message {
	return &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           id,
		AffectedSOPClassUID: types.StudyRootQueryRetrieveInformationModelFind,
		CommandDataSetType:  types.DataSetPresent,
	}
}

func findResponse(id uint16, status uint16) *types.Message {
	return &types.Message{
		CommandField:              types.CFindRSP,
		MessageIDBeingRespondedTo: id,
		Status:                    status,
	}
}

// Accepted association, two interim responses, final response, release.
func TestQueryLifecycle(t *testing.T) {
	tr := newTracker()
	assert.Equal(t, StateConnecting, tr.State())
	assert.False(t, tr.CanSubmit())

	req := findRequest(1)
	tr.Submit(req)
	assert.Equal(t, 1, tr.Outstanding())

	tr.OnEvent(acceptedEvent(t))
	assert.Equal(t, StateActive, tr.State())
	assert.True(t, tr.CanSubmit())
	require.NotNil(t, tr.Association())

	for i := 0; i < 2; i++ {
		ev, err := events.NewRequestPending(req, findResponse(1, types.StatusPending))
		require.NoError(t, err)
		tr.OnEvent(ev)
		assert.Equal(t, 1, tr.Outstanding())
	}

	done, err := events.NewRequestCompleted(req, findResponse(1, types.StatusSuccess))
	require.NoError(t, err)
	tr.OnEvent(done)
	assert.Equal(t, 0, tr.Outstanding())

	tr.OnEvent(events.Released)
	assert.Equal(t, StateReleased, tr.State())
	assert.True(t, tr.State().Terminal())
	assert.False(t, tr.CanSubmit())
}

// A rejected association goes terminal without ever becoming active.
func TestRejectionIsTerminal(t *testing.T) {
	tr := newTracker()
	tr.OnEvent(events.NewAssociationRejected(
		types.RejectResultPermanent,
		types.RejectSourceServiceUser,
		types.RejectReasonCalledAETitleNotRecognized,
	))

	assert.Equal(t, StateRejected, tr.State())
	assert.True(t, tr.State().Terminal())
	require.NotNil(t, tr.Rejection())
	assert.True(t, tr.Rejection().Result().IsPermanent())
}

func TestAbortFromActive(t *testing.T) {
	tr := newTracker()
	tr.OnEvent(acceptedEvent(t))
	tr.OnEvent(events.NewAssociationAborted(types.AbortSourceServiceProvider, types.AbortReasonUnexpectedPDU))

	assert.Equal(t, StateAborted, tr.State())
	assert.False(t, tr.CanSubmit())
}

func TestCleanAndFaultedClosure(t *testing.T) {
	tr := newTracker()
	tr.OnEvent(acceptedEvent(t))
	tr.OnEvent(events.Closed)
	assert.Equal(t, StateClosed, tr.State())
	assert.NoError(t, tr.CloseCause())

	tr = newTracker()
	faulted, err := events.NewConnectionClosed(io.ErrUnexpectedEOF)
	require.NoError(t, err)
	tr.OnEvent(faulted)
	assert.Equal(t, StateClosed, tr.State())
	assert.Same(t, io.ErrUnexpectedEOF, tr.CloseCause())
}

// Timeout retires the request exactly once; a late final response is
// counted and dropped, tracking is not re-opened.
func TestTimeoutThenLateResponse(t *testing.T) {
	tr := newTracker()
	tr.OnEvent(acceptedEvent(t))

	req := findRequest(2)
	tr.Submit(req)
	assert.Equal(t, 1, tr.Outstanding())

	timedOut, err := events.NewRequestTimedOut(req, 30*time.Second)
	require.NoError(t, err)
	tr.OnEvent(timedOut)
	assert.Equal(t, 0, tr.Outstanding())

	// Second timeout for the same request changes nothing.
	tr.OnEvent(timedOut)
	assert.Equal(t, 0, tr.Outstanding())
	assert.Equal(t, 0, tr.LateResponses())

	late, err := events.NewRequestCompleted(req, findResponse(2, types.StatusSuccess))
	require.NoError(t, err)
	tr.OnEvent(late)
	assert.Equal(t, 0, tr.Outstanding())
	assert.Equal(t, 1, tr.LateResponses())
}

// A pending response for an untracked request is repaired, so the
// final response still completes it.
func TestPendingRepairsUntrackedRequest(t *testing.T) {
	tr := newTracker()
	tr.OnEvent(acceptedEvent(t))

	req := findRequest(3)
	pending, err := events.NewRequestPending(req, findResponse(3, types.StatusPending))
	require.NoError(t, err)
	tr.OnEvent(pending)
	assert.Equal(t, 1, tr.Outstanding())

	done, err := events.NewRequestCompleted(req, findResponse(3, types.StatusSuccess))
	require.NoError(t, err)
	tr.OnEvent(done)
	assert.Equal(t, 0, tr.Outstanding())
	assert.Equal(t, 0, tr.LateResponses())
}

func TestSendQueueEmptyReenablesSubmission(t *testing.T) {
	tr := newTracker()
	tr.OnEvent(acceptedEvent(t))
	tr.canSubmit = false

	tr.OnEvent(events.QueueEmpty)
	assert.True(t, tr.CanSubmit())
	assert.Equal(t, StateActive, tr.State())
}
