// Package events defines the closed vocabulary of asynchronous
// occurrences on a single DICOM association connection.
//
// A connection driver produces these events in the exact order the
// underlying occurrences were detected on the transport stream and
// hands them to a consumer one at a time. Every variant is an
// immutable value; none owns the association or message objects it
// references. Protocol-level negative outcomes (rejection, abort,
// timeout) are ordinary events, not errors. Only true connection loss
// can be escalated to a fault, and only when the consumer asks for it
// via ConnectionClosed.Err.
package events

import (
	"fmt"
	"time"

	dicomerr "github.com/caio-sobreiro/dicomlink/errors"
	"github.com/caio-sobreiro/dicomlink/types"
)

// Event is one asynchronous occurrence on an association connection.
// Exactly nine variants implement it: ConnectionClosed,
// AssociationAborted, AssociationAccepted, AssociationRejected,
// AssociationReleased, RequestPending, RequestCompleted,
// RequestTimedOut and SendQueueEmpty. The marker method is unexported,
// so the set is closed and a consumer switching over all nine handles
// everything a driver can report.
type Event interface {
	event()
}

// Shared instances for the variants that carry no data. Identity
// comparison against these is valid: the clean ConnectionClosed,
// AssociationReleased and SendQueueEmpty forms are never allocated
// anywhere else.
var (
	// Closed is the clean-closure form of ConnectionClosed: the stream
	// ended without an underlying transport fault.
	Closed = &ConnectionClosed{}

	// Released reports an orderly association termination both sides
	// agreed to.
	Released = &AssociationReleased{}

	// QueueEmpty reports that the outbound queue has drained and the
	// driver can take more work. It is a back-pressure release signal,
	// not an error, and is not correlated with any specific request.
	QueueEmpty = &SendQueueEmpty{}
)

// ConnectionClosed reports TCP-level closure of the stream. The clean
// form is the shared Closed instance; the faulted form carries the
// transport error that tore the connection down.
type ConnectionClosed struct {
	cause error
}

// NewConnectionClosed builds the faulted closure form. A closure
// without a cause is the Closed singleton, so a nil cause here is a
// driver defect and fails construction.
func NewConnectionClosed(cause error) (*ConnectionClosed, error) {
	if cause == nil {
		return nil, fmt.Errorf("%w: connection closed event requires a cause, use Closed for clean closure", dicomerr.ErrInvalidArgument)
	}
	return &ConnectionClosed{cause: cause}, nil
}

func (e *ConnectionClosed) event() {}

// Cause returns the transport fault behind the closure, nil when clean.
func (e *ConnectionClosed) Cause() error { return e.cause }

// Clean reports whether the stream ended without a transport fault.
func (e *ConnectionClosed) Clean() bool { return e.cause == nil }

// Err converts the closure back into a raised fault for callers that
// wait synchronously on connection activity and must observe closure
// as an error. The result matches errors.ErrClosedPrematurely under
// errors.Is and unwraps to the original transport cause when one exists.
func (e *ConnectionClosed) Err() error {
	return &dicomerr.ClosedError{Cause: e.cause}
}

// AssociationAborted reports an abrupt termination of the DICOM
// session, by the peer or locally. Both fields are always present.
type AssociationAborted struct {
	source types.AbortSource
	reason types.AbortReason
}

// NewAssociationAborted builds an abort event. All source/reason
// combinations are legal; the driver reports what the wire said.
func NewAssociationAborted(source types.AbortSource, reason types.AbortReason) *AssociationAborted {
	return &AssociationAborted{source: source, reason: reason}
}

func (e *AssociationAborted) event() {}

// Source identifies who initiated the abort.
func (e *AssociationAborted) Source() types.AbortSource { return e.source }

// Reason classifies why the association was aborted.
func (e *AssociationAborted) Reason() types.AbortReason { return e.reason }

// AssociationAccepted reports that the peer agreed to open the
// association. The descriptor is always non-nil and fully negotiated.
type AssociationAccepted struct {
	assoc *types.Association
}

// NewAssociationAccepted builds an acceptance event. An accepted
// association with no negotiated parameters is a contradiction, so a
// nil descriptor fails construction.
func NewAssociationAccepted(assoc *types.Association) (*AssociationAccepted, error) {
	if assoc == nil {
		return nil, fmt.Errorf("%w: accepted association requires a negotiated descriptor", dicomerr.ErrInvalidArgument)
	}
	return &AssociationAccepted{assoc: assoc}, nil
}

func (e *AssociationAccepted) event() {}

// Association returns the negotiated association descriptor.
func (e *AssociationAccepted) Association() *types.Association { return e.assoc }

// AssociationRejected reports that the peer refused to open the
// association. Result distinguishes permanent from transient rejection,
// which determines whether a retry is meaningful downstream.
type AssociationRejected struct {
	result types.RejectResult
	source types.RejectSource
	reason types.RejectReason
}

// NewAssociationRejected builds a rejection event.
func NewAssociationRejected(result types.RejectResult, source types.RejectSource, reason types.RejectReason) *AssociationRejected {
	return &AssociationRejected{result: result, source: source, reason: reason}
}

func (e *AssociationRejected) event() {}

// Result reports whether the rejection is permanent or transient.
func (e *AssociationRejected) Result() types.RejectResult { return e.result }

// Source identifies who rejected the association.
func (e *AssociationRejected) Source() types.RejectSource { return e.source }

// Reason classifies why the association was rejected.
func (e *AssociationRejected) Reason() types.RejectReason { return e.reason }

// AssociationReleased reports orderly termination both sides agreed to.
// It carries no data; use the shared Released instance.
type AssociationReleased struct{}

func (e *AssociationReleased) event() {}

// RequestPending reports that an interim, non-final response arrived
// for an outstanding request. It may fire zero or many times per
// request before the final response.
type RequestPending struct {
	request  *types.Message
	response *types.Message
}

// NewRequestPending builds a pending-response event. Both messages must
// be present and the response must answer the given request.
func NewRequestPending(request, response *types.Message) (*RequestPending, error) {
	if err := validateResponsePair(request, response); err != nil {
		return nil, err
	}
	return &RequestPending{request: request, response: response}, nil
}

func (e *RequestPending) event() {}

// Request returns the outstanding request the response belongs to.
func (e *RequestPending) Request() *types.Message { return e.request }

// Response returns the interim response.
func (e *RequestPending) Response() *types.Message { return e.response }

// RequestCompleted reports the final response for a request. It fires
// exactly once per request; afterwards the request is retired from
// outstanding tracking.
type RequestCompleted struct {
	request  *types.Message
	response *types.Message
}

// NewRequestCompleted builds a final-response event. Both messages must
// be present and the response must answer the given request.
func NewRequestCompleted(request, response *types.Message) (*RequestCompleted, error) {
	if err := validateResponsePair(request, response); err != nil {
		return nil, err
	}
	return &RequestCompleted{request: request, response: response}, nil
}

func (e *RequestCompleted) event() {}

// Request returns the request being completed.
func (e *RequestCompleted) Request() *types.Message { return e.request }

// Response returns the final response.
func (e *RequestCompleted) Response() *types.Message { return e.response }

// RequestTimedOut reports that no response arrived for a request within
// its deadline. It fires at most once per request; a response arriving
// after the timeout is dropped by the driver.
type RequestTimedOut struct {
	request *types.Message
	timeout time.Duration
}

// NewRequestTimedOut builds a timeout event. The timeout is the
// configured deadline, zero or positive.
func NewRequestTimedOut(request *types.Message, timeout time.Duration) (*RequestTimedOut, error) {
	if request == nil {
		return nil, fmt.Errorf("%w: timed out event requires a request", dicomerr.ErrInvalidArgument)
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout %v", dicomerr.ErrInvalidArgument, timeout)
	}
	return &RequestTimedOut{request: request, timeout: timeout}, nil
}

func (e *RequestTimedOut) event() {}

// Request returns the request that timed out.
func (e *RequestTimedOut) Request() *types.Message { return e.request }

// Timeout returns the deadline that elapsed.
func (e *RequestTimedOut) Timeout() time.Duration { return e.timeout }

// SendQueueEmpty reports that the outbound queue drained. It carries no
// data; use the shared QueueEmpty instance.
type SendQueueEmpty struct{}

func (e *SendQueueEmpty) event() {}

func validateResponsePair(request, response *types.Message) error {
	if request == nil {
		return fmt.Errorf("%w: response event requires the originating request", dicomerr.ErrInvalidArgument)
	}
	if response == nil {
		return fmt.Errorf("%w: response event requires a response", dicomerr.ErrInvalidArgument)
	}
	if response.MessageIDBeingRespondedTo != request.MessageID {
		return fmt.Errorf("%w: response answers message %d, request is message %d",
			dicomerr.ErrInvalidArgument, response.MessageIDBeingRespondedTo, request.MessageID)
	}
	return nil
}
