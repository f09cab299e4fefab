// Package driver runs the client side of one DICOM association and
// reports everything that happens on it as events.
//
// The driver owns the socket, the association negotiation exchange and
// the outbound queue. Every asynchronous occurrence (acceptance,
// rejection, abort, release, responses, timeouts, queue drain,
// connection loss) is converted into exactly one events.Event and
// delivered to the consumer synchronously, in the order the occurrence
// was detected on the stream. The consumer must return before the next
// event is delivered, so consumer-owned state needs no locking.
package driver

import (
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/caio-sobreiro/dicomlink/dimse"
	"github.com/caio-sobreiro/dicomlink/errors"
	"github.com/caio-sobreiro/dicomlink/events"
	"github.com/caio-sobreiro/dicomlink/pdu"
	"github.com/caio-sobreiro/dicomlink/types"
)

// Consumer receives events one at a time, in detection order. OnEvent
// must handle every variant; it runs on the driver's goroutines and
// must not block.
type Consumer interface {
	OnEvent(ev events.Event)
}

// Config holds driver configuration
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32        // Maximum PDU length offered to the peer (default: 16384)
	ConnectTimeout time.Duration // Timeout for establishing the TCP connection (default: 30s)
	RequestTimeout time.Duration // Default per-request response deadline, 0 disables (default: 30s)
	SendQueueSize  int           // Outbound queue capacity (default: 16)

	// PresentationContexts proposed in the A-ASSOCIATE-RQ. Defaults to
	// verification and study-root find.
	PresentationContexts []pdu.ProposedContext

	// TransferSyntaxes proposed for every context, in preference order.
	TransferSyntaxes []string

	// Logger for driver diagnostics. Defaults to a no-op logger.
	Logger *zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxPDULength == 0 {
		c.MaxPDULength = 16384
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = 16
	}
	if len(c.PresentationContexts) == 0 {
		c.PresentationContexts = []pdu.ProposedContext{
			{ID: 1, AbstractSyntax: types.VerificationSOPClass},
			{ID: 3, AbstractSyntax: types.StudyRootQueryRetrieveInformationModelFind},
		}
	}
	if len(c.TransferSyntaxes) == 0 {
		c.TransferSyntaxes = []string{
			types.ExplicitVRLittleEndian,
			types.ImplicitVRLittleEndian,
		}
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

type outstandingRequest struct {
	request *types.Message
	timer   *time.Timer
	timeout time.Duration
}

type outbound struct {
	fragments [][]byte
}

// assembler reassembles inbound P-DATA-TF fragments into one DIMSE message.
type assembler struct {
	command []byte
	dataset []byte
	msg     *types.Message
}

// Driver produces the event stream for one association connection.
type Driver struct {
	conn     net.Conn
	cfg      Config
	consumer Consumer
	log      zerolog.Logger

	// emitMu serializes delivery so the consumer sees events one at a
	// time regardless of which goroutine detected the occurrence.
	emitMu sync.Mutex

	writeMu sync.Mutex

	mu          sync.Mutex
	assoc       *types.Association
	outstanding map[uint16]*outstandingRequest

	asm assembler

	closed   *atomic.Bool
	sendq    chan outbound
	quit     chan struct{}
	stopOnce sync.Once
}

// New wraps an established transport connection. The caller keeps
// ownership of nothing: the driver closes conn on teardown.
func New(conn net.Conn, consumer Consumer, cfg Config) *Driver {
	cfg.applyDefaults()
	return &Driver{
		conn:        conn,
		cfg:         cfg,
		consumer:    consumer,
		log:         *cfg.Logger,
		outstanding: make(map[uint16]*outstandingRequest),
		closed:      atomic.NewBool(false),
		sendq:       make(chan outbound, cfg.SendQueueSize),
		quit:        make(chan struct{}),
	}
}

// Dial establishes a TCP connection to a remote SCP and wraps it.
func Dial(address string, consumer Consumer, cfg Config) (*Driver, error) {
	cfg.applyDefaults()
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, errors.NewNetworkError("dial", err)
	}
	return New(conn, consumer, cfg), nil
}

// Run sends the A-ASSOCIATE-RQ and processes inbound PDUs until the
// association reaches a terminal state. Rejection, abort and orderly
// release are reported as events and Run returns nil; a faulted
// connection closure is also reported as an event and Run additionally
// returns its raised form, so blocking callers observe the loss as an
// error.
func (d *Driver) Run() error {
	rq := pdu.BuildAssociateRQ(
		d.cfg.CallingAETitle,
		d.cfg.CalledAETitle,
		d.cfg.MaxPDULength,
		d.cfg.PresentationContexts,
		d.cfg.TransferSyntaxes,
	)
	if err := d.writePDU(types.TypeAssociateRQ, rq); err != nil {
		return d.connectionLost(err)
	}

	go d.writeLoop()
	defer d.stop()
	defer d.conn.Close()

	for {
		p, err := pdu.ReadPDU(d.conn)
		if err != nil {
			return d.connectionLost(err)
		}

		switch p.Type {
		case types.TypeAssociateAC:
			if err := d.handleAssociateAC(p.Data); err != nil {
				d.log.Error().Err(err).Msg("bad A-ASSOCIATE-AC, aborting")
				d.localAbort(types.AbortReasonNotSpecified)
				return nil
			}

		case types.TypeAssociateRJ:
			result, source, reason, err := pdu.ParseAssociateRJ(p.Data)
			if err != nil {
				d.log.Error().Err(err).Msg("bad A-ASSOCIATE-RJ, aborting")
				d.localAbort(types.AbortReasonNotSpecified)
				return nil
			}
			d.closed.Store(true)
			d.emit(events.NewAssociationRejected(result, source, reason))
			return nil

		case types.TypeAbort:
			source, reason, err := pdu.ParseAbort(p.Data)
			if err != nil {
				source, reason = types.AbortSourceServiceProvider, types.AbortReasonNotSpecified
			}
			d.closed.Store(true)
			d.emit(events.NewAssociationAborted(source, reason))
			return nil

		case types.TypeReleaseRP:
			d.closed.Store(true)
			d.emit(events.Released)
			return nil

		case types.TypeReleaseRQ:
			// Peer-initiated release: acknowledge and treat as orderly end.
			if err := d.writePDU(types.TypeReleaseRP, pdu.BuildRelease()); err != nil {
				d.log.Warn().Err(err).Msg("failed to acknowledge release")
			}
			d.closed.Store(true)
			d.emit(events.Released)
			return nil

		case types.TypePDataTF:
			if err := d.handlePData(p.Data); err != nil {
				d.log.Error().Err(err).Msg("bad P-DATA-TF, aborting")
				d.localAbort(types.AbortReasonNotSpecified)
				return nil
			}

		default:
			d.log.Warn().Uint8("pdu_type", p.Type).Msg("ignoring unknown PDU type")
		}
	}
}

// Send queues a request with the default response deadline.
func (d *Driver) Send(req *types.Message, dataset []byte) error {
	return d.SendWithTimeout(req, dataset, d.cfg.RequestTimeout)
}

// SendWithTimeout queues a request for transmission and registers it as
// outstanding. If no final response arrives within timeout the request
// is reported as timed out; a timeout of zero disables the deadline.
func (d *Driver) SendWithTimeout(req *types.Message, dataset []byte, timeout time.Duration) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", errors.ErrInvalidArgument)
	}
	if d.closed.Load() {
		return errors.ErrClosedPrematurely
	}

	d.mu.Lock()
	assoc := d.assoc
	d.mu.Unlock()
	if assoc == nil {
		return fmt.Errorf("association not established")
	}

	pc := assoc.AcceptedContext(req.AffectedSOPClassUID)
	if pc == nil {
		return fmt.Errorf("%w: %s", errors.ErrNoPresentationCtx, req.AffectedSOPClassUID)
	}

	commandData, err := dimse.EncodeCommand(req)
	if err != nil {
		return err
	}
	fragments := pdu.BuildPDataFragments(pc.ID, commandData, dataset, assoc.MaxPDULength)

	// Register before queuing so a fast response cannot beat registration.
	d.mu.Lock()
	if _, dup := d.outstanding[req.MessageID]; dup {
		d.mu.Unlock()
		return fmt.Errorf("%w: message ID %d already outstanding", errors.ErrInvalidArgument, req.MessageID)
	}
	out := &outstandingRequest{request: req, timeout: timeout}
	if timeout > 0 {
		id := req.MessageID
		out.timer = time.AfterFunc(timeout, func() { d.onTimeout(id) })
	}
	d.outstanding[req.MessageID] = out
	d.mu.Unlock()

	select {
	case d.sendq <- outbound{fragments: fragments}:
		return nil
	default:
		d.unregister(req.MessageID)
		return fmt.Errorf("send queue full")
	}
}

// Release starts an orderly association release. The released event is
// emitted when the peer acknowledges.
func (d *Driver) Release() error {
	return d.writePDU(types.TypeReleaseRQ, pdu.BuildRelease())
}

// Abort sends an A-ABORT, reports the local abort and tears the
// connection down.
func (d *Driver) Abort(reason types.AbortReason) error {
	if !d.closed.CAS(false, true) {
		return nil
	}
	var result *multierror.Error
	if err := d.writePDU(types.TypeAbort, pdu.BuildAbort(types.AbortSourceServiceUser, reason)); err != nil {
		result = multierror.Append(result, err)
	}
	d.emit(events.NewAssociationAborted(types.AbortSourceServiceUser, reason))
	d.stop()
	if err := d.conn.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Close tears the connection down without protocol niceties. No event
// is emitted for a local close.
func (d *Driver) Close() error {
	if !d.closed.CAS(false, true) {
		return nil
	}
	d.stop()
	var result *multierror.Error
	if err := d.conn.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Association returns the negotiated descriptor, nil before acceptance.
func (d *Driver) Association() *types.Association {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.assoc
}

func (d *Driver) emit(ev events.Event) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.consumer.OnEvent(ev)
}

func (d *Driver) stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.mu.Lock()
		for id, out := range d.outstanding {
			if out.timer != nil {
				out.timer.Stop()
			}
			delete(d.outstanding, id)
		}
		d.mu.Unlock()
	})
}

// connectionLost classifies a read/write failure and reports the
// closure. A local close is already terminal; nothing is emitted then.
func (d *Driver) connectionLost(err error) error {
	if d.closed.CAS(false, true) {
		if isCleanClosure(err) {
			d.emit(events.Closed)
			return nil
		}
		ev, cerr := events.NewConnectionClosed(err)
		if cerr != nil {
			d.emit(events.Closed)
			return nil
		}
		d.emit(ev)
		return ev.Err()
	}
	return nil
}

func isCleanClosure(err error) bool {
	return stderrors.Is(err, io.EOF) ||
		stderrors.Is(err, io.ErrClosedPipe) ||
		stderrors.Is(err, net.ErrClosed)
}

func (d *Driver) localAbort(reason types.AbortReason) {
	if !d.closed.CAS(false, true) {
		return
	}
	if err := d.writePDU(types.TypeAbort, pdu.BuildAbort(types.AbortSourceServiceUser, reason)); err != nil {
		d.log.Warn().Err(err).Msg("failed to send abort")
	}
	d.emit(events.NewAssociationAborted(types.AbortSourceServiceUser, reason))
}

func (d *Driver) writePDU(pduType byte, data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return pdu.WritePDU(d.conn, pduType, data)
}

func (d *Driver) writeLoop() {
	for {
		select {
		case out := <-d.sendq:
			for _, frag := range out.fragments {
				if err := d.writePDU(types.TypePDataTF, frag); err != nil {
					d.log.Warn().Err(err).Msg("write failed, stopping sender")
					return
				}
			}
			if len(d.sendq) == 0 {
				d.emit(events.QueueEmpty)
			}
		case <-d.quit:
			return
		}
	}
}

func (d *Driver) handleAssociateAC(data []byte) error {
	info, err := pdu.ParseAssociateAC(data)
	if err != nil {
		return err
	}

	maxPDU := info.MaxPDULength
	if maxPDU == 0 {
		maxPDU = d.cfg.MaxPDULength
	}

	assoc := &types.Association{
		CallingAETitle:   d.cfg.CallingAETitle,
		CalledAETitle:    d.cfg.CalledAETitle,
		MaxPDULength:     maxPDU,
		PresentationCtxs: make(map[byte]*types.PresentationContext),
	}
	for _, proposed := range d.cfg.PresentationContexts {
		pc := &types.PresentationContext{
			ID:             proposed.ID,
			AbstractSyntax: proposed.AbstractSyntax,
		}
		if res, ok := info.Contexts[proposed.ID]; ok && res.Accepted() && res.TransferSyntax != "" {
			pc.Accepted = true
			pc.TransferSyntax = res.TransferSyntax
		}
		assoc.PresentationCtxs[proposed.ID] = pc
		d.log.Debug().
			Uint8("context_id", pc.ID).
			Str("abstract_syntax", pc.AbstractSyntax).
			Bool("accepted", pc.Accepted).
			Str("transfer_syntax", pc.TransferSyntax).
			Msg("presentation context negotiated")
	}

	d.mu.Lock()
	d.assoc = assoc
	d.mu.Unlock()

	ev, err := events.NewAssociationAccepted(assoc)
	if err != nil {
		return err
	}
	d.emit(ev)
	return nil
}

func (d *Driver) handlePData(data []byte) error {
	pdvs, err := pdu.ParsePDVItems(data)
	if err != nil {
		return err
	}

	for _, item := range pdvs {
		if item.Command {
			d.asm.command = append(d.asm.command, item.Data...)
			if !item.Last {
				continue
			}
			msg, err := dimse.ParseCommand(d.asm.command)
			if err != nil {
				d.asm = assembler{}
				return err
			}
			d.asm.msg = msg
			if !msg.HasDataSet() {
				d.finishMessage()
			}
		} else {
			d.asm.dataset = append(d.asm.dataset, item.Data...)
			if item.Last {
				d.finishMessage()
			}
		}
	}
	return nil
}

func (d *Driver) finishMessage() {
	msg := d.asm.msg
	dataset := d.asm.dataset
	d.asm = assembler{}

	if msg == nil {
		d.log.Warn().Msg("data set fragments without a command set, dropping")
		return
	}
	msg.Dataset = dataset

	if !msg.IsResponse() {
		d.log.Warn().
			Uint16("command_field", msg.CommandField).
			Msg("unsolicited request from peer, dropping")
		return
	}
	d.dispatchResponse(msg)
}

func (d *Driver) dispatchResponse(msg *types.Message) {
	id := msg.MessageIDBeingRespondedTo
	final := !types.StatusIsPending(msg.Status)

	d.mu.Lock()
	out, ok := d.outstanding[id]
	if ok {
		if final {
			if out.timer != nil {
				out.timer.Stop()
			}
			delete(d.outstanding, id)
		} else if out.timer != nil {
			// Interim responses restart the response deadline.
			out.timer.Reset(out.timeout)
		}
	}
	d.mu.Unlock()

	if !ok {
		// Either never ours or the request already timed out; the
		// timeout event has fired, so the late response is dropped.
		d.log.Debug().
			Uint16("message_id", id).
			Uint16("status", msg.Status).
			Msg("response for unknown or timed-out request, dropping")
		return
	}

	if final {
		ev, err := events.NewRequestCompleted(out.request, msg)
		if err != nil {
			d.log.Error().Err(err).Msg("dropping malformed final response")
			return
		}
		d.emit(ev)
		return
	}

	ev, err := events.NewRequestPending(out.request, msg)
	if err != nil {
		d.log.Error().Err(err).Msg("dropping malformed pending response")
		return
	}
	d.emit(ev)
}

func (d *Driver) onTimeout(id uint16) {
	d.mu.Lock()
	out, ok := d.outstanding[id]
	if ok {
		delete(d.outstanding, id)
	}
	d.mu.Unlock()
	if !ok {
		// The response won the race.
		return
	}

	ev, err := events.NewRequestTimedOut(out.request, out.timeout)
	if err != nil {
		d.log.Error().Err(err).Msg("dropping malformed timeout")
		return
	}
	d.emit(ev)
}

func (d *Driver) unregister(id uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if out, ok := d.outstanding[id]; ok {
		if out.timer != nil {
			out.timer.Stop()
		}
		delete(d.outstanding, id)
	}
}
