package types

// PDU type constants
const (
	TypeAssociateRQ = 0x01
	TypeAssociateAC = 0x02
	TypeAssociateRJ = 0x03
	TypePDataTF     = 0x04
	TypeReleaseRQ   = 0x05
	TypeReleaseRP   = 0x06
	TypeAbort       = 0x07
)

// PDU represents a Protocol Data Unit
type PDU struct {
	Type   byte
	Length uint32
	Data   []byte
}

// Association describes a fully negotiated association: both AE titles,
// the maximum PDU length granted by the acceptor and the presentation
// contexts that survived negotiation.
type Association struct {
	CallingAETitle   string
	CalledAETitle    string
	MaxPDULength     uint32
	PresentationCtxs map[byte]*PresentationContext
}

// PresentationContext represents a negotiated presentation context
type PresentationContext struct {
	ID             byte
	AbstractSyntax string
	TransferSyntax string
	Accepted       bool
}

// AcceptedContext returns the accepted presentation context negotiated
// for the given abstract syntax, or nil when the peer accepted none.
func (a *Association) AcceptedContext(abstractSyntax string) *PresentationContext {
	for _, pc := range a.PresentationCtxs {
		if pc.AbstractSyntax == abstractSyntax && pc.Accepted {
			return pc
		}
	}
	return nil
}

// Negotiated reports whether at least one presentation context was accepted.
func (a *Association) Negotiated() bool {
	for _, pc := range a.PresentationCtxs {
		if pc.Accepted {
			return true
		}
	}
	return false
}
