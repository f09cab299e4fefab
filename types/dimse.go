package types

// DIMSE Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CGetRQ    = 0x0010
	CGetRSP   = 0x8010
	CFindRQ   = 0x0020
	CFindRSP  = 0x8020
	CMoveRQ   = 0x0021
	CMoveRSP  = 0x8021
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
	CCancelRQ = 0x0FFF
)

// DIMSE Status codes
const (
	StatusSuccess = 0x0000
	StatusPending = 0xFF00
	StatusFailure = 0xC000
)

// CommandDataSetType values
const (
	DataSetPresent = 0x0000
	DataSetAbsent  = 0x0101
)

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16

	// Dataset carries the data set bytes that accompanied the command,
	// in the negotiated transfer syntax. Nil when no data set was sent.
	Dataset []byte
}

// IsResponse reports whether the command field carries the response bit.
func (m *Message) IsResponse() bool {
	return m.CommandField&0x8000 != 0
}

// HasDataSet reports whether a data set follows the command set.
func (m *Message) HasDataSet() bool {
	return m.CommandDataSetType != DataSetAbsent
}

// StatusIsPending reports whether a response status signals a non-final
// response. Pending statuses are 0xFF00 and 0xFF01 per PS3.7.
func StatusIsPending(status uint16) bool {
	return status == 0xFF00 || status == 0xFF01
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	switch request {
	case CStoreRQ:
		return CStoreRSP
	case CGetRQ:
		return CGetRSP
	case CFindRQ:
		return CFindRSP
	case CMoveRQ:
		return CMoveRSP
	case CEchoRQ:
		return CEchoRSP
	default:
		return request | 0x8000
	}
}
