package types

// AbortSource identifies who initiated an A-ABORT
type AbortSource byte

const (
	AbortSourceServiceUser     AbortSource = 0x00
	AbortSourceServiceProvider AbortSource = 0x02
)

func (s AbortSource) String() string {
	switch s {
	case AbortSourceServiceUser:
		return "service-user"
	case AbortSourceServiceProvider:
		return "service-provider"
	default:
		return "unknown"
	}
}

// AbortReason classifies why an A-ABORT was issued. Only meaningful when
// the source is the service provider; the service user always reports
// reason-not-specified.
type AbortReason byte

const (
	AbortReasonNotSpecified         AbortReason = 0x00
	AbortReasonUnrecognizedPDU      AbortReason = 0x01
	AbortReasonUnexpectedPDU        AbortReason = 0x02
	AbortReasonUnrecognizedPDUParam AbortReason = 0x04
	AbortReasonUnexpectedPDUParam   AbortReason = 0x05
	AbortReasonInvalidPDUParamValue AbortReason = 0x06
)

func (r AbortReason) String() string {
	switch r {
	case AbortReasonNotSpecified:
		return "reason-not-specified"
	case AbortReasonUnrecognizedPDU:
		return "unrecognized-pdu"
	case AbortReasonUnexpectedPDU:
		return "unexpected-pdu"
	case AbortReasonUnrecognizedPDUParam:
		return "unrecognized-pdu-parameter"
	case AbortReasonUnexpectedPDUParam:
		return "unexpected-pdu-parameter"
	case AbortReasonInvalidPDUParamValue:
		return "invalid-pdu-parameter-value"
	default:
		return "unknown"
	}
}

// RejectResult indicates whether an A-ASSOCIATE-RJ is permanent or transient.
// A transient rejection may succeed when retried later; a permanent one will not.
type RejectResult byte

const (
	RejectResultPermanent RejectResult = 0x01
	RejectResultTransient RejectResult = 0x02
)

func (r RejectResult) String() string {
	switch r {
	case RejectResultPermanent:
		return "permanent"
	case RejectResultTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// IsPermanent reports whether retrying the association is pointless.
func (r RejectResult) IsPermanent() bool {
	return r == RejectResultPermanent
}

// RejectSource represents who rejected the association
type RejectSource byte

const (
	RejectSourceServiceUser         RejectSource = 0x01
	RejectSourceServiceProviderACSE RejectSource = 0x02
	RejectSourceServiceProviderPres RejectSource = 0x03
)

func (s RejectSource) String() string {
	switch s {
	case RejectSourceServiceUser:
		return "service-user"
	case RejectSourceServiceProviderACSE:
		return "service-provider-acse"
	case RejectSourceServiceProviderPres:
		return "service-provider-presentation"
	default:
		return "unknown"
	}
}

// RejectReason represents why an association was rejected. The value space
// depends on the source; the names below cover the service-user and
// ACSE-related provider reasons from PS3.8.
type RejectReason byte

const (
	RejectReasonNoReasonGiven                  RejectReason = 0x01
	RejectReasonApplicationContextNotSupported RejectReason = 0x02
	RejectReasonCallingAETitleNotRecognized    RejectReason = 0x03
	RejectReasonCalledAETitleNotRecognized     RejectReason = 0x07
)

func (r RejectReason) String() string {
	switch r {
	case RejectReasonNoReasonGiven:
		return "no-reason-given"
	case RejectReasonApplicationContextNotSupported:
		return "application-context-not-supported"
	case RejectReasonCallingAETitleNotRecognized:
		return "calling-ae-title-not-recognized"
	case RejectReasonCalledAETitleNotRecognized:
		return "called-ae-title-not-recognized"
	default:
		return "unknown"
	}
}
