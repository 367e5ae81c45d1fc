package tbs

import "fmt"

// Call Control Point opcodes.
// Telephone Bearer Service, Section 3.12 of the TBS specification.
type Opcode uint8

const (
	OpcodeAccept    Opcode = 0x00
	OpcodeTerminate Opcode = 0x01
	OpcodeHold      Opcode = 0x02
	OpcodeRetrieve  Opcode = 0x03
	OpcodeOriginate Opcode = 0x04
	OpcodeJoin      Opcode = 0x05
)

func (o Opcode) String() string {
	switch o {
	case OpcodeAccept:
		return "accept"
	case OpcodeTerminate:
		return "terminate"
	case OpcodeHold:
		return "hold"
	case OpcodeRetrieve:
		return "retrieve"
	case OpcodeOriginate:
		return "originate"
	case OpcodeJoin:
		return "join"
	default:
		return fmt.Sprintf("unknown opcode 0x%02x", uint8(o))
	}
}

// Call Control Point notification result codes.
type ResultCode uint8

const (
	ResultCodeSuccess              ResultCode = 0x00
	ResultCodeOpcodeNotSupported   ResultCode = 0x01
	ResultCodeOperationNotPossible ResultCode = 0x02
	ResultCodeInvalidCallIndex     ResultCode = 0x03
	ResultCodeStateMismatch        ResultCode = 0x04
	ResultCodeOutOfResources       ResultCode = 0x05
	ResultCodeInvalidURI           ResultCode = 0x06
)

func (r ResultCode) String() string {
	switch r {
	case ResultCodeSuccess:
		return "success"
	case ResultCodeOpcodeNotSupported:
		return "opcode not supported"
	case ResultCodeOperationNotPossible:
		return "operation not possible"
	case ResultCodeInvalidCallIndex:
		return "invalid call index"
	case ResultCodeStateMismatch:
		return "state mismatch"
	case ResultCodeOutOfResources:
		return "out of resources"
	case ResultCodeInvalidURI:
		return "invalid URI"
	default:
		return fmt.Sprintf("unknown result code 0x%02x", uint8(r))
	}
}

// Err converts a result code to an error, nil on success.
func (r ResultCode) Err() error {
	if r == ResultCodeSuccess {
		return nil
	}
	return &ResultError{Code: r}
}

// ResultError is a domain-negative outcome delivered through the control
// protocol. It is not a transport failure.
type ResultError struct {
	Code ResultCode
}

func (e *ResultError) Error() string {
	return e.Code.String()
}

type CallState uint8

const (
	CallStateIncoming            CallState = 0x00
	CallStateDialing             CallState = 0x01
	CallStateAlerting            CallState = 0x02
	CallStateActive              CallState = 0x03
	CallStateLocallyHeld         CallState = 0x04
	CallStateRemotelyHeld        CallState = 0x05
	CallStateLocallyRemotelyHeld CallState = 0x06
)

func (s CallState) String() string {
	switch s {
	case CallStateIncoming:
		return "incoming"
	case CallStateDialing:
		return "dialing"
	case CallStateAlerting:
		return "alerting"
	case CallStateActive:
		return "active"
	case CallStateLocallyHeld:
		return "locally held"
	case CallStateRemotelyHeld:
		return "remotely held"
	case CallStateLocallyRemotelyHeld:
		return "locally and remotely held"
	default:
		return fmt.Sprintf("unknown state 0x%02x", uint8(s))
	}
}

type CallFlags uint8

const (
	// CallFlagOutgoing is set for server-originated calls; clear means the
	// call was incoming. The flag is tagged at allocation and never changes.
	CallFlagOutgoing CallFlags = 0x01

	CallFlagWithheldByServer  CallFlags = 0x02
	CallFlagWithheldByNetwork CallFlags = 0x04
)

type TerminateReason uint8

const (
	ReasonBadURI            TerminateReason = 0x00
	ReasonCallFailed        TerminateReason = 0x01
	ReasonRemoteEndedCall   TerminateReason = 0x02
	ReasonServerEndedCall   TerminateReason = 0x03
	ReasonLineBusy          TerminateReason = 0x04
	ReasonNetworkCongestion TerminateReason = 0x05
	ReasonClientTerminated  TerminateReason = 0x06
	ReasonNoService         TerminateReason = 0x07
	ReasonNoAnswer          TerminateReason = 0x08
	ReasonUnspecified       TerminateReason = 0x09
)

func (r TerminateReason) String() string {
	switch r {
	case ReasonBadURI:
		return "bad URI"
	case ReasonCallFailed:
		return "call failed"
	case ReasonRemoteEndedCall:
		return "remote ended call"
	case ReasonServerEndedCall:
		return "server ended call"
	case ReasonLineBusy:
		return "line busy"
	case ReasonNetworkCongestion:
		return "network congestion"
	case ReasonClientTerminated:
		return "client terminated"
	case ReasonNoService:
		return "no service"
	case ReasonNoAnswer:
		return "no answer"
	case ReasonUnspecified:
		return "unspecified"
	default:
		return fmt.Sprintf("unknown reason 0x%02x", uint8(r))
	}
}

type Technology uint8

const (
	Technology3G    Technology = 0x01
	Technology4G    Technology = 0x02
	TechnologyLTE   Technology = 0x03
	TechnologyWiFi  Technology = 0x04
	Technology5G    Technology = 0x05
	TechnologyGSM   Technology = 0x06
	TechnologyCDMA  Technology = 0x07
	Technology2G    Technology = 0x08
	TechnologyWCDMA Technology = 0x09
)

// Feature is the optional-opcodes bitmap of a bearer.
type Feature uint16

const (
	FeatureHold Feature = 0x0001
	FeatureJoin Feature = 0x0002

	FeatureAll = FeatureHold | FeatureJoin
)

// StatusFlags is the bearer status bitmap.
type StatusFlags uint16

const (
	StatusFlagInbandRingtone StatusFlags = 0x0001
	StatusFlagSilentMode     StatusFlags = 0x0002
)

const (
	// FreeCallIndex never denotes a live call.
	FreeCallIndex uint8 = 0x00
	// GTBSIndex addresses the aggregate bearer.
	GTBSIndex uint8 = 0xFF

	SignalStrengthMax     uint8 = 100
	SignalStrengthUnknown uint8 = 255

	// MinURILen is the shortest URI the server accepts ("a:b").
	MinURILen = 3
)
