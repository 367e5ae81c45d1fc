package tbs

import (
	"errors"
	"io"

	"github.com/muxable/tbs/pkg/att"
)

// Request is a Call Control Point command. Fixed-shape requests unmarshal
// only from exactly-sized buffers; variable-tail requests enforce a minimum.
type Request interface {
	att.Packet
	Opcode() Opcode
}

// UnmarshalRequest decodes a Call Control Point write. An unknown opcode is
// not a decode failure: it is reported through the response notification, so
// it is surfaced as ErrUnknownOpcode for the dispatcher to translate.
func UnmarshalRequest(buf []byte) (Request, error) {
	if len(buf) < 1 {
		return nil, io.ErrShortBuffer
	}
	var r Request
	switch Opcode(buf[0]) {
	case OpcodeAccept:
		r = &AcceptRequest{}
	case OpcodeTerminate:
		r = &TerminateRequest{}
	case OpcodeHold:
		r = &HoldRequest{}
	case OpcodeRetrieve:
		r = &RetrieveRequest{}
	case OpcodeOriginate:
		r = &OriginateRequest{}
	case OpcodeJoin:
		r = &JoinRequest{}
	default:
		return nil, ErrUnknownOpcode
	}
	return r, r.Unmarshal(buf)
}

// ErrUnknownOpcode marks a control-point write whose opcode the codec does
// not know. The command still gets a response notification.
var ErrUnknownOpcode = errors.New("unknown opcode")

type AcceptRequest struct {
	CallIndex uint8
}

func (r *AcceptRequest) Opcode() Opcode { return OpcodeAccept }

func (r *AcceptRequest) Marshal() ([]byte, error) {
	return []byte{byte(OpcodeAccept), r.CallIndex}, nil
}

func (r *AcceptRequest) Unmarshal(buf []byte) error {
	if len(buf) != 2 {
		return io.ErrShortBuffer
	}
	r.CallIndex = buf[1]
	return nil
}

type TerminateRequest struct {
	CallIndex uint8
}

func (r *TerminateRequest) Opcode() Opcode { return OpcodeTerminate }

func (r *TerminateRequest) Marshal() ([]byte, error) {
	return []byte{byte(OpcodeTerminate), r.CallIndex}, nil
}

func (r *TerminateRequest) Unmarshal(buf []byte) error {
	if len(buf) != 2 {
		return io.ErrShortBuffer
	}
	r.CallIndex = buf[1]
	return nil
}

type HoldRequest struct {
	CallIndex uint8
}

func (r *HoldRequest) Opcode() Opcode { return OpcodeHold }

func (r *HoldRequest) Marshal() ([]byte, error) {
	return []byte{byte(OpcodeHold), r.CallIndex}, nil
}

func (r *HoldRequest) Unmarshal(buf []byte) error {
	if len(buf) != 2 {
		return io.ErrShortBuffer
	}
	r.CallIndex = buf[1]
	return nil
}

type RetrieveRequest struct {
	CallIndex uint8
}

func (r *RetrieveRequest) Opcode() Opcode { return OpcodeRetrieve }

func (r *RetrieveRequest) Marshal() ([]byte, error) {
	return []byte{byte(OpcodeRetrieve), r.CallIndex}, nil
}

func (r *RetrieveRequest) Unmarshal(buf []byte) error {
	if len(buf) != 2 {
		return io.ErrShortBuffer
	}
	r.CallIndex = buf[1]
	return nil
}

// OriginateRequest carries the outgoing-call URI as a raw, unterminated tail.
type OriginateRequest struct {
	URI string
}

func (r *OriginateRequest) Opcode() Opcode { return OpcodeOriginate }

func (r *OriginateRequest) Marshal() ([]byte, error) {
	buf := make([]byte, 1+len(r.URI))
	buf[0] = byte(OpcodeOriginate)
	copy(buf[1:], r.URI)
	return buf, nil
}

func (r *OriginateRequest) Unmarshal(buf []byte) error {
	if len(buf) < 1+MinURILen {
		return io.ErrShortBuffer
	}
	r.URI = string(buf[1:])
	return nil
}

// JoinRequest carries two or more call indexes as a raw tail. The codec only
// enforces that at least one index is present; the state machine enforces
// the rest.
type JoinRequest struct {
	CallIndexes []uint8
}

func (r *JoinRequest) Opcode() Opcode { return OpcodeJoin }

func (r *JoinRequest) Marshal() ([]byte, error) {
	buf := make([]byte, 1+len(r.CallIndexes))
	buf[0] = byte(OpcodeJoin)
	copy(buf[1:], r.CallIndexes)
	return buf, nil
}

func (r *JoinRequest) Unmarshal(buf []byte) error {
	if len(buf) < 2 {
		return io.ErrShortBuffer
	}
	r.CallIndexes = append([]uint8(nil), buf[1:]...)
	return nil
}

// ResponseNotification acknowledges a control-point command to its
// originator.
type ResponseNotification struct {
	CallIndex uint8
	RequestOp Opcode
	Result    ResultCode
}

func (p *ResponseNotification) Marshal() ([]byte, error) {
	return []byte{p.CallIndex, byte(p.RequestOp), byte(p.Result)}, nil
}

func (p *ResponseNotification) Unmarshal(buf []byte) error {
	if len(buf) != 3 {
		return io.ErrShortBuffer
	}
	p.CallIndex = buf[0]
	p.RequestOp = Opcode(buf[1])
	p.Result = ResultCode(buf[2])
	return nil
}

// TerminateReasonValue is the termination-reason attribute value.
type TerminateReasonValue struct {
	CallIndex uint8
	Reason    TerminateReason
}

func (p *TerminateReasonValue) Marshal() ([]byte, error) {
	return []byte{p.CallIndex, byte(p.Reason)}, nil
}

func (p *TerminateReasonValue) Unmarshal(buf []byte) error {
	if len(buf) != 2 {
		return io.ErrShortBuffer
	}
	p.CallIndex = buf[0]
	p.Reason = TerminateReason(buf[1])
	return nil
}

// InURIValue is the shape shared by the incoming-call, incoming-URI and
// friendly-name attributes: a call index followed by raw URI bytes. While no
// call is associated the attribute value is empty.
type InURIValue struct {
	CallIndex uint8
	URI       string
}

func (p *InURIValue) Marshal() ([]byte, error) {
	if p.CallIndex == FreeCallIndex {
		return nil, nil
	}
	buf := make([]byte, 1+len(p.URI))
	buf[0] = p.CallIndex
	copy(buf[1:], p.URI)
	return buf, nil
}

func (p *InURIValue) Unmarshal(buf []byte) error {
	if len(buf) == 0 {
		p.CallIndex = FreeCallIndex
		p.URI = ""
		return nil
	}
	p.CallIndex = buf[0]
	p.URI = string(buf[1:])
	return nil
}

// CallStateEntry is one record of the call-state list.
type CallStateEntry struct {
	CallIndex uint8
	State     CallState
	Flags     CallFlags
}

func (p *CallStateEntry) Marshal() ([]byte, error) {
	return []byte{p.CallIndex, byte(p.State), byte(p.Flags)}, nil
}

func (p *CallStateEntry) Unmarshal(buf []byte) error {
	if len(buf) != 3 {
		return io.ErrShortBuffer
	}
	p.CallIndex = buf[0]
	p.State = CallState(buf[1])
	p.Flags = CallFlags(buf[2])
	return nil
}

// CurrentCallEntry is one length-prefixed record of the current-calls list.
type CurrentCallEntry struct {
	CallIndex uint8
	State     CallState
	Flags     CallFlags
	URI       string
}

func (p *CurrentCallEntry) Marshal() ([]byte, error) {
	if 3+len(p.URI) > 0xFF {
		return nil, errors.New("uri too long")
	}
	buf := make([]byte, 4+len(p.URI))
	buf[0] = uint8(3 + len(p.URI))
	buf[1] = p.CallIndex
	buf[2] = byte(p.State)
	buf[3] = byte(p.Flags)
	copy(buf[4:], p.URI)
	return buf, nil
}

func (p *CurrentCallEntry) Unmarshal(buf []byte) error {
	if len(buf) < 4 || int(buf[0]) != len(buf)-1 {
		return io.ErrShortBuffer
	}
	p.CallIndex = buf[1]
	p.State = CallState(buf[2])
	p.Flags = CallFlags(buf[3])
	p.URI = string(buf[4:])
	return nil
}
