package tbs

import (
	"errors"
	"io"
	"testing"
)

func TestUnmarshalRequestDispatch(t *testing.T) {
	req, err := UnmarshalRequest([]byte{byte(OpcodeOriginate), 't', 'e', 'l', ':', '+', '1'})
	if err != nil {
		t.Fatalf("unmarshal originate: %v", err)
	}
	orig, ok := req.(*OriginateRequest)
	if !ok {
		t.Fatalf("decoded %T, want *OriginateRequest", req)
	}
	if orig.URI != "tel:+1" {
		t.Fatalf("uri = %q", orig.URI)
	}

	req, err = UnmarshalRequest([]byte{byte(OpcodeJoin), 4, 9, 2})
	if err != nil {
		t.Fatalf("unmarshal join: %v", err)
	}
	join, ok := req.(*JoinRequest)
	if !ok {
		t.Fatalf("decoded %T, want *JoinRequest", req)
	}
	if len(join.CallIndexes) != 3 || join.CallIndexes[0] != 4 {
		t.Fatalf("indexes = %v", join.CallIndexes)
	}

	if _, err := UnmarshalRequest([]byte{0xF0, 1}); !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("unknown opcode: %v, want ErrUnknownOpcode", err)
	}
	if _, err := UnmarshalRequest(nil); err != io.ErrShortBuffer {
		t.Fatalf("empty buffer: %v, want short buffer", err)
	}
	// fixed-shape requests reject trailing bytes
	if _, err := UnmarshalRequest([]byte{byte(OpcodeHold), 1, 2}); err != io.ErrShortBuffer {
		t.Fatalf("oversized hold: %v, want short buffer", err)
	}
}

func TestInURIValueEmptyWhileUnset(t *testing.T) {
	var v InURIValue
	buf, err := v.Marshal()
	if err != nil || len(buf) != 0 {
		t.Fatalf("unset value marshaled to %x, %v", buf, err)
	}

	v = InURIValue{CallIndex: 7, URI: "tel:+1"}
	buf, err = v.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back InURIValue
	if err := back.Unmarshal(buf); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != v {
		t.Fatalf("round trip = %+v, want %+v", back, v)
	}
	if err := back.Unmarshal(nil); err != nil || back.CallIndex != FreeCallIndex {
		t.Fatalf("empty unmarshal = %+v, %v", back, err)
	}
}

func TestCurrentCallEntryLengthPrefix(t *testing.T) {
	entry := CurrentCallEntry{CallIndex: 3, State: CallStateActive, URI: "tel:+15551234567"}
	buf, err := entry.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if int(buf[0]) != len(buf)-1 {
		t.Fatalf("length prefix %d, record body %d", buf[0], len(buf)-1)
	}

	// a record whose prefix disagrees with its body is rejected
	buf[0]++
	var back CurrentCallEntry
	if err := back.Unmarshal(buf); err != io.ErrShortBuffer {
		t.Fatalf("corrupt prefix: %v, want short buffer", err)
	}
}
