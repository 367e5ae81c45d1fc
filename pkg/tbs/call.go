package tbs

import "go.uber.org/zap"

// Call is one in-flight call. A call lives in exactly one bearer's registry;
// the aggregate bearer mirrors it but never owns it. Index FreeCallIndex
// marks a free slot.
type Call struct {
	Index     uint8
	State     CallState
	Flags     CallFlags
	RemoteURI string
}

func (c *Call) live() bool {
	return c.Index != FreeCallIndex
}

func (b *bearer) lookupCall(callIndex uint8) *Call {
	if callIndex == FreeCallIndex {
		return nil
	}
	for i := range b.calls {
		if b.calls[i].Index == callIndex {
			return &b.calls[i]
		}
	}
	return nil
}

func (b *bearer) freeSlot() *Call {
	for i := range b.calls {
		if !b.calls[i].live() {
			return &b.calls[i]
		}
	}
	return nil
}

// appendCallStates appends the 3-byte call-state records of one bearer's own
// calls to dst, stopping before a record would push dst past limit. Records
// already appended stay valid.
func appendCallStates(dst []byte, limit int, b *bearer) []byte {
	for i := range b.calls {
		call := &b.calls[i]
		if !call.live() {
			continue
		}
		if len(dst)+3 > limit {
			zap.L().Warn("call state list truncated",
				zap.Uint8("bearer", b.index),
				zap.Int("limit", limit))
			return dst
		}
		dst = append(dst, call.Index, byte(call.State), byte(call.Flags))
	}
	return dst
}

// appendCurrentCalls appends the length-prefixed current-calls records of one
// bearer's own calls to dst, truncating at limit on whole-record boundaries.
func appendCurrentCalls(dst []byte, limit int, b *bearer) []byte {
	for i := range b.calls {
		call := &b.calls[i]
		if !call.live() {
			continue
		}
		itemLen := 3 + len(call.RemoteURI)
		if len(dst)+1+itemLen > limit {
			zap.L().Warn("current calls list truncated",
				zap.Uint8("bearer", b.index),
				zap.Int("limit", limit))
			return dst
		}
		dst = append(dst, uint8(itemLen), call.Index, byte(call.State), byte(call.Flags))
		dst = append(dst, call.RemoteURI...)
	}
	return dst
}
