package tbs

import (
	"github.com/muxable/tbs/pkg/att"
	"go.uber.org/zap"
)

// holdOtherCalls places every other call of the bearer on hold after one or
// more calls became active: ACTIVE goes to LOCALLY_HELD, REMOTELY_HELD goes
// to LOCALLY_AND_REMOTELY_HELD. The calls named in except are untouched. The
// returned indexes feed the post-operation application callback.
func holdOtherCalls(inst *bearer, except []uint8) []uint8 {
	var held []uint8
	for i := range inst.calls {
		call := &inst.calls[i]
		if !call.live() {
			continue
		}
		skip := false
		for _, idx := range except {
			if call.Index == idx {
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		switch call.State {
		case CallStateActive:
			call.State = CallStateLocallyHeld
			held = append(held, call.Index)
		case CallStateRemotelyHeld:
			call.State = CallStateLocallyRemotelyHeld
			held = append(held, call.Index)
		}
	}
	return held
}

func (s *Server) acceptCall(inst *bearer, callIndex uint8) (ResultCode, []uint8) {
	call := inst.lookupCall(callIndex)
	if call == nil {
		return ResultCodeInvalidCallIndex, nil
	}
	if call.State != CallStateIncoming {
		return ResultCodeStateMismatch, nil
	}
	call.State = CallStateActive
	return ResultCodeSuccess, holdOtherCalls(inst, []uint8{callIndex})
}

// terminateCall frees the call slot and records the termination cause on the
// bearer and, for regular bearers, on the aggregate bearer too.
func (s *Server) terminateCall(inst *bearer, callIndex uint8, reason TerminateReason) ResultCode {
	call := inst.lookupCall(callIndex)
	if call == nil {
		return ResultCodeInvalidCallIndex
	}
	call.Index = FreeCallIndex
	s.setTerminateReason(inst, callIndex, reason)
	if !inst.isGTBS() {
		s.setTerminateReason(&s.gtbs, callIndex, reason)
	}
	return ResultCodeSuccess
}

func (s *Server) holdCall(inst *bearer, callIndex uint8) ResultCode {
	if inst.features&FeatureHold == 0 {
		return ResultCodeOpcodeNotSupported
	}
	call := inst.lookupCall(callIndex)
	if call == nil {
		return ResultCodeInvalidCallIndex
	}
	switch call.State {
	case CallStateActive, CallStateIncoming:
		call.State = CallStateLocallyHeld
	case CallStateRemotelyHeld:
		call.State = CallStateLocallyRemotelyHeld
	default:
		return ResultCodeStateMismatch
	}
	return ResultCodeSuccess
}

func (s *Server) retrieveCall(inst *bearer, callIndex uint8) (ResultCode, []uint8) {
	if inst.features&FeatureHold == 0 {
		return ResultCodeOpcodeNotSupported, nil
	}
	call := inst.lookupCall(callIndex)
	if call == nil {
		return ResultCodeInvalidCallIndex, nil
	}
	switch call.State {
	case CallStateLocallyHeld:
		call.State = CallStateActive
	case CallStateLocallyRemotelyHeld:
		call.State = CallStateRemotelyHeld
	default:
		return ResultCodeStateMismatch, nil
	}
	return ResultCodeSuccess, holdOtherCalls(inst, []uint8{callIndex})
}

// originateCall allocates an outgoing call in DIALING, notifies, then moves
// it to ALERTING and notifies again, so observers see both state changes.
func (s *Server) originateCall(inst *bearer, uri string) (uint8, ResultCode, []uint8) {
	// one outgoing call at a time
	for i := range inst.calls {
		if inst.calls[i].live() && inst.calls[i].State == CallStateAlerting {
			return FreeCallIndex, ResultCodeOperationNotPossible, nil
		}
	}

	if !validURI(uri, s.cfg.MaxURILength) {
		return FreeCallIndex, ResultCodeInvalidURI, nil
	}

	call := s.allocCall(inst, CallStateDialing, uri)
	if call == nil {
		return FreeCallIndex, ResultCodeOutOfResources, nil
	}
	call.Flags |= CallFlagOutgoing

	held := holdOtherCalls(inst, []uint8{call.Index})

	s.notifyCalls(inst)
	call.State = CallStateAlerting
	s.notifyCalls(inst)

	zap.L().Debug("originated call",
		zap.Uint8("bearer", inst.index),
		zap.Uint8("call", call.Index),
		zap.String("uri", uri))

	return call.Index, ResultCodeSuccess, held
}

func (s *Server) joinCalls(inst *bearer, callIndexes []uint8) (ResultCode, []uint8) {
	if inst.features&FeatureJoin == 0 {
		return ResultCodeOpcodeNotSupported, nil
	}
	if len(callIndexes) < 2 || len(callIndexes) > s.cfg.MaxCalls {
		return ResultCodeOperationNotPossible, nil
	}
	for i := range callIndexes {
		for j := 0; j < i; j++ {
			if callIndexes[i] == callIndexes[j] {
				return ResultCodeInvalidCallIndex, nil
			}
		}
	}

	// Validate every target before mutating anything, so a rejected join
	// leaves the registry untouched.
	joined := make([]*Call, len(callIndexes))
	for i, idx := range callIndexes {
		call := inst.lookupCall(idx)
		if call == nil {
			return ResultCodeInvalidCallIndex, nil
		}
		if call.State == CallStateIncoming {
			return ResultCodeOperationNotPossible, nil
		}
		if call.State != CallStateActive &&
			call.State != CallStateLocallyHeld &&
			call.State != CallStateLocallyRemotelyHeld {
			return ResultCodeStateMismatch, nil
		}
		joined[i] = call
	}

	for _, call := range joined {
		switch call.State {
		case CallStateLocallyHeld:
			call.State = CallStateActive
		case CallStateLocallyRemotelyHeld:
			call.State = CallStateRemotelyHeld
		}
		// active stays active
	}

	return ResultCodeSuccess, holdOtherCalls(inst, callIndexes)
}

// writeControlPoint decodes and executes a Call Control Point write. Decode
// failures surface as transport-level errors and never reach the state
// machine; domain failures travel back through the response notification.
func (s *Server) writeControlPoint(conn Conn, inst *bearer, offset int, buf []byte) error {
	if !s.authorized(inst, conn) {
		return att.ErrAuthorization
	}
	if offset != 0 {
		return att.ErrInvalidOffset
	}
	if len(buf) < 1 {
		return att.ErrInvalidAttributeLen
	}

	opcode := Opcode(buf[0])
	req, err := UnmarshalRequest(buf)
	if err != nil && err != ErrUnknownOpcode {
		return att.ErrInvalidAttributeLen
	}

	zap.L().Debug("control point",
		zap.Uint8("bearer", inst.index),
		zap.Stringer("opcode", opcode))

	var (
		target    *bearer
		status    ResultCode
		callIndex uint8
		held      []uint8
	)

	switch req := req.(type) {
	case *AcceptRequest:
		callIndex = req.CallIndex
		if target = s.resolveByCallIndex(inst, callIndex); target == nil {
			status = ResultCodeInvalidCallIndex
			break
		}
		status, held = s.acceptCall(target, callIndex)
	case *TerminateRequest:
		callIndex = req.CallIndex
		if target = s.resolveByCallIndex(inst, callIndex); target == nil {
			status = ResultCodeInvalidCallIndex
			break
		}
		status = s.terminateCall(target, callIndex, ReasonClientTerminated)
	case *HoldRequest:
		callIndex = req.CallIndex
		if target = s.resolveByCallIndex(inst, callIndex); target == nil {
			status = ResultCodeInvalidCallIndex
			break
		}
		status = s.holdCall(target, callIndex)
	case *RetrieveRequest:
		callIndex = req.CallIndex
		if target = s.resolveByCallIndex(inst, callIndex); target == nil {
			status = ResultCodeInvalidCallIndex
			break
		}
		status, held = s.retrieveCall(target, callIndex)
	case *OriginateRequest:
		if inst.isGTBS() {
			target = s.instByURIScheme(req.URI)
			if target == nil {
				status = ResultCodeInvalidURI
				break
			}
		} else {
			target = inst
		}
		callIndex, status, held = s.originateCall(target, req.URI)
	case *JoinRequest:
		callIndex = req.CallIndexes[0]
		if target = s.resolveByCallIndex(inst, callIndex); target == nil {
			status = ResultCodeInvalidCallIndex
			break
		}
		status, held = s.joinCalls(target, req.CallIndexes)
	default:
		status = ResultCodeOpcodeNotSupported
	}

	if status != ResultCodeSuccess {
		callIndex = FreeCallIndex
	}

	if conn != LocalConn {
		resp, _ := (&ResponseNotification{
			CallIndex: callIndex,
			RequestOp: opcode,
			Result:    status,
		}).Marshal()
		if err := s.transport.NotifyConn(conn, inst.handle, CharControlPoint, resp); err != nil {
			zap.L().Warn("control point response failed", zap.Error(err))
		}
	}

	if target != nil && status == ResultCodeSuccess {
		s.notifyCalls(target)
		s.notifyApp(conn, target, req, callIndex, held)
	}
	return nil
}

// resolveByCallIndex finds the bearer owning the call. Commands written to
// the aggregate bearer address calls anywhere; commands written to a regular
// bearer only address its own.
func (s *Server) resolveByCallIndex(inst *bearer, callIndex uint8) *bearer {
	if !inst.isGTBS() {
		return inst
	}
	return s.instByCallIndex(callIndex)
}

// notifyApp hands a completed remote command to the application callbacks,
// including the batch of calls the hold-other-calls side effect touched.
func (s *Server) notifyApp(conn Conn, inst *bearer, req Request, callIndex uint8, held []uint8) {
	if s.cbs == nil {
		return
	}

	switch req := req.(type) {
	case *AcceptRequest:
		if s.cbs.Accept != nil {
			s.cbs.Accept(conn, callIndex)
		}
	case *TerminateRequest:
		if s.cbs.Terminate != nil {
			s.cbs.Terminate(conn, callIndex, inst.terminateReason.Reason)
		}
	case *HoldRequest:
		if s.cbs.Hold != nil {
			s.cbs.Hold(conn, callIndex)
		}
	case *RetrieveRequest:
		if s.cbs.Retrieve != nil {
			s.cbs.Retrieve(conn, callIndex)
		}
	case *OriginateRequest:
		call := inst.lookupCall(callIndex)
		if call == nil {
			zap.L().Debug("originated call vanished", zap.Uint8("call", callIndex))
			break
		}
		alerted := false
		if s.cbs.Originate != nil {
			alerted = s.cbs.Originate(conn, callIndex, req.URI)
		}
		if !alerted {
			s.terminateCall(inst, callIndex, ReasonCallFailed)
		}
		s.notifyCalls(inst)
	case *JoinRequest:
		if s.cbs.Join != nil {
			s.cbs.Join(conn, req.CallIndexes)
		}
	}

	if s.cbs.Hold != nil {
		for _, idx := range held {
			s.cbs.Hold(conn, idx)
		}
	}
}
