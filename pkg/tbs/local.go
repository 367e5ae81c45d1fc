package tbs

import "go.uber.org/zap"

// The local API mutates call state on behalf of the application rather than
// a remote client. Local operations are not acknowledged through the control
// point, but observers are notified the same way.

// Accept answers an incoming call.
func (s *Server) Accept(callIndex uint8) error {
	inst := s.instByCallIndex(callIndex)
	if inst == nil {
		return ErrUnknownCall
	}
	status, _ := s.acceptCall(inst, callIndex)
	if status == ResultCodeSuccess {
		s.notifyCalls(inst)
	}
	return status.Err()
}

// Hold places a call on local hold.
func (s *Server) Hold(callIndex uint8) error {
	inst := s.instByCallIndex(callIndex)
	if inst == nil {
		return ErrUnknownCall
	}
	status := s.holdCall(inst, callIndex)
	if status == ResultCodeSuccess {
		s.notifyCalls(inst)
	}
	return status.Err()
}

// Retrieve takes a call off local hold.
func (s *Server) Retrieve(callIndex uint8) error {
	inst := s.instByCallIndex(callIndex)
	if inst == nil {
		return ErrUnknownCall
	}
	status, _ := s.retrieveCall(inst, callIndex)
	if status == ResultCodeSuccess {
		s.notifyCalls(inst)
	}
	return status.Err()
}

// Terminate ends a call from the server side.
func (s *Server) Terminate(callIndex uint8) error {
	inst := s.instByCallIndex(callIndex)
	if inst == nil {
		return ErrUnknownCall
	}
	status := s.terminateCall(inst, callIndex, ReasonServerEndedCall)
	if status == ResultCodeSuccess {
		s.notifyCalls(inst)
	}
	return status.Err()
}

// Originate starts an outgoing call on the given bearer and returns its call
// index.
func (s *Server) Originate(bearerIndex uint8, uri string) (uint8, error) {
	inst := s.instByIndex(bearerIndex)
	if inst == nil {
		return FreeCallIndex, ErrNotRegistered
	}
	callIndex, status, _ := s.originateCall(inst, uri)
	return callIndex, status.Err()
}

// Join merges two or more held or active calls. The owning bearer resolves
// from the first index.
func (s *Server) Join(callIndexes []uint8) error {
	if len(callIndexes) == 0 {
		return ErrInvalidParam
	}
	inst := s.instByCallIndex(callIndexes[0])
	if inst == nil {
		return ErrUnknownCall
	}
	status, _ := s.joinCalls(inst, callIndexes)
	if status == ResultCodeSuccess {
		s.notifyCalls(inst)
	}
	return status.Err()
}

// RemoteAnswer reports that the remote party answered an alerting outgoing
// call.
func (s *Server) RemoteAnswer(callIndex uint8) error {
	inst := s.instByCallIndex(callIndex)
	if inst == nil {
		return ErrUnknownCall
	}
	call := inst.lookupCall(callIndex)
	if call.State != CallStateAlerting {
		return ResultCodeStateMismatch.Err()
	}
	call.State = CallStateActive
	s.notifyCalls(inst)
	return nil
}

// RemoteHold reports that the remote party placed the call on hold.
func (s *Server) RemoteHold(callIndex uint8) error {
	inst := s.instByCallIndex(callIndex)
	if inst == nil {
		return ErrUnknownCall
	}
	call := inst.lookupCall(callIndex)
	switch call.State {
	case CallStateActive:
		call.State = CallStateRemotelyHeld
	case CallStateLocallyHeld:
		call.State = CallStateLocallyRemotelyHeld
	default:
		return ResultCodeStateMismatch.Err()
	}
	s.notifyCalls(inst)
	return nil
}

// RemoteRetrieve reports that the remote party released its hold.
func (s *Server) RemoteRetrieve(callIndex uint8) error {
	inst := s.instByCallIndex(callIndex)
	if inst == nil {
		return ErrUnknownCall
	}
	call := inst.lookupCall(callIndex)
	switch call.State {
	case CallStateRemotelyHeld:
		call.State = CallStateActive
	case CallStateLocallyRemotelyHeld:
		call.State = CallStateLocallyHeld
	default:
		return ResultCodeStateMismatch.Err()
	}
	s.notifyCalls(inst)
	return nil
}

// RemoteTerminate reports that the remote party ended the call.
func (s *Server) RemoteTerminate(callIndex uint8) error {
	inst := s.instByCallIndex(callIndex)
	if inst == nil {
		return ErrUnknownCall
	}
	status := s.terminateCall(inst, callIndex, ReasonRemoteEndedCall)
	if status == ResultCodeSuccess {
		s.notifyCalls(inst)
	}
	return status.Err()
}

// RemoteIncoming reports a new incoming call on a bearer and returns its
// call index. to is the local URI the caller dialed, from the remote caller's
// URI, friendlyName an optional display string.
func (s *Server) RemoteIncoming(bearerIndex uint8, to, from, friendlyName string) (uint8, error) {
	inst := s.instByIndex(bearerIndex)
	if inst == nil {
		return FreeCallIndex, ErrNotRegistered
	}
	if !validURI(to, s.cfg.MaxURILength) || !validURI(from, s.cfg.MaxURILength) {
		return FreeCallIndex, ErrInvalidParam
	}

	call := s.allocCall(inst, CallStateIncoming, from)
	if call == nil {
		return FreeCallIndex, ResultCodeOutOfResources.Err()
	}

	s.setRemoteIncoming(inst, to, from, friendlyName, call)
	if !inst.isGTBS() {
		s.setRemoteIncoming(&s.gtbs, to, from, friendlyName, call)
	}
	s.notifyCalls(inst)

	zap.L().Debug("incoming call",
		zap.Uint8("bearer", inst.index),
		zap.Uint8("call", call.Index),
		zap.String("from", from))

	return call.Index, nil
}

// setRemoteIncoming updates and notifies the incoming-call attribute group
// of one bearer. The aggregate bearer carries the same values so a single
// aggregate subscription sees every bearer's incoming calls.
func (s *Server) setRemoteIncoming(inst *bearer, to, from, friendlyName string, call *Call) {
	inst.inCall = InURIValue{CallIndex: call.Index, URI: from}
	inst.incomingURI = InURIValue{CallIndex: call.Index, URI: to}

	value, _ := inst.incomingURI.Marshal()
	s.notify(inst, CharIncomingURI, value)

	value, _ = inst.inCall.Marshal()
	s.notify(inst, CharIncomingCall, value)

	if friendlyName != "" {
		inst.friendlyName = InURIValue{CallIndex: call.Index, URI: friendlyName}
	} else {
		inst.friendlyName = InURIValue{}
	}
	value, _ = inst.friendlyName.Marshal()
	s.notify(inst, CharFriendlyName, value)
}

func (s *Server) notify(inst *bearer, c Characteristic, value []byte) {
	if err := s.transport.Notify(inst.handle, c, value); err != nil {
		zap.L().Warn("notification failed",
			zap.Uint8("bearer", inst.index),
			zap.Error(err))
	}
}

// SetBearerProviderName updates a bearer's provider name. No-op updates are
// suppressed. The aggregate bearer mirrors the change so its observers see
// it too.
func (s *Server) SetBearerProviderName(bearerIndex uint8, name string) error {
	inst := s.instByIndex(bearerIndex)
	if inst == nil {
		return ErrNotRegistered
	}
	if name == "" || len(name) > s.cfg.MaxProviderNameLength {
		return ErrInvalidParam
	}
	if inst.providerName == name {
		return nil
	}
	inst.providerName = name
	s.notify(inst, CharProviderName, []byte(name))
	if !inst.isGTBS() {
		s.gtbs.providerName = name
		s.notify(&s.gtbs, CharProviderName, []byte(name))
	}
	return nil
}

// SetBearerTechnology updates a bearer's technology code.
func (s *Server) SetBearerTechnology(bearerIndex uint8, technology Technology) error {
	inst := s.instByIndex(bearerIndex)
	if inst == nil {
		return ErrNotRegistered
	}
	if technology < Technology3G || technology > TechnologyWCDMA {
		return ErrInvalidParam
	}
	if inst.technology == technology {
		return nil
	}
	inst.technology = technology
	s.notify(inst, CharTechnology, []byte{byte(technology)})
	if !inst.isGTBS() {
		s.gtbs.technology = technology
		s.notify(&s.gtbs, CharTechnology, []byte{byte(technology)})
	}
	return nil
}

// SetStatusFlags updates a bearer's status bitmap.
func (s *Server) SetStatusFlags(bearerIndex uint8, flags StatusFlags) error {
	inst := s.instByIndex(bearerIndex)
	if inst == nil {
		return ErrNotRegistered
	}
	if flags&^(StatusFlagInbandRingtone|StatusFlagSilentMode) != 0 {
		return ErrInvalidParam
	}
	if inst.statusFlags == flags {
		return nil
	}
	inst.statusFlags = flags
	value := []byte{byte(flags), byte(flags >> 8)}
	s.notify(inst, CharStatusFlags, value)
	if !inst.isGTBS() {
		s.gtbs.statusFlags = flags
		s.notify(&s.gtbs, CharStatusFlags, value)
	}
	return nil
}

// SetSignalStrength updates a bearer's signal strength. The value is
// reported immediately when no interval timer is pending, then at the
// configured interval.
func (s *Server) SetSignalStrength(bearerIndex uint8, strength uint8) error {
	inst := s.instByIndex(bearerIndex)
	if inst == nil {
		return ErrNotRegistered
	}
	if strength > SignalStrengthMax && strength != SignalStrengthUnknown {
		return ErrInvalidParam
	}
	inst.signal.set(strength)
	return nil
}

// SetURISchemeList replaces a regular bearer's supported URI schemes. The
// aggregate bearer's observers receive the recomputed aggregate list.
func (s *Server) SetURISchemeList(bearerIndex uint8, schemes []string) error {
	if bearerIndex == GTBSIndex {
		return ErrInvalidParam
	}
	inst := s.instByIndex(bearerIndex)
	if inst == nil {
		return ErrNotRegistered
	}
	if len(schemes) == 0 {
		return ErrInvalidParam
	}
	list := joinSchemes(schemes)
	if len(list) > s.cfg.MaxURISchemeListLength {
		return ErrValueTooLong
	}
	if inst.uriSchemeList == list {
		return nil
	}
	inst.uriSchemeList = list

	zap.L().Debug("uri scheme list",
		zap.Uint8("bearer", inst.index),
		zap.String("schemes", list))

	s.notify(inst, CharURISchemeList, []byte(list))
	if s.gtbs.registered {
		s.notify(&s.gtbs, CharURISchemeList, s.uriSchemeListValue(&s.gtbs))
	}
	return nil
}
