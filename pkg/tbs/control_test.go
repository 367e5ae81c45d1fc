package tbs

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type notification struct {
	handle uint16
	char   Characteristic
	value  []byte
}

type fakeTransport struct {
	nextHandle uint16
	notes      []notification
	connNotes  map[Conn][]notification
	failRemove bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		nextHandle: 0x0010,
		connNotes:  make(map[Conn][]notification),
	}
}

func (f *fakeTransport) AddService(gtbs bool) (uint16, error) {
	h := f.nextHandle
	f.nextHandle += 0x0010
	return h, nil
}

func (f *fakeTransport) RemoveService(handle uint16) error {
	if f.failRemove {
		return errors.New("remove failed")
	}
	return nil
}

func (f *fakeTransport) Notify(handle uint16, c Characteristic, value []byte) error {
	f.notes = append(f.notes, notification{handle, c, append([]byte(nil), value...)})
	return nil
}

func (f *fakeTransport) NotifyConn(conn Conn, handle uint16, c Characteristic, value []byte) error {
	f.connNotes[conn] = append(f.connNotes[conn], notification{handle, c, append([]byte(nil), value...)})
	return nil
}

func (f *fakeTransport) count(handle uint16, c Characteristic) int {
	n := 0
	for _, note := range f.notes {
		if note.handle == handle && note.char == c {
			n++
		}
	}
	return n
}

func (f *fakeTransport) last(handle uint16, c Characteristic) []byte {
	var value []byte
	for _, note := range f.notes {
		if note.handle == handle && note.char == c {
			value = note.value
		}
	}
	return value
}

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeTransport) {
	t.Helper()
	undo := zap.ReplaceGlobals(zaptest.NewLogger(t))
	t.Cleanup(undo)
	ft := newFakeTransport()
	return NewServer(cfg, ft), ft
}

func register(t *testing.T, s *Server, gtbs bool, features Feature, schemes ...string) uint8 {
	t.Helper()
	if len(schemes) == 0 {
		schemes = []string{"tel"}
	}
	idx, err := s.Register(RegisterParams{
		ProviderName:      "Test Provider",
		UCI:               "un000",
		URISchemes:        schemes,
		Technology:        TechnologyLTE,
		SupportedFeatures: features,
		GTBS:              gtbs,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return idx
}

func handleOf(t *testing.T, s *Server, bearerIndex uint8) uint16 {
	t.Helper()
	h, err := s.ServiceHandle(bearerIndex)
	if err != nil {
		t.Fatalf("service handle: %v", err)
	}
	return h
}

func resultCodeOf(t *testing.T, err error) ResultCode {
	t.Helper()
	var re *ResultError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResultError, got %v", err)
	}
	return re.Code
}

func TestAcceptIncomingCall(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)

	idx, err := s.RemoteIncoming(b, "tel:+111", "tel:+222", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Accept(idx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := s.insts[0].lookupCall(idx).State; got != CallStateActive {
		t.Fatalf("state = %v, want active", got)
	}
}

func TestAcceptOnlyFromIncoming(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)

	idx, err := s.Originate(b, "tel:+123")
	if err != nil {
		t.Fatalf("originate: %v", err)
	}
	// the call is alerting; accept must not apply
	if got := resultCodeOf(t, s.Accept(idx)); got != ResultCodeStateMismatch {
		t.Fatalf("result = %v, want state mismatch", got)
	}
	if got := s.insts[0].lookupCall(idx).State; got != CallStateAlerting {
		t.Fatalf("state = %v, want alerting (unchanged)", got)
	}
}

func TestHoldRetrieveEdges(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)

	idx, err := s.RemoteIncoming(b, "tel:+111", "tel:+222", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}

	// incoming -> locally held is a legal local hold
	if err := s.Hold(idx); err != nil {
		t.Fatalf("hold: %v", err)
	}
	call := s.insts[0].lookupCall(idx)
	if call.State != CallStateLocallyHeld {
		t.Fatalf("state = %v, want locally held", call.State)
	}

	// remote hold while locally held stacks both
	if err := s.RemoteHold(idx); err != nil {
		t.Fatalf("remote hold: %v", err)
	}
	if call.State != CallStateLocallyRemotelyHeld {
		t.Fatalf("state = %v, want locally and remotely held", call.State)
	}

	// local retrieve peels off only the local hold
	if err := s.Retrieve(idx); err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if call.State != CallStateRemotelyHeld {
		t.Fatalf("state = %v, want remotely held", call.State)
	}

	// retrieving a call that is not locally held is a mismatch
	if got := resultCodeOf(t, s.Retrieve(idx)); got != ResultCodeStateMismatch {
		t.Fatalf("result = %v, want state mismatch", got)
	}

	if err := s.RemoteRetrieve(idx); err != nil {
		t.Fatalf("remote retrieve: %v", err)
	}
	if call.State != CallStateActive {
		t.Fatalf("state = %v, want active", call.State)
	}
}

func TestHoldFeatureDisabled(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, 0)

	idx, err := s.RemoteIncoming(b, "tel:+111", "tel:+222", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if got := resultCodeOf(t, s.Hold(idx)); got != ResultCodeOpcodeNotSupported {
		t.Fatalf("result = %v, want opcode not supported", got)
	}
}

func TestRemoteAnswer(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)

	idx, err := s.Originate(b, "tel:+123")
	if err != nil {
		t.Fatalf("originate: %v", err)
	}
	if err := s.RemoteAnswer(idx); err != nil {
		t.Fatalf("remote answer: %v", err)
	}
	if got := s.insts[0].lookupCall(idx).State; got != CallStateActive {
		t.Fatalf("state = %v, want active", got)
	}
	// answering twice is a mismatch
	if got := resultCodeOf(t, s.RemoteAnswer(idx)); got != ResultCodeStateMismatch {
		t.Fatalf("result = %v, want state mismatch", got)
	}
}

func TestHoldOtherCallsOnAccept(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)

	first, err := s.RemoteIncoming(b, "tel:+111", "tel:+222", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Accept(first); err != nil {
		t.Fatalf("accept: %v", err)
	}
	second, err := s.RemoteIncoming(b, "tel:+111", "tel:+333", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Accept(second); err != nil {
		t.Fatalf("accept: %v", err)
	}

	inst := &s.insts[0]
	if got := inst.lookupCall(first).State; got != CallStateLocallyHeld {
		t.Fatalf("first call state = %v, want locally held", got)
	}
	if got := inst.lookupCall(second).State; got != CallStateActive {
		t.Fatalf("second call state = %v, want active", got)
	}
	// no other call may remain active or remotely held
	for i := range inst.calls {
		call := &inst.calls[i]
		if !call.live() || call.Index == second {
			continue
		}
		if call.State == CallStateActive || call.State == CallStateRemotelyHeld {
			t.Fatalf("call %d left in state %v", call.Index, call.State)
		}
	}
}

func TestOriginateWhileAlerting(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)

	if _, err := s.Originate(b, "tel:+123"); err != nil {
		t.Fatalf("originate: %v", err)
	}
	_, err := s.Originate(b, "tel:+456")
	if got := resultCodeOf(t, err); got != ResultCodeOperationNotPossible {
		t.Fatalf("result = %v, want operation not possible", got)
	}
	live := 0
	for i := range s.insts[0].calls {
		if s.insts[0].calls[i].live() {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("live calls = %d, want 1", live)
	}
}

func TestOriginateEmptyURI(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)

	_, err := s.Originate(b, "")
	if got := resultCodeOf(t, err); got != ResultCodeInvalidURI {
		t.Fatalf("result = %v, want invalid URI", got)
	}
	for i := range s.insts[0].calls {
		if s.insts[0].calls[i].live() {
			t.Fatal("call allocated for invalid URI")
		}
	}
}

func TestOriginateTwoPhaseNotification(t *testing.T) {
	s, ft := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)
	h := handleOf(t, s, b)
	s.SetClientConfig(h, CharCallState, true)

	if _, err := s.Originate(b, "tel:+123"); err != nil {
		t.Fatalf("originate: %v", err)
	}
	if got := ft.count(h, CharCallState); got != 2 {
		t.Fatalf("call state notifications = %d, want 2 (dialing, alerting)", got)
	}
	var entry CallStateEntry
	if err := entry.Unmarshal(ft.notes[0].value); err != nil {
		t.Fatalf("unmarshal first notification: %v", err)
	}
	if entry.State != CallStateDialing {
		t.Fatalf("first notified state = %v, want dialing", entry.State)
	}
	if entry.Flags&CallFlagOutgoing == 0 {
		t.Fatal("outgoing flag not set")
	}
}

func TestTerminateMirrorsAggregate(t *testing.T) {
	s, ft := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)
	gh := handleOf(t, s, GTBSIndex)

	idx, err := s.RemoteIncoming(b, "tel:+111", "tel:+222", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Terminate(idx); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if s.insts[0].lookupCall(idx) != nil {
		t.Fatal("call still in registry after terminate")
	}

	value := ft.last(gh, CharTerminateReason)
	if value == nil {
		t.Fatal("no terminate reason notification on the aggregate bearer")
	}
	var reason TerminateReasonValue
	if err := reason.Unmarshal(value); err != nil {
		t.Fatalf("unmarshal terminate reason: %v", err)
	}
	if reason.CallIndex != idx || reason.Reason != ReasonServerEndedCall {
		t.Fatalf("terminate reason = %+v", reason)
	}
}

func TestJoinActivatesHeldCalls(t *testing.T) {
	s, ft := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)
	h := handleOf(t, s, b)

	a, err := s.RemoteIncoming(b, "tel:+111", "tel:+222", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Accept(a); err != nil {
		t.Fatalf("accept: %v", err)
	}
	bb, err := s.RemoteIncoming(b, "tel:+111", "tel:+333", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Accept(bb); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// a is now locally held, bb active

	req, _ := (&JoinRequest{CallIndexes: []uint8{a, bb}}).Marshal()
	if err := s.WriteAttribute("central", h, CharControlPoint, 0, req); err != nil {
		t.Fatalf("control point write: %v", err)
	}

	var resp ResponseNotification
	notes := ft.connNotes["central"]
	if len(notes) == 0 {
		t.Fatal("no control point response")
	}
	if err := resp.Unmarshal(notes[len(notes)-1].value); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Result != ResultCodeSuccess || resp.RequestOp != OpcodeJoin {
		t.Fatalf("response = %+v", resp)
	}
	if got := s.insts[0].lookupCall(a).State; got != CallStateActive {
		t.Fatalf("call a state = %v, want active", got)
	}
	if got := s.insts[0].lookupCall(bb).State; got != CallStateActive {
		t.Fatalf("call b state = %v, want active", got)
	}
}

func TestJoinRejections(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)

	a, err := s.RemoteIncoming(b, "tel:+111", "tel:+222", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Accept(a); err != nil {
		t.Fatalf("accept: %v", err)
	}
	incoming, err := s.RemoteIncoming(b, "tel:+111", "tel:+333", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}

	if got := resultCodeOf(t, s.Join([]uint8{a})); got != ResultCodeOperationNotPossible {
		t.Fatalf("single-call join = %v, want operation not possible", got)
	}
	if got := resultCodeOf(t, s.Join([]uint8{a, a})); got != ResultCodeInvalidCallIndex {
		t.Fatalf("duplicate join = %v, want invalid call index", got)
	}
	if got := resultCodeOf(t, s.Join([]uint8{a, incoming})); got != ResultCodeOperationNotPossible {
		t.Fatalf("join with incoming = %v, want operation not possible", got)
	}
	if got := resultCodeOf(t, s.Join([]uint8{a, 200})); got != ResultCodeInvalidCallIndex {
		t.Fatalf("join with unknown index = %v, want invalid call index", got)
	}
	// rejected joins must leave state untouched
	if got := s.insts[0].lookupCall(a).State; got != CallStateActive {
		t.Fatalf("call a state = %v, want active", got)
	}
	if got := s.insts[0].lookupCall(incoming).State; got != CallStateIncoming {
		t.Fatalf("incoming call state = %v, want incoming", got)
	}
}

func TestJoinFeatureDisabled(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureHold)

	a, err := s.RemoteIncoming(b, "tel:+111", "tel:+222", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Accept(a); err != nil {
		t.Fatalf("accept: %v", err)
	}
	bb, err := s.RemoteIncoming(b, "tel:+111", "tel:+333", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Accept(bb); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if got := resultCodeOf(t, s.Join([]uint8{a, bb})); got != ResultCodeOpcodeNotSupported {
		t.Fatalf("result = %v, want opcode not supported", got)
	}
}

func TestOriginateVeto(t *testing.T) {
	s, ft := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll, "tel")
	h := handleOf(t, s, b)

	s.SetCallbacks(&Callbacks{
		Originate: func(conn Conn, callIndex uint8, uri string) bool {
			return false
		},
	})

	req, _ := (&OriginateRequest{URI: "tel:+123"}).Marshal()
	if err := s.WriteAttribute("central", h, CharControlPoint, 0, req); err != nil {
		t.Fatalf("control point write: %v", err)
	}

	// the veto terminates the freshly originated call
	for i := range s.insts[0].calls {
		if s.insts[0].calls[i].live() {
			t.Fatal("vetoed call still live")
		}
	}
	value := ft.last(h, CharTerminateReason)
	if value == nil {
		t.Fatal("no terminate reason notification")
	}
	var reason TerminateReasonValue
	if err := reason.Unmarshal(value); err != nil {
		t.Fatalf("unmarshal terminate reason: %v", err)
	}
	if reason.Reason != ReasonCallFailed {
		t.Fatalf("reason = %v, want call failed", reason.Reason)
	}
}

func TestHoldOtherCallsSkipsFreedSlots(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)
	h := handleOf(t, s, b)

	var heldReported []uint8
	s.SetCallbacks(&Callbacks{
		Hold: func(conn Conn, callIndex uint8) {
			heldReported = append(heldReported, callIndex)
		},
	})

	first, err := s.RemoteIncoming(b, "tel:+111", "tel:+222", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Accept(first); err != nil {
		t.Fatalf("accept: %v", err)
	}
	second, err := s.RemoteIncoming(b, "tel:+111", "tel:+333", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	// free the first slot while its old state byte still reads active
	if err := s.Terminate(first); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	req, _ := (&AcceptRequest{CallIndex: second}).Marshal()
	if err := s.WriteAttribute("central", h, CharControlPoint, 0, req); err != nil {
		t.Fatalf("control point write: %v", err)
	}

	for _, idx := range heldReported {
		if idx == FreeCallIndex {
			t.Fatalf("held calls reported = %v, contains the free index sentinel", heldReported)
		}
		if idx == first {
			t.Fatalf("held calls reported = %v, contains the terminated call", heldReported)
		}
	}
	if got := s.insts[0].lookupCall(second).State; got != CallStateActive {
		t.Fatalf("state = %v, want active", got)
	}
}

func TestHeldCallsReportedToApp(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	register(t, s, true, FeatureAll)
	b := register(t, s, false, FeatureAll)
	h := handleOf(t, s, b)

	var heldReported []uint8
	s.SetCallbacks(&Callbacks{
		Hold: func(conn Conn, callIndex uint8) {
			heldReported = append(heldReported, callIndex)
		},
	})

	a, err := s.RemoteIncoming(b, "tel:+111", "tel:+222", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}
	if err := s.Accept(a); err != nil {
		t.Fatalf("accept: %v", err)
	}
	bb, err := s.RemoteIncoming(b, "tel:+111", "tel:+333", "")
	if err != nil {
		t.Fatalf("remote incoming: %v", err)
	}

	req, _ := (&AcceptRequest{CallIndex: bb}).Marshal()
	if err := s.WriteAttribute("central", h, CharControlPoint, 0, req); err != nil {
		t.Fatalf("control point write: %v", err)
	}
	if len(heldReported) != 1 || heldReported[0] != a {
		t.Fatalf("held calls reported = %v, want [%d]", heldReported, a)
	}
}
