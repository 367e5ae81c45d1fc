package tbs

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/muxable/tbs/pkg/att"
	"go.uber.org/zap"
)

var (
	ErrInvalidParam           = errors.New("invalid parameter")
	ErrAlreadyRegistered      = errors.New("bearer already registered")
	ErrAggregateNotRegistered = errors.New("aggregate bearer not registered")
	ErrBearersStillRegistered = errors.New("regular bearers still registered, try again")
	ErrNoFreeBearer           = errors.New("no free bearer slot")
	ErrNotRegistered          = errors.New("bearer not registered")
	ErrUnknownCall            = errors.New("unknown call index")
	ErrValueTooLong           = errors.New("value too long")
)

// Config fixes the server's capacities. Zero fields take defaults.
type Config struct {
	// BearerCount is the fixed pool of regular bearers. The aggregate
	// bearer exists on top of this.
	BearerCount int

	// MaxCalls is the number of call slots per bearer.
	MaxCalls int

	MaxURILength           int
	MaxProviderNameLength  int
	MaxURISchemeListLength int
}

func (c Config) withDefaults() Config {
	if c.BearerCount == 0 {
		c.BearerCount = 1
	}
	if c.MaxCalls == 0 {
		c.MaxCalls = 3
	}
	if c.MaxURILength == 0 {
		c.MaxURILength = 30
	}
	if c.MaxProviderNameLength == 0 {
		c.MaxProviderNameLength = 30
	}
	if c.MaxURISchemeListLength == 0 {
		c.MaxURISchemeListLength = 64
	}
	return c
}

// Server is the telephone bearer service state: the regular bearer pool, the
// aggregate bearer that mirrors it, and the shared call-index space.
//
// All call-state mutation assumes a single caller at a time; callers running
// on multiple goroutines must serialize access externally. The signal
// reporting timers are the only internal concurrency and guard themselves.
type Server struct {
	cfg       Config
	transport Transport
	cbs       *Callbacks

	insts []bearer
	gtbs  bearer

	// handles maps a transport service handle back to the owning bearer
	// index.
	handles map[uint16]uint8

	nextCallIndex uint8
	nextCCID      uint8
}

// NewServer creates an unregistered server arena. transport must not be nil.
func NewServer(cfg Config, transport Transport) *Server {
	if transport == nil {
		panic("tbs: nil transport")
	}
	s := &Server{
		cfg:       cfg.withDefaults(),
		transport: transport,
	}
	s.Reset()
	return s
}

// Reset clears all bearers and calls without unpublishing transport
// services. It is intended for tests and for reuse after all bearers have
// been unregistered.
func (s *Server) Reset() {
	for i := range s.insts {
		s.insts[i].signal.cancel()
	}
	s.gtbs.signal.cancel()
	s.insts = make([]bearer, s.cfg.BearerCount)
	for i := range s.insts {
		s.insts[i].index = uint8(i)
	}
	s.gtbs.reset()
	s.gtbs.index = GTBSIndex
	s.handles = make(map[uint16]uint8)
	s.nextCallIndex = 0
	s.nextCCID = 0
}

// SetCallbacks installs the application callback surface.
func (s *Server) SetCallbacks(cbs *Callbacks) {
	s.cbs = cbs
}

// RegisterParams describes one bearer to register.
type RegisterParams struct {
	ProviderName          string
	UCI                   string
	URISchemes            []string
	Technology            Technology
	SupportedFeatures     Feature
	AuthorizationRequired bool

	// GTBS registers the aggregate bearer. It must be registered exactly
	// once, before any regular bearer.
	GTBS bool
}

func (s *Server) validRegisterParams(p RegisterParams) bool {
	if p.ProviderName == "" || len(p.ProviderName) > s.cfg.MaxProviderNameLength {
		return false
	}
	if p.UCI == "" || len(p.URISchemes) == 0 {
		return false
	}
	if p.Technology < Technology3G || p.Technology > TechnologyWCDMA {
		return false
	}
	if p.SupportedFeatures&^FeatureAll != 0 {
		return false
	}
	return true
}

// Register publishes a bearer and returns its index (GTBSIndex for the
// aggregate bearer).
func (s *Server) Register(p RegisterParams) (uint8, error) {
	if !s.validRegisterParams(p) {
		return 0, ErrInvalidParam
	}
	if p.GTBS && s.gtbs.registered {
		return 0, ErrAlreadyRegistered
	}
	if !p.GTBS && !s.gtbs.registered {
		return 0, ErrAggregateNotRegistered
	}

	inst := &s.gtbs
	if !p.GTBS {
		inst = nil
		for i := range s.insts {
			if !s.insts[i].registered {
				inst = &s.insts[i]
				break
			}
		}
		if inst == nil {
			return 0, ErrNoFreeBearer
		}
	}

	schemeList := joinSchemes(p.URISchemes)
	if len(schemeList) > s.cfg.MaxURISchemeListLength {
		return 0, ErrValueTooLong
	}

	handle, err := s.transport.AddService(p.GTBS)
	if err != nil {
		return 0, err
	}

	inst.registered = true
	inst.handle = handle
	inst.providerName = p.ProviderName
	inst.uci = p.UCI
	inst.uriSchemeList = schemeList
	inst.technology = p.Technology
	inst.features = p.SupportedFeatures
	inst.authorizationRequired = p.AuthorizationRequired
	inst.ccid = s.nextCCID
	s.nextCCID++
	inst.calls = make([]Call, s.cfg.MaxCalls)
	inst.signal.init(s.signalReportFunc(inst))

	s.handles[handle] = inst.index

	zap.L().Debug("registered bearer",
		zap.Uint8("bearer", inst.index),
		zap.String("provider", inst.providerName),
		zap.Bool("gtbs", p.GTBS))

	return inst.index, nil
}

// Unregister withdraws a bearer and clears its state. The aggregate bearer
// can only go after every regular bearer is gone.
func (s *Server) Unregister(bearerIndex uint8) error {
	inst := s.instByIndex(bearerIndex)
	if inst == nil {
		return ErrNotRegistered
	}
	if inst.isGTBS() {
		for i := range s.insts {
			if s.insts[i].registered {
				return ErrBearersStillRegistered
			}
		}
	}

	// A firing that lost the cancellation race is suppressed by the
	// reporter's generation counter.
	reportWasPending := inst.signal.cancel()

	if err := s.transport.RemoveService(inst.handle); err != nil {
		if reportWasPending {
			inst.signal.rearm()
		}
		return err
	}

	delete(s.handles, inst.handle)
	inst.reset()
	return nil
}

func (s *Server) instByIndex(bearerIndex uint8) *bearer {
	var inst *bearer
	if bearerIndex == GTBSIndex {
		inst = &s.gtbs
	} else if int(bearerIndex) < len(s.insts) {
		inst = &s.insts[bearerIndex]
	}
	if inst == nil || !inst.registered {
		return nil
	}
	return inst
}

// ServiceHandle returns the transport handle a bearer's service was
// published under.
func (s *Server) ServiceHandle(bearerIndex uint8) (uint16, error) {
	inst := s.instByIndex(bearerIndex)
	if inst == nil {
		return 0, ErrNotRegistered
	}
	return inst.handle, nil
}

func (s *Server) instByHandle(handle uint16) *bearer {
	idx, ok := s.handles[handle]
	if !ok {
		return nil
	}
	return s.instByIndex(idx)
}

// lookupCall finds a live call anywhere. The aggregate bearer is checked
// first since it mirrors every call.
func (s *Server) lookupCall(callIndex uint8) *Call {
	if call := s.gtbs.lookupCall(callIndex); call != nil {
		return call
	}
	for i := range s.insts {
		if call := s.insts[i].lookupCall(callIndex); call != nil {
			return call
		}
	}
	return nil
}

func (s *Server) instByCallIndex(callIndex uint8) *bearer {
	if s.gtbs.lookupCall(callIndex) != nil {
		return &s.gtbs
	}
	for i := range s.insts {
		if s.insts[i].lookupCall(callIndex) != nil {
			return &s.insts[i]
		}
	}
	return nil
}

// instByURIScheme resolves the bearer whose supported-scheme list carries the
// URI's scheme, falling back to the aggregate bearer's own list.
func (s *Server) instByURIScheme(uri string) *bearer {
	scheme := uriScheme(uri)
	if scheme == "" {
		return nil
	}
	for i := range s.insts {
		if s.insts[i].registered && schemeInList(scheme, s.insts[i].uriSchemeList) {
			return &s.insts[i]
		}
	}
	if s.gtbs.registered && schemeInList(scheme, s.gtbs.uriSchemeList) {
		return &s.gtbs
	}
	return nil
}

// nextFreeCallIndex walks the shared index space from the persistent counter,
// skipping FreeCallIndex and any value a live call holds anywhere.
func (s *Server) nextFreeCallIndex() uint8 {
	for i := 0; i < 255; i++ {
		s.nextCallIndex++
		if s.nextCallIndex == FreeCallIndex {
			s.nextCallIndex = 1
		}
		if s.lookupCall(s.nextCallIndex) == nil {
			return s.nextCallIndex
		}
	}
	zap.L().Warn("call index space exhausted")
	return FreeCallIndex
}

// allocCall claims a free slot in the bearer's registry and assigns the next
// free global call index. Returns nil when either runs out.
func (s *Server) allocCall(inst *bearer, state CallState, uri string) *Call {
	slot := inst.freeSlot()
	if slot == nil {
		return nil
	}
	index := s.nextFreeCallIndex()
	if index == FreeCallIndex {
		return nil
	}
	*slot = Call{Index: index, State: state, RemoteURI: uri}
	return slot
}

func (s *Server) readBufLimit() int {
	limit := s.cfg.MaxCalls * (4 + s.cfg.MaxURILength) * (1 + len(s.insts))
	if limit < att.MaxAttributeLen {
		limit = att.MaxAttributeLen
	}
	return limit
}

// callStates serializes a bearer's call-state list. The aggregate bearer's
// list continues with every regular bearer's calls.
func (s *Server) callStates(inst *bearer) []byte {
	limit := s.readBufLimit()
	buf := appendCallStates(make([]byte, 0, limit), limit, inst)
	if inst.isGTBS() {
		for i := range s.insts {
			buf = appendCallStates(buf, limit, &s.insts[i])
		}
	}
	return buf
}

func (s *Server) currentCalls(inst *bearer) []byte {
	limit := s.readBufLimit()
	buf := appendCurrentCalls(make([]byte, 0, limit), limit, inst)
	if inst.isGTBS() {
		for i := range s.insts {
			buf = appendCurrentCalls(buf, limit, &s.insts[i])
		}
	}
	return buf
}

// uriSchemeListValue builds the URI-scheme-list attribute value. For the
// aggregate bearer the regular bearers' lists are appended.
// TODO: dedupe schemes across bearers in the aggregate value.
func (s *Server) uriSchemeListValue(inst *bearer) []byte {
	buf := append([]byte(nil), inst.uriSchemeList...)
	if inst.isGTBS() {
		for i := range s.insts {
			list := s.insts[i].uriSchemeList
			if len(buf)+len(list) > att.MaxAttributeLen {
				zap.L().Warn("aggregate URI scheme list truncated")
				break
			}
			buf = append(buf, list...)
		}
	}
	return buf
}

func (s *Server) signalReportFunc(inst *bearer) func(uint8) {
	handle := inst.handle
	return func(strength uint8) {
		if err := s.transport.Notify(handle, CharSignalStrength, []byte{strength}); err != nil {
			zap.L().Warn("signal strength notification failed", zap.Error(err))
		}
	}
}

// notifyInstCalls pushes the call lists of one bearer to its subscribed
// observers, honoring the client-config flags.
func (s *Server) notifyInstCalls(inst *bearer) error {
	if inst.notifyCallStates {
		if err := s.transport.Notify(inst.handle, CharCallState, s.callStates(inst)); err != nil {
			return err
		}
	}
	if inst.notifyCurrentCalls {
		if err := s.transport.Notify(inst.handle, CharCurrentCalls, s.currentCalls(inst)); err != nil {
			return err
		}
	}
	return nil
}

// notifyCalls pushes a bearer's call lists, then the aggregate bearer's, so a
// single aggregate subscription observes every bearer.
func (s *Server) notifyCalls(inst *bearer) {
	if err := s.notifyInstCalls(inst); err != nil {
		zap.L().Warn("call list notification failed", zap.Error(err))
	}
	if !inst.isGTBS() {
		if err := s.notifyInstCalls(&s.gtbs); err != nil {
			zap.L().Warn("aggregate call list notification failed", zap.Error(err))
		}
	}
}

func (s *Server) setTerminateReason(inst *bearer, callIndex uint8, reason TerminateReason) {
	inst.terminateReason = TerminateReasonValue{CallIndex: callIndex, Reason: reason}
	zap.L().Debug("terminate reason",
		zap.Uint8("bearer", inst.index),
		zap.Uint8("call", callIndex),
		zap.Stringer("reason", reason))
	value, _ := inst.terminateReason.Marshal()
	if err := s.transport.Notify(inst.handle, CharTerminateReason, value); err != nil {
		zap.L().Warn("terminate reason notification failed", zap.Error(err))
	}
}

// ReadAttribute serves an attribute read arriving on the transport.
func (s *Server) ReadAttribute(conn Conn, handle uint16, c Characteristic, offset int) ([]byte, error) {
	inst := s.instByHandle(handle)
	if inst == nil {
		return nil, att.ErrInvalidHandle
	}

	var value []byte
	switch c {
	case CharProviderName:
		value = []byte(inst.providerName)
	case CharUCI:
		value = []byte(inst.uci)
	case CharTechnology:
		value = []byte{byte(inst.technology)}
	case CharURISchemeList:
		value = s.uriSchemeListValue(inst)
	case CharSignalStrength:
		value = []byte{inst.signal.get()}
	case CharSignalInterval:
		value = []byte{inst.signal.getInterval()}
	case CharCurrentCalls:
		value = s.currentCalls(inst)
	case CharCCID:
		value = []byte{inst.ccid}
	case CharStatusFlags:
		value = make([]byte, 2)
		binary.LittleEndian.PutUint16(value, uint16(inst.statusFlags))
	case CharIncomingURI:
		value, _ = inst.incomingURI.Marshal()
	case CharCallState:
		value = s.callStates(inst)
	case CharOptionalOpcodes:
		value = make([]byte, 2)
		binary.LittleEndian.PutUint16(value, uint16(inst.features))
	case CharIncomingCall:
		value, _ = inst.inCall.Marshal()
	case CharFriendlyName:
		value, _ = inst.friendlyName.Marshal()
	default:
		return nil, att.ErrReadNotPermitted
	}

	if offset > len(value) {
		return nil, att.ErrInvalidOffset
	}
	return value[offset:], nil
}

// WriteAttribute serves an attribute write arriving on the transport.
func (s *Server) WriteAttribute(conn Conn, handle uint16, c Characteristic, offset int, value []byte) error {
	inst := s.instByHandle(handle)
	if inst == nil {
		return att.ErrInvalidHandle
	}

	switch c {
	case CharControlPoint:
		return s.writeControlPoint(conn, inst, offset, value)
	case CharSignalInterval:
		if !s.authorized(inst, conn) {
			return att.ErrAuthorization
		}
		if offset != 0 {
			return att.ErrInvalidOffset
		}
		if len(value) != 1 {
			return att.ErrInvalidAttributeLen
		}
		inst.signal.setInterval(value[0])
		zap.L().Debug("signal strength interval",
			zap.Uint8("bearer", inst.index),
			zap.Uint8("seconds", value[0]))
		return nil
	default:
		return att.ErrWriteNotPermitted
	}
}

// SetClientConfig tracks notification subscriptions for the call-state and
// current-calls lists. Other characteristics notify unconditionally.
func (s *Server) SetClientConfig(handle uint16, c Characteristic, notify bool) {
	inst := s.instByHandle(handle)
	if inst == nil {
		return
	}
	switch c {
	case CharCallState:
		inst.notifyCallStates = notify
	case CharCurrentCalls:
		inst.notifyCurrentCalls = notify
	}
}

func (s *Server) authorized(inst *bearer, conn Conn) bool {
	if !inst.authorizationRequired {
		return true
	}
	if s.cbs != nil && s.cbs.Authorize != nil {
		return s.cbs.Authorize(conn)
	}
	return false
}

func joinSchemes(schemes []string) string {
	return strings.Join(schemes, ",")
}

// DumpCalls logs every live call at debug level.
func (s *Server) DumpCalls() {
	dump := func(inst *bearer) {
		for i := range inst.calls {
			call := &inst.calls[i]
			if !call.live() {
				continue
			}
			zap.L().Debug("call",
				zap.Uint8("bearer", inst.index),
				zap.Uint8("index", call.Index),
				zap.Stringer("state", call.State),
				zap.Uint8("flags", uint8(call.Flags)),
				zap.String("uri", call.RemoteURI))
		}
	}
	dump(&s.gtbs)
	for i := range s.insts {
		dump(&s.insts[i])
	}
}
