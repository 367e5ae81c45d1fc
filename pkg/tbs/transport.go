package tbs

// Conn identifies the remote client an attribute operation arrived on.
type Conn string

// LocalConn marks a locally originated (application-triggered) operation.
// Local operations are never acknowledged through the control point.
const LocalConn Conn = ""

// Characteristic names one attribute of a bearer's service.
type Characteristic uint8

const (
	CharProviderName Characteristic = iota
	CharUCI
	CharTechnology
	CharURISchemeList
	CharSignalStrength
	CharSignalInterval
	CharCurrentCalls
	CharCCID
	CharStatusFlags
	CharIncomingURI
	CharCallState
	CharControlPoint
	CharOptionalOpcodes
	CharTerminateReason
	CharIncomingCall
	CharFriendlyName
)

// Transport publishes bearer services on an attribute server and pushes
// characteristic values to subscribed clients. Reads and writes flow the
// other way: the transport invokes Server.ReadAttribute, Server.WriteAttribute
// and Server.SetClientConfig with the handle AddService returned.
type Transport interface {
	// AddService publishes a bearer (or aggregate bearer) service and
	// returns the handle identifying it in later calls.
	AddService(gtbs bool) (uint16, error)

	// RemoveService withdraws a previously published service.
	RemoveService(handle uint16) error

	// Notify pushes a new characteristic value to every subscribed client.
	Notify(handle uint16, c Characteristic, value []byte) error

	// NotifyConn pushes a value to a single client.
	NotifyConn(conn Conn, handle uint16, c Characteristic, value []byte) error
}

// Callbacks is the application capability surface, invoked after successful
// control-point commands. Every field is optional.
type Callbacks struct {
	// Authorize gates control-point and signal-interval writes on bearers
	// registered with AuthorizationRequired. A nil callback denies.
	Authorize func(conn Conn) bool

	Accept    func(conn Conn, callIndex uint8)
	Terminate func(conn Conn, callIndex uint8, reason TerminateReason)
	Hold      func(conn Conn, callIndex uint8)
	Retrieve  func(conn Conn, callIndex uint8)
	Join      func(conn Conn, callIndexes []uint8)

	// Originate reports a remotely requested outgoing call. The return
	// value states whether the remote party is being alerted; returning
	// false terminates the call with ReasonCallFailed.
	Originate func(conn Conn, callIndex uint8, uri string) bool
}
