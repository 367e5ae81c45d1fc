package tbs

import (
	"sync"
	"time"
)

// bearer is one telephony bearer instance, or the aggregate (GTBS) instance.
type bearer struct {
	index      uint8 // GTBSIndex for the aggregate bearer
	handle     uint16
	registered bool

	providerName  string
	uci           string
	technology    Technology
	uriSchemeList string
	ccid          uint8
	features      Feature
	statusFlags   StatusFlags

	incomingURI     InURIValue
	friendlyName    InURIValue
	inCall          InURIValue
	terminateReason TerminateReasonValue

	calls []Call

	notifyCallStates   bool
	notifyCurrentCalls bool

	authorizationRequired bool

	signal signalReporter
}

func (b *bearer) isGTBS() bool {
	return b.index == GTBSIndex
}

// reset clears everything but the slot index. The signal reporter keeps its
// mutex; its timer must already be cancelled.
func (b *bearer) reset() {
	b.handle = 0
	b.registered = false
	b.providerName = ""
	b.uci = ""
	b.technology = 0
	b.uriSchemeList = ""
	b.ccid = 0
	b.features = 0
	b.statusFlags = 0
	b.incomingURI = InURIValue{}
	b.friendlyName = InURIValue{}
	b.inCall = InURIValue{}
	b.terminateReason = TerminateReasonValue{}
	b.calls = nil
	b.notifyCallStates = false
	b.notifyCurrentCalls = false
	b.authorizationRequired = false
}

// signalReporter rate-limits signal-strength notifications. Its timer fires
// on a separate goroutine and is the only concurrent writer in this package,
// so all of its state sits behind mu. A generation counter invalidates
// in-flight firings that lose a race with cancel or re-arm.
type signalReporter struct {
	mu       sync.Mutex
	gen      uint64
	armed    bool
	pending  bool
	strength uint8
	interval uint8 // seconds between reports; 0 disables periodic re-arm
	report   func(strength uint8)
}

func (r *signalReporter) init(report func(uint8)) {
	r.mu.Lock()
	r.gen++
	r.armed = false
	r.pending = false
	r.strength = 0
	r.interval = 0
	r.report = report
	r.mu.Unlock()
}

func (r *signalReporter) get() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strength
}

func (r *signalReporter) getInterval() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

func (r *signalReporter) setInterval(seconds uint8) {
	r.mu.Lock()
	r.interval = seconds
	r.mu.Unlock()
}

// set records a new strength. If the interval timer is idle the value is
// reported immediately and the periodic timer starts; otherwise the report
// waits for the pending firing.
func (r *signalReporter) set(strength uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.strength == strength {
		return false
	}
	r.strength = strength
	r.pending = true
	if r.armed {
		return true
	}
	r.report(strength)
	r.pending = false
	if r.interval > 0 {
		r.arm(time.Duration(r.interval) * time.Second)
	}
	return true
}

// arm starts the interval timer. Callers hold mu.
func (r *signalReporter) arm(d time.Duration) {
	r.gen++
	gen := r.gen
	r.armed = true
	time.AfterFunc(d, func() { r.fire(gen) })
}

func (r *signalReporter) fire(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		// cancelled or re-armed while this firing was in flight
		return
	}
	r.armed = false
	if !r.pending {
		return
	}
	r.report(r.strength)
	r.pending = false
	if r.interval > 0 {
		r.arm(time.Duration(r.interval) * time.Second)
	}
}

// cancel stops the timer and invalidates any in-flight firing. It reports
// whether a firing was still scheduled, so that unregistration can re-arm if
// withdrawing the service fails.
func (r *signalReporter) cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	wasArmed := r.armed
	r.gen++
	r.armed = false
	return wasArmed
}

func (r *signalReporter) rearm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interval > 0 && !r.armed {
		r.arm(time.Duration(r.interval) * time.Second)
	}
}
