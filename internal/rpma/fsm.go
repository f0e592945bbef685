package rpma

// This file implements the Connection lifecycle state machine. As in a BFD
// session's reception FSM, it is a pure function over a transition table:
// no side effects, no Connection dependency, trivially testable.
//
// State diagram:
//
//	Established --local disconnect--> CloseInitiatedLocal --remote ack--> Closed
//	Established --remote disconnect-> CloseInitiatedRemote --local ack--> Closed
//	(any non-terminal state) --device loss / unreachable / connect error--> Lost

// ConnState is a Connection's lifecycle state.
type ConnState uint8

const (
	StateEstablished ConnState = iota
	StateCloseInitiatedLocal
	StateCloseInitiatedRemote
	StateClosed
	StateLost
)

// String returns the human-readable name of the state.
func (s ConnState) String() string {
	switch s {
	case StateEstablished:
		return "Established"
	case StateCloseInitiatedLocal:
		return "CloseInitiatedLocal"
	case StateCloseInitiatedRemote:
		return "CloseInitiatedRemote"
	case StateClosed:
		return "Closed"
	case StateLost:
		return "Lost"
	default:
		return "Unknown"
	}
}

// connEvent is the internal event vocabulary the FSM reacts to, derived
// from either a local API call or a translated CMEvent.
type connEvent uint8

const (
	evLocalDisconnect connEvent = iota
	evRemoteDisconnect
	evAbnormalLoss
)

// connStateEvent is the FSM transition table key.
type connStateEvent struct {
	state ConnState
	event connEvent
}

// connTransition describes the target state for a single FSM transition.
type connTransition struct {
	newState ConnState
}

// connFSMTable is the complete Connection lifecycle transition table. Any
// (state, event) pair not listed here leaves the state unchanged: a
// duplicate or late-arriving event is swallowed rather than surfaced.
var connFSMTable = map[connStateEvent]connTransition{
	{StateEstablished, evLocalDisconnect}:          {StateCloseInitiatedLocal},
	{StateEstablished, evRemoteDisconnect}:          {StateCloseInitiatedRemote},
	{StateCloseInitiatedLocal, evRemoteDisconnect}:  {StateClosed},
	{StateCloseInitiatedRemote, evLocalDisconnect}:  {StateClosed},
}

// applyConnEvent applies event to state and returns the resulting state.
// evAbnormalLoss always forces Lost regardless of the current state, except
// once a terminal state (Closed/Lost) has already been reached, in which
// case it is ignored.
func applyConnEvent(state ConnState, event connEvent) ConnState {
	if state == StateClosed || state == StateLost {
		return state
	}
	if event == evAbnormalLoss {
		return StateLost
	}
	tr, ok := connFSMTable[connStateEvent{state, event}]
	if !ok {
		return state
	}
	return tr.newState
}

// cmEventToConnEvent maps a provider CMEvent observed after Established into
// the FSM's event vocabulary. Events with no defined mapping (e.g. a stray
// duplicate ESTABLISHED) return ok=false and are discarded by the caller.
func cmEventToConnEvent(t CMEventType) (connEvent, bool) {
	switch t {
	case CMEventDisconnected:
		return evRemoteDisconnect, true
	case CMEventUnreachable, CMEventDeviceRemoval, CMEventConnectError:
		return evAbnormalLoss, true
	default:
		return 0, false
	}
}
