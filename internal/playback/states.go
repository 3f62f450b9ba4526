package playback

import (
	"context"
	"fmt"
)

// State is the sealed interface for all playback states. Each state handles
// incoming events and returns the next state plus the effects the bridge
// must run.
type State interface {
	// ProcessEvent handles an incoming event. Events that are not valid
	// in the state return errEventIgnored.
	ProcessEvent(event Event, env *Environment) (*Transition, error)

	// IsTerminal returns true if this is a terminal state.
	IsTerminal() bool

	// String returns a human-readable name for the state.
	String() string

	// isPlaybackState seals the interface.
	isPlaybackState()
}

// Transition represents the result of processing an event.
type Transition struct {
	NextState State
	Effects   []Effect
}

// Environment is the per session data shared by all states. It is only
// touched under the bridge lock.
type Environment struct {
	// Surface is the mounted surface, nil before Mount.
	Surface Surface

	// NavSeq numbers accepted navigation commands.
	NavSeq uint64
}

// Event triggers state transitions.
type Event interface {
	playbackEventMarker()
}

// Event types for the playback FSM.
type (
	// MountEvent is sent when a surface is mounted.
	MountEvent struct {
		Surface Surface
		Cancel  context.CancelFunc
	}

	// LoadedEvent is sent when the surface signals that its document
	// has loaded.
	LoadedEvent struct{}

	// AttachedEvent is sent when an attach attempt ends. Err is set on
	// injection failure, in which case Channel is nil.
	AttachedEvent struct {
		Channel ControlChannel
		Err     error
	}

	// NavigateEvent is sent for every navigation request.
	NavigateEvent struct {
		Direction Direction
	}

	// SettleEvent is sent when the debounce window of command Seq ends.
	SettleEvent struct {
		Seq uint64
	}

	// ChannelLostEvent is sent when a send on the control channel fails
	// or the surface drops its side of it.
	ChannelLostEvent struct {
		Channel ControlChannel
		Err     error
	}

	// CloseEvent is sent to end the session.
	CloseEvent struct{}
)

// Event marker implementations.
func (MountEvent) playbackEventMarker()       {}
func (LoadedEvent) playbackEventMarker()      {}
func (AttachedEvent) playbackEventMarker()    {}
func (NavigateEvent) playbackEventMarker()    {}
func (SettleEvent) playbackEventMarker()      {}
func (ChannelLostEvent) playbackEventMarker() {}
func (CloseEvent) playbackEventMarker()       {}

// Effect is a side effect requested by a transition.
type Effect interface {
	playbackEffectMarker()
}

// Effects. Timer and signal effects run under the bridge lock; I/O effects
// run after it is released.
type (
	// SendCommand delivers a command on the channel.
	SendCommand struct {
		Channel ControlChannel
		Command Command
	}

	// ArmDebounce starts the debounce timer for command Seq.
	ArmDebounce struct {
		Seq uint64
	}

	// StopDebounce stops a pending debounce timer.
	StopDebounce struct{}

	// DetachChannel closes the control channel.
	DetachChannel struct {
		Channel ControlChannel
	}

	// ReleaseSurface releases the surface.
	ReleaseSurface struct {
		Surface Surface
	}

	// CancelLoad abandons a pending load wait.
	CancelLoad struct {
		Cancel context.CancelFunc
	}

	// SignalReady marks the end of the Loading phase.
	SignalReady struct{}

	// SignalAttached marks the end of the first attach attempt.
	SignalAttached struct{}

	// SignalDone marks the session closed.
	SignalDone struct{}

	// ReportInjectionFailure records a degraded mount.
	ReportInjectionFailure struct {
		Err error
	}
)

// Effect marker implementations.
func (SendCommand) playbackEffectMarker()            {}
func (ArmDebounce) playbackEffectMarker()            {}
func (StopDebounce) playbackEffectMarker()           {}
func (DetachChannel) playbackEffectMarker()          {}
func (ReleaseSurface) playbackEffectMarker()         {}
func (CancelLoad) playbackEffectMarker()             {}
func (SignalReady) playbackEffectMarker()            {}
func (SignalAttached) playbackEffectMarker()         {}
func (SignalDone) playbackEffectMarker()             {}
func (ReportInjectionFailure) playbackEffectMarker() {}

// Compile-time verification that all concrete states implement State.
var (
	_ State = (*StateUnmounted)(nil)
	_ State = (*StateLoading)(nil)
	_ State = (*StateReady)(nil)
	_ State = (*StateNavigating)(nil)
	_ State = (*StateClosed)(nil)
)

// ignored returns the error for an event the state does not accept.
func ignored(event Event, state State) error {
	return fmt.Errorf("%w: %T in state %v", errEventIgnored, event, state)
}

// detachSurplus keeps state as is and detaches a channel that arrived when
// one is already attached, or after the session ended.
func detachSurplus(state State, event Event) (*Transition, error) {
	e, ok := event.(AttachedEvent)
	if !ok || e.Channel == nil {
		return nil, ignored(event, state)
	}

	return &Transition{
		NextState: state,
		Effects:   []Effect{DetachChannel{Channel: e.Channel}},
	}, nil
}

// closeEffects returns the teardown of a mounted session.
func closeEffects(env *Environment, ch ControlChannel) []Effect {
	effects := []Effect{StopDebounce{}, SignalAttached{}}
	if ch != nil {
		effects = append(effects, DetachChannel{Channel: ch})
	}
	if env.Surface != nil {
		effects = append(effects, ReleaseSurface{Surface: env.Surface})
	}

	return append(effects, SignalDone{})
}

// =============================================================================
// StateUnmounted: no surface yet.
// =============================================================================

// StateUnmounted is the initial state.
type StateUnmounted struct{}

// ProcessEvent handles events in the Unmounted state.
func (s *StateUnmounted) ProcessEvent(event Event,
	env *Environment) (*Transition, error) {

	switch e := event.(type) {
	case MountEvent:
		env.Surface = e.Surface

		return &Transition{
			NextState: &StateLoading{cancel: e.Cancel},
		}, nil

	case CloseEvent:
		return &Transition{
			NextState: &StateClosed{},
			Effects: []Effect{
				SignalReady{}, SignalAttached{}, SignalDone{},
			},
		}, nil

	default:
		return nil, ignored(event, s)
	}
}

func (s *StateUnmounted) IsTerminal() bool { return false }
func (s *StateUnmounted) String() string   { return "unmounted" }
func (s *StateUnmounted) isPlaybackState() {}

// =============================================================================
// StateLoading: document assigned, waiting for the load signal.
// =============================================================================

// StateLoading waits for the surface's load signal. Navigation is gated
// off.
type StateLoading struct {
	cancel context.CancelFunc
}

// ProcessEvent handles events in the Loading state.
func (s *StateLoading) ProcessEvent(event Event,
	env *Environment) (*Transition, error) {

	switch event.(type) {
	case LoadedEvent:
		// The load signal alone makes the session Ready. Navigation
		// stays off until a channel attaches.
		return &Transition{
			NextState: &StateReady{},
			Effects:   []Effect{SignalReady{}},
		}, nil

	case CloseEvent:
		effects := []Effect{CancelLoad{Cancel: s.cancel}, SignalReady{}}

		return &Transition{
			NextState: &StateClosed{},
			Effects:   append(effects, closeEffects(env, nil)...),
		}, nil

	default:
		return nil, ignored(event, s)
	}
}

func (s *StateLoading) IsTerminal() bool { return false }
func (s *StateLoading) String() string   { return "loading" }
func (s *StateLoading) isPlaybackState() {}

// =============================================================================
// StateReady: loaded, accepting one command.
// =============================================================================

// StateReady accepts navigation once a channel is attached. Without one it
// is either still attaching or degraded.
type StateReady struct {
	channel  ControlChannel
	degraded bool
}

// ProcessEvent handles events in the Ready state.
func (s *StateReady) ProcessEvent(event Event,
	env *Environment) (*Transition, error) {

	switch e := event.(type) {
	case NavigateEvent:
		if s.channel == nil || !e.Direction.Valid() {
			return nil, ignored(event, s)
		}

		env.NavSeq++

		return &Transition{
			NextState: &StateNavigating{
				channel: s.channel,
				seq:     env.NavSeq,
			},
			Effects: []Effect{
				ArmDebounce{Seq: env.NavSeq},
				SendCommand{
					Channel: s.channel,
					Command: Navigate(e.Direction),
				},
			},
		}, nil

	case AttachedEvent:
		switch {
		case s.channel != nil:
			return detachSurplus(s, event)

		case e.Channel != nil:
			return &Transition{
				NextState: &StateReady{channel: e.Channel},
				Effects:   []Effect{SignalAttached{}},
			}, nil

		case e.Err != nil && !s.degraded:
			return &Transition{
				NextState: &StateReady{degraded: true},
				Effects: []Effect{
					SignalAttached{},
					ReportInjectionFailure{Err: e.Err},
				},
			}, nil
		}

		return nil, ignored(event, s)

	case ChannelLostEvent:
		if s.channel == nil || e.Channel != s.channel {
			return nil, ignored(event, s)
		}

		return &Transition{
			NextState: &StateReady{degraded: true},
			Effects: []Effect{
				DetachChannel{Channel: s.channel},
				ReportInjectionFailure{Err: e.Err},
			},
		}, nil

	case CloseEvent:
		return &Transition{
			NextState: &StateClosed{},
			Effects:   closeEffects(env, s.channel),
		}, nil

	default:
		return nil, ignored(event, s)
	}
}

func (s *StateReady) IsTerminal() bool { return false }

func (s *StateReady) String() string {
	if s.degraded {
		return "ready(degraded)"
	}

	return "ready"
}

func (s *StateReady) isPlaybackState() {}

// Degraded reports whether attaching failed or the channel was lost.
func (s *StateReady) Degraded() bool { return s.degraded }

// Attached reports whether a control channel is attached.
func (s *StateReady) Attached() bool { return s.channel != nil }

// =============================================================================
// StateNavigating: one command in flight, debounce window open.
// =============================================================================

// StateNavigating holds the single in-flight command until its debounce
// window ends.
type StateNavigating struct {
	channel ControlChannel
	seq     uint64
}

// ProcessEvent handles events in the Navigating state.
func (s *StateNavigating) ProcessEvent(event Event,
	env *Environment) (*Transition, error) {

	switch e := event.(type) {
	case SettleEvent:
		if e.Seq != s.seq {
			return nil, ignored(event, s)
		}

		return &Transition{
			NextState: &StateReady{channel: s.channel},
		}, nil

	case ChannelLostEvent:
		if e.Channel != s.channel {
			return nil, ignored(event, s)
		}

		return &Transition{
			NextState: &StateReady{degraded: true},
			Effects: []Effect{
				StopDebounce{},
				DetachChannel{Channel: s.channel},
				ReportInjectionFailure{Err: e.Err},
			},
		}, nil

	case CloseEvent:
		return &Transition{
			NextState: &StateClosed{},
			Effects:   closeEffects(env, s.channel),
		}, nil

	default:
		return detachSurplus(s, event)
	}
}

func (s *StateNavigating) IsTerminal() bool { return false }
func (s *StateNavigating) String() string   { return "navigating" }
func (s *StateNavigating) isPlaybackState() {}

// =============================================================================
// StateClosed: terminal.
// =============================================================================

// StateClosed is terminal. Every event is ignored, except that a channel
// attached after the close is detached at once.
type StateClosed struct{}

// ProcessEvent handles events in the Closed state.
func (s *StateClosed) ProcessEvent(event Event,
	_ *Environment) (*Transition, error) {

	return detachSurplus(s, event)
}

func (s *StateClosed) IsTerminal() bool { return true }
func (s *StateClosed) String() string   { return "closed" }
func (s *StateClosed) isPlaybackState() {}
