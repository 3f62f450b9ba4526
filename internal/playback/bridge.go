package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultDebounce is the window after a command during which further
	// commands are dropped.
	DefaultDebounce = 300 * time.Millisecond

	// DefaultAttachTimeout bounds how long a loaded surface has to bring
	// up its side of the control channel before the session degrades.
	// Later attaches, after a timeout or a lost channel, wait for as
	// long as the session lives.
	DefaultAttachTimeout = 5 * time.Second
)

// Config holds the bridge settings. Zero values select the defaults.
type Config struct {
	Debounce      time.Duration
	AttachTimeout time.Duration

	// Clock stamps navigation times. Defaults to time.Now.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.AttachTimeout <= 0 {
		c.AttachTimeout = DefaultAttachTimeout
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}

	return c
}

// Session is a point in time view of a playback session.
type Session struct {
	State    string
	Degraded bool
	Attached bool
	NavSeq   uint64
	LastNav  time.Time

	// Injection is the last attach failure or channel loss, kept after
	// a later attach recovers.
	Injection  error
	Terminated bool
}

// Bridge drives navigation inside a mounted surface. One bridge serves one
// surface; all state changes go through the FSM under mu.
type Bridge struct {
	cfg Config

	mu        sync.Mutex
	state     State
	env       Environment
	timer     *time.Timer
	lastNav   time.Time
	injectErr error

	ready    chan struct{}
	attached chan struct{}
	done     chan struct{}
}

// NewBridge returns an unmounted bridge.
func NewBridge(cfg Config) *Bridge {
	return &Bridge{
		cfg:   cfg.withDefaults(),
		state: &StateUnmounted{},
		ready:    make(chan struct{}),
		attached: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Mount assigns markup as the surface's document and starts waiting for it
// to load. It returns once the document is assigned; Ready is closed when
// the Loading phase ends. Cancelling ctx closes the bridge.
func (b *Bridge) Mount(ctx context.Context, surface Surface,
	markup string) error {

	loadCtx, cancel := context.WithCancel(ctx)

	accepted, _ := b.dispatch(MountEvent{Surface: surface, Cancel: cancel})
	if !accepted {
		cancel()

		return ErrAlreadyMounted
	}

	if err := surface.Load(loadCtx, markup); err != nil {
		b.Close()

		return fmt.Errorf("load surface: %w", err)
	}

	log.Debugf("Surface mounted, waiting for load")

	go b.awaitLoad(loadCtx, surface)

	go func() {
		defer cancel()

		select {
		case <-ctx.Done():
			b.Close()
		case <-b.done:
		}
	}()

	return nil
}

// awaitLoad waits for the load signal, which alone makes the session
// Ready, then keeps a control channel attached while the session lives.
func (b *Bridge) awaitLoad(ctx context.Context, surface Surface) {
	select {
	case <-surface.Loaded():
	case <-ctx.Done():
		return
	}
	if ctx.Err() != nil {
		return
	}

	if accepted, _ := b.dispatch(LoadedEvent{}); !accepted {
		return
	}

	b.attachLoop(ctx, surface)
}

// attachLoop attaches the control channel, and attaches again whenever the
// surface drops it, e.g. after the document was reloaded. Only the first
// attempt is bounded by the attach timeout.
func (b *Bridge) attachLoop(ctx context.Context, surface Surface) {
	timeout := b.cfg.AttachTimeout
	for ctx.Err() == nil {
		select {
		case <-b.done:
			return
		default:
		}

		ch, err := attach(ctx, surface, timeout)
		timeout = 0

		if err != nil {
			if ctx.Err() != nil {
				return
			}

			b.dispatch(AttachedEvent{
				Err: fmt.Errorf("%w: %w", ErrBridgeInjection, err),
			})

			// Keep waiting only when the first attempt ran out
			// of time; any other failure is final.
			if !errors.Is(err, context.DeadlineExceeded) {
				return
			}

			continue
		}

		// In a closed session this detaches ch.
		b.dispatch(AttachedEvent{Channel: ch})

		select {
		case <-ch.Done():
		case <-b.done:
			return
		case <-ctx.Done():
			return
		}

		// Ignored when a failed send already reported the loss.
		b.dispatch(ChannelLostEvent{Channel: ch, Err: ErrChannelLost})

		log.Infof("Control channel of the surface is gone, waiting " +
			"for it to attach again")
	}
}

// attach runs one attach attempt, bounded by timeout when it is positive.
func attach(ctx context.Context, surface Surface,
	timeout time.Duration) (ControlChannel, error) {

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return surface.Attach(ctx)
}

// SendCommand asks the surface to move one slide in dir. It reports whether
// the command was dispatched. Commands outside a non-degraded Ready state
// are dropped, never queued.
func (b *Bridge) SendCommand(dir Direction) bool {
	accepted, err := b.dispatch(NavigateEvent{Direction: dir})
	if !accepted {
		return false
	}

	return err == nil
}

// Close ends the session. It is idempotent.
func (b *Bridge) Close() {
	b.dispatch(CloseEvent{})
}

// State returns the name of the current state.
func (b *Bridge) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state.String()
}

// Degraded reports whether the surface is shown without navigation.
func (b *Bridge) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ready, ok := b.state.(*StateReady)

	return ok && ready.Degraded()
}

// Ready is closed when the Loading phase ends, by load or by close.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Attached is closed when the first attach attempt ends, by attaching, by
// degrading or by close.
func (b *Bridge) Attached() <-chan struct{} {
	return b.attached
}

// Done is closed once the bridge is Closed.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Session returns a snapshot of the session.
func (b *Bridge) Session() Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	ready, ok := b.state.(*StateReady)
	_, navigating := b.state.(*StateNavigating)

	return Session{
		State:      b.state.String(),
		Degraded:   ok && ready.Degraded(),
		Attached:   navigating || (ok && ready.Attached()),
		NavSeq:     b.env.NavSeq,
		LastNav:    b.lastNav,
		Injection:  b.injectErr,
		Terminated: b.state.IsTerminal(),
	}
}

// dispatch runs event through the FSM. It reports whether the event was
// accepted, and the first send error of the resulting effects.
func (b *Bridge) dispatch(event Event) (bool, error) {
	b.mu.Lock()

	trans, err := b.state.ProcessEvent(event, &b.env)
	if err != nil {
		state := b.state
		b.mu.Unlock()

		if errors.Is(err, errEventIgnored) {
			log.Debugf("Ignoring %T in state %v", event, state)
		}

		return false, nil
	}

	prev := b.state
	b.state = trans.NextState
	outbox := b.applyLocked(trans.Effects)

	b.mu.Unlock()

	if prev != trans.NextState {
		log.Tracef("Playback %v -> %v", prev, trans.NextState)
	}

	return true, b.runEffects(outbox)
}

// applyLocked runs the timer and signal effects and returns the I/O effects
// that must run outside the lock.
func (b *Bridge) applyLocked(effects []Effect) []Effect {
	var outbox []Effect
	for _, effect := range effects {
		switch e := effect.(type) {
		case ArmDebounce:
			b.stopTimerLocked()
			b.lastNav = b.cfg.Clock()

			seq := e.Seq
			b.timer = time.AfterFunc(b.cfg.Debounce, func() {
				b.dispatch(SettleEvent{Seq: seq})
			})

		case StopDebounce:
			b.stopTimerLocked()

		case SignalReady:
			closeSignal(b.ready)

		case SignalAttached:
			closeSignal(b.attached)

		case SignalDone:
			closeSignal(b.done)

		case ReportInjectionFailure:
			log.Warnf("Navigation disabled: %v", e.Err)
			b.injectErr = e.Err

		default:
			outbox = append(outbox, effect)
		}
	}

	return outbox
}

func (b *Bridge) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// runEffects performs the I/O effects of a transition.
func (b *Bridge) runEffects(effects []Effect) error {
	var sendErr error
	for _, effect := range effects {
		switch e := effect.(type) {
		case SendCommand:
			err := e.Channel.Send(e.Command)
			if err == nil {
				log.Tracef("Sent %v command", e.Command.Direction)
				continue
			}

			log.Warnf("Control channel send failed, navigation "+
				"disabled: %v", err)

			sendErr = err
			b.dispatch(ChannelLostEvent{Channel: e.Channel, Err: err})

		case DetachChannel:
			if err := e.Channel.Close(); err != nil {
				log.Debugf("Detach control channel: %v", err)
			}

		case ReleaseSurface:
			if err := e.Surface.Release(); err != nil {
				log.Warnf("Release surface: %v", err)
			}

		case CancelLoad:
			if e.Cancel != nil {
				e.Cancel()
			}
		}
	}

	return sendErr
}

func closeSignal(c chan struct{}) {
	select {
	case <-c:
	default:
		close(c)
	}
}
