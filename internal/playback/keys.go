package playback

// Action is what a key press asks the bridge to do.
type Action int

const (
	// ActionNone means the key is not bound.
	ActionNone Action = iota

	// ActionPrevious moves one slide back.
	ActionPrevious

	// ActionNext moves one slide forward.
	ActionNext

	// ActionClose ends playback.
	ActionClose
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionPrevious:
		return "previous"
	case ActionNext:
		return "next"
	case ActionClose:
		return "close"
	default:
		return "none"
	}
}

// keymap binds key names, as reported by KeyboardEvent.key, to actions.
var keymap = map[string]Action{
	"ArrowLeft":  ActionPrevious,
	"PageUp":     ActionPrevious,
	"h":          ActionPrevious,
	"k":          ActionPrevious,
	"p":          ActionPrevious,
	"ArrowRight": ActionNext,
	"PageDown":   ActionNext,
	" ":          ActionNext,
	"l":          ActionNext,
	"j":          ActionNext,
	"n":          ActionNext,
	"Escape":     ActionClose,
	"q":          ActionClose,
}

// ActionForKey returns the action bound to key.
func ActionForKey(key string) Action {
	return keymap[key]
}

// HandleKey forwards a key press. It reports whether the key did anything:
// a close always does, a navigation key only if its command was dispatched.
func (b *Bridge) HandleKey(key string) bool {
	switch ActionForKey(key) {
	case ActionPrevious:
		return b.SendCommand(DirectionPrevious)

	case ActionNext:
		return b.SendCommand(DirectionNext)

	case ActionClose:
		b.Close()
		return true

	default:
		return false
	}
}
