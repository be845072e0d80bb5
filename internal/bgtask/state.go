package bgtask

// State is where the task file currently lives.
type State int

const (
	StateMissing State = iota
	StateActive
	StateDormant
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "enabled"
	case StateDormant:
		return "disabled"
	default:
		return "missing"
	}
}

// Toggle is the outcome of Enable or Disable.
type Toggle int

const (
	ToggleMissing Toggle = iota
	ToggleEnabled
	ToggleAlreadyEnabled
	ToggleDisabled
	ToggleAlreadyDisabled
)

func (t Toggle) String() string {
	switch t {
	case ToggleEnabled:
		return "enabled"
	case ToggleAlreadyEnabled:
		return "already_enabled"
	case ToggleDisabled:
		return "disabled"
	case ToggleAlreadyDisabled:
		return "already_disabled"
	default:
		return "missing"
	}
}

// Message is the spoken form, without title or punctuation.
func (t Toggle) Message() string {
	switch t {
	case ToggleEnabled:
		return "Background tasks have been enabled"
	case ToggleAlreadyEnabled:
		return "Background tasks were never disabled"
	case ToggleDisabled:
		return "Background tasks have been disabled"
	case ToggleAlreadyDisabled:
		return "Background tasks are already disabled"
	default:
		return "I couldn't find the background tasks file"
	}
}
