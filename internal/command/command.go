// Package command turns raw input events into key commands.
package command

import (
	"strconv"

	evdev "github.com/holoplot/go-evdev"
	"github.com/neuroplastio/neio-remote/internal/inputdev"
)

type Phase string

const (
	PhaseDown    Phase = "down"
	PhaseUp      Phase = "up"
	PhaseHold    Phase = "hold"
	PhaseUnknown Phase = "unknown"
)

// UnknownKey is the name reported for key codes the kernel has no name for.
const UnknownKey = "KEY_UNKNOWN"

// Command is a single key interaction.
type Command struct {
	KeyName string `json:"cmd"`
	Phase   Phase  `json:"cmd_type"`
	KeyCode string `json:"cmd_num"`
}

// Known reports whether both the key and the phase were recognized.
func (c Command) Known() bool {
	return c.KeyName != UnknownKey && c.Phase != PhaseUnknown
}

// Classify maps a raw event to a Command. Non-key events yield false.
func Classify(ev inputdev.Event) (Command, bool) {
	if ev.Type != evdev.EV_KEY {
		return Command{}, false
	}
	return Command{
		KeyName: KeyName(ev.Code),
		Phase:   PhaseOf(ev.Value),
		KeyCode: strconv.Itoa(int(ev.Code)),
	}, true
}

// PhaseOf maps an EV_KEY value to a phase.
func PhaseOf(value int32) Phase {
	switch value {
	case 0:
		return PhaseUp
	case 1:
		return PhaseDown
	case 2:
		return PhaseHold
	default:
		return PhaseUnknown
	}
}

// KeyName returns the kernel name of a key code, or UnknownKey.
func KeyName(code evdev.EvCode) string {
	if name, ok := evdev.KEYToString[code]; ok {
		return name
	}
	return UnknownKey
}
