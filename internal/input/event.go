// Package input turns the operator's push buttons into discrete events.
package input

import (
	"fmt"

	"github.com/dokzlo13/flickerd/internal/clock"
)

// Button names a logical operator button.
type Button int

const (
	// ButtonAdmin selects the next fixture.
	ButtonAdmin Button = iota
	// ButtonMode cycles the selected fixture's pattern.
	ButtonMode
	// ButtonColor toggles color cycling or forces white.
	ButtonColor
	// ButtonTag holds tag write mode and sets the tag override.
	ButtonTag
)

// Buttons lists every button in wiring order.
var Buttons = []Button{ButtonAdmin, ButtonMode, ButtonColor, ButtonTag}

func (b Button) String() string {
	switch b {
	case ButtonAdmin:
		return "admin"
	case ButtonMode:
		return "mode"
	case ButtonColor:
		return "color"
	case ButtonTag:
		return "tag"
	default:
		return fmt.Sprintf("button(%d)", int(b))
	}
}

// DoubleClicks reports whether the button detects double clicks. Only the
// tag button does; a quick second press on the others is another click.
func (b Button) DoubleClicks() bool {
	return b == ButtonTag
}

// ParseButton maps a config name to a Button.
func ParseButton(s string) (Button, error) {
	for _, b := range Buttons {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown button %q", s)
}

// EventType is what happened to a button.
type EventType int

const (
	Pressed EventType = iota
	Released
	Clicked
	DoubleClicked
	LongPressed
)

func (t EventType) String() string {
	switch t {
	case Pressed:
		return "pressed"
	case Released:
		return "released"
	case Clicked:
		return "clicked"
	case DoubleClicked:
		return "double_clicked"
	case LongPressed:
		return "long_pressed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one button event.
type Event struct {
	Button Button
	Type   EventType
	At     clock.Millis
}

func (e Event) String() string {
	return e.Button.String() + " " + e.Type.String()
}
