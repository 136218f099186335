package flicker

import "fmt"

// Pattern is a named step sequence. Each step is a letter: 'a'..'z' is a hard
// step, 'A'..'Z' a soft step, both mapping to levels 0..25.
type Pattern struct {
	Name  string
	Steps string
	// Jitter allows strip fixtures to randomize hue a little on every frame.
	Jitter bool
}

// Quake style light styles.
var builtin = []Pattern{
	{Name: "off", Steps: "a"},
	{Name: "on", Steps: "z"},
	{Name: "pulse", Steps: "HIJKLMNOPQRSTUVWXYZYXWVUTSRQPONMLKJIH"},
	{Name: "flicker", Steps: "MMNMMOMMOMMNONMMONQNMMO"},
	{Name: "slow_strobe", Steps: "aaaaaaaazzzzzzzz"},
	{Name: "fluorescent", Steps: "zzazazzzzazzazazaaazazzza"},
}

func init() {
	for i, p := range builtin {
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("flicker: builtin pattern %d: %v", i, err))
		}
	}
}

// Patterns returns a copy of the built-in pattern table.
func Patterns() []Pattern {
	out := make([]Pattern, len(builtin))
	copy(out, builtin)
	return out
}

// Count is the number of built-in patterns.
func Count() int {
	return len(builtin)
}

// Lookup returns the pattern for id.
func Lookup(id int) (Pattern, bool) {
	if id < 0 || id >= len(builtin) {
		return Pattern{}, false
	}
	return builtin[id], true
}

// Validate checks that every step is a letter.
func (p Pattern) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("pattern %q has no steps", p.Name)
	}
	for i := 0; i < len(p.Steps); i++ {
		c := p.Steps[i]
		if !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') {
			return fmt.Errorf("pattern %q: invalid step %q at %d", p.Name, c, i)
		}
	}
	return nil
}

// Binary reports whether every step is hard and fully off or fully on. Only
// binary patterns are distinguishable on an on/off channel.
func (p Pattern) Binary() bool {
	for i := 0; i < len(p.Steps); i++ {
		if c := p.Steps[i]; c != 'a' && c != 'z' {
			return false
		}
	}
	return true
}

// step decodes one step letter into its 0..255 level and softness.
func step(c byte) (level uint8, soft bool) {
	if c < 'a' {
		soft = true
		c += 'a' - 'A'
	}
	return uint8(int(c-'a') * 255 / 25), soft
}
