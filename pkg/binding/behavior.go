package binding

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Behavior is the telemetry source a motor follows.
type Behavior int

const (
	None Behavior = iota
	Health
	Combo
	Accuracy
	Hit
)

var behaviorNames = [...]string{
	None:     "none",
	Health:   "health",
	Combo:    "combo",
	Accuracy: "accuracy",
	Hit:      "hit",
}

// Behaviors lists every behavior in display order.
func Behaviors() []Behavior {
	return []Behavior{None, Health, Combo, Accuracy, Hit}
}

func (b Behavior) String() string {
	if b < 0 || int(b) >= len(behaviorNames) {
		return fmt.Sprintf("behavior(%d)", int(b))
	}
	return behaviorNames[b]
}

// ParseBehavior parses a behavior name, case-insensitively. The empty string
// means None.
func ParseBehavior(s string) (Behavior, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return None, nil
	}
	for i, name := range behaviorNames {
		if name == s {
			return Behavior(i), nil
		}
	}
	return None, fmt.Errorf("binding: unknown behavior %q", s)
}

func (b Behavior) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Behavior) UnmarshalText(text []byte) error {
	v, err := ParseBehavior(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b Behavior) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b *Behavior) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return b.UnmarshalText([]byte(s))
}
