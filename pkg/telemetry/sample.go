// Package telemetry defines the play-state samples pushed by the host
// application and the bus that fans them out to consumers.
package telemetry

import (
	"fmt"
	"time"
)

// Kind identifies what a sample measures.
type Kind string

const (
	Health        Kind = "health"         // Value in [0,1].
	Combo         Kind = "combo"          // Value is a non-negative count.
	Accuracy      Kind = "accuracy"       // Value in [0,1].
	PlayState     Kind = "play_state"     // Value 1 while playing, 0 otherwise.
	Hit           Kind = "hit"            // Value is the judgement weight in [0,1].
	BeatmapLoaded Kind = "beatmap_loaded" // Value is the hit-object count.
)

var kinds = map[Kind]struct{}{
	Health:        {},
	Combo:         {},
	Accuracy:      {},
	PlayState:     {},
	Hit:           {},
	BeatmapLoaded: {},
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// UnmarshalText rejects unknown kinds.
func (k *Kind) UnmarshalText(text []byte) error {
	v := Kind(text)
	if !v.Valid() {
		return fmt.Errorf("telemetry: unknown kind %q", text)
	}
	*k = v
	return nil
}

// Sample is one telemetry reading.
type Sample struct {
	Kind  Kind      `json:"kind"`
	Value float64   `json:"value"`
	Seq   uint64    `json:"seq,omitempty"`
	Time  time.Time `json:"time,omitzero"`
}

// Playing is a convenience for PlayState samples.
func Playing(playing bool) Sample {
	v := 0.0
	if playing {
		v = 1
	}
	return Sample{Kind: PlayState, Value: v}
}
