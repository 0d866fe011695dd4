// Package binding maps telemetry samples to motor speeds. Each of the four
// motor slots follows one telemetry source; the engine computes a speed per
// matching slot and hands it to a Commander, and stops everything when play
// ends.
package binding

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/germanamz/toybridge/pkg/dispatch"
	"github.com/germanamz/toybridge/pkg/telemetry"
)

// MotorCount is the number of motor slots.
const MotorCount = 4

// MotorBinding configures one motor slot. The slot's position in
// Settings.Motors is its motor index.
type MotorBinding struct {
	Behavior Behavior `yaml:"behavior"`
	Invert   bool     `yaml:"invert"`
}

// Settings is the per-session binding configuration. It is replaced
// wholesale, never mutated in place.
type Settings struct {
	Motors      [MotorCount]MotorBinding
	SpeedCap    float64 // Upper bound for every computed speed, in [0,1].
	ComboFactor float64 // Scales combo/maxCombo, in [0,1].
}

// DefaultSettings binds motor 0 to health and motor 1 to combo.
func DefaultSettings() Settings {
	return Settings{
		Motors: [MotorCount]MotorBinding{
			{Behavior: Health},
			{Behavior: Combo},
		},
		SpeedCap:    1.0,
		ComboFactor: 0.3,
	}
}

// Validate checks ranges.
func (s Settings) Validate() error {
	if math.IsNaN(s.SpeedCap) || s.SpeedCap < 0 || s.SpeedCap > 1 {
		return fmt.Errorf("binding: speed cap %v outside [0,1]", s.SpeedCap)
	}
	if math.IsNaN(s.ComboFactor) || s.ComboFactor < 0 || s.ComboFactor > 1 {
		return fmt.Errorf("binding: combo factor %v outside [0,1]", s.ComboFactor)
	}
	for i, m := range s.Motors {
		if m.Behavior < None || m.Behavior > Hit {
			return fmt.Errorf("binding: motor %d: invalid behavior %s", i, m.Behavior)
		}
	}
	return nil
}

var sources = map[Behavior]telemetry.Kind{
	Health:   telemetry.Health,
	Combo:    telemetry.Combo,
	Accuracy: telemetry.Accuracy,
	Hit:      telemetry.Hit,
}

// Speed computes the speed a binding asks for in response to sample. ok is
// false when the binding does not follow the sample's kind.
//
//	health    cap * (1 - h^4)
//	combo     cap * clamp(combo / maxCombo * factor, 0, 1), 0 when maxCombo is 0
//	accuracy  cap * accuracy
//	hit       cap * weight
//
// Invert maps the result s to 1 - s. The result is always within [0,1].
func Speed(s Settings, b MotorBinding, sample telemetry.Sample, maxCombo int) (speed float64, ok bool) {
	kind, follows := sources[b.Behavior]
	if !follows || kind != sample.Kind {
		return 0, false
	}

	v := sample.Value
	switch b.Behavior {
	case Health:
		speed = s.SpeedCap * (1 - math.Pow(dispatch.Clamp(v), 4))
	case Combo:
		if maxCombo > 0 {
			speed = s.SpeedCap * dispatch.Clamp(v/float64(maxCombo)*s.ComboFactor)
		}
	case Accuracy, Hit:
		speed = s.SpeedCap * v
	}

	if b.Invert {
		speed = 1 - speed
	}

	return dispatch.Clamp(speed), true
}

// Commander receives the engine's output.
type Commander interface {
	Dispatch(motor int, speed float64) int
	StopAll()
}

// Engine applies Settings to incoming telemetry. It is safe for concurrent
// use, though samples are expected from a single producer.
type Engine struct {
	out      Commander
	log      *slog.Logger
	settings atomic.Pointer[Settings]

	mu       sync.Mutex
	playing  bool
	maxCombo int
	speeds   [MotorCount]float64
}

// NewEngine creates an engine that starts out not playing.
func NewEngine(out Commander, s Settings, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{out: out, log: log}
	e.settings.Store(&s)

	return e
}

// Settings returns the active settings.
func (e *Engine) Settings() Settings { return *e.settings.Load() }

// SetSettings swaps in new settings for subsequent samples.
func (e *Engine) SetSettings(s Settings) {
	e.settings.Store(&s)
	e.log.Debug("binding: settings replaced", "speed_cap", s.SpeedCap, "combo_factor", s.ComboFactor)
}

// SetMaxCombo sets the combo normalization denominator, normally the
// hit-object count of the loaded beatmap.
func (e *Engine) SetMaxCombo(n int) {
	if n < 0 {
		n = 0
	}

	e.mu.Lock()
	e.maxCombo = n
	e.mu.Unlock()

	e.log.Debug("binding: max combo set", "max_combo", n)
}

// MaxCombo returns the combo normalization denominator.
func (e *Engine) MaxCombo() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxCombo
}

// Playing reports whether telemetry is currently being applied.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Speeds returns the last speed sent to each motor.
func (e *Engine) Speeds() [MotorCount]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speeds
}

// OnPlayStateChanged gates telemetry. Leaving play issues a single stop-all.
func (e *Engine) OnPlayStateChanged(playing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.playing == playing {
		return
	}
	e.playing = playing

	if playing {
		e.log.Info("binding: play started")
		return
	}

	e.speeds = [MotorCount]float64{}
	e.out.StopAll()
	e.log.Info("binding: play ended, stopping all devices")
}

// OnTelemetry dispatches a speed for every motor bound to the sample's kind.
// Samples are ignored while not playing.
func (e *Engine) OnTelemetry(sample telemetry.Sample) {
	s := e.settings.Load()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing {
		return
	}

	for motor, b := range s.Motors {
		speed, ok := Speed(*s, b, sample, e.maxCombo)
		if !ok {
			continue
		}
		e.speeds[motor] = speed
		e.out.Dispatch(motor, speed)
	}
}

// Handle routes any sample kind to the matching entry point.
func (e *Engine) Handle(sample telemetry.Sample) {
	switch sample.Kind {
	case telemetry.PlayState:
		e.OnPlayStateChanged(sample.Value != 0)
	case telemetry.BeatmapLoaded:
		e.SetMaxCombo(int(sample.Value))
	default:
		e.OnTelemetry(sample)
	}
}

// Run handles samples until ctx is done or samples is closed.
func (e *Engine) Run(ctx context.Context, samples <-chan telemetry.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			e.Handle(s)
		}
	}
}
