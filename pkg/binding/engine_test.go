package binding

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/germanamz/toybridge/pkg/telemetry"
)

type command struct {
	motor int
	speed float64
}

// recorder is a Commander that remembers everything it was asked to do.
type recorder struct {
	mu       sync.Mutex
	commands []command
	stopAlls int
}

func (r *recorder) Dispatch(motor int, speed float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command{motor, speed})
	return 1
}

func (r *recorder) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopAlls++
}

func (r *recorder) snapshot() ([]command, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command(nil), r.commands...), r.stopAlls
}

func settingsWith(motor0 MotorBinding) Settings {
	return Settings{
		Motors:      [MotorCount]MotorBinding{motor0},
		SpeedCap:    1.0,
		ComboFactor: 0.3,
	}
}

func playingEngine(s Settings) (*Engine, *recorder) {
	r := &recorder{}
	e := NewEngine(r, s, nil)
	e.OnPlayStateChanged(true)
	return e, r
}

func TestSpeed_HealthFormula(t *testing.T) {
	for _, speedCap := range []float64{0, 0.25, 0.5, 1} {
		s := settingsWith(MotorBinding{Behavior: Health})
		s.SpeedCap = speedCap

		for h := 0.0; h <= 1.0; h += 0.05 {
			got, ok := Speed(s, s.Motors[0], telemetry.Sample{Kind: telemetry.Health, Value: h}, 0)
			require.True(t, ok)
			assert.InDelta(t, speedCap*(1-math.Pow(h, 4)), got, 1e-9, "cap=%v h=%v", speedCap, h)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		}
	}
}

func TestSpeed_InvertIsComplement(t *testing.T) {
	samples := []telemetry.Sample{
		{Kind: telemetry.Health, Value: 0.3},
		{Kind: telemetry.Combo, Value: 40},
		{Kind: telemetry.Accuracy, Value: 0.87},
		{Kind: telemetry.Hit, Value: 0.5},
	}
	behaviors := []Behavior{Health, Combo, Accuracy, Hit}

	for i, sample := range samples {
		s := settingsWith(MotorBinding{Behavior: behaviors[i]})
		s.SpeedCap = 0.8

		plain, ok := Speed(s, MotorBinding{Behavior: behaviors[i]}, sample, 100)
		require.True(t, ok)
		inverted, ok := Speed(s, MotorBinding{Behavior: behaviors[i], Invert: true}, sample, 100)
		require.True(t, ok)

		assert.InDelta(t, 1-plain, inverted, 1e-9, "behavior %s", behaviors[i])
	}
}

func TestSpeed_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		binding  MotorBinding
		sample   telemetry.Sample
		maxCombo int
		want     float64
	}{
		{
			name:    "health half",
			binding: MotorBinding{Behavior: Health},
			sample:  telemetry.Sample{Kind: telemetry.Health, Value: 0.5},
			want:    0.9375,
		},
		{
			name:     "combo ramp",
			binding:  MotorBinding{Behavior: Combo},
			sample:   telemetry.Sample{Kind: telemetry.Combo, Value: 50},
			maxCombo: 200,
			want:     0.075,
		},
		{
			name:    "accuracy inverted",
			binding: MotorBinding{Behavior: Accuracy, Invert: true},
			sample:  telemetry.Sample{Kind: telemetry.Accuracy, Value: 0.95},
			want:    0.05,
		},
		{
			name:     "combo without max combo",
			binding:  MotorBinding{Behavior: Combo},
			sample:   telemetry.Sample{Kind: telemetry.Combo, Value: 50},
			maxCombo: 0,
			want:     0,
		},
		{
			name:     "combo clamps",
			binding:  MotorBinding{Behavior: Combo},
			sample:   telemetry.Sample{Kind: telemetry.Combo, Value: 5000},
			maxCombo: 10,
			want:     1,
		},
		{
			name:    "out of range accuracy clamps",
			binding: MotorBinding{Behavior: Accuracy},
			sample:  telemetry.Sample{Kind: telemetry.Accuracy, Value: 3},
			want:    1,
		},
		{
			name:    "hit weight",
			binding: MotorBinding{Behavior: Hit},
			sample:  telemetry.Sample{Kind: telemetry.Hit, Value: 0.6},
			want:    0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settingsWith(tt.binding)

			got, ok := Speed(s, tt.binding, tt.sample, tt.maxCombo)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSpeed_UnmatchedKind(t *testing.T) {
	s := DefaultSettings()

	_, ok := Speed(s, MotorBinding{Behavior: Health}, telemetry.Sample{Kind: telemetry.Combo, Value: 3}, 10)
	assert.False(t, ok)

	_, ok = Speed(s, MotorBinding{Behavior: None}, telemetry.Sample{Kind: telemetry.Health, Value: 0.5}, 10)
	assert.False(t, ok)
}

func TestEngine_DispatchesPerMatchingMotor(t *testing.T) {
	s := Settings{
		Motors: [MotorCount]MotorBinding{
			{Behavior: Health},
			{Behavior: Combo},
			{Behavior: Health, Invert: true},
			{Behavior: None},
		},
		SpeedCap:    1,
		ComboFactor: 0.3,
	}
	e, r := playingEngine(s)

	e.OnTelemetry(telemetry.Sample{Kind: telemetry.Health, Value: 0.5})

	cmds, _ := r.snapshot()
	require.Len(t, cmds, 2)
	assert.Equal(t, 0, cmds[0].motor)
	assert.InDelta(t, 0.9375, cmds[0].speed, 1e-9)
	assert.Equal(t, 2, cmds[1].motor)
	assert.InDelta(t, 0.0625, cmds[1].speed, 1e-9)

	speeds := e.Speeds()
	assert.InDelta(t, 0.9375, speeds[0], 1e-9)
	assert.InDelta(t, 0.0, speeds[1], 1e-9)
}

func TestEngine_IgnoresTelemetryWhileNotPlaying(t *testing.T) {
	r := &recorder{}
	e := NewEngine(r, DefaultSettings(), nil)

	e.OnTelemetry(telemetry.Sample{Kind: telemetry.Health, Value: 0.1})

	cmds, stops := r.snapshot()
	assert.Empty(t, cmds)
	assert.Equal(t, 0, stops)
}

func TestEngine_PlayEndStopsOnceThenGates(t *testing.T) {
	e, r := playingEngine(DefaultSettings())

	e.OnTelemetry(telemetry.Sample{Kind: telemetry.Health, Value: 0.5})
	e.OnPlayStateChanged(false)
	e.OnPlayStateChanged(false)
	e.OnTelemetry(telemetry.Sample{Kind: telemetry.Health, Value: 0.2})

	cmds, stops := r.snapshot()
	assert.Len(t, cmds, 1)
	assert.Equal(t, 1, stops)
	assert.Equal(t, [MotorCount]float64{}, e.Speeds())

	e.OnPlayStateChanged(true)
	e.OnTelemetry(telemetry.Sample{Kind: telemetry.Health, Value: 0.2})

	cmds, stops = r.snapshot()
	assert.Len(t, cmds, 2)
	assert.Equal(t, 1, stops)
}

func TestEngine_StartingPlayDoesNotStop(t *testing.T) {
	r := &recorder{}
	e := NewEngine(r, DefaultSettings(), nil)

	e.OnPlayStateChanged(false)
	e.OnPlayStateChanged(true)

	_, stops := r.snapshot()
	assert.Equal(t, 0, stops)
	assert.True(t, e.Playing())
}

func TestEngine_MaxComboGatesCombo(t *testing.T) {
	e, r := playingEngine(settingsWith(MotorBinding{Behavior: Combo}))

	e.OnTelemetry(telemetry.Sample{Kind: telemetry.Combo, Value: 50})
	e.SetMaxCombo(200)
	e.OnTelemetry(telemetry.Sample{Kind: telemetry.Combo, Value: 50})

	cmds, _ := r.snapshot()
	require.Len(t, cmds, 2)
	assert.InDelta(t, 0.0, cmds[0].speed, 1e-9)
	assert.InDelta(t, 0.075, cmds[1].speed, 1e-9)
	assert.Equal(t, 200, e.MaxCombo())
}

func TestEngine_SetMaxComboNegative(t *testing.T) {
	e := NewEngine(&recorder{}, DefaultSettings(), nil)
	e.SetMaxCombo(-5)
	assert.Equal(t, 0, e.MaxCombo())
}

func TestEngine_SetSettingsSwapsWholesale(t *testing.T) {
	e, r := playingEngine(settingsWith(MotorBinding{Behavior: Health}))

	next := settingsWith(MotorBinding{Behavior: Accuracy})
	next.SpeedCap = 0.5
	e.SetSettings(next)

	e.OnTelemetry(telemetry.Sample{Kind: telemetry.Health, Value: 0.5})
	e.OnTelemetry(telemetry.Sample{Kind: telemetry.Accuracy, Value: 0.8})

	cmds, _ := r.snapshot()
	require.Len(t, cmds, 1)
	assert.InDelta(t, 0.4, cmds[0].speed, 1e-9)
	assert.Equal(t, next, e.Settings())
}

func TestEngine_Handle(t *testing.T) {
	r := &recorder{}
	e := NewEngine(r, settingsWith(MotorBinding{Behavior: Combo}), nil)

	e.Handle(telemetry.Sample{Kind: telemetry.BeatmapLoaded, Value: 200})
	e.Handle(telemetry.Playing(true))
	e.Handle(telemetry.Sample{Kind: telemetry.Combo, Value: 50})
	e.Handle(telemetry.Playing(false))

	cmds, stops := r.snapshot()
	require.Len(t, cmds, 1)
	assert.InDelta(t, 0.075, cmds[0].speed, 1e-9)
	assert.Equal(t, 1, stops)
}

func TestEngine_Run(t *testing.T) {
	r := &recorder{}
	e := NewEngine(r, DefaultSettings(), nil)

	bus := telemetry.NewBus()
	sub := bus.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, sub.C)
		close(done)
	}()

	bus.Publish(telemetry.Playing(true))
	bus.Publish(telemetry.Sample{Kind: telemetry.Health, Value: 0})

	require.Eventually(t, func() bool {
		cmds, _ := r.snapshot()
		return len(cmds) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	bus.Unsubscribe(sub)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())

	s := DefaultSettings()
	s.SpeedCap = 1.5
	assert.EqualError(t, s.Validate(), "binding: speed cap 1.5 outside [0,1]")

	s = DefaultSettings()
	s.ComboFactor = -0.1
	assert.EqualError(t, s.Validate(), "binding: combo factor -0.1 outside [0,1]")

	s = DefaultSettings()
	s.Motors[3].Behavior = Behavior(42)
	assert.ErrorContains(t, s.Validate(), "motor 3")
}

func TestBehavior_Text(t *testing.T) {
	for _, b := range Behaviors() {
		text, err := b.MarshalText()
		require.NoError(t, err)

		var got Behavior
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, b, got)
	}

	b, err := ParseBehavior(" Health ")
	require.NoError(t, err)
	assert.Equal(t, Health, b)

	b, err = ParseBehavior("")
	require.NoError(t, err)
	assert.Equal(t, None, b)

	_, err = ParseBehavior("mana")
	assert.EqualError(t, err, `binding: unknown behavior "mana"`)

	assert.Equal(t, "behavior(9)", Behavior(9).String())
}

func TestMotorBinding_YAML(t *testing.T) {
	var motors [MotorCount]MotorBinding
	src := `
- behavior: health
- behavior: combo
  invert: true
- {}
- behavior: accuracy
`
	require.NoError(t, yaml.Unmarshal([]byte(src), &motors))

	assert.Equal(t, MotorBinding{Behavior: Health}, motors[0])
	assert.Equal(t, MotorBinding{Behavior: Combo, Invert: true}, motors[1])
	assert.Equal(t, MotorBinding{}, motors[2])
	assert.Equal(t, MotorBinding{Behavior: Accuracy}, motors[3])

	out, err := yaml.Marshal(motors[1])
	require.NoError(t, err)
	assert.Equal(t, "behavior: combo\ninvert: true\n", string(out))

	err = yaml.Unmarshal([]byte("- behavior: mana\n- {}\n- {}\n- {}\n"), &motors)
	assert.ErrorContains(t, err, `unknown behavior "mana"`)
}
