package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/germanamz/toybridge/pkg/binding"
	"github.com/germanamz/toybridge/pkg/bridge"
	"github.com/germanamz/toybridge/pkg/toydir"
)

// wizardAnswers holds the raw form values. Numbers stay strings until
// buildConfig so the form can validate as the user types.
type wizardAnswers struct {
	Address     string
	ScanTimeout string
	SpeedCap    string
	ComboFactor string
	Motors      [binding.MotorCount]binding.MotorBinding
}

func defaultAnswers() wizardAnswers {
	cfg := bridge.DefaultConfig()

	a := wizardAnswers{
		Address:     cfg.Address,
		ScanTimeout: cfg.ScanTimeout,
		SpeedCap:    strconv.FormatFloat(cfg.SpeedCap, 'f', -1, 64),
		ComboFactor: strconv.FormatFloat(cfg.ComboFactor, 'f', -1, 64),
	}
	copy(a.Motors[:], cfg.Motors)

	return a
}

func runInit(dirPath string, force bool) error {
	d := toydir.New(dirPath)
	if d.HasConfig() && !force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", d.ConfigPath())
	}

	answers := defaultAnswers()
	if err := wizardForm(&answers).Run(); err != nil {
		return err
	}

	cfg, err := buildConfig(answers)
	if err != nil {
		return err
	}

	if err := toydir.EnsureStructure(d); err != nil {
		return err
	}
	if err := bridge.SaveConfig(cfg, d.ConfigPath()); err != nil {
		return err
	}

	fmt.Printf("Initialized %s\n", d.Root())

	return nil
}

func wizardForm(a *wizardAnswers) *huh.Form {
	groups := []*huh.Group{
		huh.NewGroup(
			huh.NewInput().
				Title("Intiface server address").
				Value(&a.Address).
				Validate(validateAddress),
			huh.NewInput().
				Title("Scan timeout").
				Description("How long to look for new devices after connecting.").
				Value(&a.ScanTimeout).
				Validate(validateDuration),
			huh.NewInput().
				Title("Speed cap (0-1)").
				Value(&a.SpeedCap).
				Validate(validateUnit),
			huh.NewInput().
				Title("Combo factor (0-1)").
				Value(&a.ComboFactor).
				Validate(validateUnit),
		),
	}

	for i := range a.Motors {
		groups = append(groups, huh.NewGroup(
			huh.NewSelect[binding.Behavior]().
				Title(fmt.Sprintf("Motor %d follows", i)).
				Options(behaviorOptions()...).
				Value(&a.Motors[i].Behavior),
			huh.NewConfirm().
				Title("Invert?").
				Value(&a.Motors[i].Invert),
		))
	}

	return huh.NewForm(groups...)
}

func behaviorOptions() []huh.Option[binding.Behavior] {
	opts := make([]huh.Option[binding.Behavior], 0, len(binding.Behaviors()))
	for _, b := range binding.Behaviors() {
		opts = append(opts, huh.NewOption(b.String(), b))
	}
	return opts
}

func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "ws://") && !strings.HasPrefix(s, "wss://") {
		return errors.New("must start with ws:// or wss://")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return errors.New("not a duration, try 10s")
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func validateUnit(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return errors.New("not a number")
	}
	if v < 0 || v > 1 {
		return errors.New("must be between 0 and 1")
	}
	return nil
}

// buildConfig turns form answers into a validated config.
func buildConfig(a wizardAnswers) (bridge.Config, error) {
	cfg := bridge.DefaultConfig()

	cfg.Address = strings.TrimSpace(a.Address)
	cfg.ScanTimeout = strings.TrimSpace(a.ScanTimeout)

	var err error
	if cfg.SpeedCap, err = strconv.ParseFloat(strings.TrimSpace(a.SpeedCap), 64); err != nil {
		return bridge.Config{}, fmt.Errorf("speed cap: %w", err)
	}
	if cfg.ComboFactor, err = strconv.ParseFloat(strings.TrimSpace(a.ComboFactor), 64); err != nil {
		return bridge.Config{}, fmt.Errorf("combo factor: %w", err)
	}

	cfg.Motors = append([]binding.MotorBinding(nil), a.Motors[:]...)

	if err := cfg.Validate(); err != nil {
		return bridge.Config{}, err
	}

	return cfg, nil
}
