package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/germanamz/toybridge/pkg/bridge"
	"github.com/germanamz/toybridge/pkg/connection"
	"github.com/germanamz/toybridge/pkg/toydir"
)

const pollInterval = 50 * time.Millisecond

// runDevices connects, lets one scan run, and prints what the server knows.
func runDevices(configPath, dirPath, address string, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	cfg, err := loadConfig(resolveConfigPath(configPath, dirPath), address)
	if err != nil {
		return err
	}

	log, logCloser, err := openLogger(cfg.Log, false, toydir.New(dirPath))
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()

	b, err := bridge.New(context.Background(), cfg, bridge.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		_ = b.Close(sctx)
	}()

	b.Start()

	st, err := waitScanSettled(ctx, b)
	if err != nil {
		return err
	}

	if len(st.Devices) == 0 {
		fmt.Println("no devices found")
		return nil
	}

	for _, d := range st.Devices {
		fmt.Fprintf(os.Stdout, "%d\t%s\t%d motors\n", d.ID, d.Name, d.MaxVibrateMotorIndex+1)
	}

	return nil
}

// waitScanSettled polls until the manager is connected and no longer
// scanning. A connect failure or ctx expiry is an error.
func waitScanSettled(ctx context.Context, b interface{ Status() bridge.Status }) (bridge.Status, error) {
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		st := b.Status()
		switch {
		case st.State == connection.Connected:
			return st, nil
		case st.State == connection.Disconnected && st.Attempts > 0:
			return st, fmt.Errorf("could not connect to %s", st.Address)
		}

		select {
		case <-ctx.Done():
			return st, fmt.Errorf("waiting for %s: %w", st.Address, ctx.Err())
		case <-tick.C:
		}
	}
}
