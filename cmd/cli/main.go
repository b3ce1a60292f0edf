package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.viam.com/rdk/logging"

	sciclops "github.com/AD-SDL/sciclops-module"
)

// Bench tool for exercising a plate crane without a full robot config.

func main() {
	if err := realMain(); err != nil {
		panic(err)
	}
}

func realMain() error {
	port := flag.String("port", "/dev/ttyUSB0", "serial port of the plate crane")
	baud := flag.Int("baud", 115200, "serial baudrate")
	slot := flag.Int("slot", 1, "tower to exercise (1-5)")
	roundTrip := flag.Bool("round-trip", false, "run a full tower -> exchange -> tower transfer")
	flag.Parse()

	ctx := context.Background()
	logger := logging.NewLogger("sciclops-cli")

	cfg := &sciclops.Config{
		Port:         *port,
		Baudrate:     *baud,
		ReadTimeout:  5 * time.Second,
		ActionBudget: 3 * time.Minute,
	}

	driver, err := sciclops.NewDriver(cfg, logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	version, err := driver.Version(ctx)
	if err != nil {
		return err
	}
	logger.Infof("firmware: %s", version)

	logger.Info("Test 1: homing...")
	if err := driver.Home(ctx); err != nil {
		return err
	}
	printStatus(driver)

	logger.Infof("Test 2: moving above tower %d...", *slot)
	if err := driver.MoveToSlot(ctx, *slot); err != nil {
		return err
	}
	printStatus(driver)

	if *roundTrip {
		logger.Infof("Test 3: tower %d -> exchange...", *slot)
		if err := driver.Transfer(ctx, sciclops.TransferToHandoff, *slot, sciclops.TransferOptions{}); err != nil {
			return err
		}
		printStatus(driver)

		logger.Infof("Test 4: exchange -> tower %d...", *slot)
		if err := driver.Transfer(ctx, sciclops.TransferFromHandoff, *slot, sciclops.TransferOptions{}); err != nil {
			return err
		}
		printStatus(driver)
	}

	logger.Info("done")
	return nil
}

func printStatus(driver *sciclops.Driver) {
	st := driver.Status()
	fmt.Printf("phase=%s homed=%v speed=%d gripper_open=%v exchange=%d\n",
		st.Phase, st.Homed(), st.Speed, st.GripperOpen, st.Deck.Exchange)
	for _, id := range sciclops.AllAxes() {
		ax := st.Axes[id]
		fmt.Printf("  %s=%.4f\n", id, ax.Position)
	}
}
