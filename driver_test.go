package sciclops

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

func TestDriverHome(t *testing.T) {
	link := newFakeLink()
	driver := newTestDriver(t, link)
	ctx := context.Background()

	st := driver.Status()
	if st.Phase != PhaseUninitialized || st.Homed() {
		t.Fatalf("fresh driver should be uninitialized, got %v", st.Phase)
	}

	if err := driver.Home(ctx); err != nil {
		t.Fatalf("Home failed: %v", err)
	}

	st = driver.Status()
	if st.Phase != PhaseIdle {
		t.Errorf("phase after Home = %v, want idle", st.Phase)
	}
	if !st.Homed() {
		t.Error("axes not homed after Home")
	}
	if countOp(link.wroteOps(), "HOME") != 1 {
		t.Errorf("HOME written %d times, want 1", countOp(link.wroteOps(), "HOME"))
	}

	// Already homed and idle: nothing more on the wire.
	before := link.writeCount()
	if err := driver.Home(ctx); err != nil {
		t.Fatalf("second Home failed: %v", err)
	}
	if link.writeCount() != before {
		t.Error("idempotent Home touched the wire")
	}
}

func TestDriverTransferRoundTrip(t *testing.T) {
	link := newFakeLink()
	driver := newTestDriver(t, link)
	ctx := context.Background()

	if err := driver.Home(ctx); err != nil {
		t.Fatalf("Home failed: %v", err)
	}
	stockDeck(driver, 2)

	if err := driver.Transfer(ctx, TransferToHandoff, 1, TransferOptions{}); err != nil {
		t.Fatalf("transfer to handoff failed: %v", err)
	}
	st := driver.Status()
	if st.Deck.Towers[0] != 1 || st.Deck.Exchange != 1 {
		t.Errorf("after get: towers[0]=%d exchange=%d, want 1 and 1", st.Deck.Towers[0], st.Deck.Exchange)
	}
	if st.Occupancy != OccupancyEmpty {
		t.Errorf("gripper should be empty after staging, got %v", st.Occupancy)
	}

	if err := driver.Transfer(ctx, TransferFromHandoff, 1, TransferOptions{}); err != nil {
		t.Fatalf("transfer from handoff failed: %v", err)
	}
	st = driver.Status()
	if st.Deck.Towers[0] != 2 || st.Deck.Exchange != 0 {
		t.Errorf("after put: towers[0]=%d exchange=%d, want 2 and 0", st.Deck.Towers[0], st.Deck.Exchange)
	}

	if err := driver.Transfer(ctx, "sideways", 1, TransferOptions{}); err == nil {
		t.Error("expected error for unknown direction")
	} else {
		var perr *InvalidParameterError
		if !errors.As(err, &perr) {
			t.Errorf("want InvalidParameterError, got %v", err)
		}
	}
}

func TestDriverTransferWithLidHandling(t *testing.T) {
	link := newFakeLink()
	driver := newTestDriver(t, link)
	ctx := context.Background()

	if err := driver.Home(ctx); err != nil {
		t.Fatalf("Home failed: %v", err)
	}
	stockDeck(driver, 1)

	opts := TransferOptions{RemoveLid: true}
	if err := driver.Transfer(ctx, TransferToHandoff, 1, opts); err != nil {
		t.Fatalf("transfer with lid removal failed: %v", err)
	}
	st := driver.Status()
	if st.Deck.Exchange != 1 || st.Deck.ExchangeHasLid {
		t.Errorf("exchange plate should be de-lidded: %+v", st.Deck)
	}
	if st.Deck.LidNests[0] != 1 {
		t.Errorf("lid should rest in nest 1, got nests %v", st.Deck.LidNests)
	}

	if err := driver.Transfer(ctx, TransferFromHandoff, 1, TransferOptions{AddLid: true}); err != nil {
		t.Fatalf("transfer with re-lid failed: %v", err)
	}
	st = driver.Status()
	if st.Deck.LidNests[0] != 0 {
		t.Errorf("nest should be empty after re-lidding, got %v", st.Deck.LidNests)
	}
	if st.Deck.Towers[0] != 1 {
		t.Errorf("plate should be back in tower 1, got %v", st.Deck.Towers)
	}
}

func TestDriverQueries(t *testing.T) {
	link := newFakeLink()
	driver := newTestDriver(t, link)
	ctx := context.Background()

	version, err := driver.Version(ctx)
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version != "SCICLOPS 3.0" {
		t.Errorf("Version = %q, want SCICLOPS 3.0", version)
	}

	present, err := driver.PlatePresent(ctx)
	if err != nil {
		t.Fatalf("PlatePresent failed: %v", err)
	}
	if !present {
		t.Error("PlatePresent = false, device says TRUE")
	}

	if err := driver.SyncPositions(ctx); err != nil {
		t.Fatalf("SyncPositions failed: %v", err)
	}
	st := driver.Status()
	if got := st.Axes[AxisR].Position; got != 109.2741 {
		t.Errorf("R after sync = %v, want 109.2741", got)
	}
	if got := st.Axes[AxisZ].Position; got != 23.5188 {
		t.Errorf("Z after sync = %v, want 23.5188", got)
	}
}

func TestDriverGripperAndSpeed(t *testing.T) {
	link := newFakeLink()
	driver := newTestDriver(t, link)
	ctx := context.Background()

	if err := driver.Home(ctx); err != nil {
		t.Fatalf("Home failed: %v", err)
	}

	if err := driver.OpenGripper(ctx); err != nil {
		t.Fatalf("OpenGripper failed: %v", err)
	}
	if !driver.Status().GripperOpen {
		t.Error("gripper should be open")
	}
	if err := driver.CloseGripper(ctx); err != nil {
		t.Fatalf("CloseGripper failed: %v", err)
	}
	if driver.Status().GripperOpen {
		t.Error("gripper should be closed")
	}

	if err := driver.SetSpeed(ctx, 25); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}
	if got := driver.Status().Speed; got != 25 {
		t.Errorf("speed = %d, want 25", got)
	}
	if err := driver.SetSpeed(ctx, 0); err == nil {
		t.Error("expected error for speed 0")
	}
}

func TestDriverSaveDeck(t *testing.T) {
	t.Run("without configured file", func(t *testing.T) {
		driver := newTestDriver(t, newFakeLink())
		if err := driver.SaveDeck(); err == nil {
			t.Error("expected error when no deck file is configured")
		}
	})

	t.Run("persists inventory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "deck.json")
		cfg := testDriverConfig()
		cfg.DeckFile = path

		link := newFakeLink()
		logger := logging.NewTestLogger(t)
		driver := newDriverWithLink(cfg, link, logger)
		t.Cleanup(func() { _ = driver.Close() })

		stockDeck(driver, 3)
		if err := driver.SaveDeck(); err != nil {
			t.Fatalf("SaveDeck failed: %v", err)
		}

		loaded := LoadDeck(path, logger)
		if loaded.Towers[0].Count != 3 {
			t.Errorf("persisted Towers[0].Count = %d, want 3", loaded.Towers[0].Count)
		}
	})
}
