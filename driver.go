package sciclops

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// TransferDirection selects which way a plate crosses the exchange.
type TransferDirection string

const (
	// TransferToHandoff pulls a plate from a tower onto the exchange.
	TransferToHandoff TransferDirection = "to_handoff"
	// TransferFromHandoff returns the exchange plate to a tower.
	TransferFromHandoff TransferDirection = "from_handoff"
)

// TransferOptions tweak lid handling during a transfer.
type TransferOptions struct {
	// RemoveLid de-lids the plate after staging it on the exchange.
	RemoveLid bool
	// AddLid re-lids the plate before returning it to a tower.
	AddLid bool
	// LidToTrash discards a removed lid instead of nesting it.
	LidToTrash bool
}

// Driver is the public face of one plate crane. All methods are safe
// for concurrent use; motion methods queue in arrival order and block
// until their action completes.
type Driver struct {
	cfg    *Config
	logger logging.Logger
	link   Link
	m      *machine
	exec   *executor
}

// NewDriver opens the configured serial port and starts the executor.
// The crane starts uninitialized; call Home before any motion.
func NewDriver(cfg *Config, logger logging.Logger) (*Driver, error) {
	if _, _, err := cfg.Validate(""); err != nil {
		return nil, err
	}
	link, err := OpenSerialLink(cfg.Port, cfg.Baudrate)
	if err != nil {
		return nil, errors.Wrapf(err, "opening plate crane on %s", cfg.Port)
	}
	return newDriverWithLink(cfg, link, logger), nil
}

func newDriverWithLink(cfg *Config, link Link, logger logging.Logger) *Driver {
	m := newMachine(cfg.LoadDeck(logger), cfg.DefaultSpeed)
	return &Driver{
		cfg:    cfg,
		logger: logger,
		link:   link,
		m:      m,
		exec:   newExecutor(link, m, cfg, logger),
	}
}

// Close stops the executor and releases the serial port.
func (d *Driver) Close() error {
	d.exec.requestStop()
	d.exec.close()
	return d.link.Close()
}

func (d *Driver) submit(ctx context.Context, req ActionRequest) error {
	_, err := d.exec.submit(ctx, req)
	return err
}

// Home establishes the axis reference and parks at neutral. Calling it
// on an already homed idle crane does nothing. From a faulted crane it
// clears the fault and re-homes.
func (d *Driver) Home(ctx context.Context) error {
	return d.submit(ctx, ActionRequest{Kind: ActionHome})
}

// Reset restarts the device controller, clears any latched fault, and
// re-homes.
func (d *Driver) Reset(ctx context.Context) error {
	return d.submit(ctx, ActionRequest{Kind: ActionReset})
}

// MoveToSlot positions the gripper above the given 1-based tower.
func (d *Driver) MoveToSlot(ctx context.Context, slot int) error {
	return d.submit(ctx, ActionRequest{Kind: ActionMoveToSlot, Slot: slot})
}

// Transfer moves a plate between the given tower and the exchange.
func (d *Driver) Transfer(ctx context.Context, dir TransferDirection, slot int, opts TransferOptions) error {
	switch dir {
	case TransferToHandoff:
		return d.submit(ctx, ActionRequest{
			Kind:      ActionGetPlate,
			Slot:      slot,
			RemoveLid: opts.RemoveLid,
			ToTrash:   opts.LidToTrash,
		})
	case TransferFromHandoff:
		return d.submit(ctx, ActionRequest{
			Kind:   ActionPutPlate,
			Slot:   slot,
			AddLid: opts.AddLid,
		})
	}
	return &InvalidParameterError{Param: "direction", Reason: fmt.Sprintf("unknown direction %q", dir)}
}

// RemoveLid takes the lid off the exchange plate, nesting it or, when
// toTrash is set, discarding it.
func (d *Driver) RemoveLid(ctx context.Context, toTrash bool) error {
	return d.submit(ctx, ActionRequest{Kind: ActionRemoveLid, ToTrash: toTrash})
}

// ReplaceLid sets a matching nested lid back onto the exchange plate.
func (d *Driver) ReplaceLid(ctx context.Context) error {
	return d.submit(ctx, ActionRequest{Kind: ActionReplaceLid})
}

// DiscardLid trashes the lid held in the given 1-based nest.
func (d *Driver) DiscardLid(ctx context.Context, nest int) error {
	return d.submit(ctx, ActionRequest{Kind: ActionDiscardLid, LidNest: nest})
}

// DiscardPlate trashes the exchange plate, optionally re-lidding it first.
func (d *Driver) DiscardPlate(ctx context.Context, addLid bool) error {
	return d.submit(ctx, ActionRequest{Kind: ActionDiscardPlate, AddLid: addLid})
}

// OpenGripper opens the gripper paddles.
func (d *Driver) OpenGripper(ctx context.Context) error {
	return d.submit(ctx, ActionRequest{Kind: ActionOpenGripper})
}

// CloseGripper closes the gripper paddles.
func (d *Driver) CloseGripper(ctx context.Context) error {
	return d.submit(ctx, ActionRequest{Kind: ActionCloseGripper})
}

// Jog moves a single axis by a relative distance. The resulting
// position must stay inside the calibrated range.
func (d *Driver) Jog(ctx context.Context, axis AxisID, distance float64) error {
	return d.submit(ctx, ActionRequest{Kind: ActionJog, Axis: axis, Distance: distance})
}

// SetSpeed sets the motion speed as a percentage, 1 to 100.
func (d *Driver) SetSpeed(ctx context.Context, percent int) error {
	return d.submit(ctx, ActionRequest{Kind: ActionSetSpeed, Speed: percent})
}

// Limp releases (or re-engages) the motors so the crane can be moved
// by hand.
func (d *Driver) Limp(ctx context.Context, enable bool) error {
	return d.submit(ctx, ActionRequest{Kind: ActionLimp, Enable: enable})
}

// Stop preempts the action currently on the wire. Frames not yet sent
// are discarded; the frame in flight completes so the stream stays in
// sync. Queued actions behind it still run.
func (d *Driver) Stop() {
	d.exec.requestStop()
}

// Status returns a point-in-time snapshot without touching the device
// or waiting on the queue.
func (d *Driver) Status() RobotState {
	return d.m.Snapshot()
}

func (d *Driver) query(ctx context.Context, op string) (string, error) {
	return d.exec.submit(ctx, ActionRequest{Kind: ActionQuery, Op: op})
}

// Version asks the device for its firmware version string.
func (d *Driver) Version(ctx context.Context) (string, error) {
	return d.query(ctx, "VERSION")
}

// DeviceConfig asks the device for its configuration report.
func (d *Driver) DeviceConfig(ctx context.Context) (string, error) {
	return d.query(ctx, "GETCONFIG")
}

// GripLength reports the current gripper opening.
func (d *Driver) GripLength(ctx context.Context) (string, error) {
	return d.query(ctx, "GETGRIPPERLENGTH")
}

// PlatePresent asks the device whether the gripper holds a plate.
func (d *Driver) PlatePresent(ctx context.Context) (bool, error) {
	msg, err := d.query(ctx, "GETPLATEPRESENT")
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(msg), "true") ||
		strings.Contains(strings.ToLower(msg), "yes"), nil
}

// SyncPositions reads the axis positions back from the device and
// reconciles the tracked state with them.
func (d *Driver) SyncPositions(ctx context.Context) error {
	_, err := d.query(ctx, "GETPOS")
	return err
}

// SaveDeck persists the deck layout and inventory to the configured
// deck file.
func (d *Driver) SaveDeck() error {
	if d.cfg.DeckFile == "" {
		return errors.New("no deck file configured")
	}
	var err error
	d.m.commit(func(m *machine) {
		err = m.deck.SaveDeck(d.cfg.DeckFile)
	})
	return err
}
