package sciclops

import (
	"fmt"
	"sync"
)

// Phase is the crane's lifecycle position. The executor is the only
// writer; everything else sees copies via Snapshot.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseHoming        Phase = "homing"
	PhaseIdle          Phase = "idle"
	PhaseMoving        Phase = "moving"
	PhaseFaulted       Phase = "faulted"
)

func (p Phase) busy() bool { return p == PhaseHoming || p == PhaseMoving }

// AxisID names one of the four mechanical axes.
type AxisID string

const (
	AxisZ AxisID = "Z" // vertical lift
	AxisR AxisID = "R" // base rotation
	AxisY AxisID = "Y" // shelf extension
	AxisP AxisID = "P" // gripper twist
)

// AllAxes lists the axes in wire-report order (the order GETPOS uses).
func AllAxes() []AxisID { return []AxisID{AxisZ, AxisR, AxisY, AxisP} }

// AxisRange is the calibrated travel of one axis.
type AxisRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r AxisRange) contains(v float64) bool { return v >= r.Min && v <= r.Max }

func (r AxisRange) clamp(v float64) float64 {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

var defaultAxisRanges = map[AxisID]AxisRange{
	AxisZ: {Min: -425.0, Max: 30.0},
	AxisR: {Min: 0.0, Max: 360.0},
	AxisY: {Min: 0.0, Max: 200.0},
	AxisP: {Min: 0.0, Max: 270.0},
}

// Axis is a point-in-time view of one axis.
type Axis struct {
	ID       AxisID    `json:"id"`
	Position float64   `json:"position"`
	Range    AxisRange `json:"range"`
	Homed    bool      `json:"homed"`
}

// Occupancy tracks whether the gripper is believed to hold a plate or lid.
type Occupancy string

const (
	OccupancyEmpty   Occupancy = "empty"
	OccupancyHolding Occupancy = "holding"
)

// FaultKind classifies terminal errors per the retry policy.
type FaultKind string

const (
	FaultTimeout     FaultKind = "timeout"
	FaultDeviceError FaultKind = "device_error"
	FaultLinkLost    FaultKind = "link_lost"
)

// Fault is a latched failure. Once raised, motion is refused until an
// explicit Reset or Home.
type Fault struct {
	Kind       FaultKind
	Code       string // device status code, when Kind is FaultDeviceError
	Diagnostic string
}

func (f *Fault) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s (code %s): %s", f.Kind, f.Code, f.Diagnostic)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Diagnostic)
}

// InvalidParameterError rejects a request before any device traffic.
type InvalidParameterError struct {
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

// InvalidStateError rejects a request that is not legal in the current
// phase, again before any device traffic.
type InvalidStateError struct {
	Action ActionKind
	Phase  Phase
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not permitted while %s", e.Action, e.Phase)
}

// ErrStopped is returned to the caller whose action a Stop preempted.
var ErrStopped = fmt.Errorf("action preempted by stop")

// DeckSnapshot summarizes plate inventory for status reporting.
type DeckSnapshot struct {
	Towers         [towerCount]int   `json:"towers"`
	LidNests       [lidNestCount]int `json:"lid_nests"`
	Exchange       int               `json:"exchange"`
	ExchangeHasLid bool              `json:"exchange_has_lid"`
}

// RobotState is an immutable snapshot of the crane; maps and slices are
// deep-copied so callers can hold it without racing the executor.
type RobotState struct {
	Phase       Phase
	Axes        map[AxisID]Axis
	Speed       int
	GripperOpen bool
	Occupancy   Occupancy
	Fault       *Fault
	Deck        DeckSnapshot
}

// Homed reports whether every axis has a valid reference.
func (s RobotState) Homed() bool {
	for _, ax := range s.Axes {
		if !ax.Homed {
			return false
		}
	}
	return len(s.Axes) > 0
}

// machine owns the mutable crane state. Phase transitions funnel
// through transition so illegal jumps cannot happen silently.
type machine struct {
	mu          sync.RWMutex
	phase       Phase
	axes        map[AxisID]*Axis
	speed       int
	gripperOpen bool
	occupancy   Occupancy
	fault       *Fault
	deck        *Deck
}

var phaseTransitions = map[Phase][]Phase{
	PhaseUninitialized: {PhaseHoming},
	PhaseHoming:        {PhaseIdle, PhaseFaulted},
	PhaseIdle:          {PhaseMoving, PhaseHoming},
	PhaseMoving:        {PhaseIdle, PhaseFaulted},
	PhaseFaulted:       {PhaseHoming},
}

func newMachine(deck *Deck, speed int) *machine {
	axes := make(map[AxisID]*Axis, len(defaultAxisRanges))
	for _, id := range AllAxes() {
		axes[id] = &Axis{ID: id, Range: defaultAxisRanges[id]}
	}
	return &machine{
		phase:     PhaseUninitialized,
		axes:      axes,
		speed:     speed,
		occupancy: OccupancyEmpty,
		deck:      deck,
	}
}

func (m *machine) Snapshot() RobotState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	axes := make(map[AxisID]Axis, len(m.axes))
	for id, ax := range m.axes {
		axes[id] = *ax
	}
	st := RobotState{
		Phase:       m.phase,
		Axes:        axes,
		Speed:       m.speed,
		GripperOpen: m.gripperOpen,
		Occupancy:   m.occupancy,
		Deck:        m.deck.snapshot(),
	}
	if m.fault != nil {
		f := *m.fault
		st.Fault = &f
	}
	return st
}

func (m *machine) phaseNow() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *machine) transition(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, legal := range phaseTransitions[m.phase] {
		if legal == to {
			m.phase = to
			if to == PhaseHoming {
				m.fault = nil
			}
			return nil
		}
	}
	return fmt.Errorf("illegal phase transition %s -> %s", m.phase, to)
}

func (m *machine) fail(f *Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = PhaseFaulted
	m.fault = f
}

// commit runs fn under the write lock; the executor uses it to apply
// the inventory effects of a completed action atomically.
func (m *machine) commit(fn func(*machine)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// applyCommand folds a successful acknowledgement into tracked state.
func (m *machine) applyCommand(cmd Command, resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch cmd.Op {
	case "HOME":
		for _, ax := range m.axes {
			ax.Homed = true
			ax.Position = 0
		}
	case "RESET":
		for _, ax := range m.axes {
			ax.Homed = false
		}
	case "MOVE":
		if cmd.target != nil {
			for _, id := range AllAxes() {
				m.axes[id].Position = cmd.target.axis(id)
			}
		}
	case "JOG":
		ax := m.axes[cmd.jogAxis]
		if ax != nil {
			// Oversized jogs run the axis to its limit and stop there.
			ax.Position = ax.Range.clamp(ax.Position + cmd.jogDist)
		}
	case "GETPOS":
		if pt, err := parsePositions(resp.Message); err == nil {
			for _, id := range AllAxes() {
				m.axes[id].Position = pt.axis(id)
			}
		}
	case "OPEN":
		m.gripperOpen = true
		m.occupancy = OccupancyEmpty
	case "CLOSE":
		m.gripperOpen = false
		m.occupancy = OccupancyHolding
	case "SETSPEED":
		m.speed = cmd.speed
	}
}
