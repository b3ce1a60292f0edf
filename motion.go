package sciclops

import "fmt"

// ActionKind identifies one queueable operation.
type ActionKind string

const (
	ActionHome         ActionKind = "home"
	ActionMoveToSlot   ActionKind = "move_to_slot"
	ActionGetPlate     ActionKind = "get_plate"     // tower -> exchange
	ActionPutPlate     ActionKind = "put_plate"     // exchange -> tower
	ActionRemoveLid    ActionKind = "remove_lid"    // exchange plate -> nest or trash
	ActionReplaceLid   ActionKind = "replace_lid"   // nest -> exchange plate
	ActionDiscardLid   ActionKind = "discard_lid"   // nest -> trash
	ActionDiscardPlate ActionKind = "discard_plate" // exchange -> trash
	ActionOpenGripper  ActionKind = "open_gripper"
	ActionCloseGripper ActionKind = "close_gripper"
	ActionJog          ActionKind = "jog"
	ActionSetSpeed     ActionKind = "set_speed"
	ActionLimp         ActionKind = "limp"
	ActionReset        ActionKind = "reset"
	ActionQuery        ActionKind = "query"
)

// ActionRequest is one unit of work for the executor queue.
type ActionRequest struct {
	Kind ActionKind

	Slot      int     // 1-based tower for plate moves
	LidNest   int     // 1-based nest for discard_lid
	Axis      AxisID  // jog
	Distance  float64 // jog
	Speed     int     // set_speed
	Enable    bool    // limp
	ToTrash   bool    // remove_lid: trash the lid instead of nesting it
	RemoveLid bool    // get_plate: de-lid after staging on the exchange
	AddLid    bool    // put_plate / discard_plate: re-lid first
	Op        string  // raw device verb for queries
}

func (r ActionRequest) String() string {
	switch r.Kind {
	case ActionMoveToSlot, ActionGetPlate, ActionPutPlate:
		return fmt.Sprintf("%s(tower %d)", r.Kind, r.Slot)
	case ActionJog:
		return fmt.Sprintf("jog(%s, %g)", r.Axis, r.Distance)
	case ActionQuery:
		return fmt.Sprintf("query(%s)", r.Op)
	}
	return string(r.Kind)
}

// axisMoveOrder fixes collision-avoidance precedence for composed
// axis moves: the shelf retracts before the lift travels, the lift
// clears before the base rotates, and the wrist twists last.
var axisMoveOrder = [...]AxisID{AxisY, AxisZ, AxisR, AxisP}

// jogSequence expands per-axis deltas into jogs ordered by precedence.
func jogSequence(deltas map[AxisID]float64) []Command {
	var cmds []Command
	for _, id := range axisMoveOrder {
		if d, ok := deltas[id]; ok {
			cmds = append(cmds, cmdJog(id, d))
		}
	}
	return cmds
}

// fullTravel is the oversized jog distance that runs an axis to its
// limit; the device stops at the hard end of travel.
const fullTravel = 1000

// motionPlan is a compiled action: the frames to send, the phase the
// crane occupies while they run, and the inventory effect to commit
// once the last frame succeeds. An empty phase keeps the current one.
type motionPlan struct {
	steps  []Command
	phase  Phase
	finish func(*machine)
}

type seqBuilder struct {
	steps []Command
}

func (b *seqBuilder) add(cmds ...Command) {
	b.steps = append(b.steps, cmds...)
}

func (b *seqBuilder) setSpeed(pct int) {
	b.add(cmdSetSpeed(pct))
}

// moveTo stages a point, travels to it, and clears it from the
// device's point table.
func (b *seqBuilder) moveTo(pt Point) {
	b.add(cmdLoadPoint(pt), cmdMove(pt), cmdDeletePoint(pt))
}

// retractToTravel pulls the shelf in and raises the lift so the next
// rotation cannot clip deck hardware.
func (b *seqBuilder) retractToTravel() {
	b.add(jogSequence(map[AxisID]float64{
		AxisY: -fullTravel,
		AxisZ: fullTravel,
	})...)
}

// planAction compiles a request against a state snapshot. Rejections
// happen here, before any bytes reach the device.
func planAction(req ActionRequest, st RobotState, deck *Deck) (motionPlan, error) {
	switch req.Kind {
	case ActionHome:
		return planHome(req, st, deck)
	case ActionReset:
		return planReset(req, st, deck)
	case ActionQuery:
		return planQuery(req, st)
	}

	// Everything else is a motion action: the crane must be idle, and
	// anything that travels needs a position reference.
	if st.Phase != PhaseIdle {
		return motionPlan{}, &InvalidStateError{Action: req.Kind, Phase: st.Phase}
	}
	switch req.Kind {
	case ActionOpenGripper:
		return motionPlan{steps: []Command{cmdOpen()}, phase: PhaseMoving}, nil
	case ActionCloseGripper:
		return motionPlan{steps: []Command{cmdClose()}, phase: PhaseMoving}, nil
	case ActionSetSpeed:
		if req.Speed < 1 || req.Speed > 100 {
			return motionPlan{}, &InvalidParameterError{Param: "speed", Reason: fmt.Sprintf("%d outside 1..100", req.Speed)}
		}
		return motionPlan{steps: []Command{cmdSetSpeed(req.Speed)}, phase: PhaseMoving}, nil
	case ActionLimp:
		return motionPlan{steps: []Command{cmdLimp(req.Enable)}, phase: PhaseMoving}, nil
	}

	if !st.Homed() {
		return motionPlan{}, &InvalidStateError{Action: req.Kind, Phase: st.Phase}
	}
	switch req.Kind {
	case ActionMoveToSlot:
		return planMoveToSlot(req, st, deck)
	case ActionGetPlate:
		return planGetPlate(req, st, deck)
	case ActionPutPlate:
		return planPutPlate(req, st, deck)
	case ActionRemoveLid:
		return planRemoveLid(req, st, deck)
	case ActionReplaceLid:
		return planReplaceLid(req, st, deck)
	case ActionDiscardLid:
		return planDiscardLid(req, st, deck)
	case ActionDiscardPlate:
		return planDiscardPlate(req, st, deck)
	case ActionJog:
		return planJog(req, st)
	}
	return motionPlan{}, &InvalidParameterError{Param: "action", Reason: fmt.Sprintf("unknown action %q", req.Kind)}
}

func planHome(req ActionRequest, st RobotState, deck *Deck) (motionPlan, error) {
	switch st.Phase {
	case PhaseUninitialized, PhaseIdle, PhaseFaulted:
	default:
		return motionPlan{}, &InvalidStateError{Action: req.Kind, Phase: st.Phase}
	}
	// Re-homing an already homed, healthy crane is a no-op.
	if st.Phase == PhaseIdle && st.Homed() {
		return motionPlan{}, nil
	}
	var b seqBuilder
	b.add(cmdHome())
	b.moveTo(deck.Neutral)
	return motionPlan{steps: b.steps, phase: PhaseHoming}, nil
}

func planReset(req ActionRequest, st RobotState, deck *Deck) (motionPlan, error) {
	if st.Phase.busy() {
		return motionPlan{}, &InvalidStateError{Action: req.Kind, Phase: st.Phase}
	}
	// Creep speed for the controller restart, then re-establish the
	// reference and return to neutral.
	var b seqBuilder
	b.setSpeed(5)
	b.add(cmdReset(), cmdHome())
	b.moveTo(deck.Neutral)
	return motionPlan{steps: b.steps, phase: PhaseHoming}, nil
}

func planQuery(req ActionRequest, st RobotState) (motionPlan, error) {
	if req.Op == "" {
		return motionPlan{}, &InvalidParameterError{Param: "op", Reason: "empty query verb"}
	}
	return motionPlan{steps: []Command{newCommand(req.Op, "")}}, nil
}

func planMoveToSlot(req ActionRequest, st RobotState, deck *Deck) (motionPlan, error) {
	slot, err := deck.tower(req.Slot)
	if err != nil {
		return motionPlan{}, err
	}
	var b seqBuilder
	b.setSpeed(10)
	b.retractToTravel()
	b.setSpeed(100)
	b.moveTo(slot.Pos)
	return motionPlan{steps: b.steps, phase: PhaseMoving}, nil
}

func planGetPlate(req ActionRequest, st RobotState, deck *Deck) (motionPlan, error) {
	slot, err := deck.tower(req.Slot)
	if err != nil {
		return motionPlan{}, err
	}
	if slot.Count < 1 {
		return motionPlan{}, &InvalidParameterError{Param: "slot", Reason: fmt.Sprintf("tower %d is empty", req.Slot)}
	}
	if deck.Exchange.Count != 0 {
		return motionPlan{}, &InvalidParameterError{Param: "exchange", Reason: "plate already on exchange"}
	}
	if st.Occupancy != OccupancyEmpty {
		return motionPlan{}, &InvalidStateError{Action: req.Kind, Phase: st.Phase}
	}
	spec, err := deck.plateSpec(slot.PlateType)
	if err != nil {
		return motionPlan{}, err
	}
	lidNest := 0
	if req.RemoveLid && !req.ToTrash {
		if lidNest = deck.emptyLidNest(); lidNest == 0 {
			return motionPlan{}, &InvalidParameterError{Param: "lid_nest", Reason: "no empty lid nest"}
		}
	}

	var b seqBuilder
	b.add(cmdOpen())
	b.setSpeed(10)
	b.retractToTravel()
	b.setSpeed(12)
	b.moveTo(deck.Neutral)

	// Above the tower, then creep down onto the stack.
	b.setSpeed(100)
	b.moveTo(slot.Pos)
	b.add(cmdClose())
	b.setSpeed(15)
	b.add(cmdJog(AxisZ, -fullTravel))
	b.add(cmdJog(AxisZ, 10))
	b.add(cmdOpen())
	b.add(cmdJog(AxisZ, spec.GrabTower))
	b.add(cmdClose())
	b.setSpeed(100)
	b.add(cmdJog(AxisZ, fullTravel))

	// Stage on the exchange.
	b.moveTo(deck.Exchange.Pos)
	b.add(cmdJog(AxisZ, -380))
	b.setSpeed(5)
	b.add(cmdJog(AxisZ, spec.GrabExchange))
	b.add(cmdOpen())
	b.setSpeed(100)
	b.add(cmdJog(AxisZ, fullTravel))

	if req.RemoveLid {
		appendRemoveLid(&b, deck, spec, req.ToTrash, lidNest)
	}
	b.moveTo(deck.Neutral)

	slotIdx := req.Slot - 1
	removed := req.RemoveLid
	toTrash := req.ToTrash
	plateType := slot.PlateType
	return motionPlan{steps: b.steps, phase: PhaseMoving, finish: func(m *machine) {
		m.deck.Towers[slotIdx].Count--
		m.deck.Exchange.Count++
		m.deck.Exchange.PlateType = plateType
		m.deck.Exchange.HasLid = !removed
		if removed && !toTrash {
			nest := &m.deck.LidNests[lidNest-1]
			nest.Count++
			nest.PlateType = plateType
		}
	}}, nil
}

func planPutPlate(req ActionRequest, st RobotState, deck *Deck) (motionPlan, error) {
	slot, err := deck.tower(req.Slot)
	if err != nil {
		return motionPlan{}, err
	}
	if deck.Exchange.Count < 1 {
		return motionPlan{}, &InvalidParameterError{Param: "exchange", Reason: "no plate on exchange"}
	}
	if !deck.towerHasRoom(req.Slot) {
		return motionPlan{}, &InvalidParameterError{Param: "slot", Reason: fmt.Sprintf("tower %d is full", req.Slot)}
	}
	if st.Occupancy != OccupancyEmpty {
		return motionPlan{}, &InvalidStateError{Action: req.Kind, Phase: st.Phase}
	}
	spec, err := deck.plateSpec(deck.Exchange.PlateType)
	if err != nil {
		return motionPlan{}, err
	}
	lidNest := 0
	if req.AddLid {
		if deck.Exchange.HasLid {
			return motionPlan{}, &InvalidParameterError{Param: "add_lid", Reason: "plate on exchange already has lid"}
		}
		if lidNest = deck.lidNestWithLid(deck.Exchange.PlateType); lidNest == 0 {
			return motionPlan{}, &InvalidParameterError{Param: "lid_nest", Reason: "no matching lid in lid nests"}
		}
	}

	var b seqBuilder
	b.add(cmdOpen())
	b.setSpeed(10)
	b.retractToTravel()
	b.setSpeed(12)
	b.moveTo(deck.Neutral)
	if req.AddLid {
		appendReplaceLid(&b, deck, spec, lidNest)
	}

	// Collect the plate from the exchange.
	b.add(cmdOpen())
	b.moveTo(deck.Exchange.Pos)
	b.setSpeed(100)
	b.add(cmdJog(AxisZ, -380))
	b.add(cmdJog(AxisZ, spec.GrabExchange))
	b.add(cmdClose())
	b.add(cmdJog(AxisZ, fullTravel))

	// Lower it onto the stack.
	b.moveTo(slot.Pos)
	b.setSpeed(10)
	b.add(cmdJog(AxisZ, -fullTravel))
	b.add(cmdOpen())
	b.setSpeed(100)
	b.add(cmdJog(AxisZ, fullTravel))
	b.moveTo(deck.Neutral)

	slotIdx := req.Slot - 1
	addLid := req.AddLid
	return motionPlan{steps: b.steps, phase: PhaseMoving, finish: func(m *machine) {
		m.deck.Exchange.Count--
		m.deck.Towers[slotIdx].Count++
		if addLid {
			m.deck.LidNests[lidNest-1].Count--
			m.deck.Exchange.HasLid = false
		}
	}}, nil
}

// appendRemoveLid assumes the crane is at travel height near the
// exchange with the gripper free.
func appendRemoveLid(b *seqBuilder, deck *Deck, spec PlateSpec, toTrash bool, lidNest int) {
	b.setSpeed(100)
	b.add(cmdOpen())
	b.moveTo(deck.Exchange.Pos)
	b.add(cmdJog(AxisZ, -380))
	b.setSpeed(7)
	b.add(cmdJog(AxisZ, spec.GrabLidExchange))
	b.add(cmdClose())
	b.setSpeed(100)
	b.add(cmdJog(AxisZ, fullTravel))
	if toTrash {
		b.moveTo(deck.Trash)
		b.add(cmdJog(AxisZ, -400))
		b.add(cmdOpen())
		b.add(cmdJog(AxisZ, fullTravel))
	} else {
		b.moveTo(deck.LidNests[lidNest-1].Pos)
		b.add(cmdJog(AxisZ, -400))
		b.add(cmdOpen())
		b.add(cmdJog(AxisZ, fullTravel))
	}
}

// appendReplaceLid fetches a lid from the given nest and sets it on the
// exchange plate.
func appendReplaceLid(b *seqBuilder, deck *Deck, spec PlateSpec, lidNest int) {
	b.setSpeed(100)
	b.add(cmdOpen())
	b.moveTo(deck.LidNests[lidNest-1].Pos)
	b.add(cmdClose())
	b.add(cmdJog(AxisZ, -380))
	b.setSpeed(7)
	b.add(cmdJog(AxisZ, -fullTravel))
	b.add(cmdJog(AxisZ, 10))
	b.add(cmdOpen())
	b.add(cmdJog(AxisZ, spec.GrabLidNest))
	b.add(cmdClose())
	b.setSpeed(100)
	b.add(cmdJog(AxisZ, fullTravel))
	b.moveTo(deck.Exchange.Pos)
	b.add(cmdJog(AxisZ, -400))
	b.add(cmdOpen())
	b.add(cmdJog(AxisZ, fullTravel))
}

func planRemoveLid(req ActionRequest, st RobotState, deck *Deck) (motionPlan, error) {
	if deck.Exchange.Count < 1 {
		return motionPlan{}, &InvalidParameterError{Param: "exchange", Reason: "no plate on exchange"}
	}
	if !deck.Exchange.HasLid {
		return motionPlan{}, &InvalidParameterError{Param: "exchange", Reason: "plate on exchange has no lid"}
	}
	if st.Occupancy != OccupancyEmpty {
		return motionPlan{}, &InvalidStateError{Action: req.Kind, Phase: st.Phase}
	}
	spec, err := deck.plateSpec(deck.Exchange.PlateType)
	if err != nil {
		return motionPlan{}, err
	}
	lidNest := 0
	if !req.ToTrash {
		if lidNest = deck.emptyLidNest(); lidNest == 0 {
			return motionPlan{}, &InvalidParameterError{Param: "lid_nest", Reason: "no empty lid nest"}
		}
	}
	var b seqBuilder
	appendRemoveLid(&b, deck, spec, req.ToTrash, lidNest)
	b.moveTo(deck.Neutral)

	toTrash := req.ToTrash
	plateType := deck.Exchange.PlateType
	return motionPlan{steps: b.steps, phase: PhaseMoving, finish: func(m *machine) {
		m.deck.Exchange.HasLid = false
		if !toTrash {
			nest := &m.deck.LidNests[lidNest-1]
			nest.Count++
			nest.PlateType = plateType
		}
	}}, nil
}

func planReplaceLid(req ActionRequest, st RobotState, deck *Deck) (motionPlan, error) {
	if deck.Exchange.Count < 1 {
		return motionPlan{}, &InvalidParameterError{Param: "exchange", Reason: "no plate on exchange"}
	}
	if deck.Exchange.HasLid {
		return motionPlan{}, &InvalidParameterError{Param: "exchange", Reason: "plate on exchange already has lid"}
	}
	if st.Occupancy != OccupancyEmpty {
		return motionPlan{}, &InvalidStateError{Action: req.Kind, Phase: st.Phase}
	}
	spec, err := deck.plateSpec(deck.Exchange.PlateType)
	if err != nil {
		return motionPlan{}, err
	}
	lidNest := deck.lidNestWithLid(deck.Exchange.PlateType)
	if lidNest == 0 {
		return motionPlan{}, &InvalidParameterError{Param: "lid_nest", Reason: "no matching lid in lid nests"}
	}
	var b seqBuilder
	appendReplaceLid(&b, deck, spec, lidNest)
	b.moveTo(deck.Neutral)

	return motionPlan{steps: b.steps, phase: PhaseMoving, finish: func(m *machine) {
		m.deck.LidNests[lidNest-1].Count--
		m.deck.Exchange.HasLid = true
	}}, nil
}

func planDiscardLid(req ActionRequest, st RobotState, deck *Deck) (motionPlan, error) {
	if req.LidNest < 1 || req.LidNest > lidNestCount {
		return motionPlan{}, &InvalidParameterError{Param: "lid_nest", Reason: fmt.Sprintf("nest %d out of range 1..%d", req.LidNest, lidNestCount)}
	}
	nest := deck.LidNests[req.LidNest-1]
	if nest.Count < 1 {
		return motionPlan{}, &InvalidParameterError{Param: "lid_nest", Reason: fmt.Sprintf("no lid in nest %d", req.LidNest)}
	}
	if st.Occupancy != OccupancyEmpty {
		return motionPlan{}, &InvalidStateError{Action: req.Kind, Phase: st.Phase}
	}
	spec, err := deck.plateSpec(nest.PlateType)
	if err != nil {
		return motionPlan{}, err
	}

	var b seqBuilder
	b.add(cmdOpen())
	b.setSpeed(10)
	b.retractToTravel()
	b.setSpeed(12)
	b.moveTo(deck.Neutral)

	b.setSpeed(100)
	b.add(cmdClose())
	b.moveTo(nest.Pos)
	b.add(cmdJog(AxisZ, -380))
	b.setSpeed(7)
	b.add(cmdJog(AxisZ, -fullTravel))
	b.add(cmdJog(AxisZ, 10))
	b.add(cmdOpen())
	b.add(cmdJog(AxisZ, spec.GrabLidNest))
	b.add(cmdClose())
	b.setSpeed(100)
	b.add(cmdJog(AxisZ, fullTravel))

	b.moveTo(deck.Trash)
	b.add(cmdJog(AxisZ, -fullTravel))
	b.add(cmdOpen())
	b.add(cmdJog(AxisZ, fullTravel))
	b.moveTo(deck.Neutral)

	nestIdx := req.LidNest - 1
	return motionPlan{steps: b.steps, phase: PhaseMoving, finish: func(m *machine) {
		m.deck.LidNests[nestIdx].Count--
	}}, nil
}

func planDiscardPlate(req ActionRequest, st RobotState, deck *Deck) (motionPlan, error) {
	if deck.Exchange.Count < 1 {
		return motionPlan{}, &InvalidParameterError{Param: "exchange", Reason: "no plate on exchange"}
	}
	if st.Occupancy != OccupancyEmpty {
		return motionPlan{}, &InvalidStateError{Action: req.Kind, Phase: st.Phase}
	}
	spec, err := deck.plateSpec(deck.Exchange.PlateType)
	if err != nil {
		return motionPlan{}, err
	}
	lidNest := 0
	if req.AddLid {
		if deck.Exchange.HasLid {
			return motionPlan{}, &InvalidParameterError{Param: "add_lid", Reason: "plate on exchange already has lid"}
		}
		if lidNest = deck.lidNestWithLid(deck.Exchange.PlateType); lidNest == 0 {
			return motionPlan{}, &InvalidParameterError{Param: "lid_nest", Reason: "no matching lid in lid nests"}
		}
	}

	var b seqBuilder
	b.add(cmdOpen())
	b.setSpeed(10)
	b.retractToTravel()
	b.setSpeed(12)
	b.moveTo(deck.Neutral)
	if req.AddLid {
		appendReplaceLid(&b, deck, spec, lidNest)
	}

	b.setSpeed(100)
	b.add(cmdOpen())
	b.moveTo(deck.Exchange.Pos)
	b.add(cmdJog(AxisZ, -380))
	b.setSpeed(7)
	b.add(cmdJog(AxisZ, spec.GrabExchange))
	b.add(cmdClose())
	b.setSpeed(100)
	b.add(cmdJog(AxisZ, fullTravel))

	b.moveTo(deck.Trash)
	b.add(cmdJog(AxisZ, -fullTravel))
	b.add(cmdOpen())
	b.add(cmdJog(AxisZ, fullTravel))
	b.moveTo(deck.Neutral)

	addLid := req.AddLid
	return motionPlan{steps: b.steps, phase: PhaseMoving, finish: func(m *machine) {
		m.deck.Exchange.Count--
		m.deck.Exchange.HasLid = false
		if addLid {
			m.deck.LidNests[lidNest-1].Count--
		}
	}}, nil
}

func planJog(req ActionRequest, st RobotState) (motionPlan, error) {
	ax, ok := st.Axes[req.Axis]
	if !ok {
		return motionPlan{}, &InvalidParameterError{Param: "axis", Reason: fmt.Sprintf("unknown axis %q", req.Axis)}
	}
	target := ax.Position + req.Distance
	if !ax.Range.contains(target) {
		return motionPlan{}, &InvalidParameterError{
			Param:  "distance",
			Reason: fmt.Sprintf("target %.4f outside %s range %.4f..%.4f", target, req.Axis, ax.Range.Min, ax.Range.Max),
		}
	}
	return motionPlan{steps: []Command{cmdJog(req.Axis, req.Distance)}, phase: PhaseMoving}, nil
}
