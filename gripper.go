package sciclops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

var (
	GripperModel = resource.NewModel("ad-sdl", "sciclops", "gripper")
)

type GripperConfig struct {
	Port     string `json:"port,omitempty"`
	Baudrate int    `json:"baudrate,omitempty"`

	ReadTimeout  time.Duration `json:"read_timeout,omitempty"`
	ActionBudget time.Duration `json:"action_budget,omitempty"`

	DefaultSpeed int `json:"default_speed,omitempty"`

	// Shared with the status sensor
	DeckFile string `json:"deck_file,omitempty"`

	// HomeOnStart homes the crane when the component comes up.
	HomeOnStart bool `json:"home_on_start,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *GripperConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("must specify port for serial communication")
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultBaudrate
	}
	if cfg.DefaultSpeed != 0 && (cfg.DefaultSpeed < 1 || cfg.DefaultSpeed > 100) {
		return nil, nil, fmt.Errorf("default_speed must be 1..100, got %d", cfg.DefaultSpeed)
	}
	return nil, nil, nil
}

func (cfg *GripperConfig) driverConfig(logger logging.Logger) *Config {
	return &Config{
		Port:         cfg.Port,
		Baudrate:     cfg.Baudrate,
		ReadTimeout:  cfg.ReadTimeout,
		ActionBudget: cfg.ActionBudget,
		DefaultSpeed: cfg.DefaultSpeed,
		DeckFile:     cfg.DeckFile,
		Logger:       logger,
	}
}

type sciclopsGripper struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	port       string
	driver     *Driver
	geometries []spatialmath.Geometry
}

func init() {
	resource.RegisterComponent(
		gripper.API,
		GripperModel,
		resource.Registration[gripper.Gripper, *GripperConfig]{
			Constructor: newSciclopsGripper,
		},
	)
}

func newSciclopsGripper(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (gripper.Gripper, error) {
	cfg, err := resource.NativeConfig[*GripperConfig](conf)
	if err != nil {
		return nil, err
	}

	driverConfig := cfg.driverConfig(logger)
	if _, _, err := driverConfig.Validate(""); err != nil {
		return nil, err
	}

	driver, err := SharedDriver(driverConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared driver for gripper: %w", err)
	}

	// The paddles wrap an ANSI/SLAS footprint microplate.
	plateSize := r3.Vector{X: 127.76, Y: 85.48, Z: 16.26}
	plate, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(r3.Vector{Z: plateSize.Z / 2}), plateSize, "plate")
	if err != nil {
		ReleaseSharedDriver(cfg.Port)
		return nil, err
	}

	g := &sciclopsGripper{
		name:       conf.ResourceName(),
		logger:     logger,
		port:       cfg.Port,
		driver:     driver,
		geometries: []spatialmath.Geometry{plate},
	}

	if cfg.HomeOnStart {
		if err := driver.Home(ctx); err != nil {
			ReleaseSharedDriver(cfg.Port)
			return nil, fmt.Errorf("homing on start: %w", err)
		}
	}

	logger.Debugf("plate crane gripper initialized on %s", cfg.Port)
	return g, nil
}

func (g *sciclopsGripper) Name() resource.Name {
	return g.name
}

func (g *sciclopsGripper) Open(ctx context.Context, extra map[string]interface{}) error {
	return g.driver.OpenGripper(ctx)
}

func (g *sciclopsGripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	if err := g.driver.CloseGripper(ctx); err != nil {
		return false, err
	}
	return g.driver.PlatePresent(ctx)
}

func (g *sciclopsGripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	g.driver.Stop()
	return nil
}

func (g *sciclopsGripper) IsMoving(ctx context.Context) (bool, error) {
	st := g.driver.Status()
	return st.Phase == PhaseMoving || st.Phase == PhaseHoming, nil
}

func (g *sciclopsGripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return g.geometries, nil
}

func (g *sciclopsGripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "home":
		err := g.driver.Home(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "reset":
		err := g.driver.Reset(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "move_to_slot":
		slot, err := intArg(cmd, "slot")
		if err != nil {
			return nil, err
		}
		err = g.driver.MoveToSlot(ctx, slot)
		return map[string]interface{}{"success": err == nil}, err

	case "get_plate":
		slot, err := intArg(cmd, "slot")
		if err != nil {
			return nil, err
		}
		err = g.driver.Transfer(ctx, TransferToHandoff, slot, TransferOptions{
			RemoveLid:  boolArg(cmd, "remove_lid"),
			LidToTrash: boolArg(cmd, "trash"),
		})
		return map[string]interface{}{"success": err == nil}, err

	case "put_plate":
		slot, err := intArg(cmd, "slot")
		if err != nil {
			return nil, err
		}
		err = g.driver.Transfer(ctx, TransferFromHandoff, slot, TransferOptions{
			AddLid: boolArg(cmd, "add_lid"),
		})
		return map[string]interface{}{"success": err == nil}, err

	case "remove_lid":
		err := g.driver.RemoveLid(ctx, boolArg(cmd, "trash"))
		return map[string]interface{}{"success": err == nil}, err

	case "replace_lid":
		err := g.driver.ReplaceLid(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "discard_lid":
		nest, err := intArg(cmd, "nest")
		if err != nil {
			return nil, err
		}
		err = g.driver.DiscardLid(ctx, nest)
		return map[string]interface{}{"success": err == nil}, err

	case "discard_plate":
		err := g.driver.DiscardPlate(ctx, boolArg(cmd, "add_lid"))
		return map[string]interface{}{"success": err == nil}, err

	case "jog":
		axis, _ := cmd["axis"].(string)
		dist, ok := cmd["distance"].(float64)
		if axis == "" || !ok {
			return nil, fmt.Errorf("jog requires 'axis' and 'distance' parameters")
		}
		err := g.driver.Jog(ctx, AxisID(axis), dist)
		return map[string]interface{}{"success": err == nil}, err

	case "set_speed":
		speed, err := intArg(cmd, "speed")
		if err != nil {
			return nil, err
		}
		err = g.driver.SetSpeed(ctx, speed)
		return map[string]interface{}{"success": err == nil}, err

	case "limp":
		err := g.driver.Limp(ctx, boolArg(cmd, "enable"))
		return map[string]interface{}{"success": err == nil}, err

	case "version":
		version, err := g.driver.Version(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"version": version}, nil

	case "save_deck":
		err := g.driver.SaveDeck()
		return map[string]interface{}{"success": err == nil}, err

	case "driver_status":
		refCount, hasDriver, configSummary := sharedDrivers.Status(g.port)
		return map[string]interface{}{
			"ref_count":  refCount,
			"has_driver": hasDriver,
			"config":     configSummary,
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (g *sciclopsGripper) Close(ctx context.Context) error {
	ReleaseSharedDriver(g.port)
	return nil
}

func (g *sciclopsGripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return nil, errors.ErrUnsupported
}

func (g *sciclopsGripper) GoToInputs(ctx context.Context, inputs ...[]referenceframe.Input) error {
	return errors.ErrUnsupported
}

func (g *sciclopsGripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}

func (g *sciclopsGripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	return gripper.HoldingStatus{}, errors.ErrUnsupported
}

// DoCommand numbers arrive as float64 through the protobuf struct layer.
func intArg(cmd map[string]interface{}, key string) (int, error) {
	v, ok := cmd[key].(float64)
	if !ok {
		return 0, fmt.Errorf("command requires numeric %q parameter", key)
	}
	return int(v), nil
}

func boolArg(cmd map[string]interface{}, key string) bool {
	v, _ := cmd[key].(bool)
	return v
}
