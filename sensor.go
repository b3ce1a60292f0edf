package sciclops

import (
	"context"
	"fmt"
	"time"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var (
	StatusSensorModel = resource.NewModel("ad-sdl", "sciclops", "status")
)

type StatusSensorConfig struct {
	Port     string `json:"port,omitempty"`
	Baudrate int    `json:"baudrate,omitempty"`

	ReadTimeout  time.Duration `json:"read_timeout,omitempty"`
	ActionBudget time.Duration `json:"action_budget,omitempty"`

	// Shared with the gripper
	DeckFile string `json:"deck_file,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *StatusSensorConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Port == "" {
		return nil, nil, fmt.Errorf("must specify port for serial communication")
	}
	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultBaudrate
	}
	return nil, nil, nil
}

type statusSensor struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	port   string
	driver *Driver
}

func init() {
	resource.RegisterComponent(
		sensor.API,
		StatusSensorModel,
		resource.Registration[sensor.Sensor, *StatusSensorConfig]{
			Constructor: newStatusSensor,
		},
	)
}

func newStatusSensor(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	cfg, err := resource.NativeConfig[*StatusSensorConfig](conf)
	if err != nil {
		return nil, err
	}

	driverConfig := &Config{
		Port:         cfg.Port,
		Baudrate:     cfg.Baudrate,
		ReadTimeout:  cfg.ReadTimeout,
		ActionBudget: cfg.ActionBudget,
		DeckFile:     cfg.DeckFile,
		Logger:       logger,
	}
	if _, _, err := driverConfig.Validate(""); err != nil {
		return nil, err
	}

	driver, err := SharedDriver(driverConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared driver for status sensor: %w", err)
	}

	return &statusSensor{
		name:   conf.ResourceName(),
		logger: logger,
		port:   cfg.Port,
		driver: driver,
	}, nil
}

func (s *statusSensor) Name() resource.Name {
	return s.name
}

// Readings reports the tracked crane state. It never touches the
// device, so it stays responsive while a transfer is running.
func (s *statusSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	st := s.driver.Status()

	readings := map[string]interface{}{
		"phase":        string(st.Phase),
		"homed":        st.Homed(),
		"gripper_open": st.GripperOpen,
		"occupancy":    string(st.Occupancy),
		"speed":        st.Speed,
	}
	for id, ax := range st.Axes {
		readings["position_"+string(id)] = ax.Position
	}
	if st.Fault != nil {
		readings["fault_kind"] = string(st.Fault.Kind)
		readings["fault_detail"] = st.Fault.Error()
	}
	for i, count := range st.Deck.Towers {
		readings[fmt.Sprintf("tower_%d_plates", i+1)] = count
	}
	for i, count := range st.Deck.LidNests {
		readings[fmt.Sprintf("lid_nest_%d_lids", i+1)] = count
	}
	readings["exchange_plates"] = st.Deck.Exchange
	readings["exchange_has_lid"] = st.Deck.ExchangeHasLid

	return readings, nil
}

func (s *statusSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "sync_positions":
		err := s.driver.SyncPositions(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "device_status":
		msg, err := s.driver.query(ctx, "STATUS")
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"status": msg}, nil

	case "device_config":
		msg, err := s.driver.DeviceConfig(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"config": msg}, nil

	case "grip_length":
		msg, err := s.driver.GripLength(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"grip_length": msg}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (s *statusSensor) Close(ctx context.Context) error {
	ReleaseSharedDriver(s.port)
	return nil
}
