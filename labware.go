package sciclops

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.viam.com/rdk/logging"
)

const (
	towerCount   = 5
	lidNestCount = 2

	// Deck travel constants, in device units. All staged positions sit
	// at the travel height; descents are jogged from there.
	travelZ      = 23.5188
	towerBottomZ = -421.8625
	towerClearZ  = -50.0
)

// Point is a full four-axis pose.
type Point struct {
	Z float64 `json:"z"`
	R float64 `json:"r"`
	Y float64 `json:"y"`
	P float64 `json:"p"`
}

func (p Point) axis(id AxisID) float64 {
	switch id {
	case AxisZ:
		return p.Z
	case AxisR:
		return p.R
	case AxisY:
		return p.Y
	case AxisP:
		return p.P
	}
	return 0
}

// PlateSpec holds the per-labware grab offsets. Heights are jog
// distances: negative is downward.
type PlateSpec struct {
	Height          float64 `json:"height"`
	GrabExchange    float64 `json:"grab_exchange"`
	GrabLidExchange float64 `json:"grab_lid_exchange"`
	GrabTower       float64 `json:"grab_tower"`
	GrabLidTower    float64 `json:"grab_lid_tower"`
	GrabLidNest     float64 `json:"grab_lid_nest"`
}

// Slot is one plate location on the deck with its tracked inventory.
type Slot struct {
	Pos       Point  `json:"pos"`
	PlateType string `json:"plate_type"`
	Count     int    `json:"count"`
	HasLid    bool   `json:"has_lid"`
}

// Deck is the crane's working envelope: five storage towers, two lid
// nests, the exchange platform, and fixed neutral/trash poses.
type Deck struct {
	Towers   [towerCount]Slot     `json:"towers"`
	LidNests [lidNestCount]Slot   `json:"lid_nests"`
	Exchange Slot                 `json:"exchange"`
	Neutral  Point                `json:"neutral"`
	Trash    Point                `json:"trash"`
	Plates   map[string]PlateSpec `json:"plates"`
}

// DefaultDeck returns the factory deck layout.
func DefaultDeck() *Deck {
	return &Deck{
		Towers: [towerCount]Slot{
			{Pos: Point{Z: travelZ, R: 133.5, Y: 171.9895, P: 8.6648}, PlateType: "96_well"},
			{Pos: Point{Z: travelZ, R: 151.3, Y: 171.4872, P: 8.4943}, PlateType: "96_well"},
			{Pos: Point{Z: travelZ, R: 169.5, Y: 171.4810, P: 12.4716}, PlateType: "96_well"},
			{Pos: Point{Z: travelZ, R: 187.5, Y: 169.4470, P: 5.9091}, PlateType: "96_well"},
			{Pos: Point{Z: travelZ, R: 205.4, Y: 171.2082, P: 10.8807}, PlateType: "96_well"},
		},
		LidNests: [lidNestCount]Slot{
			{Pos: Point{Z: travelZ, R: 169.2706, Y: 25.7535, P: 10.2159}, PlateType: "96_well"},
			{Pos: Point{Z: travelZ, R: 201.2665, Y: 25.7535, P: 8.0909}, PlateType: "96_well"},
		},
		Exchange: Slot{Pos: Point{Z: travelZ, R: 109.2741, Y: 32.7484, P: 100.8955}},
		Neutral:  Point{Z: travelZ, R: 109.2741, Y: 32.7484, P: 98.2955},
		Trash:    Point{Z: travelZ, R: 259.2688, Y: 62.7497, P: 98.2670},
		Plates: map[string]PlateSpec{
			"96_well": {
				Height:          16.2562,
				GrabExchange:    -30,
				GrabLidExchange: -21,
				GrabTower:       -18,
				GrabLidTower:    -13,
				GrabLidNest:     -12,
			},
			"pcr_plate": {
				Height:       15.2762,
				GrabExchange: -28,
				GrabTower:    -17,
			},
		},
	}
}

// LoadDeck reads a deck layout from a JSON file, falling back to the
// factory layout when the file is absent or unreadable. Relative paths
// resolve against the module data directory when the module manager
// provides one.
func LoadDeck(path string, logger logging.Logger) *Deck {
	if path == "" {
		return DefaultDeck()
	}
	if !filepath.IsAbs(path) {
		if dataDir := os.Getenv("VIAM_MODULE_DATA"); dataDir != "" {
			path = filepath.Join(dataDir, path)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warnf("deck file %s not readable, using factory layout: %v", path, err)
		return DefaultDeck()
	}
	deck := DefaultDeck()
	if err := json.Unmarshal(data, deck); err != nil {
		logger.Warnf("deck file %s not valid JSON, using factory layout: %v", path, err)
		return DefaultDeck()
	}
	logger.Infof("loaded deck layout from %s", path)
	return deck
}

// SaveDeck persists the layout, including current inventory counts.
func (d *Deck) SaveDeck(path string) error {
	if !filepath.IsAbs(path) {
		if dataDir := os.Getenv("VIAM_MODULE_DATA"); dataDir != "" {
			path = filepath.Join(dataDir, path)
		}
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// tower returns the slot for a 1-based tower number.
func (d *Deck) tower(n int) (*Slot, error) {
	if n < 1 || n > towerCount {
		return nil, &InvalidParameterError{
			Param:  "slot",
			Reason: fmt.Sprintf("tower %d out of range 1..%d", n, towerCount),
		}
	}
	return &d.Towers[n-1], nil
}

func (d *Deck) plateSpec(plateType string) (PlateSpec, error) {
	spec, ok := d.Plates[plateType]
	if !ok {
		return PlateSpec{}, &InvalidParameterError{
			Param:  "plate_type",
			Reason: fmt.Sprintf("unknown plate type %q", plateType),
		}
	}
	return spec, nil
}

// towerHasRoom reports whether the stacked plates leave clearance for
// one more at the given 1-based tower.
func (d *Deck) towerHasRoom(n int) bool {
	slot := d.Towers[n-1]
	spec, ok := d.Plates[slot.PlateType]
	if !ok {
		return false
	}
	stackTop := towerBottomZ + spec.Height*float64(slot.Count)
	return stackTop+spec.Height < towerClearZ
}

// lidNestWithLid finds a nest holding a lid for the given plate type;
// returns the 1-based nest number, or 0 when none matches.
func (d *Deck) lidNestWithLid(plateType string) int {
	for i := range d.LidNests {
		if d.LidNests[i].Count >= 1 && d.LidNests[i].PlateType == plateType {
			return i + 1
		}
	}
	return 0
}

// emptyLidNest finds a free nest; 0 when both are occupied.
func (d *Deck) emptyLidNest() int {
	for i := range d.LidNests {
		if d.LidNests[i].Count == 0 {
			return i + 1
		}
	}
	return 0
}

func (d *Deck) snapshot() DeckSnapshot {
	var s DeckSnapshot
	for i := range d.Towers {
		s.Towers[i] = d.Towers[i].Count
	}
	for i := range d.LidNests {
		s.LidNests[i] = d.LidNests[i].Count
	}
	s.Exchange = d.Exchange.Count
	s.ExchangeHasLid = d.Exchange.HasLid
	return s
}
