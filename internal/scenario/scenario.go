// Package scenario drives an arbiter from YAML scripts. A scenario
// declares devices and a window tree, then a list of steps: client
// requests, device events and expectations about what was delivered and
// which grabs are held.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bnema/grabarbiter/internal/input"
	"github.com/jezek/xgb/xproto"
	"gopkg.in/yaml.v3"
)

// Scenario is a parsed scenario file.
type Scenario struct {
	Name    string       `yaml:"name"`
	Devices []DeviceSpec `yaml:"devices"`
	// Windows lists the tree root first; every other window names a
	// parent declared before it.
	Windows []WindowSpec `yaml:"windows"`
	Steps   []Step       `yaml:"steps"`
}

type DeviceSpec struct {
	ID         input.DeviceID `yaml:"id"`
	Name       string         `yaml:"name"`
	Use        string         `yaml:"use"`
	Attached   input.DeviceID `yaml:"attached"`
	Keys       bool           `yaml:"keys"`
	Buttons    bool           `yaml:"buttons"`
	Touch      string         `yaml:"touch"`
	MaxTouches int            `yaml:"max_touches"`
	Gesture    bool           `yaml:"gesture"`
}

type WindowSpec struct {
	ID            input.XID `yaml:"id"`
	Parent        input.XID `yaml:"parent"`
	X             int       `yaml:"x"`
	Y             int       `yaml:"y"`
	Width         int       `yaml:"width"`
	Height        int       `yaml:"height"`
	Unmapped      bool      `yaml:"unmapped"`
	DontPropagate []string  `yaml:"dont_propagate"`
}

// Step is one scripted action. Do names the action; the other fields are
// its arguments and only those the action uses are read.
type Step struct {
	Do     string         `yaml:"do"`
	Client input.ClientID `yaml:"client"`
	Device input.DeviceID `yaml:"device"`
	Window input.XID      `yaml:"window"`

	// Grab and selection arguments.
	ConfineTo    input.XID `yaml:"confine_to"`
	Kind         string    `yaml:"kind"`
	Type         string    `yaml:"type"`
	Detail       Value     `yaml:"detail"`
	Modifiers    Value     `yaml:"modifiers"`
	ModifierList []uint32  `yaml:"modifier_list"`
	Mask         []string  `yaml:"mask"`
	Mode         string    `yaml:"mode"`
	OtherMode    string    `yaml:"other_mode"`
	OwnerEvents  bool      `yaml:"owner_events"`

	// Event arguments.
	Source  input.DeviceID `yaml:"source"`
	Touch   uint32         `yaml:"touch"`
	X       float64        `yaml:"x"`
	Y       float64        `yaml:"y"`
	Time    uint32         `yaml:"time"`
	Mods    uint32         `yaml:"mods"`
	Touches uint32         `yaml:"touches"`

	Allow   string `yaml:"allow"`
	Version string `yaml:"version"`

	// Error is the status the step must fail with: a protocol error name
	// such as BadAccess, or a grab reply status such as AlreadyGrabbed.
	Error string `yaml:"error"`
	// Failed lists the modifier states an XI2 passive grab must report.
	Failed []uint32 `yaml:"failed"`

	Expect *Expect `yaml:"expect"`
}

// Expect holds the checks of an expect step. Deliveries are compared
// against what was delivered since the previous expect step.
type Expect struct {
	Deliveries   []DeliverySpec   `yaml:"deliveries"`
	NoDeliveries bool             `yaml:"no_deliveries"`
	Frozen       []input.DeviceID `yaml:"frozen"`
	Thawed       []input.DeviceID `yaml:"thawed"`
	Grabs        []GrabSpec       `yaml:"grabs"`
	Passive      []PassiveSpec    `yaml:"passive"`
	Owners       []OwnerSpec      `yaml:"owners"`
	Touches      []TouchSpec      `yaml:"touches"`
	LiveGrabs    *int             `yaml:"live_grabs"`
}

type DeliverySpec struct {
	Client input.ClientID `yaml:"client"`
	Type   string         `yaml:"type"`
	Window input.XID      `yaml:"window"`
	Level  string         `yaml:"level"`
	Detail *uint32        `yaml:"detail"`
}

// GrabSpec checks a device's active grab. Client zero means no grab.
type GrabSpec struct {
	Device input.DeviceID `yaml:"device"`
	Client input.ClientID `yaml:"client"`
	Window input.XID      `yaml:"window"`
	Origin string         `yaml:"origin"`
}

type PassiveSpec struct {
	Window input.XID `yaml:"window"`
	Count  int       `yaml:"count"`
}

// OwnerSpec checks the client owning a touch. Client zero means the
// touch has no listeners left.
type OwnerSpec struct {
	Device input.DeviceID `yaml:"device"`
	Touch  uint32         `yaml:"touch"`
	Client input.ClientID `yaml:"client"`
}

type TouchSpec struct {
	Device input.DeviceID `yaml:"device"`
	Count  int            `yaml:"count"`
}

// Value is a number or the wildcard "any".
type Value struct {
	Any bool
	N   uint32
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number or \"any\"", node.Line)
	}
	if strings.EqualFold(node.Value, "any") {
		*v = Value{Any: true}
		return nil
	}
	n, err := strconv.ParseUint(node.Value, 0, 32)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*v = Value{N: uint32(n)}
	return nil
}

func (v Value) resolve(wildcard uint32) uint32 {
	if v.Any {
		return wildcard
	}
	return v.N
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario: %w", err)
	}
	defer f.Close()

	sc, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	return sc, nil
}

// Decode parses a scenario. Unknown keys are errors.
func Decode(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty scenario")
		}
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if len(sc.Windows) == 0 {
		return errors.New("scenario has no root window")
	}
	for i, st := range sc.Steps {
		if _, ok := actions[st.Do]; !ok {
			return fmt.Errorf("step %d: unknown action %q", i+1, st.Do)
		}
		if st.Do == "expect" && st.Expect == nil {
			return fmt.Errorf("step %d: expect without checks", i+1)
		}
	}
	return nil
}

var uses = map[string]input.Use{
	"master-pointer":  input.MasterPointer,
	"master-keyboard": input.MasterKeyboard,
	"slave-pointer":   input.SlavePointer,
	"slave-keyboard":  input.SlaveKeyboard,
	"floating":        input.FloatingSlave,
}

var levels = map[string]input.Level{
	"core": input.Core,
	"xi":   input.XI,
	"xi2":  input.XI2,
}

// parseMask maps event type names to a core event mask. OwnerGrabButton
// is accepted for implicit grabs.
func parseMask(names []string) (uint32, error) {
	var mask uint32
	for _, name := range names {
		if name == "OwnerGrabButton" {
			mask |= xproto.EventMaskOwnerGrabButton
			continue
		}
		t, err := input.ParseEventType(name)
		if err != nil {
			return 0, err
		}
		f := t.Filter()
		if f == 0 {
			return 0, fmt.Errorf("event type %s has no core mask", name)
		}
		mask |= f
	}
	return mask, nil
}

func parseXI2Types(names []string) ([]input.XI2Type, error) {
	out := make([]input.XI2Type, 0, len(names))
	for _, name := range names {
		t, err := input.ParseEventType(name)
		if err != nil {
			return nil, err
		}
		xt := t.XI2()
		if xt == 0 {
			return nil, fmt.Errorf("event type %s has no XI2 type", name)
		}
		out = append(out, xt)
	}
	return out, nil
}

func parseVersion(s string) (major, minor uint16, err error) {
	majStr, minStr, ok := strings.Cut(s, ".")
	if !ok {
		return 0, 0, fmt.Errorf("version %q is not major.minor", s)
	}
	a, err := strconv.ParseUint(majStr, 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("version %q: %w", s, err)
	}
	b, err := strconv.ParseUint(minStr, 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("version %q: %w", s, err)
	}
	return uint16(a), uint16(b), nil
}
