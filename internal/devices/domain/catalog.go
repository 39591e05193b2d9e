package devices

import (
	"fmt"
	"sort"
)

// Category is a class of telemetry or control data a device exposes.
type Category string

const (
	CategoryStatus  Category = "status"
	CategoryPower   Category = "power"
	CategoryEnergy  Category = "energy"
	CategoryMotion  Category = "motion"
	CategoryBattery Category = "battery"
)

// LiveData reports whether the category carries readings that lose meaning
// once the device stops answering.
func (c Category) LiveData() bool {
	switch c {
	case CategoryPower, CategoryEnergy, CategoryMotion, CategoryBattery:
		return true
	default:
		return false
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryStatus || c.LiveData()
}

// IntervalClass is one of the three fixed polling cadences.
type IntervalClass int

const (
	IntervalStatus IntervalClass = iota
	IntervalData
	IntervalEnergy
)

func (c IntervalClass) String() string {
	switch c {
	case IntervalStatus:
		return "status"
	case IntervalData:
		return "data"
	case IntervalEnergy:
		return "energy"
	default:
		return fmt.Sprintf("interval(%d)", int(c))
	}
}

// Capability binds a category to the endpoint and cadence used to poll it.
type Capability struct {
	Category Category      `json:"category"`
	Endpoint string        `json:"endpoint"`
	Interval IntervalClass `json:"interval_class"`
}

// Action is a control command.
type Action string

const (
	ActionTurnOn     Action = "turn_on"
	ActionTurnOff    Action = "turn_off"
	ActionToggle     Action = "toggle"
	ActionBrightness Action = "brightness"
	ActionReboot     Action = "reboot"
)

// Control describes how a command maps onto the device's HTTP API.
type Control struct {
	Action   Action            `json:"action"`
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params,omitempty"`
	// ValueParam names the query parameter fed from the command value.
	ValueParam string `json:"value_param,omitempty"`
}

type catalogEntry struct {
	capabilities []Capability
	controls     []Control
}

// Catalog is the static device-type table. It is not mutated after construction.
type Catalog struct {
	entries map[Type]catalogEntry
}

var (
	statusCap = Capability{Category: CategoryStatus, Endpoint: "/status", Interval: IntervalStatus}
	rebootCtl = Control{Action: ActionReboot, Endpoint: "/reboot"}
)

func relayControls(endpoint string) []Control {
	return []Control{
		{Action: ActionTurnOn, Endpoint: endpoint, Params: map[string]string{"turn": "on"}},
		{Action: ActionTurnOff, Endpoint: endpoint, Params: map[string]string{"turn": "off"}},
		{Action: ActionToggle, Endpoint: endpoint, Params: map[string]string{"turn": "toggle"}},
	}
}

// DefaultCatalog returns the catalog of supported device types.
func DefaultCatalog() *Catalog {
	motionCaps := []Capability{
		statusCap,
		{Category: CategoryMotion, Endpoint: "/status", Interval: IntervalData},
		{Category: CategoryBattery, Endpoint: "/status", Interval: IntervalData},
	}
	return &Catalog{entries: map[Type]catalogEntry{
		TypePlus1PM: {
			capabilities: []Capability{
				statusCap,
				{Category: CategoryPower, Endpoint: "/relay", Interval: IntervalData},
				{Category: CategoryEnergy, Endpoint: "/status", Interval: IntervalEnergy},
			},
			controls: append(relayControls("/relay"), rebootCtl),
		},
		TypePlus1: {
			capabilities: []Capability{statusCap},
			controls:     append(relayControls("/relay"), rebootCtl),
		},
		TypeDimmer2: {
			capabilities: []Capability{
				statusCap,
				{Category: CategoryPower, Endpoint: "/light", Interval: IntervalData},
				{Category: CategoryEnergy, Endpoint: "/status", Interval: IntervalEnergy},
			},
			controls: append(relayControls("/light"),
				Control{Action: ActionBrightness, Endpoint: "/light", Params: map[string]string{"turn": "on"}, ValueParam: "brightness"},
				rebootCtl,
			),
		},
		TypeMotion: {
			capabilities: motionCaps,
			controls:     []Control{rebootCtl},
		},
		TypeMotion2: {
			capabilities: motionCaps,
			controls:     []Control{rebootCtl},
		},
	}}
}

// Supports reports whether the catalog has an entry for t.
func (c *Catalog) Supports(t Type) bool {
	if c == nil {
		return false
	}
	_, ok := c.entries[t]
	return ok
}

// Types returns the supported device types in lexical order.
func (c *Catalog) Types() []Type {
	if c == nil {
		return nil
	}
	types := make([]Type, 0, len(c.entries))
	for t := range c.entries {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// CapabilitiesFor returns the ordered capability set of a device type.
func (c *Catalog) CapabilitiesFor(t Type) ([]Capability, error) {
	if c == nil {
		return nil, ErrUnknownType
	}
	entry, ok := c.entries[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return append([]Capability(nil), entry.capabilities...), nil
}

// Capability returns the capability for a category of a device type.
func (c *Catalog) Capability(t Type, category Category) (Capability, bool) {
	caps, err := c.CapabilitiesFor(t)
	if err != nil {
		return Capability{}, false
	}
	for _, capability := range caps {
		if capability.Category == category {
			return capability, true
		}
	}
	return Capability{}, false
}

// Controls returns the control commands of a device type.
func (c *Catalog) Controls(t Type) ([]Control, error) {
	if c == nil {
		return nil, ErrUnknownType
	}
	entry, ok := c.entries[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return append([]Control(nil), entry.controls...), nil
}

// Control looks up a single action for a device type.
func (c *Catalog) Control(t Type, action Action) (Control, bool) {
	controls, err := c.Controls(t)
	if err != nil {
		return Control{}, false
	}
	for _, control := range controls {
		if control.Action == action {
			return control, true
		}
	}
	return Control{}, false
}
