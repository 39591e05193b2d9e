package deviceclient

import devices "homewatch/internal/devices/domain"

// payloadSchemas holds the JSON schema each category's response must satisfy.
// Devices report many more fields than listed; extra properties are allowed.
var payloadSchemas = map[devices.Category]string{
	devices.CategoryStatus: `{
	"type": "object"
}`,
	devices.CategoryPower: `{
	"type": "object",
	"required": ["power"],
	"properties": {
		"power":   {"type": "number"},
		"voltage": {"type": "number"},
		"current": {"type": "number"},
		"ts":      {"type": "number", "minimum": 0}
	}
}`,
	devices.CategoryEnergy: `{
	"type": "object",
	"required": ["energy_wh"],
	"properties": {
		"energy_wh": {"type": "number", "minimum": 0},
		"ts":        {"type": "number", "minimum": 0}
	}
}`,
	devices.CategoryMotion: `{
	"type": "object",
	"required": ["motion"],
	"properties": {
		"motion":      {"type": "boolean"},
		"lux":         {"type": "number"},
		"temperature": {"type": "number"},
		"ts":          {"type": "number", "minimum": 0}
	}
}`,
	devices.CategoryBattery: `{
	"type": "object",
	"required": ["battery"],
	"properties": {
		"battery": {"type": "number", "minimum": 0, "maximum": 100},
		"ts":      {"type": "number", "minimum": 0}
	}
}`,
}
