package normalize

import "maps"

// Status is the classification of one unit dispatch status code.
type Status struct {
	Label  string
	Color  string
	Active bool
}

// UnknownColor is the color reported for status codes missing from the table.
const UnknownColor = "unknown"

// Tables holds the read-only code lookups used during normalization.
// Build once at startup and share; nothing mutates a Tables after New.
type Tables struct {
	callTypes map[string]string
	statuses  map[string]Status
}

// NewTables copies the given lookups into a Tables.
func NewTables(callTypes map[string]string, statuses map[string]Status) *Tables {
	return &Tables{
		callTypes: maps.Clone(callTypes),
		statuses:  maps.Clone(statuses),
	}
}

// CallTypeLabel returns the description for an incident call type code.
// Unknown codes pass through verbatim.
func (t *Tables) CallTypeLabel(code string) string {
	if label, ok := t.callTypes[code]; ok {
		return label
	}
	return code
}

// Status resolves a unit status code. Unknown codes fail open: the label is
// the code itself, the color is UnknownColor, and the unit counts as active.
func (t *Tables) Status(code string) (Status, bool) {
	if s, ok := t.statuses[code]; ok {
		return s, true
	}
	return Status{Label: code, Color: UnknownColor, Active: true}, false
}

// DefaultTables returns the incident type and unit status tables published
// with the upstream web client.
func DefaultTables() *Tables {
	return NewTables(defaultCallTypes, defaultStatuses)
}

var defaultCallTypes = map[string]string{
	// Medical
	"ME":    "Medical Emergency",
	"MCI":   "Mass Casualty Incident",
	"LA":    "Lift Assist",
	"TRANS": "Transfer",

	// Fire
	"SF":   "Structure Fire",
	"SFA":  "Structure Fire Alarm",
	"AFA":  "Automatic Fire Alarm",
	"FA":   "Fire Alarm",
	"MA":   "Manual Alarm",
	"VF":   "Vehicle Fire",
	"VEG":  "Vegetation Fire",
	"BF":   "Brush Fire",
	"GF":   "Grass Fire",
	"RF":   "Rubbish Fire",
	"OF":   "Outside Fire",
	"FIRE": "Fire (General)",

	// Traffic
	"TC":   "Traffic Collision",
	"TCA":  "Traffic Collision w/ Injuries",
	"TCE":  "Traffic Collision w/ Entrapment",
	"EXTR": "Extrication",

	// Hazmat
	"HAZMAT": "Hazardous Materials",
	"GAS":    "Gas Leak",
	"CO":     "Carbon Monoxide",
	"FUEL":   "Fuel Spill",
	"ODOR":   "Odor Investigation",

	// Rescue
	"WR":     "Water Rescue",
	"TR":     "Technical Rescue",
	"SR":     "Swift Water Rescue",
	"CONF":   "Confined Space",
	"ROPE":   "Rope Rescue",
	"TRENCH": "Trench Rescue",

	// Service
	"PS":   "Public Service",
	"ELV":  "Elevator Emergency",
	"LOCK": "Lock Out",
	"APTS": "Animal Problem",

	// Utility and weather
	"EL":    "Electrical",
	"WIRE":  "Wires Down",
	"FLOOD": "Flooding",
	"STORM": "Storm Related",

	// Investigation
	"SMOKE":  "Smoke Investigation",
	"INVEST": "Investigation",

	// Mutual aid and coverage
	"MU":    "Mutual Aid",
	"MUAID": "Mutual Aid",
	"COV":   "Coverage",
	"MOVE":  "Move Up",

	"TEST": "Test Incident",
	"UNK":  "Unknown",
	"OTH":  "Other",
}

var defaultStatuses = map[string]Status{
	"DP":  {Label: "Dispatched", Color: "orange", Active: true},
	"AK":  {Label: "Acknowledged", Color: "orange", Active: true},
	"ER":  {Label: "Enroute", Color: "green", Active: true},
	"SG":  {Label: "Staged", Color: "green", Active: true},
	"OS":  {Label: "On Scene", Color: "red", Active: true},
	"AOS": {Label: "Available On Scene", Color: "red", Active: true},
	"TR":  {Label: "Transport", Color: "yellow", Active: true},
	"TA":  {Label: "Transport Arrived", Color: "blue", Active: true},
	"AT":  {Label: "At Hospital", Color: "blue", Active: true},

	"AQ":  {Label: "Available In Quarters", Color: "gray", Active: false},
	"CLR": {Label: "Cleared", Color: "gray", Active: false},
	"AVL": {Label: "Available", Color: "gray", Active: false},
	"AR":  {Label: "Available On Radio", Color: "gray", Active: false},
	"STN": {Label: "At Station", Color: "gray", Active: false},
	"OOS": {Label: "Out Of Service", Color: "black", Active: false},
}
