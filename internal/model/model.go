package model

import (
	"strconv"
	"time"
)

// Event is a single concrete calendar occurrence as imported from a
// calendar source. Recurring VEVENTs are expanded into one Event per
// occurrence before they reach this type.
type Event struct {
	Source string `json:"source"` // calendar source ID (e.g. "upload", "sample")
	UID    string `json:"uid,omitempty"`

	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`

	AllDay bool `json:"all_day"`

	// Start / End are in the configured display timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Key identifies one occurrence. It is derived from the name and the start
// instant so that re-importing the same calendar keeps previously saved
// details attached.
func (e Event) Key() string {
	return e.Name + "_" + e.Start.UTC().Format(time.RFC3339)
}

// Detail field names, as used by the question flow and the HTTP API.
const (
	FieldLocation      = "location"
	FieldArrivalTime   = "arrival_time"
	FieldDepartureTime = "departure_time"
)

// DetailFields lists the user-supplied fields in prompt order.
var DetailFields = []string{FieldLocation, FieldArrivalTime, FieldDepartureTime}

// EventDetails holds what the user told us about an event.
type EventDetails struct {
	Location      string    `json:"location,omitempty"`
	ArrivalTime   string    `json:"arrival_time,omitempty"`   // HH:MM
	DepartureTime string    `json:"departure_time,omitempty"` // HH:MM
	SavedAt       time.Time `json:"saved_at,omitempty"`
}

// Complete reports whether all three fields are present.
func (d EventDetails) Complete() bool {
	return d.Location != "" && d.ArrivalTime != "" && d.DepartureTime != ""
}

// Get returns the value stored for a detail field name.
func (d EventDetails) Get(field string) string {
	switch field {
	case FieldLocation:
		return d.Location
	case FieldArrivalTime:
		return d.ArrivalTime
	case FieldDepartureTime:
		return d.DepartureTime
	}
	return ""
}

// Missing returns the names of the fields that are still empty.
func (d EventDetails) Missing() []string {
	var out []string
	for _, f := range DetailFields {
		if d.Get(f) == "" {
			out = append(out, f)
		}
	}
	return out
}

// SameValues compares the user-visible fields, ignoring SavedAt.
func (d EventDetails) SameValues(o EventDetails) bool {
	return d.Location == o.Location && d.ArrivalTime == o.ArrivalTime && d.DepartureTime == o.DepartureTime
}

// Severity grades an issue finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Issue is a single category -> message finding raised for an event.
type Issue struct {
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// TravelEstimate is a rough (mock) travel-time figure for an alert.
type TravelEstimate struct {
	EstimatedMinutes   int    `json:"estimated_minutes"`
	WithTrafficMinutes int    `json:"with_traffic_minutes"`
	SuggestedDeparture string `json:"suggested_departure"`
}

// AlertRecord is the derived status of one event for one lead window.
// DaysUntil is computed from the timeline when the record is built and is
// never stored.
type AlertRecord struct {
	Key             string          `json:"key"`
	Event           Event           `json:"event"`
	Lead            int             `json:"lead"`
	DaysUntil       int             `json:"days_until"`
	Findings        []Issue         `json:"findings"`
	LocationMissing bool            `json:"location_missing"`
	Details         EventDetails    `json:"details"`
	Travel          *TravelEstimate `json:"travel,omitempty"`
	Acknowledged    bool            `json:"acknowledged"`
}

// AlertKey builds the identifier of the alert raised for an event at a lead.
func AlertKey(eventKey string, lead int) string {
	return eventKey + "_" + strconv.Itoa(lead) + "days"
}
