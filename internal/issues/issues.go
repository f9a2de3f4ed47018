// Package issues looks for things that could go wrong around an event:
// weather, traffic, transit and the venue itself. Only a mock checker
// exists; it never touches the network.
package issues

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"prophetic/internal/model"
)

// Category is one kind of issue check.
type Category string

const (
	CategoryWeather  Category = "weather"
	CategoryTraffic  Category = "traffic"
	CategoryTransit  Category = "transit"
	CategoryLocation Category = "location"
)

// Categories is the order in which FindIssues runs the checks.
var Categories = []Category{CategoryWeather, CategoryTraffic, CategoryTransit, CategoryLocation}

var ErrUnknownCategory = errors.New("issues: unknown category")

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Target is what a check looks at.
type Target struct {
	EventName string
	Location  string
	Start     time.Time
	// DaysUntil comes from the timeline, so a simulated date drives the
	// weather horizon the same way the real one would.
	DaysUntil int
}

// Finding is the result of one category check.
type Finding struct {
	Category Category       `json:"category"`
	Found    bool           `json:"found"`
	Severity model.Severity `json:"severity,omitempty"`
	Message  string         `json:"message"`
}

// Issue converts a positive finding into a model.Issue.
func (f Finding) Issue() model.Issue {
	return model.Issue{Category: string(f.Category), Severity: f.Severity, Message: f.Message}
}

// Checker runs issue checks.
type Checker interface {
	Check(ctx context.Context, c Category, t Target) (Finding, error)
	// FindIssues runs every category and returns the positive findings.
	FindIssues(ctx context.Context, t Target) ([]model.Issue, error)
	EstimateTravel(origin, destination, arrival string) model.TravelEstimate
}

// weatherHorizonDays is how far out the mock forecast reaches.
const weatherHorizonDays = 7

// MockChecker fabricates findings from a random source. A fixed seed makes
// the sequence reproducible.
type MockChecker struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockChecker returns a MockChecker. seed == 0 seeds from the clock.
func NewMockChecker(seed int64) *MockChecker {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockChecker{rnd: rand.New(rand.NewSource(seed))}
}

func (m *MockChecker) roll() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rnd.Float64()
}

func (m *MockChecker) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rnd.Intn(n)
}

func (m *MockChecker) Check(ctx context.Context, c Category, t Target) (Finding, error) {
	if err := ctx.Err(); err != nil {
		return Finding{}, err
	}
	f := Finding{Category: c}
	switch c {
	case CategoryWeather:
		if t.DaysUntil <= weatherHorizonDays && m.roll() > 0.7 {
			f.Found, f.Severity = true, model.SeverityWarning
			f.Message = fmt.Sprintf("Weather forecast shows possible rain on %s. Consider bringing an umbrella.", t.Start.Format(time.DateOnly))
		}
	case CategoryTraffic:
		if t.Location != "" && m.roll() > 0.6 {
			f.Found, f.Severity = true, model.SeverityInfo
			f.Message = fmt.Sprintf("Heavy traffic expected near %s during typical commute hours. Consider leaving 30 minutes earlier.", t.Location)
		}
	case CategoryTransit:
		wd := t.Start.Weekday()
		if t.Location != "" && (wd == time.Saturday || wd == time.Sunday) && m.roll() > 0.8 {
			f.Found, f.Severity = true, model.SeverityInfo
			f.Message = "Weekend transit schedule may be different. Please check your route in advance."
		}
	case CategoryLocation:
		if t.Location == "" {
			break
		}
		if m.roll() > 0.75 {
			f.Found, f.Severity = true, model.SeverityWarning
			f.Message = fmt.Sprintf("There may be construction or road work near %s. Plan your route accordingly.", t.Location)
		} else if m.roll() > 0.8 {
			f.Found, f.Severity = true, model.SeverityInfo
			f.Message = fmt.Sprintf("Large event scheduled near %s on the same day. Parking may be limited.", t.Location)
		}
	default:
		return Finding{}, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	if !f.Found {
		f.Message = "No " + string(c) + " issues detected."
	}
	return f, nil
}

func (m *MockChecker) FindIssues(ctx context.Context, t Target) ([]model.Issue, error) {
	out := make([]model.Issue, 0)
	for _, c := range Categories {
		f, err := m.Check(ctx, c, t)
		if err != nil {
			return nil, err
		}
		if f.Found {
			out = append(out, f.Issue())
		}
	}
	return out, nil
}

// EstimateTravel returns a made-up travel time between origin and
// destination for someone who must arrive at arrival.
func (m *MockChecker) EstimateTravel(origin, destination, arrival string) model.TravelEstimate {
	base := 15 + m.intn(46) // 15..60 minutes
	return model.TravelEstimate{
		EstimatedMinutes:   base,
		WithTrafficMinutes: base + m.intn(21),
		SuggestedDeparture: fmt.Sprintf("Depart approximately %d minutes before %s", base+15, arrival),
	}
}
