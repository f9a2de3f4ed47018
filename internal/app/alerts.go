package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"prophetic/internal/issues"
	appLog "prophetic/internal/log"
	"prophetic/internal/model"
	"prophetic/internal/timeline"
)

// Alerts returns an AlertRecord for every event whose days-until matches an
// alert lead. Findings are computed once per alert key and then reused.
func (s *Service) Alerts(ctx context.Context) ([]model.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alertsLocked(ctx, s.current())
}

func (s *Service) alertsLocked(ctx context.Context, st timeline.State) ([]model.AlertRecord, error) {
	out := make([]model.AlertRecord, 0)
	for _, ev := range s.events {
		days := st.DaysUntil(ev)
		if !timeline.AlertDue(days, s.opts.AlertLeads) {
			continue
		}
		rec, err := s.alertFor(ctx, ev, days)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Event.Start.Equal(out[j].Event.Start) {
			return out[i].Event.Start.Before(out[j].Event.Start)
		}
		return out[i].Lead > out[j].Lead
	})
	return out, nil
}

func (s *Service) alertFor(ctx context.Context, ev model.Event, days int) (model.AlertRecord, error) {
	d := s.effectiveDetails(ev)
	key := model.AlertKey(ev.Key(), days)
	rec := model.AlertRecord{
		Key:          key,
		Event:        ev,
		Lead:         days,
		DaysUntil:    days,
		Findings:     []model.Issue{},
		Details:      d,
		Acknowledged: s.acks[key],
	}

	if d.Location == "" {
		rec.LocationMissing = true
		return rec, nil
	}

	findings, ok := s.findings[key]
	if !ok {
		var err error
		findings, err = s.checker.FindIssues(ctx, issues.Target{
			EventName: ev.Name,
			Location:  d.Location,
			Start:     ev.Start,
			DaysUntil: days,
		})
		if err != nil {
			return rec, fmt.Errorf("app: issue check for %s: %w", ev.Name, err)
		}
		s.findings[key] = findings
		if len(findings) > 0 {
			s.logEvent("issues_found", ev.Name, map[string]any{"alert_key": key, "count": len(findings)})
		}
	}
	rec.Findings = findings

	if d.ArrivalTime != "" {
		est, ok := s.travel[key]
		if !ok {
			e := s.checker.EstimateTravel("current location", d.Location, d.ArrivalTime)
			est = &e
			s.travel[key] = est
		}
		rec.Travel = est
	}
	return rec, nil
}

// Acknowledge marks an alert due on the current date as seen.
func (s *Service) Acknowledge(ctx context.Context, alertKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.current()
	found := false
	for _, ev := range s.events {
		days := st.DaysUntil(ev)
		if timeline.AlertDue(days, s.opts.AlertLeads) && model.AlertKey(ev.Key(), days) == alertKey {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, alertKey)
	}
	if s.acks[alertKey] {
		return nil
	}
	if err := s.store.SaveAck(ctx, alertKey); err != nil {
		return err
	}
	s.acks[alertKey] = true
	s.logEvent("alert_acknowledged", alertKey, nil)
	return nil
}

// CheckIssue runs a single category check against an event (by key) or a
// bare location. A location given alongside an event overrides the event's.
func (s *Service) CheckIssue(ctx context.Context, c issues.Category, eventKey, location string) (issues.Finding, error) {
	if _, err := issues.ParseCategory(string(c)); err != nil {
		return issues.Finding{}, err
	}

	s.mu.Lock()
	st := s.current()
	target := issues.Target{Location: strings.TrimSpace(location), Start: st.Current}
	if eventKey != "" {
		ev, ok := s.findEvent(eventKey)
		if !ok {
			s.mu.Unlock()
			return issues.Finding{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventKey)
		}
		target.EventName = ev.Name
		target.Start = ev.Start
		target.DaysUntil = st.DaysUntil(ev)
		if target.Location == "" {
			target.Location = s.effectiveDetails(ev).Location
		}
	}
	s.mu.Unlock()

	if eventKey == "" && target.Location == "" {
		return issues.Finding{}, ErrNoTarget
	}
	f, err := s.checker.Check(ctx, c, target)
	if err != nil {
		return f, err
	}
	s.logEvent("issue_check", string(c), map[string]any{"location": target.Location, "found": f.Found})
	return f, nil
}

// SweepReport is what the daily sweep found for the current date.
type SweepReport struct {
	Date    string              `json:"date"`
	Pending []DetailsView       `json:"pending"`
	Alerts  []model.AlertRecord `json:"alerts"`
}

// Sweep evaluates the current date: incomplete details inside the window and
// due alerts. Everything it finds is logged.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	// In real mode the date moves without setState.
	s.mu.Lock()
	err := s.refreshOccurrences(ctx, s.current().Current)
	s.mu.Unlock()
	if err != nil {
		return SweepReport{}, err
	}

	pending := s.PendingDetails()

	s.mu.Lock()
	st := s.current()
	alerts, err := s.alertsLocked(ctx, st)
	s.mu.Unlock()
	if err != nil {
		return SweepReport{}, err
	}

	rep := SweepReport{Date: st.Current.Format(time.DateOnly), Pending: pending, Alerts: alerts}
	for _, p := range pending {
		appLog.Info("details needed", "event", p.Event.Name, "days_until", p.DaysUntil, "missing", strings.Join(p.Missing, ","))
	}
	for _, a := range alerts {
		if a.Acknowledged {
			continue
		}
		if a.LocationMissing {
			appLog.Warn("alert: location missing", "event", a.Event.Name, "lead", a.Lead)
			continue
		}
		appLog.Info("alert due", "event", a.Event.Name, "lead", a.Lead, "findings", len(a.Findings))
	}
	s.logEvent("sweep", rep.Date, map[string]any{"pending": len(pending), "alerts": len(alerts)})
	return rep, nil
}
