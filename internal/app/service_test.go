package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"prophetic/internal/ics"
	"prophetic/internal/issues"
	"prophetic/internal/journal"
	"prophetic/internal/llm"
	"prophetic/internal/model"
	"prophetic/internal/scheduler"
	"prophetic/internal/store"
	"prophetic/internal/timeline"
)

var realNow = time.Date(2025, 12, 15, 12, 0, 0, 0, time.UTC)

type stubChecker struct {
	mu    sync.Mutex
	calls int
}

func (c *stubChecker) Check(_ context.Context, cat issues.Category, t issues.Target) (issues.Finding, error) {
	return issues.Finding{Category: cat, Found: true, Severity: model.SeverityInfo, Message: "stub " + string(cat) + " at " + t.Location}, nil
}

func (c *stubChecker) FindIssues(_ context.Context, t issues.Target) ([]model.Issue, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return []model.Issue{{Category: "traffic", Severity: model.SeverityInfo, Message: "busy near " + t.Location}}, nil
}

func (c *stubChecker) EstimateTravel(_, _, arrival string) model.TravelEstimate {
	return model.TravelEstimate{EstimatedMinutes: 20, WithTrafficMinutes: 30, SuggestedDeparture: "before " + arrival}
}

type fixture struct {
	svc     *Service
	store   *store.MemoryStore
	checker *stubChecker
	journal *journal.Journal
}

func newFixture(t *testing.T, st *store.MemoryStore) fixture {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	j, err := journal.New("", "test", func() time.Time { return realNow })
	if err != nil {
		t.Fatal(err)
	}
	chk := &stubChecker{}
	svc, err := New(context.Background(), Options{
		Clock:    timeline.ClockFunc(func() time.Time { return realNow }),
		Location: time.UTC,
	}, Deps{
		Store:      st,
		Journal:    j,
		Questioner: llm.NewMock("mock", "", j),
		Checker:    chk,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fixture{svc: svc, store: st, checker: chk, journal: j}
}

func workshopICS() []byte {
	return []byte(strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:ws-1",
		"DTSTAMP:20251201T000000Z",
		"DTSTART:20251230T130000Z",
		"DTEND:20251230T170000Z",
		"SUMMARY:Workshop",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n"))
}

func weeklyICS() []byte {
	return []byte(strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:standup-1",
		"DTSTAMP:20251201T000000Z",
		"DTSTART:20251216T100000Z",
		"DTEND:20251216T103000Z",
		"RRULE:FREQ=WEEKLY",
		"SUMMARY:Weekly Sync",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n"))
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestService_AdvanceRecomputesDaysUntil(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.ImportCalendar(ctx, "work.ics", workshopICS()); err != nil {
		t.Fatal(err)
	}
	if got := f.svc.Events()[0].DaysUntil; got != 15 {
		t.Fatalf("initial days-until = %d, want 15", got)
	}

	if _, err := f.svc.Advance(ctx, 7); err != nil {
		t.Fatal(err)
	}
	st, err := f.svc.Advance(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := st.Current.Format(time.DateOnly); got != "2025-12-23" {
		t.Errorf("date = %s, want 2025-12-23", got)
	}
	if got := f.svc.Events()[0].DaysUntil; got != 7 {
		t.Errorf("days-until after advance = %d, want 7", got)
	}
	if _, err := f.svc.Advance(ctx, 0); !errors.Is(err, timeline.ErrInvalidDays) {
		t.Errorf("Advance(0) err = %v", err)
	}
}

func TestService_DetailWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.ImportCalendar(ctx, "work.ics", workshopICS()); err != nil {
		t.Fatal(err)
	}

	for day := mustDate(t, "2025-12-20"); !day.After(mustDate(t, "2026-01-02")); day = day.AddDate(0, 0, 1) {
		if _, err := f.svc.SetDate(ctx, day); err != nil {
			t.Fatal(err)
		}
		want := !day.Before(mustDate(t, "2025-12-23")) && !day.After(mustDate(t, "2025-12-29"))
		got := len(f.svc.PendingDetails()) == 1
		if got != want {
			t.Errorf("%s: pending = %v, want %v", day.Format(time.DateOnly), got, want)
		}
	}
}

func TestService_SubmitDetails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.ImportCalendar(ctx, "work.ics", workshopICS()); err != nil {
		t.Fatal(err)
	}
	key := f.svc.Events()[0].Key
	if _, err := f.svc.SetDate(ctx, mustDate(t, "2025-12-25")); err != nil {
		t.Fatal(err)
	}

	pending := f.svc.PendingDetails()
	if len(pending) != 1 || len(pending[0].Questions) != 3 {
		t.Fatalf("pending = %+v", pending)
	}

	_, err := f.svc.SubmitDetails(ctx, key, DetailsInput{Location: "Hall A", ArrivalTime: "930"})
	var mf *MissingFieldsError
	if !errors.As(err, &mf) {
		t.Fatalf("err = %v, want MissingFieldsError", err)
	}
	if len(mf.Missing) != 1 || mf.Missing[0] != model.FieldDepartureTime || len(mf.Questions) != 1 {
		t.Errorf("missing = %+v", mf)
	}

	_, err = f.svc.SubmitDetails(ctx, key, DetailsInput{Location: "Hall A", ArrivalTime: "25:00", DepartureTime: "08:45"})
	var ve *llm.ValidationError
	if !errors.As(err, &ve) || ve.Field != model.FieldArrivalTime {
		t.Fatalf("err = %v, want ValidationError on arrival_time", err)
	}

	before, _ := f.svc.Details(key)
	if before.Complete {
		t.Fatal("complete before save")
	}
	saved, err := f.svc.SubmitDetails(ctx, key, DetailsInput{Location: " Hall A ", ArrivalTime: "930", DepartureTime: "08:45"})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ArrivalTime != "9:30" || saved.Location != "Hall A" {
		t.Errorf("saved = %+v", saved)
	}
	after, _ := f.svc.Details(key)
	if !after.Complete || len(after.Missing) != 0 {
		t.Errorf("after = %+v", after)
	}
	if len(f.svc.PendingDetails()) != 0 {
		t.Error("event still pending after save")
	}

	events := f.journal.Summary().Events
	again, err := f.svc.SubmitDetails(ctx, key, DetailsInput{Location: "Hall A", ArrivalTime: "9:30", DepartureTime: "08:45"})
	if err != nil {
		t.Fatal(err)
	}
	if !again.SavedAt.Equal(saved.SavedAt) || !again.SameValues(saved) {
		t.Errorf("resubmission changed details: %+v vs %+v", again, saved)
	}
	if f.journal.Summary().Events != events {
		t.Error("resubmission was journaled as a new save")
	}

	stored, _ := f.store.LoadDetails(ctx)
	if !stored[key].Complete() {
		t.Errorf("store = %+v", stored)
	}

	if _, err := f.svc.SubmitDetails(ctx, "nope", DetailsInput{}); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("unknown key err = %v", err)
	}
}

func TestService_CalendarLocationIsUsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.LoadSample(ctx, ics.SampleDefault); err != nil {
		t.Fatal(err)
	}
	var conf EventStatus
	for _, es := range f.svc.Events() {
		if es.Event.Name == "Conference" {
			conf = es
		}
	}
	if conf.Details.Location == "" {
		t.Fatalf("conference has no effective location: %+v", conf)
	}
	v, err := f.svc.Details(conf.Key)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Questions) != 2 || v.Questions[0].Field != model.FieldArrivalTime {
		t.Errorf("questions = %+v", v.Questions)
	}
	if _, err := f.svc.SubmitDetails(ctx, conf.Key, DetailsInput{ArrivalTime: "08:30", DepartureTime: "07:45"}); err != nil {
		t.Errorf("save using calendar location: %v", err)
	}
}

func TestService_AlertsAndAcknowledge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.LoadSample(ctx, ics.SampleDefault); err != nil {
		t.Fatal(err)
	}

	alerts, err := f.svc.Alerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Fatalf("alerts on day 0 = %+v", alerts)
	}

	// 2025-12-23: Conference (+15) is 7 days out, Team Meeting (+5) has passed.
	if _, err := f.svc.Advance(ctx, 8); err != nil {
		t.Fatal(err)
	}
	alerts, err = f.svc.Alerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Event.Name != "Conference" || alerts[0].Lead != 7 {
		t.Fatalf("alerts = %+v", alerts)
	}
	a := alerts[0]
	if a.LocationMissing || len(a.Findings) != 1 || a.Key != model.AlertKey(a.Event.Key(), 7) {
		t.Errorf("conference alert = %+v", a)
	}

	if _, err := f.svc.Alerts(ctx); err != nil {
		t.Fatal(err)
	}
	if f.checker.calls != 1 {
		t.Errorf("checker calls = %d, want 1 (findings cached)", f.checker.calls)
	}

	if err := f.svc.Acknowledge(ctx, "missing_7days"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("unknown ack err = %v", err)
	}
	if err := f.svc.Acknowledge(ctx, a.Key); err != nil {
		t.Fatal(err)
	}
	alerts, _ = f.svc.Alerts(ctx)
	if !alerts[0].Acknowledged {
		t.Error("alert not acknowledged")
	}

	// 2025-12-19: Team Meeting (+5) is one day away and has no location.
	if _, err := f.svc.SetDate(ctx, mustDate(t, "2025-12-19")); err != nil {
		t.Fatal(err)
	}
	alerts, _ = f.svc.Alerts(ctx)
	if len(alerts) != 1 || alerts[0].Event.Name != "Team Meeting" || !alerts[0].LocationMissing || alerts[0].Lead != 1 {
		t.Errorf("team meeting alert = %+v", alerts)
	}
}

func TestService_AlertTravelEstimate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.ImportCalendar(ctx, "work.ics", workshopICS()); err != nil {
		t.Fatal(err)
	}
	key := f.svc.Events()[0].Key
	if _, err := f.svc.SetDate(ctx, mustDate(t, "2025-12-29")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SubmitDetails(ctx, key, DetailsInput{Location: "Hall A", ArrivalTime: "12:30", DepartureTime: "12:00"}); err != nil {
		t.Fatal(err)
	}
	alerts, err := f.svc.Alerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Travel == nil || alerts[0].Travel.SuggestedDeparture != "before 12:30" {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestService_ResetAndModes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.LoadSample(ctx, ics.SampleDefault); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Advance(ctx, 8); err != nil {
		t.Fatal(err)
	}
	alerts, _ := f.svc.Alerts(ctx)
	if err := f.svc.Acknowledge(ctx, alerts[0].Key); err != nil {
		t.Fatal(err)
	}

	st, err := f.svc.Reset(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Current.Format(time.DateOnly) != "2025-12-15" || st.Mode != timeline.ModeSimulated {
		t.Errorf("after reset = %+v", st)
	}
	if acks, _ := f.store.LoadAcks(ctx); len(acks) != 0 {
		t.Errorf("acks survived reset: %v", acks)
	}
	if f.svc.Session().Acknowledged != 0 {
		t.Error("session still counts acknowledgements")
	}

	if _, err := f.svc.Advance(ctx, 3); err != nil {
		t.Fatal(err)
	}
	st, err = f.svc.SetMode(ctx, timeline.ModeReal)
	if err != nil {
		t.Fatal(err)
	}
	if st.Current.Format(time.DateOnly) != "2025-12-15" {
		t.Errorf("real mode date = %s", st.Current.Format(time.DateOnly))
	}
	if _, err := f.svc.Advance(ctx, 1); !errors.Is(err, timeline.ErrRealMode) {
		t.Errorf("advance in real mode err = %v", err)
	}
	if _, err := f.svc.SetMode(ctx, "sideways"); !errors.Is(err, timeline.ErrInvalidMode) {
		t.Errorf("bad mode err = %v", err)
	}
	if st, _ := f.svc.Reset(ctx); st.Mode != timeline.ModeReal {
		t.Errorf("reset changed mode to %s", st.Mode)
	}
}

func TestService_MalformedImportFallsBackToSample(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.svc.ImportCalendar(ctx, "broken.ics", []byte("this is not a calendar"))
	var perr *ics.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if !res.Fallback || res.EventCount != 4 {
		t.Errorf("result = %+v", res)
	}
	if n := len(f.svc.Events()); n != 4 {
		t.Errorf("events after fallback = %d", n)
	}
}

func TestService_RestoresFromStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	f := newFixture(t, st)
	if _, err := f.svc.ImportCalendar(ctx, "work.ics", workshopICS()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.SetDate(ctx, mustDate(t, "2025-12-26")); err != nil {
		t.Fatal(err)
	}
	key := f.svc.Events()[0].Key
	if _, err := f.svc.SubmitDetails(ctx, key, DetailsInput{Location: "Hall A", ArrivalTime: "12:30", DepartureTime: "12:00"}); err != nil {
		t.Fatal(err)
	}

	g := newFixture(t, st)
	if got := g.svc.Timeline().Current.Format(time.DateOnly); got != "2025-12-26" {
		t.Errorf("restored date = %s", got)
	}
	res, err := g.svc.Bootstrap(ctx, Initial{Sample: "default"})
	if err != nil {
		t.Fatal(err)
	}
	if res.EventCount != 1 {
		t.Errorf("bootstrap replaced restored events: %+v", res)
	}
	d, err := g.svc.Details(key)
	if err != nil || !d.Complete {
		t.Errorf("restored details = %+v, %v", d, err)
	}
}

func TestService_CheckIssueAndSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.svc.LoadSample(ctx, ics.SampleDefault); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.CheckIssue(ctx, "volcano", "", "x"); !errors.Is(err, issues.ErrUnknownCategory) {
		t.Errorf("bad category err = %v", err)
	}
	if _, err := f.svc.CheckIssue(ctx, issues.CategoryTraffic, "", ""); !errors.Is(err, ErrNoTarget) {
		t.Errorf("no target err = %v", err)
	}
	fd, err := f.svc.CheckIssue(ctx, issues.CategoryTraffic, "", "Dizengoff Center")
	if err != nil || !strings.Contains(fd.Message, "Dizengoff") {
		t.Errorf("finding = %+v, %v", fd, err)
	}

	if _, err := f.svc.Advance(ctx, 4); err != nil {
		t.Fatal(err)
	}
	rep, err := f.svc.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Team Meeting (1 day) and Client Presentation (6 days) need details.
	if rep.Date != "2025-12-19" || len(rep.Pending) != 2 || len(rep.Alerts) != 1 {
		t.Errorf("sweep = %+v", rep)
	}
}

func TestService_RecurringEventsFollowTimeline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	f := newFixture(t, st)
	if _, err := f.svc.ImportCalendar(ctx, "sync.ics", weeklyICS()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.svc.Upcoming()); n != 9 {
		t.Fatalf("upcoming on 2025-12-15 = %d, want 9", n)
	}

	// 2026-03-25 is past the initial 90 day expansion.
	if _, err := f.svc.Advance(ctx, 100); err != nil {
		t.Fatal(err)
	}
	up := f.svc.Upcoming()
	if len(up) == 0 {
		t.Fatal("weekly event vanished after advancing past the horizon")
	}
	want := time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC)
	if !up[0].Event.Start.Equal(want) || up[0].DaysUntil != 6 {
		t.Errorf("next occurrence = %v in %d days, want %v in 6", up[0].Event.Start, up[0].DaysUntil, want)
	}
	if n := len(f.svc.PendingDetails()); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}

	if _, err := f.svc.Advance(ctx, 6); err != nil {
		t.Fatal(err)
	}
	alerts, err := f.svc.Alerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// 2026-03-31: today's instance plus the 7-day lead for 2026-04-07.
	if len(alerts) != 1 || alerts[0].Lead != 7 {
		t.Errorf("alerts = %+v", alerts)
	}

	// A restarted service re-reads the saved calendar and keeps expanding.
	g := newFixture(t, st)
	if _, err := g.svc.Advance(ctx, 120); err != nil {
		t.Fatal(err)
	}
	if len(g.svc.Upcoming()) == 0 {
		t.Error("restored service lost the weekly event")
	}
}

type fakeSweeps struct{ st scheduler.Status }

func (f fakeSweeps) Status() scheduler.Status { return f.st }

func TestService_SessionReportsSweep(t *testing.T) {
	f := newFixture(t, nil)
	if info := f.svc.Session(); info.Sweep != nil {
		t.Errorf("sweep without scheduler = %+v", info.Sweep)
	}
	f.svc.SetSweepReporter(fakeSweeps{scheduler.Status{Spec: "0 7 * * *", LastError: "boom"}})
	info := f.svc.Session()
	if info.Sweep == nil || info.Sweep.Spec != "0 7 * * *" || info.Sweep.LastError != "boom" {
		t.Errorf("sweep = %+v", info.Sweep)
	}
}
