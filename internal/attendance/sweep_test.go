package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []Notification
	fail map[string]bool
}

func (d *recordingDispatcher) Notify(_ context.Context, n Notification) error {
	if d.fail[n.StudentID] {
		return errors.New("smtp down")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type sweepFixture struct {
	store      *MemoryStore
	dispatcher *recordingDispatcher
	sweeper    *Sweeper
	hook       *test.Hook
}

func newSweepFixture(t *testing.T, sessions ...Session) sweepFixture {
	t.Helper()
	store := NewMemoryStore()
	store.PutClassroom(Classroom{ID: "room-1", Code: "CS101", Name: "Intro", Sessions: sessions})
	store.Enroll("CS101",
		Student{ID: "s1", DisplayName: "Ada"},
		Student{ID: "s2", DisplayName: "Grace"},
		Student{ID: "s3", DisplayName: "Linus"},
	)
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	d := &recordingDispatcher{fail: map[string]bool{}}
	sw := NewSweeper(store, NewRecorder(store, WithRecorderLogger(log)), d, SweeperConfig{
		Classifier:  NewClassifier(0, 0),
		Concurrency: 2,
		Logger:      log,
	})
	return sweepFixture{store: store, dispatcher: d, sweeper: sw, hook: hook}
}

func TestSweepMarksLateOncePerKey(t *testing.T) {
	f := newSweepFixture(t, nineToTen)
	ctx := context.Background()

	// s1 submitted on time before the sweep.
	if _, err := f.store.CreateRecord(ctx, Record{ID: "r1", ClassCode: "CS101", StudentID: "s1",
		Date: "2024-03-04", Status: StatusPresent, Source: SourceManual}); err != nil {
		t.Fatal(err)
	}

	res, err := f.sweeper.SweepClassroom(ctx, "room-1", monday(9, 40))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.ProcessedSessions != 1 || res.MarkedLate != 2 || res.MarkedAbsent != 0 || len(res.Errors) != 0 {
		t.Fatalf("first sweep = %+v", res)
	}

	res, err = f.sweeper.SweepClassroom(ctx, "room-1", monday(9, 41))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.MarkedLate != 0 || res.MarkedAbsent != 0 {
		t.Fatalf("second sweep re-marked students: %+v", res)
	}

	// Later absent pass must not touch the late records either.
	res, _ = f.sweeper.SweepClassroom(ctx, "room-1", monday(10, 10))
	if res.MarkedAbsent != 0 {
		t.Fatalf("absent pass overwrote records: %+v", res)
	}

	recs := f.store.Records()
	if len(recs) != 3 {
		t.Fatalf("stored %d records, want 3", len(recs))
	}
	for _, r := range recs {
		want := StatusLate
		if r.StudentID == "s1" {
			want = StatusPresent
		}
		if r.Status != want {
			t.Errorf("%s status = %s, want %s", r.StudentID, r.Status, want)
		}
	}
	if f.dispatcher.count() != 2 {
		t.Fatalf("sent %d notifications, want 2", f.dispatcher.count())
	}
}

func TestSweepAbsentStampsSessionEnd(t *testing.T) {
	f := newSweepFixture(t, nineToTen)
	res, err := f.sweeper.SweepClassroom(context.Background(), "room-1", monday(10, 25))
	if err != nil {
		t.Fatal(err)
	}
	if res.MarkedAbsent != 3 {
		t.Fatalf("result = %+v", res)
	}
	for _, r := range f.store.Records() {
		if r.Status != StatusAbsent || !r.Timestamp.Equal(monday(10, 0)) || !r.SubmittedAt.Equal(monday(10, 25)) {
			t.Errorf("record = %+v", r)
		}
		if r.Source != SourceSweep {
			t.Errorf("source = %s", r.Source)
		}
	}
	for _, n := range f.dispatcher.sent {
		if n.Kind != StatusAbsent || n.ClassCode != "CS101" || !n.SessionEnd.Equal(monday(10, 0)) {
			t.Errorf("notification = %+v", n)
		}
	}
}

func TestSweepSkipsWithReasons(t *testing.T) {
	cases := []struct {
		name   string
		minute int
		hour   int
		reason string
	}{
		{"before start", 30, 8, ReasonNotStarted},
		{"in grace", 5, 9, ReasonInGrace},
		{"past horizon", 0, 12, ReasonPastHorizon},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newSweepFixture(t, nineToTen)
			res, err := f.sweeper.SweepClassroom(context.Background(), "room-1", monday(tc.hour, tc.minute))
			if err != nil {
				t.Fatal(err)
			}
			if res.ProcessedSessions != 1 || len(res.Skipped) != 1 || res.Skipped[0].Reason != tc.reason {
				t.Fatalf("result = %+v", res)
			}
			if len(f.store.Records()) != 0 {
				t.Fatalf("skipped session wrote records")
			}
		})
	}
}

func TestSweepMalformedSessionDoesNotAbort(t *testing.T) {
	broken := Session{ID: "broken", Day: "monday", StartTime: "half past nine", EndTime: "10:00", Subject: "Art"}
	f := newSweepFixture(t, broken, Session{ID: "ok", Day: "Monday", StartTime: "9:00 AM", EndTime: "10:00 AM", Subject: "Math"})

	res, err := f.sweeper.SweepClassroom(context.Background(), "room-1", monday(9, 30))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.ProcessedSessions != 2 || res.MarkedLate != 3 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Session != "broken" || res.Skipped[0].Reason != ReasonMalformedTime {
		t.Fatalf("skipped = %+v", res.Skipped)
	}

	var logged bool
	for _, e := range f.hook.AllEntries() {
		if e.Data["reason"] == ReasonMalformedTime && e.Data["session"] == "broken" {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("malformed session not logged with reason")
	}
	for _, r := range f.store.Records() {
		if r.Subject != "Math" {
			t.Errorf("record for unexpected subject: %+v", r)
		}
	}
}

func TestSweepEvaluatesEverySessionOfTheDay(t *testing.T) {
	f := newSweepFixture(t,
		Session{Day: "monday", StartTime24: "08:00", EndTime24: "09:00", Subject: "Physics"},
		Session{Day: "monday", StartTime24: "09:00", EndTime24: "10:00", Subject: "Chemistry"},
		Session{Day: "tuesday", StartTime24: "09:00", EndTime24: "10:00", Subject: "Biology"},
	)
	res, err := f.sweeper.SweepClassroom(context.Background(), "room-1", monday(9, 20))
	if err != nil {
		t.Fatal(err)
	}
	if res.ProcessedSessions != 2 || res.MarkedAbsent != 3 || res.MarkedLate != 3 {
		t.Fatalf("result = %+v", res)
	}
	if n := len(f.store.Records()); n != 6 {
		t.Fatalf("stored %d records, want 6", n)
	}
}

func TestSweepDispatchFailureIsCollected(t *testing.T) {
	f := newSweepFixture(t, nineToTen)
	f.dispatcher.fail["s2"] = true

	res, err := f.sweeper.SweepClassroom(context.Background(), "room-1", monday(9, 30))
	if err != nil {
		t.Fatal(err)
	}
	if res.MarkedLate != 3 {
		t.Fatalf("dispatch failure blocked marking: %+v", res)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v", res.Errors)
	}
	var de *DispatchError
	if !errors.As(res.Errors[0], &de) || de.StudentID != "s2" || de.Kind != StatusLate {
		t.Fatalf("error = %v", res.Errors[0])
	}
	if len(f.store.Records()) != 3 {
		t.Fatalf("records = %d", len(f.store.Records()))
	}
}

func TestSweepStopsOnCancellation(t *testing.T) {
	f := newSweepFixture(t, nineToTen)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.sweeper.SweepClassroom(ctx, "room-1", monday(9, 30))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if res.MarkedLate != 0 || len(f.store.Records()) != 0 {
		t.Fatalf("cancelled sweep did work: %+v", res)
	}
}

func TestSweepUnknownClassroom(t *testing.T) {
	f := newSweepFixture(t, nineToTen)
	_, err := f.sweeper.SweepClassroom(context.Background(), "nope", monday(9, 30))
	if !errors.Is(err, ErrClassroomNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSweepAll(t *testing.T) {
	f := newSweepFixture(t, nineToTen)
	f.store.PutClassroom(Classroom{ID: "room-2", Code: "MA201", Sessions: []Session{
		{Day: "Monday", StartTime: "9am", EndTime: "10am"},
	}})
	f.store.Enroll("MA201", Student{ID: "s9"})

	results, err := f.sweeper.SweepAll(context.Background(), monday(10, 15))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	total := 0
	for _, r := range results {
		total += r.MarkedAbsent
	}
	if total != 4 {
		t.Fatalf("marked %d absent, want 4", total)
	}
}
