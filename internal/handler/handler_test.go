package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/cloudinary"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
)

const (
	signingKey = "handler-test-key"
	issuer     = "classattend"
)

type nopDispatcher struct{}

func (nopDispatcher) Notify(context.Context, attendance.Notification) error { return nil }

type fixture struct {
	router *gin.Engine
	store  *attendance.MemoryStore
	h      *Handler
}

func at(hour, min int) time.Time {
	return time.Date(2024, 3, 4, hour, min, 0, 0, time.UTC) // a Monday
}

func newFixture(t *testing.T, now time.Time) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := attendance.NewMemoryStore()
	store.PutClassroom(attendance.Classroom{ID: "room-1", Code: "CS101", Sessions: []attendance.Session{
		{ID: "mon", Day: "Monday", StartTime: "9:00 AM", EndTime: "10:00 AM", Subject: "Algorithms"},
	}})
	store.Enroll("CS101", attendance.Student{ID: "s1"}, attendance.Student{ID: "s2"})

	log, _ := test.NewNullLogger()
	classifier := attendance.NewClassifier(0, 0)
	recorder := attendance.NewRecorder(store)
	svc := attendance.NewService(store, recorder, classifier, time.Second, log)
	sw := attendance.NewSweeper(store, recorder, nopDispatcher{}, attendance.SweeperConfig{Classifier: classifier, Logger: log})

	h := New(svc, sw, nil, log)
	h.now = func() time.Time { return now }
	r := gin.New()
	h.Register(r, auth.Bearer(signingKey, issuer))
	return fixture{router: r, store: store, h: h}
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := auth.Issue(sub, role, issuer, signingKey, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok.AccessToken
}

func (f fixture) do(method, path, tok string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestSubmitCreatesThenConflicts(t *testing.T) {
	f := newFixture(t, at(9, 20))
	tok := token(t, "s1", auth.RoleStudent)
	body := gin.H{"kind": "proof", "proofRef": "https://res.example/p.jpg"}

	w := f.do(http.MethodPost, "/v1/classrooms/room-1/submissions", tok, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var created struct {
		Record attendance.Record `json:"record"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Record.Status != attendance.StatusLate || created.Record.StudentID != "s1" {
		t.Fatalf("record = %+v", created.Record)
	}

	w = f.do(http.MethodPost, "/v1/classrooms/room-1/submissions", tok, body)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", w.Code)
	}
}

func TestSubmitErrors(t *testing.T) {
	f := newFixture(t, at(10, 30))
	student := token(t, "s1", auth.RoleStudent)
	cases := map[string]struct {
		path string
		tok  string
		body any
		want int
	}{
		"outside session": {"/v1/classrooms/room-1/submissions", student, gin.H{"kind": "excuse", "excuse": "bus"}, http.StatusUnprocessableEntity},
		"bad kind":        {"/v1/classrooms/room-1/submissions", student, gin.H{"kind": "selfie"}, http.StatusUnprocessableEntity},
		"bad proof url":   {"/v1/classrooms/room-1/submissions", student, gin.H{"kind": "proof", "proofRef": "not a url"}, http.StatusUnprocessableEntity},
		"unknown room":    {"/v1/classrooms/nope/submissions", student, gin.H{"kind": "excuse", "excuse": "bus"}, http.StatusNotFound},
		"instructor":      {"/v1/classrooms/room-1/submissions", token(t, "t1", auth.RoleInstructor), gin.H{"kind": "excuse", "excuse": "x"}, http.StatusForbidden},
		"anonymous":       {"/v1/classrooms/room-1/submissions", "", gin.H{"kind": "excuse", "excuse": "x"}, http.StatusUnauthorized},
	}
	for name, tc := range cases {
		w := f.do(http.MethodPost, tc.path, tc.tok, tc.body)
		if w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d (%s)", name, w.Code, tc.want, w.Body)
		}
	}
	if n := len(f.store.Records()); n != 0 {
		t.Fatalf("%d records written by failing requests", n)
	}
}

func TestWindow(t *testing.T) {
	f := newFixture(t, at(9, 5))
	w := f.do(http.MethodGet, "/v1/classrooms/room-1/window", token(t, "s1", auth.RoleStudent), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Sessions []struct {
			Window struct {
				State string `json:"state"`
			} `json:"window"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].Window.State != attendance.OnTime.String() {
		t.Fatalf("resp = %s", w.Body)
	}

	w = f.do(http.MethodGet, "/v1/classrooms/room-1/window?at=2024-03-04T10:10:00Z", token(t, "s1", auth.RoleStudent), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("student override status = %d", w.Code)
	}
	w = f.do(http.MethodGet, "/v1/classrooms/room-1/window?at=yesterday", token(t, "t1", auth.RoleInstructor), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad at status = %d", w.Code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	f := newFixture(t, at(10, 15))
	w := f.do(http.MethodPost, "/v1/classrooms/room-1/sweep", token(t, "t1", auth.RoleInstructor), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var res attendance.SweepResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.MarkedAbsent != 2 || res.ProcessedSessions != 1 {
		t.Fatalf("result = %+v", res)
	}

	w = f.do(http.MethodPost, "/v1/classrooms/room-1/sweep", token(t, "t1", auth.RoleInstructor), gin.H{"at": "2024-03-04T09:30:00Z"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.MarkedLate != 0 || res.MarkedAbsent != 0 {
		t.Fatalf("re-sweep marked again: %+v", res)
	}

	w = f.do(http.MethodPost, "/v1/classrooms/room-1/sweep", token(t, "s1", auth.RoleStudent), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("student sweep status = %d", w.Code)
	}
}

func TestUploadProofDisabled(t *testing.T) {
	f := newFixture(t, at(9, 5))
	w := f.do(http.MethodPost, "/v1/proofs", token(t, "s1", auth.RoleStudent), gin.H{"data": "data:image/png;base64,AAAA"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestUploadProofDataURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"public_id":"proofs/s1/x","secure_url":"https://res.example/x.png"}`))
	}))
	defer srv.Close()

	f := newFixture(t, at(9, 5))
	cloud := cloudinary.New("demo", "key", "secret", "proofs")
	cloud.BaseURL = srv.URL
	f.h.cloud = cloud

	w := f.do(http.MethodPost, "/v1/proofs", token(t, "s1", auth.RoleStudent), gin.H{"data": "data:image/png;base64,AAAA"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["url"] != "https://res.example/x.png" {
		t.Fatalf("resp = %v", resp)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, at(9, 5))
	f.h.AddHealthCheck("db", func(context.Context) bool { return true })
	if w := f.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	f.h.AddHealthCheck("redis", func(context.Context) bool { return false })
	if w := f.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", w.Code)
	}
}
