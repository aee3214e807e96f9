package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medcycle/go-dose-engine/internal/domain/medication"
)

// testRouter mounts the handlers with no backing stores. Only request
// validation paths are exercised here; they respond before any store
// is touched.
func testRouter() chi.Router {
	doses := NewDoseLogHandler(nil, medication.NewVarianceCalculator(), nil, nil)
	h := NewMedicationHandler(nil, nil, doses, nil, nil)
	r := chi.NewRouter()
	r.Mount("/medications", h.Routes())
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v: %s", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func errorMessage(body map[string]interface{}) string {
	msg, _ := body["error"].(string)
	return msg
}

func TestCreateRejectsBadRequests(t *testing.T) {
	router := testRouter()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{`, "invalid request body"},
		{"bad patient id", `{"patient_id":"nope"}`, "invalid patient_id"},
		{
			"bad start date",
			`{"patient_id":"7b0bba9f-0c34-4e16-9a3f-6043b33d0c53","start_date":"03/01/2026"}`,
			"start_date must be YYYY-MM-DD",
		},
		{
			"zero dose",
			`{"patient_id":"7b0bba9f-0c34-4e16-9a3f-6043b33d0c53","name":"apixaban","class":"anticoagulant","unit":"mg","frequency":"once_daily","start_date":"2026-03-01"}`,
			"dose must be positive",
		},
		{
			"lab monitored spacing too short",
			`{"patient_id":"7b0bba9f-0c34-4e16-9a3f-6043b33d0c53","name":"warfarin","class":"anticoagulant","dose":5,"unit":"mg","frequency":"once_daily","start_date":"2026-03-01","requires_lab_monitoring":true,"min_hours_between_doses":8,"max_daily_dose":10,"lab_target_min":2,"lab_target_max":3}`,
			"12",
		},
		{
			"empty pattern",
			`{"patient_id":"7b0bba9f-0c34-4e16-9a3f-6043b33d0c53","name":"apixaban","class":"anticoagulant","dose":5,"unit":"mg","frequency":"once_daily","start_date":"2026-03-01","pattern":{"sequence":[]}}`,
			"pattern sequence is empty",
		},
		{
			"bad pattern start",
			`{"patient_id":"7b0bba9f-0c34-4e16-9a3f-6043b33d0c53","name":"apixaban","class":"anticoagulant","dose":5,"unit":"mg","frequency":"once_daily","start_date":"2026-03-01","pattern":{"sequence":[4,3],"start":"soon"}}`,
			"pattern start must be YYYY-MM-DD",
		},
	}
	for _, c := range cases {
		rec, body := doJSON(t, router, http.MethodPost, "/medications/", c.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", c.name, rec.Code)
			continue
		}
		if !strings.Contains(errorMessage(body), c.want) {
			t.Errorf("%s: got %q, want substring %q", c.name, errorMessage(body), c.want)
		}
	}
}

func TestOpenWindowRejectsBadRequests(t *testing.T) {
	router := testRouter()
	id := "7b0bba9f-0c34-4e16-9a3f-6043b33d0c53"

	rec, body := doJSON(t, router, http.MethodPost, "/medications/nope/windows", `{}`)
	if rec.Code != http.StatusBadRequest || errorMessage(body) != "invalid medication id" {
		t.Errorf("bad id: got %d %q", rec.Code, errorMessage(body))
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/medications/"+id+"/windows", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d", rec.Code)
	}

	rec, body = doJSON(t, router, http.MethodPost, "/medications/"+id+"/windows",
		`{"sequence":[4,3],"unit":"mg","start":"March 1"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(errorMessage(body), "YYYY-MM-DD") {
		t.Errorf("bad start: got %d %q", rec.Code, errorMessage(body))
	}

	rec, body = doJSON(t, router, http.MethodPost, "/medications/"+id+"/windows",
		`{"sequence":[],"unit":"mg","start":"2026-03-01"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(errorMessage(body), "pattern sequence is empty") {
		t.Errorf("empty sequence: got %d %q", rec.Code, errorMessage(body))
	}

	rec, body = doJSON(t, router, http.MethodPost, "/medications/"+id+"/windows",
		`{"sequence":[4,0],"unit":"mg","start":"2026-03-01"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(errorMessage(body), "must be positive") {
		t.Errorf("zero dose: got %d %q", rec.Code, errorMessage(body))
	}
}

func TestRecordRejectsBadRequests(t *testing.T) {
	router := testRouter()
	id := "7b0bba9f-0c34-4e16-9a3f-6043b33d0c53"

	rec, body := doJSON(t, router, http.MethodPost, "/medications/nope/logs", `{}`)
	if rec.Code != http.StatusBadRequest || errorMessage(body) != "invalid medication id" {
		t.Errorf("bad id: got %d %q", rec.Code, errorMessage(body))
	}

	rec, _ = doJSON(t, router, http.MethodPost, "/medications/"+id+"/logs", `{`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d", rec.Code)
	}

	rec, body = doJSON(t, router, http.MethodPost, "/medications/"+id+"/logs",
		`{"actual_dose":5,"status":"consumed"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(errorMessage(body), "unknown status") {
		t.Errorf("unknown status: got %d %q", rec.Code, errorMessage(body))
	}

	rec, body = doJSON(t, router, http.MethodPost, "/medications/"+id+"/logs",
		`{"actual_dose":5,"actual_time":"yesterday"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(errorMessage(body), "RFC 3339") {
		t.Errorf("bad actual time: got %d %q", rec.Code, errorMessage(body))
	}

	rec, body = doJSON(t, router, http.MethodPost, "/medications/"+id+"/logs",
		`{"actual_dose":5,"scheduled_time":"2026-06-01"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(errorMessage(body), "RFC 3339") {
		t.Errorf("bad scheduled time: got %d %q", rec.Code, errorMessage(body))
	}
}

func TestListRejectsBadRequests(t *testing.T) {
	router := testRouter()
	id := "7b0bba9f-0c34-4e16-9a3f-6043b33d0c53"

	rec, _ := doJSON(t, router, http.MethodGet, "/medications/nope/logs", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d", rec.Code)
	}

	for _, limit := range []string{"0", "-5", "ten"} {
		rec, body := doJSON(t, router, http.MethodGet, "/medications/"+id+"/logs?limit="+limit, "")
		if rec.Code != http.StatusBadRequest || !strings.Contains(errorMessage(body), "positive integer") {
			t.Errorf("limit=%s: got %d %q", limit, rec.Code, errorMessage(body))
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{medication.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", medication.ErrNotFound), http.StatusNotFound},
		{medication.ErrWindowOverlap, http.StatusBadRequest},
		{medication.ErrOpenWindowExists, http.StatusBadRequest},
		{medication.ErrEmptyPattern, http.StatusBadRequest},
		{fmt.Errorf("%w: got 0", medication.ErrProjectionDays), http.StatusBadRequest},
		{medication.ErrProjectionStart, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("%v: got %d, want %d", c.err, got, c.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	parsed, err := parseDate("2026-03-01")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.Year() != 2026 || parsed.Month() != 3 || parsed.Day() != 1 {
		t.Errorf("got %v", parsed)
	}
	if _, err := parseDate("03/01/2026"); err == nil {
		t.Error("slash dates must be rejected")
	}
	if _, err := parseDate("2026-3-1"); err == nil {
		t.Error("unpadded dates must be rejected")
	}
}

func TestWindowFromRequestDefaults(t *testing.T) {
	med := &medication.Medication{
		Unit:      medication.UnitMg,
		StartDate: mustDate(t, "2026-03-01"),
	}

	w, err := windowFromRequest(&PatternRequest{Sequence: []float64{4, 3}}, med)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if w.Unit != medication.UnitMg {
		t.Errorf("unit should default from the medication, got %s", w.Unit)
	}
	if !w.Start.Equal(med.StartDate) {
		t.Errorf("start should default from the medication, got %v", w.Start)
	}
	if w.End != nil {
		t.Error("no end requested")
	}

	w, err = windowFromRequest(&PatternRequest{
		Sequence: []float64{4, 3},
		Unit:     medication.UnitMcg,
		Start:    "2026-04-01",
		End:      "2026-04-30",
	}, med)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if w.Unit != medication.UnitMcg || !w.Start.Equal(mustDate(t, "2026-04-01")) || w.End == nil {
		t.Errorf("explicit fields ignored: %+v", w)
	}

	if _, err := windowFromRequest(&PatternRequest{Sequence: []float64{4}, End: "whenever"}, med); err == nil {
		t.Error("bad end date must be rejected")
	}
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := parseDate(s)
	if err != nil {
		t.Fatalf("bad fixture date %q: %v", s, err)
	}
	return parsed
}
