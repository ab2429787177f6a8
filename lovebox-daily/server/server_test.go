package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"lovebox_automation/lovebox-daily/cycle"
	"lovebox_automation/lovebox-daily/pipeline"
)

type blockingRunner struct {
	release chan struct{}
	started chan pipeline.Options
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{}), started: make(chan pipeline.Options, 4)}
}

func (b *blockingRunner) Run(_ context.Context, opts pipeline.Options) (*pipeline.Report, error) {
	b.started <- opts
	<-b.release
	return &pipeline.Report{RunID: opts.RunID, Status: pipeline.StatusSent}, b.err
}

type fakeCycles struct {
	doc   cycle.Document
	err   error
	reset []string
}

func (f *fakeCycles) Entries(context.Context) (cycle.Document, error) { return f.doc, f.err }

func (f *fakeCycles) Reset(_ context.Context, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.doc[key]; !ok {
		return false, nil
	}
	f.reset = append(f.reset, key)
	delete(f.doc, key)
	return true, nil
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := New(context.Background(), newBlockingRunner(), &fakeCycles{}, zerolog.Nop())
	w := do(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Version != Version {
		t.Errorf("unexpected health response %+v", resp)
	}
}

func TestListCycles(t *testing.T) {
	cycles := &fakeCycles{doc: cycle.Document{
		"styles":     {Signature: "s2", Order: []string{"a", "b", "c"}, Index: 1},
		"activities": {Signature: "s1", Order: []string{"x"}, Index: 1},
	}}
	s := New(context.Background(), newBlockingRunner(), cycles, zerolog.Nop())

	w := do(t, s, http.MethodGet, "/cycles", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Cycles []CycleInfo `json:"cycles"`
		Count  int         `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 || resp.Cycles[0].Key != "activities" {
		t.Fatalf("expected 2 cycles sorted by key, got %+v", resp)
	}
	styles := resp.Cycles[1]
	if styles.Index != 1 || styles.Len != 3 || styles.Remaining != 2 || styles.Signature != "s2" {
		t.Errorf("unexpected styles info %+v", styles)
	}
}

func TestListCyclesStoreUnavailable(t *testing.T) {
	s := New(context.Background(), newBlockingRunner(), &fakeCycles{err: errors.New("disk gone")}, zerolog.Nop())
	if w := do(t, s, http.MethodGet, "/cycles", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestResetCycle(t *testing.T) {
	cycles := &fakeCycles{doc: cycle.Document{"styles": {Signature: "s", Order: []string{"a"}}}}
	s := New(context.Background(), newBlockingRunner(), cycles, zerolog.Nop())

	if w := do(t, s, http.MethodDelete, "/cycles/styles", ""); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w := do(t, s, http.MethodDelete, "/cycles/styles", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a missing key, got %d", w.Code)
	}
	if len(cycles.reset) != 1 || cycles.reset[0] != "styles" {
		t.Errorf("expected styles reset once, got %v", cycles.reset)
	}
}

func TestStartRunRejectsConcurrentRun(t *testing.T) {
	runner := newBlockingRunner()
	s := New(context.Background(), runner, &fakeCycles{}, zerolog.Nop())

	w := do(t, s, http.MethodPost, "/runs", `{"alt": true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var started struct {
		RunID string `json:"run_id"`
	}
	json.Unmarshal(w.Body.Bytes(), &started)
	opts := <-runner.started
	if !opts.Alt || opts.RunID != started.RunID {
		t.Errorf("expected alt run %s, got %+v", started.RunID, opts)
	}

	if w := do(t, s, http.MethodPost, "/runs", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409 while a run is active, got %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/runs/"+started.RunID, "")
	var status RunStatus
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.State != RunRunning {
		t.Errorf("expected running state, got %+v", status)
	}

	close(runner.release)
	s.Wait()

	w = do(t, s, http.MethodGet, "/runs/"+started.RunID, "")
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.State != RunFinished || status.Report == nil || status.Report.Status != pipeline.StatusSent {
		t.Errorf("expected finished run with report, got %+v", status)
	}

	if w := do(t, s, http.MethodPost, "/runs", ""); w.Code != http.StatusAccepted {
		t.Errorf("expected a new run to start after the first finished, got %d", w.Code)
	}
	<-runner.started
	s.Wait()
}

func TestRunFailureIsRecorded(t *testing.T) {
	runner := newBlockingRunner()
	runner.err = errors.New("smtp down")
	close(runner.release)
	s := New(context.Background(), runner, &fakeCycles{}, zerolog.Nop())

	w := do(t, s, http.MethodPost, "/runs", "")
	var started struct {
		RunID string `json:"run_id"`
	}
	json.Unmarshal(w.Body.Bytes(), &started)
	<-runner.started
	s.Wait()

	w = do(t, s, http.MethodGet, "/runs/"+started.RunID, "")
	var status RunStatus
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.State != RunFailed || status.Error != "smtp down" {
		t.Errorf("expected failed run, got %+v", status)
	}
}

func TestStartRunBadBody(t *testing.T) {
	s := New(context.Background(), newBlockingRunner(), &fakeCycles{}, zerolog.Nop())
	if w := do(t, s, http.MethodPost, "/runs", `{"alt": "maybe"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetUnknownRun(t *testing.T) {
	s := New(context.Background(), newBlockingRunner(), &fakeCycles{}, zerolog.Nop())
	if w := do(t, s, http.MethodGet, "/runs/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
