package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mgirard/keepsake/internal/config"
	"github.com/mgirard/keepsake/internal/engine"
	"github.com/mgirard/keepsake/internal/llm"
	"github.com/mgirard/keepsake/internal/memory"
	"github.com/mgirard/keepsake/internal/store"
)

func testServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock := &llm.MockClient{Response: &llm.Response{Content: "[]"}}
	eng := engine.New(db, mock, nil, config.Default().Pipeline)
	return New(eng, nil, "test"), eng
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestStatus(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["queue_depth"] != 0.0 {
		t.Errorf("queue_depth = %v, want 0", resp["queue_depth"])
	}
	if resp["paused"] != false {
		t.Errorf("paused = %v, want false", resp["paused"])
	}
}

func TestExchangeIngest(t *testing.T) {
	srv, eng := testServer(t)

	body := `{"persona":"mira","human":"Dana","human_message":"I went hiking.","persona_message":"Nice!"}`
	req := httptest.NewRequest("POST", "/api/exchange", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	owner, err := eng.DB.LoadOwner(memory.KindHuman, "Dana")
	if err != nil || owner == nil {
		t.Fatalf("exchange did not create the human owner: %v", err)
	}
	messages, err := eng.DB.RecentExchanges("mira", 10)
	if err != nil {
		t.Fatalf("recent exchanges: %v", err)
	}
	if len(messages) != 2 {
		t.Errorf("got %d messages, want 2", len(messages))
	}
}

func TestExchangeRequiresNames(t *testing.T) {
	srv, _ := testServer(t)

	body := `{"human_message":"hello"}`
	req := httptest.NewRequest("POST", "/api/exchange", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestExchangeRejectsBadJSON(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("POST", "/api/exchange", strings.NewReader("{nope"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPauseResume(t *testing.T) {
	srv, eng := testServer(t)

	req := httptest.NewRequest("POST", "/api/queue/pause", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("pause status = %d", w.Code)
	}
	if !eng.Queue.Paused() {
		t.Error("queue should be paused")
	}

	req = httptest.NewRequest("POST", "/api/queue/resume", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("resume status = %d", w.Code)
	}
	if eng.Queue.Paused() {
		t.Error("queue should be running")
	}
}

func TestValidationsListAndResolve(t *testing.T) {
	srv, eng := testServer(t)

	task := engine.NewTask(engine.PriorityLow, engine.ValidationPayload{
		Owner:     memory.OwnerRef{Kind: memory.KindHuman, Name: "Dana"},
		Type:      memory.TypeFact,
		Name:      "maybe vegan",
		Origin:    engine.OriginLowConfidence,
		Rationale: "mentioned once",
	})
	if _, err := eng.Queue.Enqueue(task); err != nil {
		t.Fatalf("enqueue validation: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/validations", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp struct {
		Validations []map[string]any `json:"validations"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Validations) != 1 {
		t.Fatalf("got %d validations, want 1", len(resp.Validations))
	}
	if resp.Validations[0]["name"] != "maybe vegan" {
		t.Errorf("name = %v", resp.Validations[0]["name"])
	}

	req = httptest.NewRequest("POST", "/api/validations/"+task.ID+"/resolve", strings.NewReader(`{"accept":false}`))
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d; body: %s", w.Code, w.Body.String())
	}

	pending, err := eng.Queue.PendingValidations()
	if err != nil {
		t.Fatalf("pending validations: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("validation was not resolved away")
	}
}
