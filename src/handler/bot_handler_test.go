package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"botfleet/src/lifecycle"
	"botfleet/src/model"
	"botfleet/src/repository"
)

type mockLifecycle struct {
	state  *model.BotState
	err    error
	paused []uint
}

func (m *mockLifecycle) Start(_ context.Context, _ uint) (*model.BotState, error) {
	return m.state, m.err
}

func (m *mockLifecycle) Pause(_ context.Context, botID uint, _ string, _ bool) (*model.BotState, error) {
	m.paused = append(m.paused, botID)
	return m.state, m.err
}

func (m *mockLifecycle) Resume(_ context.Context, _ uint) (*model.BotState, error) {
	return m.state, m.err
}

func (m *mockLifecycle) Stop(_ context.Context, _ uint, _ string) (*model.BotState, error) {
	return m.state, m.err
}

func (m *mockLifecycle) PauseAll(_ context.Context, botIDs []uint, _ string, _ bool) []lifecycle.BulkResult {
	results := make([]lifecycle.BulkResult, 0, len(botIDs))
	for _, id := range botIDs {
		results = append(results, lifecycle.BulkResult{BotID: id, OK: true})
	}
	return results
}

func (m *mockLifecycle) ResumeAll(_ context.Context, botIDs []uint) []lifecycle.BulkResult {
	results := make([]lifecycle.BulkResult, 0, len(botIDs))
	for _, id := range botIDs {
		results = append(results, lifecycle.BulkResult{BotID: id, OK: true})
	}
	return results
}

type mockBotStore struct {
	bots    []model.Bot
	created *model.Bot
}

func (m *mockBotStore) Create(_ context.Context, bot *model.Bot) error {
	bot.ID = 7
	m.created = bot
	return nil
}

func (m *mockBotStore) FindByID(_ context.Context, id uint) (*model.Bot, error) {
	for i := range m.bots {
		if m.bots[i].ID == id {
			return &m.bots[i], nil
		}
	}
	return nil, nil
}

func (m *mockBotStore) ListByUser(_ context.Context, userID uint) ([]model.Bot, error) {
	var owned []model.Bot
	for _, bot := range m.bots {
		if bot.UserID == userID {
			owned = append(owned, bot)
		}
	}
	return owned, nil
}

type mockResetter struct {
	state  *model.BotState
	err    error
	reason string
}

func (m *mockResetter) ResetQuarantine(_ context.Context, _ uint, reason string) (*model.BotState, error) {
	m.reason = reason
	return m.state, m.err
}

type mockAllocRunner struct {
	run *model.ReinvestmentRun
	err error
}

func (m *mockAllocRunner) Run(_ context.Context, _ uint, _ time.Time) (*model.ReinvestmentRun, error) {
	return m.run, m.err
}

func routed(handler http.HandlerFunc, method, path string, body string, userID uint) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, "/bots/{botID}/action", handler)

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := asUser(httptest.NewRequest(method, path, reader), userID)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestCreateBotHandler(t *testing.T) {
	store := &mockBotStore{}
	handler := CreateBotHandler(store)

	body := `{"name":"scalper","symbol":"BTCUSDT","exchange_id":1,"is_paper":true}`
	req := asUser(httptest.NewRequest(http.MethodPost, "/bots", strings.NewReader(body)), 3)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	assert.NotNil(t, store.created)
	assert.Equal(t, uint(3), store.created.UserID)
	assert.True(t, store.created.IsPaper)
}

func TestPauseBotHandler_ForeignBot(t *testing.T) {
	life := &mockLifecycle{}
	store := &mockBotStore{bots: []model.Bot{{ID: 1, UserID: 99}}}

	rr := routed(PauseBotHandler(life, store), http.MethodPost, "/bots/1/action", `{"reason":"manual"}`, 1)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if len(life.paused) != 0 {
		t.Fatal("foreign bot must not be paused")
	}
}

func TestPauseBotHandler_Success(t *testing.T) {
	life := &mockLifecycle{state: &model.BotState{BotID: 1, Status: model.BotStatusPaused}}
	store := &mockBotStore{bots: []model.Bot{{ID: 1, UserID: 1}}}

	rr := routed(PauseBotHandler(life, store), http.MethodPost, "/bots/1/action", `{"reason":"manual"}`, 1)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var state model.BotState
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	assert.Equal(t, model.BotStatusPaused, state.Status)
}

func TestResumeBotHandler_InvalidTransition(t *testing.T) {
	life := &mockLifecycle{err: &lifecycle.InvalidTransitionError{BotID: 1, From: model.BotStatusQuarantined, Requested: "resume"}}
	store := &mockBotStore{bots: []model.Bot{{ID: 1, UserID: 1}}}

	rr := routed(ResumeBotHandler(life, store), http.MethodPost, "/bots/1/action", "", 1)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestResetQuarantineHandler_RequiresReason(t *testing.T) {
	resetter := &mockResetter{state: &model.BotState{BotID: 1, Status: model.BotStatusPaused}}
	store := &mockBotStore{bots: []model.Bot{{ID: 1, UserID: 1}}}

	rr := routed(ResetQuarantineHandler(resetter, store), http.MethodPost, "/bots/1/action", `{}`, 1)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr = routed(ResetQuarantineHandler(resetter, store), http.MethodPost, "/bots/1/action", `{"reason":"reviewed"}`, 1)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	assert.Equal(t, "reviewed", resetter.reason)
}

func TestPauseAllHandler_PerBotResults(t *testing.T) {
	life := &mockLifecycle{}
	store := &mockBotStore{bots: []model.Bot{
		{ID: 1, UserID: 1},
		{ID: 2, UserID: 1},
		{ID: 3, UserID: 2},
	}}
	handler := PauseAllHandler(life, store)

	req := asUser(httptest.NewRequest(http.MethodPost, "/bots/pause_all", strings.NewReader(`{"reason":"maintenance"}`)), 1)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var results []lifecycle.BulkResult
	if err := json.Unmarshal(rr.Body.Bytes(), &results); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	// only the caller's bots
	assert.Len(t, results, 2)
}

func TestTriggerReinvestHandler_Skip(t *testing.T) {
	handler := TriggerReinvestHandler(&mockAllocRunner{err: repository.ErrRunExists})

	req := asUser(httptest.NewRequest(http.MethodPost, "/reinvest", nil), 1)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	assert.Equal(t, "skipped", body["status"])
}

func TestTriggerReinvestHandler_Completed(t *testing.T) {
	handler := TriggerReinvestHandler(&mockAllocRunner{run: &model.ReinvestmentRun{Status: model.ReinvestmentRunCompleted}})

	req := asUser(httptest.NewRequest(http.MethodPost, "/reinvest", nil), 1)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var run model.ReinvestmentRun
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	assert.Equal(t, model.ReinvestmentRunCompleted, run.Status)
}

type mockAccountBreaker struct {
	resets []string
}

func (m *mockAccountBreaker) ResetUserBreaker(_ context.Context, userID uint, reason string) (*model.CircuitBreakerRecord, error) {
	m.resets = append(m.resets, reason)
	return &model.CircuitBreakerRecord{
		EntityType:  model.BreakerEntityUser,
		EntityID:    userID,
		IsTripped:   false,
		ResetReason: reason,
	}, nil
}

func TestResetAccountBreakerHandler_RequiresReason(t *testing.T) {
	breakers := &mockAccountBreaker{}
	handler := ResetAccountBreakerHandler(breakers)

	req := asUser(httptest.NewRequest(http.MethodPost, "/breaker/reset", strings.NewReader(`{}`)), 1)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, breakers.resets)
}

func TestResetAccountBreakerHandler_Success(t *testing.T) {
	breakers := &mockAccountBreaker{}
	handler := ResetAccountBreakerHandler(breakers)

	req := asUser(httptest.NewRequest(http.MethodPost, "/breaker/reset", strings.NewReader(`{"reason":"account reviewed"}`)), 7)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var record model.CircuitBreakerRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &record); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	assert.Equal(t, model.BreakerEntityUser, record.EntityType)
	assert.Equal(t, uint(7), record.EntityID)
	assert.False(t, record.IsTripped)
	assert.Equal(t, []string{"account reviewed"}, breakers.resets)
}
