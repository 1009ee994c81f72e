package breaker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"botfleet/src/events"
	"botfleet/src/ledger"
	"botfleet/src/model"
	"botfleet/src/risk"
)

type stubMetrics struct {
	metrics ledger.BotMetrics
	user    ledger.UserMetrics
}

func (s *stubMetrics) ComputeBotMetrics(_ context.Context, _, _ uint, _ decimal.Decimal, _ time.Time) (*ledger.BotMetrics, error) {
	m := s.metrics
	return &m, nil
}

func (s *stubMetrics) ComputeUserMetrics(_ context.Context, _ uint, _ time.Time) (*ledger.UserMetrics, error) {
	m := s.user
	return &m, nil
}

type stubErrors struct {
	count int
}

func (s *stubErrors) CountForBotSince(_ context.Context, _ uint, _ time.Time) (int, error) {
	return s.count, nil
}

type memRecords struct {
	records []*model.CircuitBreakerRecord
}

func (m *memRecords) Append(_ context.Context, record *model.CircuitBreakerRecord) error {
	m.records = append(m.records, record)
	return nil
}

func (m *memRecords) Latest(_ context.Context, entityType string, entityID uint) (*model.CircuitBreakerRecord, error) {
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].EntityType == entityType && m.records[i].EntityID == entityID {
			return m.records[i], nil
		}
	}
	return nil, nil
}

type recordingLifecycle struct {
	paused      []uint
	quarantined []uint
	resets      []uint
}

func (r *recordingLifecycle) Pause(_ context.Context, botID uint, _ string, _ bool) (*model.BotState, error) {
	r.paused = append(r.paused, botID)
	return &model.BotState{BotID: botID, Status: model.BotStatusPaused}, nil
}

func (r *recordingLifecycle) Quarantine(_ context.Context, botID uint, _ string) (*model.BotState, error) {
	r.quarantined = append(r.quarantined, botID)
	return &model.BotState{BotID: botID, Status: model.BotStatusQuarantined}, nil
}

func (r *recordingLifecycle) ResetQuarantine(_ context.Context, botID uint, _ string) (*model.BotState, error) {
	r.resets = append(r.resets, botID)
	return &model.BotState{BotID: botID, Status: model.BotStatusPaused}, nil
}

type recordingSink struct {
	emitted []events.Event
}

func (r *recordingSink) Emit(event events.Event) {
	r.emitted = append(r.emitted, event)
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func testThresholds(t *testing.T) risk.Thresholds {
	t.Helper()
	return risk.Thresholds{
		MaxDrawdownPct:    mustDec(t, "0.25"),
		DailyLossPct:      mustDec(t, "0.10"),
		ConsecutiveLosses: 5,
		ErrorsPerHour:     10,
	}
}

func newTestEvaluator(metrics *stubMetrics, errs *stubErrors) (*Evaluator, *memRecords, *recordingLifecycle, *recordingSink) {
	records := &memRecords{}
	life := &recordingLifecycle{}
	sink := &recordingSink{}
	e := NewEvaluator(metrics, errs, records, life, sink)
	return e, records, life, sink
}

func TestEvaluateBotHealthy(t *testing.T) {
	metrics := &stubMetrics{metrics: ledger.BotMetrics{
		DrawdownCurrentPct: mustDec(t, "0.05"),
		RealizedToday:      mustDec(t, "12"),
	}}
	e, records, life, _ := newTestEvaluator(metrics, &stubErrors{count: 1})

	bot := &model.Bot{ID: 7, UserID: 1}
	state := &model.BotState{BotID: 7, Status: model.BotStatusActive, CurrentCapital: mustDec(t, "1000")}

	record, err := e.EvaluateBot(context.Background(), bot, state, testThresholds(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil {
		t.Fatalf("expected no trip, got %+v", record)
	}
	if len(records.records) != 0 || len(life.paused) != 0 || len(life.quarantined) != 0 {
		t.Fatal("healthy bot must not be touched")
	}
}

func TestEvaluateBotDailyLossPauses(t *testing.T) {
	metrics := &stubMetrics{metrics: ledger.BotMetrics{
		DrawdownCurrentPct: mustDec(t, "0.12"),
		RealizedToday:      mustDec(t, "-150"),
	}}
	e, records, life, sink := newTestEvaluator(metrics, &stubErrors{})

	bot := &model.Bot{ID: 7, UserID: 1}
	state := &model.BotState{BotID: 7, Status: model.BotStatusActive, CurrentCapital: mustDec(t, "1000")}

	record, err := e.EvaluateBot(context.Background(), bot, state, testThresholds(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil {
		t.Fatal("expected a trip record")
	}
	if record.Severity != model.BreakerSeverityHard && record.Severity != model.BreakerSeveritySoft {
		t.Fatalf("unexpected severity %q", record.Severity)
	}
	if record.Severity != model.BreakerSeveritySoft {
		t.Fatalf("daily loss is a soft trigger, got %q", record.Severity)
	}
	if !strings.Contains(record.TripReason, "daily loss") {
		t.Fatalf("reason should name the breached threshold, got %q", record.TripReason)
	}
	if len(life.paused) != 1 || life.paused[0] != 7 {
		t.Fatalf("expected pause of bot 7, got %+v", life)
	}
	if len(life.quarantined) != 0 {
		t.Fatal("soft trip must not quarantine")
	}
	if len(records.records) != 1 || !records.records[0].IsTripped {
		t.Fatalf("expected one tripped record, got %+v", records.records)
	}
	if len(sink.emitted) != 1 || sink.emitted[0].Type != events.TypeCircuitBreakerTripped {
		t.Fatalf("expected circuit_breaker_tripped event, got %+v", sink.emitted)
	}
}

func TestEvaluateBotDrawdownQuarantines(t *testing.T) {
	metrics := &stubMetrics{metrics: ledger.BotMetrics{
		DrawdownCurrentPct: mustDec(t, "0.30"),
		RealizedToday:      mustDec(t, "-400"),
	}}
	e, _, life, _ := newTestEvaluator(metrics, &stubErrors{})

	bot := &model.Bot{ID: 9, UserID: 1}
	state := &model.BotState{BotID: 9, Status: model.BotStatusActive, CurrentCapital: mustDec(t, "1000")}

	record, err := e.EvaluateBot(context.Background(), bot, state, testThresholds(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil || record.Severity != model.BreakerSeverityHard {
		t.Fatalf("drawdown breach must be hard, got %+v", record)
	}
	// daily loss also breached; hard wins
	if len(life.quarantined) != 1 || len(life.paused) != 0 {
		t.Fatalf("expected quarantine only, got %+v", life)
	}
}

func TestEvaluateBotErrorRateQuarantines(t *testing.T) {
	metrics := &stubMetrics{metrics: ledger.BotMetrics{}}
	e, _, life, _ := newTestEvaluator(metrics, &stubErrors{count: 12})

	bot := &model.Bot{ID: 3, UserID: 2}
	state := &model.BotState{BotID: 3, Status: model.BotStatusActive, CurrentCapital: mustDec(t, "500")}

	record, err := e.EvaluateBot(context.Background(), bot, state, testThresholds(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil || record.Severity != model.BreakerSeverityHard {
		t.Fatalf("error rate breach must be hard, got %+v", record)
	}
	if record.ErrorsPerHour != 12 {
		t.Fatalf("snapshot should carry the error count, got %d", record.ErrorsPerHour)
	}
	if len(life.quarantined) != 1 {
		t.Fatalf("expected quarantine, got %+v", life)
	}
}

func TestEvaluateBotLosingStreakPauses(t *testing.T) {
	metrics := &stubMetrics{metrics: ledger.BotMetrics{
		ConsecutiveLosses: 5,
		RealizedToday:     mustDec(t, "-20"),
	}}
	e, _, life, _ := newTestEvaluator(metrics, &stubErrors{})

	bot := &model.Bot{ID: 4, UserID: 2}
	state := &model.BotState{BotID: 4, Status: model.BotStatusActive, CurrentCapital: mustDec(t, "1000")}

	record, err := e.EvaluateBot(context.Background(), bot, state, testThresholds(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil || record.Severity != model.BreakerSeveritySoft {
		t.Fatalf("losing streak must be soft, got %+v", record)
	}
	if len(life.paused) != 1 {
		t.Fatalf("expected pause, got %+v", life)
	}
}

func TestEvaluateBotSkipsNonActive(t *testing.T) {
	metrics := &stubMetrics{metrics: ledger.BotMetrics{
		DrawdownCurrentPct: mustDec(t, "0.90"),
	}}
	e, records, _, _ := newTestEvaluator(metrics, &stubErrors{count: 100})

	bot := &model.Bot{ID: 5, UserID: 2}
	state := &model.BotState{BotID: 5, Status: model.BotStatusPaused, CurrentCapital: mustDec(t, "1000")}

	record, err := e.EvaluateBot(context.Background(), bot, state, testThresholds(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil || len(records.records) != 0 {
		t.Fatal("paused bot must not be re-tripped")
	}
}

func TestResetQuarantineAppendsHistory(t *testing.T) {
	e, records, life, _ := newTestEvaluator(&stubMetrics{}, &stubErrors{})

	state, err := e.ResetQuarantine(context.Background(), 11, "reviewed by operator")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != model.BotStatusPaused {
		t.Fatalf("reset must land in paused, got %q", state.Status)
	}
	if len(life.resets) != 1 || life.resets[0] != 11 {
		t.Fatalf("expected lifecycle reset, got %+v", life)
	}
	if len(records.records) != 1 {
		t.Fatalf("expected one reset record, got %d", len(records.records))
	}
	rec := records.records[0]
	if rec.IsTripped || rec.ResetReason != "reviewed by operator" || rec.ResetAt == nil {
		t.Fatalf("bad reset record: %+v", rec)
	}
}

func TestEvaluateUserDrawdownContainsAllBots(t *testing.T) {
	metrics := &stubMetrics{user: ledger.UserMetrics{
		DrawdownCurrentPct: mustDec(t, "0.30"),
		RealizedToday:      mustDec(t, "-3000"),
		Equity:             mustDec(t, "7000"),
	}}
	e, records, life, sink := newTestEvaluator(metrics, &stubErrors{})

	active := []model.Bot{{ID: 7, UserID: 1}, {ID: 8, UserID: 1}}
	record, err := e.EvaluateUser(context.Background(), 1, active, testThresholds(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil || record.Severity != model.BreakerSeverityHard {
		t.Fatalf("account drawdown breach must be hard, got %+v", record)
	}
	if record.EntityType != model.BreakerEntityUser || record.EntityID != 1 {
		t.Fatalf("expected user entity record, got %+v", record)
	}
	if len(life.quarantined) != 2 {
		t.Fatalf("every active bot must be quarantined, got %+v", life)
	}
	if len(records.records) != 1 || !records.records[0].IsTripped {
		t.Fatalf("expected one tripped record, got %+v", records.records)
	}
	if len(sink.emitted) != 1 || sink.emitted[0].Type != events.TypeCircuitBreakerTripped {
		t.Fatalf("expected circuit_breaker_tripped event, got %+v", sink.emitted)
	}
}

func TestEvaluateUserDailyLossPausesAllBots(t *testing.T) {
	// loses 1500 from a 10000 start-of-day equity, 15% against a 10% limit
	metrics := &stubMetrics{user: ledger.UserMetrics{
		DrawdownCurrentPct: mustDec(t, "0.15"),
		RealizedToday:      mustDec(t, "-1500"),
		Equity:             mustDec(t, "8500"),
	}}
	e, _, life, _ := newTestEvaluator(metrics, &stubErrors{})

	active := []model.Bot{{ID: 7, UserID: 1}, {ID: 8, UserID: 1}, {ID: 9, UserID: 1}}
	record, err := e.EvaluateUser(context.Background(), 1, active, testThresholds(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil || record.Severity != model.BreakerSeveritySoft {
		t.Fatalf("account daily loss must be soft, got %+v", record)
	}
	if !record.DailyLossPct.Equal(mustDec(t, "0.15")) {
		t.Fatalf("expected daily loss 0.15, got %s", record.DailyLossPct)
	}
	if len(life.paused) != 3 || len(life.quarantined) != 0 {
		t.Fatalf("expected three pauses, got %+v", life)
	}
}

func TestEvaluateUserHealthyAccountUntouched(t *testing.T) {
	metrics := &stubMetrics{user: ledger.UserMetrics{
		DrawdownCurrentPct: mustDec(t, "0.02"),
		RealizedToday:      mustDec(t, "40"),
		Equity:             mustDec(t, "10040"),
	}}
	e, records, life, _ := newTestEvaluator(metrics, &stubErrors{})

	record, err := e.EvaluateUser(context.Background(), 1, []model.Bot{{ID: 7, UserID: 1}}, testThresholds(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil || len(records.records) != 0 || len(life.paused) != 0 {
		t.Fatal("healthy account must not be touched")
	}
}

func TestEvaluateUserAlreadyTrippedLeftAlone(t *testing.T) {
	metrics := &stubMetrics{user: ledger.UserMetrics{
		DrawdownCurrentPct: mustDec(t, "0.90"),
		Equity:             mustDec(t, "1000"),
	}}
	e, records, life, _ := newTestEvaluator(metrics, &stubErrors{})

	now := time.Now().UTC()
	records.records = append(records.records, &model.CircuitBreakerRecord{
		EntityType: model.BreakerEntityUser,
		EntityID:   1,
		IsTripped:  true,
		TrippedAt:  &now,
	})

	record, err := e.EvaluateUser(context.Background(), 1, []model.Bot{{ID: 7, UserID: 1}}, testThresholds(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil || len(records.records) != 1 || len(life.quarantined) != 0 {
		t.Fatal("tripped account must not be re-tripped")
	}
}

func TestResetUserBreakerAppendsHistory(t *testing.T) {
	e, records, _, _ := newTestEvaluator(&stubMetrics{}, &stubErrors{})

	record, err := e.ResetUserBreaker(context.Background(), 1, "account reviewed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.EntityType != model.BreakerEntityUser || record.EntityID != 1 {
		t.Fatalf("expected user entity record, got %+v", record)
	}
	if record.IsTripped || record.ResetReason != "account reviewed" || record.ResetAt == nil {
		t.Fatalf("bad reset record: %+v", record)
	}
	if len(records.records) != 1 {
		t.Fatalf("expected one reset record, got %d", len(records.records))
	}

	latest, err := records.Latest(context.Background(), model.BreakerEntityUser, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest == nil || latest.IsTripped {
		t.Fatal("latest user record must be untripped after reset")
	}
}
