package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"botfleet/src/model"
)

// memStore is an in-memory stand-in for the fill, event and pending
// repositories, good enough to replay against.
type memStore struct {
	fills   []model.Fill
	events  []model.LedgerEvent
	pending map[string]*model.PendingOrder
	nextID  uint
}

func newMemStore() *memStore {
	return &memStore{pending: make(map[string]*model.PendingOrder), nextID: 1}
}

func (m *memStore) Append(ctx context.Context, fill *model.Fill) error {
	for _, f := range m.fills {
		if f.IdempotencyKey == fill.IdempotencyKey {
			return errors.New("duplicated key")
		}
	}
	fill.ID = m.nextID
	m.nextID++
	m.fills = append(m.fills, *fill)
	return nil
}

func (m *memStore) ListByUser(ctx context.Context, userID uint) ([]model.Fill, error) {
	var out []model.Fill
	for _, f := range m.fills {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) ListByBot(ctx context.Context, userID, botID uint) ([]model.Fill, error) {
	var out []model.Fill
	for _, f := range m.fills {
		if f.UserID == userID && f.BotID == botID {
			out = append(out, f)
		}
	}
	return out, nil
}

type memEvents struct {
	events []model.LedgerEvent
}

func (m *memEvents) Append(ctx context.Context, event *model.LedgerEvent) error {
	m.events = append(m.events, *event)
	return nil
}

func (m *memEvents) ListByUser(ctx context.Context, userID uint) ([]model.LedgerEvent, error) {
	var out []model.LedgerEvent
	for _, e := range m.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memPending struct {
	orders map[string]*model.PendingOrder
}

func newMemPending() *memPending {
	return &memPending{orders: make(map[string]*model.PendingOrder)}
}

func (m *memPending) FindByKey(ctx context.Context, key string) (*model.PendingOrder, error) {
	if o, ok := m.orders[key]; ok {
		copied := *o
		return &copied, nil
	}
	return nil, nil
}

func (m *memPending) Transition(ctx context.Context, order *model.PendingOrder, next, reason string) error {
	stored, ok := m.orders[order.IdempotencyKey]
	if !ok {
		return errors.New("not found")
	}
	if !stored.CanTransitionTo(next) {
		return errors.New("illegal transition")
	}
	stored.Status = next
	order.Status = next
	return nil
}

func newTestService() (*Service, *memStore, *memEvents, *memPending) {
	fills := newMemStore()
	events := &memEvents{}
	pending := newMemPending()
	return NewService(fills, events, pending), fills, events, pending
}

func mustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fundUser(t *testing.T, svc *Service, userID uint, amount string, at time.Time) {
	t.Helper()
	err := svc.RecordEvent(context.Background(), &model.LedgerEvent{
		UserID:    userID,
		Type:      model.LedgerEventFunding,
		Amount:    mustDec(amount),
		Currency:  "USDT",
		Timestamp: at,
	})
	if err != nil {
		t.Fatalf("failed to record funding: %v", err)
	}
}

func appendFill(t *testing.T, svc *Service, pending *memPending, fill model.Fill) {
	t.Helper()
	pending.orders[fill.IdempotencyKey] = &model.PendingOrder{
		IdempotencyKey: fill.IdempotencyKey,
		BotID:          fill.BotID,
		Status:         model.PendingStatusSubmitted,
	}
	if _, err := svc.AppendFill(context.Background(), &fill); err != nil {
		t.Fatalf("failed to append fill: %v", err)
	}
}

func TestComputeEquityFundingOnly(t *testing.T) {
	svc, _, _, _ := newTestService()
	fundUser(t, svc, 1, "10000", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	equity, err := svc.ComputeEquity(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equity.Equal(mustDec("10000")) {
		t.Fatalf("expected equity 10000, got %s", equity)
	}
}

func TestRealizedPnLRoundTrip(t *testing.T) {
	svc, _, _, pending := newTestService()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fundUser(t, svc, 1, "10000", start)

	// buy 0.01 BTC at 500000 with 25 bps fee, sell at 510000 with 25 bps fee
	buyFee := mustDec("500000").Mul(mustDec("0.01")).Mul(mustDec("0.0025"))
	sellFee := mustDec("510000").Mul(mustDec("0.01")).Mul(mustDec("0.0025"))

	appendFill(t, svc, pending, model.Fill{
		UserID: 1, BotID: 4, Symbol: "BTC/USDT", Side: model.SideBuy,
		Amount: mustDec("0.01"), Price: mustDec("500000"), Fee: buyFee,
		FeeCurrency: "USDT", IdempotencyKey: "buy-1", Timestamp: start.Add(time.Hour),
	})
	appendFill(t, svc, pending, model.Fill{
		UserID: 1, BotID: 4, Symbol: "BTC/USDT", Side: model.SideSell,
		Amount: mustDec("0.01"), Price: mustDec("510000"), Fee: sellFee,
		FeeCurrency: "USDT", IdempotencyKey: "sell-1", Timestamp: start.Add(2 * time.Hour),
	})

	pnl, err := svc.ComputeRealizedPnL(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// gross PnL; fees are accounted separately in equity
	if !pnl.Equal(mustDec("100")) {
		t.Fatalf("expected realized pnl 100, got %s", pnl)
	}

	equity, err := svc.ComputeEquity(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := mustDec("10000").Add(mustDec("100")).Sub(buyFee).Sub(sellFee)
	if !equity.Equal(want) {
		t.Fatalf("expected equity %s, got %s", want, equity)
	}
}

func TestFIFOMatchingConsumesOldestLotsFirst(t *testing.T) {
	svc, _, _, pending := newTestService()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fundUser(t, svc, 1, "100000", start)

	appendFill(t, svc, pending, model.Fill{
		UserID: 1, BotID: 4, Symbol: "ETH/USDT", Side: model.SideBuy,
		Amount: mustDec("2"), Price: mustDec("3000"),
		FeeCurrency: "USDT", IdempotencyKey: "b1", Timestamp: start.Add(1 * time.Hour),
	})
	appendFill(t, svc, pending, model.Fill{
		UserID: 1, BotID: 4, Symbol: "ETH/USDT", Side: model.SideBuy,
		Amount: mustDec("2"), Price: mustDec("3500"),
		FeeCurrency: "USDT", IdempotencyKey: "b2", Timestamp: start.Add(2 * time.Hour),
	})
	// sells 3: consumes the 3000 lot fully and 1 unit of the 3500 lot
	appendFill(t, svc, pending, model.Fill{
		UserID: 1, BotID: 4, Symbol: "ETH/USDT", Side: model.SideSell,
		Amount: mustDec("3"), Price: mustDec("4000"),
		FeeCurrency: "USDT", IdempotencyKey: "s1", Timestamp: start.Add(3 * time.Hour),
	})

	pnl, err := svc.ComputeRealizedPnL(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (4000-3000)*2 + (4000-3500)*1 = 2500
	if !pnl.Equal(mustDec("2500")) {
		t.Fatalf("expected FIFO pnl 2500, got %s", pnl)
	}

	// the remaining 1 ETH @ 3500 is open inventory marked at 4000
	agg, err := svc.ComputeAggregates(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !agg.UnrealizedPnL.Equal(mustDec("500")) {
		t.Fatalf("expected unrealized 500, got %s", agg.UnrealizedPnL)
	}
}

func TestCachedAggregatesEqualReplayAtEveryPoint(t *testing.T) {
	svc, _, _, pending := newTestService()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fundUser(t, svc, 1, "50000", start)

	fills := []model.Fill{
		{UserID: 1, BotID: 4, Symbol: "BTC/USDT", Side: model.SideBuy, Amount: mustDec("0.5"), Price: mustDec("60000"), Fee: mustDec("15"), FeeCurrency: "USDT", IdempotencyKey: "k1"},
		{UserID: 1, BotID: 4, Symbol: "BTC/USDT", Side: model.SideSell, Amount: mustDec("0.2"), Price: mustDec("62000"), Fee: mustDec("6"), FeeCurrency: "USDT", IdempotencyKey: "k2"},
		{UserID: 1, BotID: 5, Symbol: "ETH/USDT", Side: model.SideBuy, Amount: mustDec("3"), Price: mustDec("3100"), Fee: mustDec("4.5"), FeeCurrency: "USDT", IdempotencyKey: "k3"},
		{UserID: 1, BotID: 4, Symbol: "BTC/USDT", Side: model.SideSell, Amount: mustDec("0.3"), Price: mustDec("59000"), Fee: mustDec("8"), FeeCurrency: "USDT", IdempotencyKey: "k4"},
	}

	for i, f := range fills {
		f.Timestamp = start.Add(time.Duration(i+1) * time.Hour)
		appendFill(t, svc, pending, f)

		cached, err := svc.ComputeAggregates(context.Background(), 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		replayed, err := svc.replayAggregates(context.Background(), 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cached.Equity.Equal(replayed.Equity) {
			t.Fatalf("step %d: cached equity %s != replayed %s", i, cached.Equity, replayed.Equity)
		}
		if !cached.RealizedPnL.Equal(replayed.RealizedPnL) {
			t.Fatalf("step %d: cached pnl %s != replayed %s", i, cached.RealizedPnL, replayed.RealizedPnL)
		}
	}
}

func TestWithdrawalLowersPeakNotDrawdown(t *testing.T) {
	svc, _, events, _ := newTestService()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fundUser(t, svc, 1, "10000", start)

	err := svc.RecordEvent(context.Background(), &model.LedgerEvent{
		UserID: 1, Type: model.LedgerEventWithdrawal, Amount: mustDec("4000"),
		Currency: "USDT", Timestamp: start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to record withdrawal: %v", err)
	}
	if len(events.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events.events))
	}

	current, max, err := svc.ComputeDrawdown(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !current.IsZero() || !max.IsZero() {
		t.Fatalf("withdrawal must not register as drawdown, got current=%s max=%s", current, max)
	}
}

func TestAppendFillDuplicateFilledKey(t *testing.T) {
	svc, _, _, pending := newTestService()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	fill := model.Fill{
		UserID: 1, BotID: 4, Symbol: "BTC/USDT", Side: model.SideBuy,
		Amount: mustDec("0.01"), Price: mustDec("50000"),
		FeeCurrency: "USDT", IdempotencyKey: "dup", Timestamp: start,
	}
	appendFill(t, svc, pending, fill)

	_, err := svc.AppendFill(context.Background(), &fill)
	var integrityErr *IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("expected IntegrityError for duplicate fill, got %v", err)
	}
}

func TestBotMetricsConsecutiveLossesAndDrawdown(t *testing.T) {
	svc, _, _, pending := newTestService()
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	// three losing round trips for bot 7
	for i := 0; i < 3; i++ {
		base := start.Add(time.Duration(i*2) * time.Hour)
		appendFill(t, svc, pending, model.Fill{
			UserID: 1, BotID: 7, Symbol: "SOL/USDT", Side: model.SideBuy,
			Amount: mustDec("10"), Price: mustDec("200"),
			FeeCurrency: "USDT", IdempotencyKey: uniqueKey("lb", i), Timestamp: base,
		})
		appendFill(t, svc, pending, model.Fill{
			UserID: 1, BotID: 7, Symbol: "SOL/USDT", Side: model.SideSell,
			Amount: mustDec("10"), Price: mustDec("190"),
			FeeCurrency: "USDT", IdempotencyKey: uniqueKey("ls", i), Timestamp: base.Add(time.Hour),
		})
	}

	metrics, err := svc.ComputeBotMetrics(context.Background(), 1, 7, mustDec("1000"), start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if metrics.ConsecutiveLosses != 3 {
		t.Fatalf("expected 3 consecutive losses, got %d", metrics.ConsecutiveLosses)
	}
	// lost 300 of 1000 capital
	if !metrics.DrawdownCurrentPct.Equal(mustDec("0.3")) {
		t.Fatalf("expected drawdown 0.3, got %s", metrics.DrawdownCurrentPct)
	}
	if !metrics.RealizedToday.Equal(mustDec("-300")) {
		t.Fatalf("expected realized today -300, got %s", metrics.RealizedToday)
	}
}

func uniqueKey(prefix string, i int) string {
	return prefix + "-" + string(rune('a'+i))
}

// gatedFills takes the fill snapshot, then parks the first reader until
// the test releases it, so a write can land mid-replay.
type gatedFills struct {
	*memStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFills) ListByUser(ctx context.Context, userID uint) ([]model.Fill, error) {
	out, err := g.memStore.ListByUser(ctx, userID)
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return out, err
}

func TestReplayOvertakenByWriteIsNotCached(t *testing.T) {
	gated := &gatedFills{
		memStore: newMemStore(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	events := &memEvents{}
	pending := newMemPending()
	svc := NewService(gated, events, pending)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fundUser(t, svc, 1, "10000", start)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := svc.ComputeAggregates(context.Background(), 1); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()

	// the reader holds a pre-write fill snapshot; land a fill now
	<-gated.entered
	appendFill(t, svc, pending, model.Fill{
		UserID: 1, BotID: 4, Symbol: "BTC/USDT", Side: model.SideBuy,
		Amount: mustDec("0.1"), Price: mustDec("60000"), Fee: mustDec("1"),
		FeeCurrency: "USDT", IdempotencyKey: "race-1", Timestamp: start.Add(time.Hour),
	})
	close(gated.release)
	<-done

	cached, err := svc.ComputeAggregates(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	replayed, err := svc.replayAggregates(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cached.FeesPaid.Equal(replayed.FeesPaid) {
		t.Fatalf("cached fees %s != replayed %s after concurrent write", cached.FeesPaid, replayed.FeesPaid)
	}
	if !cached.FeesPaid.Equal(mustDec("1")) {
		t.Fatalf("expected fees 1, got %s", cached.FeesPaid)
	}
	if !cached.Equity.Equal(replayed.Equity) {
		t.Fatalf("cached equity %s != replayed %s after concurrent write", cached.Equity, replayed.Equity)
	}
}
