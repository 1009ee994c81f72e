package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestForModeScaling(t *testing.T) {
	base := Thresholds{
		MaxDrawdownPct:    decimal.RequireFromString("0.20"),
		DailyLossPct:      decimal.RequireFromString("0.10"),
		ConsecutiveLosses: 4,
		ErrorsPerHour:     10,
	}

	tests := []struct {
		name         string
		mode         Mode
		wantDrawdown string
		wantDaily    string
		wantLosses   int
	}{
		{name: "conservative halves", mode: ModeConservative, wantDrawdown: "0.1", wantDaily: "0.05", wantLosses: 2},
		{name: "normal unchanged", mode: ModeNormal, wantDrawdown: "0.2", wantDaily: "0.1", wantLosses: 4},
		{name: "aggressive widens", mode: ModeAggressive, wantDrawdown: "0.3", wantDaily: "0.15", wantLosses: 6},
		{name: "unknown falls back to normal", mode: Mode("yolo"), wantDrawdown: "0.2", wantDaily: "0.1", wantLosses: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ForMode(base, tt.mode)

			if !got.MaxDrawdownPct.Equal(decimal.RequireFromString(tt.wantDrawdown)) {
				t.Fatalf("drawdown mismatch. got=%s want=%s", got.MaxDrawdownPct, tt.wantDrawdown)
			}
			if !got.DailyLossPct.Equal(decimal.RequireFromString(tt.wantDaily)) {
				t.Fatalf("daily loss mismatch. got=%s want=%s", got.DailyLossPct, tt.wantDaily)
			}
			if got.ConsecutiveLosses != tt.wantLosses {
				t.Fatalf("losses mismatch. got=%d want=%d", got.ConsecutiveLosses, tt.wantLosses)
			}
			if got.ErrorsPerHour != 10 {
				t.Fatalf("errors per hour must not scale, got %d", got.ErrorsPerHour)
			}
		})
	}
}

func TestOverrideApply(t *testing.T) {
	base := Thresholds{
		MaxDrawdownPct:    decimal.RequireFromString("0.20"),
		DailyLossPct:      decimal.RequireFromString("0.10"),
		ConsecutiveLosses: 4,
		ErrorsPerHour:     10,
	}

	dd := decimal.RequireFromString("0.30")
	got := Override{Exchange: "kraken", MaxDrawdownPct: &dd}.Apply(base)

	if !got.MaxDrawdownPct.Equal(dd) {
		t.Fatalf("expected override drawdown 0.30, got %s", got.MaxDrawdownPct)
	}
	if !got.DailyLossPct.Equal(base.DailyLossPct) {
		t.Fatalf("unset override field must not change, got %s", got.DailyLossPct)
	}
}
