package bridge

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestLotSizePolicyClampWithinBounds(t *testing.T) {
	p := NewLotSizePolicy(0.10, 0.01, 1.0)
	got := p.Clamp()
	want := decimal.NewFromFloat(0.10)
	if !got.Equal(want) {
		t.Errorf("Clamp() = %s, want %s", got, want)
	}
}

func TestLotSizePolicyClampBelowMin(t *testing.T) {
	p := NewLotSizePolicy(0.001, 0.01, 1.0)
	got := p.Clamp()
	want := decimal.NewFromFloat(0.01)
	if !got.Equal(want) {
		t.Errorf("Clamp() = %s, want %s", got, want)
	}
}

func TestLotSizePolicyClampAboveMax(t *testing.T) {
	p := NewLotSizePolicy(5.0, 0.01, 1.0)
	got := p.Clamp()
	want := decimal.NewFromFloat(1.0)
	if !got.Equal(want) {
		t.Errorf("Clamp() = %s, want %s", got, want)
	}
}

func TestLotSizePolicyTruncatesToTwoDecimals(t *testing.T) {
	p := NewLotSizePolicy(0.12345, 0.01, 1.0)
	got := p.Clamp()
	want := decimal.NewFromFloat(0.12)
	if !got.Equal(want) {
		t.Errorf("Clamp() = %s, want %s (expected floor-quantize to 2dp)", got, want)
	}
}

func TestLotSizePolicyBoundaryVolume(t *testing.T) {
	// Boundary scenario: 0.009 below broker minimum vs 0.01 exactly at it.
	below := NewLotSizePolicy(0.009, 0.01, 1.0)
	if got := below.Clamp(); !got.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("Clamp() for 0.009 default = %s, want 0.01 (clamped to Min)", got)
	}

	atMin := NewLotSizePolicy(0.01, 0.01, 1.0)
	if got := atMin.Clamp(); !got.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("Clamp() for 0.01 default = %s, want 0.01", got)
	}
}
