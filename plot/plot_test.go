package plot

import (
	"math"
	"testing"

	"github.com/pthm-cable/canopy/config"
)

func TestDistance(t *testing.T) {
	p, err := New(100, 50)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name           string
		x1, y1, x2, y2 float64
		want           float64
	}{
		{"same point", 10, 10, 10, 10, 0},
		{"straight", 0, 0, 3, 4, 5},
		{"wraps east-west", 1, 10, 99, 10, 2},
		{"wraps north-south", 5, 49, 5, 1, 2},
		{"wraps both", 99, 49, 2, 3, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Distance(tt.x1, tt.y1, tt.x2, tt.y2)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Distance(%v,%v,%v,%v) = %v, want %v", tt.x1, tt.y1, tt.x2, tt.y2, got, tt.want)
			}
		})
	}
}

func TestToroidalDeltaSign(t *testing.T) {
	p, _ := New(100, 100)
	d := p.ToroidalDelta(95, 50, 5, 50)
	if d.X != 10 || d.Y != 0 {
		t.Errorf("delta = %+v, want {10 0}", d)
	}
}

func TestContainsAndArea(t *testing.T) {
	p, err := FromConfig(config.PlotConfig{XLength: 200, YLength: 100})
	if err != nil {
		t.Fatal(err)
	}
	if p.AreaHa() != 2 {
		t.Errorf("AreaHa = %v, want 2", p.AreaHa())
	}
	if !p.Contains(0, 0) || !p.Contains(199.9, 99.9) {
		t.Error("expected interior points to be contained")
	}
	if p.Contains(-1, 5) || p.Contains(200, 5) || p.Contains(5, 100) {
		t.Error("expected exterior points to be rejected")
	}
	if _, err := New(0, 10); err == nil {
		t.Error("New(0, 10) succeeded")
	}
}
