package stepsize

import "testing"

func TestFloor(t *testing.T) {
	tests := []struct {
		name      string
		qty, step float64
		want      float64
	}{
		{"exact multiple", 1.5, 0.5, 1.5},
		{"truncates", 1.57, 0.1, 1.5},
		{"never rounds up", 0.99999, 0.001, 0.999},
		{"float drift", 0.3, 0.1, 0.3},
		{"below step", 0.0004, 0.001, 0},
		{"zero step", 1.23, 0, 1.23},
		{"negative qty", -1, 0.1, 0},
		{"integer step", 1.5, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Floor(tt.qty, tt.step); got != tt.want {
				t.Errorf("Floor(%v, %v): expected %v, got %v", tt.qty, tt.step, tt.want, got)
			}
		})
	}
}

func TestAtLeastOne(t *testing.T) {
	if got := AtLeastOne(0, 0.01); got != 0.01 {
		t.Errorf("Expected 0.01, got %v", got)
	}
	if got := AtLeastOne(0.05, 0.01); got != 0.05 {
		t.Errorf("Expected 0.05, got %v", got)
	}
}

// TestRepeatedSplitsStayExact verifies lot splitting arithmetic does not drift
func TestRepeatedSplitsStayExact(t *testing.T) {
	qty := 1.0
	for i := 0; i < 10; i++ {
		qty = Sub(qty, 0.1)
	}
	if qty != 0 {
		t.Errorf("Expected 0 after ten 0.1 subtractions, got %v", qty)
	}
	if got := Add(0.1, 0.2); got != 0.3 {
		t.Errorf("Expected 0.3, got %v", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(0.5); got != "0.50000000" {
		t.Errorf("Expected 0.50000000, got %s", got)
	}
}
