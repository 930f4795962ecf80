package facematch

import (
	"math"
	"testing"
)

func TestBoxIoU(t *testing.T) {
	tests := []struct {
		name     string
		a        Box
		b        Box
		expected float64
	}{
		{
			name:     "identical boxes",
			a:        Box{0, 0, 10, 10},
			b:        Box{0, 0, 10, 10},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			a:        Box{0, 0, 10, 10},
			b:        Box{20, 20, 30, 30},
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			a:        Box{0, 0, 10, 10},
			b:        Box{5, 5, 15, 15},
			expected: 25.0 / 175.0, // intersection=25, union=100+100-25=175
		},
		{
			name:     "one inside other",
			a:        Box{0, 0, 20, 20},
			b:        Box{5, 5, 15, 15},
			expected: 100.0 / 400.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.a.IoU(tt.b)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("IoU(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestBoxScale(t *testing.T) {
	tests := []struct {
		name     string
		box      Box
		factor   int
		expected Box
	}{
		{"factor 4", Box{10, 20, 30, 40}, 4, Box{40, 80, 120, 160}},
		{"factor 1 is identity", Box{1, 2, 3, 4}, 1, Box{1, 2, 3, 4}},
		{"zero box", Box{}, 4, Box{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Scale(tt.factor); got != tt.expected {
				t.Errorf("Scale(%d) = %v, want %v", tt.factor, got, tt.expected)
			}
		})
	}
}

func TestBoxFromSlice(t *testing.T) {
	box, ok := BoxFromSlice([]float64{1, 2, 3, 4})
	if !ok {
		t.Fatal("expected valid box")
	}
	if box != (Box{1, 2, 3, 4}) {
		t.Errorf("got %v", box)
	}

	if _, ok := BoxFromSlice([]float64{1, 2, 3}); ok {
		t.Error("expected invalid box for 3 values")
	}
	if _, ok := BoxFromSlice(nil); ok {
		t.Error("expected invalid box for nil")
	}
}

func TestBoxWidthHeight(t *testing.T) {
	b := Box{10, 20, 40, 80}
	if b.Width() != 30 || b.Height() != 60 {
		t.Errorf("got %vx%v, want 30x60", b.Width(), b.Height())
	}

	inverted := Box{40, 80, 10, 20}
	if inverted.Width() != 0 || inverted.Height() != 0 {
		t.Errorf("inverted box should have zero size, got %vx%v", inverted.Width(), inverted.Height())
	}
}
