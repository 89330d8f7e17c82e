package mapmath

import "testing"

func TestExpandSequence(t *testing.T) {
	cases := []struct {
		axis  int
		first int
		last  int
	}{
		{0, 0, 7},
		{1, 8, 15},
		{-1, -8, -1},
		{10, 80, 87},
	}
	for _, c := range cases {
		seq := ExpandSequence(c.axis)
		if len(seq) != SegmentWidth {
			t.Fatalf("axis %d: %d cells, want %d", c.axis, len(seq), SegmentWidth)
		}
		if seq[0] != c.first || seq[len(seq)-1] != c.last {
			t.Fatalf("axis %d: bounds [%d, %d], want [%d, %d]",
				c.axis, seq[0], seq[len(seq)-1], c.first, c.last)
		}
		for i := 1; i < len(seq); i++ {
			if seq[i] != seq[i-1]+1 {
				t.Fatalf("axis %d: sequence not contiguous at %d", c.axis, i)
			}
		}
	}
}

func TestAdjacentAxesTile(t *testing.T) {
	left := ExpandSequence(2)
	right := ExpandSequence(3)
	if right[0] != left[len(left)-1]+1 {
		t.Fatalf("axes 2 and 3 leave a gap: %d then %d", left[len(left)-1], right[0])
	}
}
