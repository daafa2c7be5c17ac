package game

import "testing"

func TestHistoryCache(t *testing.T) {
	h := NewHistoryCache(3)
	if got := h.Recent(10); len(got) != 0 {
		t.Fatalf("empty cache returned %d records", len(got))
	}

	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		h.Push(RoundRecord{RoundID: id})
	}
	if h.Len() != 3 {
		t.Errorf("Len() = %d, want 3", h.Len())
	}

	tests := []struct {
		n    int
		want []string
	}{
		{n: 2, want: []string{"r5", "r4"}},
		{n: 3, want: []string{"r5", "r4", "r3"}},
		{n: 50, want: []string{"r5", "r4", "r3"}},
		{n: -1, want: []string{"r5", "r4", "r3"}},
	}
	for _, tt := range tests {
		got := h.Recent(tt.n)
		if len(got) != len(tt.want) {
			t.Errorf("Recent(%d) len = %d, want %d", tt.n, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if got[i].RoundID != tt.want[i] {
				t.Errorf("Recent(%d)[%d] = %s, want %s", tt.n, i, got[i].RoundID, tt.want[i])
			}
		}
	}
}
