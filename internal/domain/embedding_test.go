package domain

import "testing"

func TestBatches(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size int
		want [][2]int
	}{
		{"exact multiple", 200, 100, [][2]int{{0, 100}, {100, 200}}},
		{"remainder", 250, 100, [][2]int{{0, 100}, {100, 200}, {200, 250}}},
		{"single", 50, 100, [][2]int{{0, 50}}},
		{"empty", 0, 100, nil},
		{"zero size", 10, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Batches(tt.n, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d batches, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("batch %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSparseVectorDot(t *testing.T) {
	a := SparseVector{Indices: []uint32{1, 5, 9}, Values: []float32{1, 2, 3}}
	b := SparseVector{Indices: []uint32{5, 9, 20}, Values: []float32{4, 5, 6}}

	got := a.Dot(b)
	want := 2.0*4.0 + 3.0*5.0
	if got != want {
		t.Fatalf("dot = %v, want %v", got, want)
	}

	if d := a.Dot(SparseVector{}); d != 0 {
		t.Fatalf("dot with empty = %v, want 0", d)
	}
}

func TestSparseVectorIsZero(t *testing.T) {
	if !(SparseVector{}).IsZero() {
		t.Fatal("empty vector should be zero")
	}
	if !(SparseVector{Indices: []uint32{3}, Values: []float32{0}}).IsZero() {
		t.Fatal("all-zero values should be zero")
	}
	if (SparseVector{Indices: []uint32{3}, Values: []float32{0.1}}).IsZero() {
		t.Fatal("non-zero vector reported zero")
	}
}

func TestRecordIDDeterministic(t *testing.T) {
	a := RecordID("handbook", 7)
	b := RecordID("handbook", 7)
	if a != b {
		t.Fatalf("RecordID not deterministic: %q vs %q", a, b)
	}
	if a == RecordID("handbook", 8) {
		t.Fatal("distinct seqs must produce distinct IDs")
	}
	if a == RecordID("other", 7) {
		t.Fatal("distinct documents must produce distinct IDs")
	}
}
