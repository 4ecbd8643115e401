package indexer

import "testing"

func TestCursorAdvancesMonotonically(t *testing.T) {
	c := NewCursor(100)
	if got := c.Current(); got != 100 {
		t.Fatalf("Current = %d, want 100", got)
	}
	if !c.AdvanceTo(105) {
		t.Fatal("forward advance rejected")
	}
	if got := c.Current(); got != 105 {
		t.Fatalf("Current = %d, want 105", got)
	}
	if c.AdvanceTo(105) {
		t.Fatal("advance in place must be a no-op")
	}
	if c.AdvanceTo(90) {
		t.Fatal("backwards advance must be a no-op")
	}
	if got := c.Current(); got != 105 {
		t.Fatalf("Current = %d after rejected advances, want 105", got)
	}
}
