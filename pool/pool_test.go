package pool

import "testing"

func TestAllocWithinCapacity(t *testing.T) {
	p := New(16)
	b, err := p.Alloc(10)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if len(b) != 10 {
		t.Fatalf("len = %d, want 10", len(b))
	}
	if p.Used() != 10 {
		t.Fatalf("Used = %d, want 10", p.Used())
	}
}

func TestAllocExhausted(t *testing.T) {
	p := New(8)
	if _, err := p.Alloc(9); err != ErrExhausted {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestAllocExactFill(t *testing.T) {
	p := New(8)
	if _, err := p.Alloc(8); err != nil {
		t.Fatalf("Alloc(8) on size-8 pool: %v", err)
	}
	if _, err := p.Alloc(1); err != ErrExhausted {
		t.Fatalf("one more byte should fail, got %v", err)
	}
}

func TestGrowTailOnlyGrowsTopmost(t *testing.T) {
	p := New(32)
	first, _ := p.Alloc(4)
	second, _ := p.Alloc(4)

	if _, err := p.GrowTail(first, 4); err != ErrExhausted {
		t.Fatalf("growing non-topmost alloc should fail, got %v", err)
	}

	grown, err := p.GrowTail(second, 4)
	if err != nil {
		t.Fatalf("GrowTail: %v", err)
	}
	if len(grown) != 8 {
		t.Fatalf("len = %d, want 8", len(grown))
	}
	if p.Used() != 12 {
		t.Fatalf("Used = %d, want 12", p.Used())
	}
}

func TestResetToReclaimsTail(t *testing.T) {
	p := New(32)
	mark := p.Mark()
	p.Alloc(16)
	if p.Used() != 16 {
		t.Fatalf("Used = %d, want 16", p.Used())
	}
	p.ResetTo(mark)
	if p.Used() != 0 {
		t.Fatalf("Used after ResetTo = %d, want 0", p.Used())
	}
	// the reclaimed space must be reusable.
	if _, err := p.Alloc(32); err != nil {
		t.Fatalf("Alloc after reclaim: %v", err)
	}
}

func TestAllocStringRoundTrip(t *testing.T) {
	p := New(64)
	s, err := p.AllocString("Content-Type")
	if err != nil {
		t.Fatalf("AllocString: %v", err)
	}
	if s != "Content-Type" {
		t.Fatalf("s = %q", s)
	}
}
