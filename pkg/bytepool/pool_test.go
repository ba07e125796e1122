package bytepool

import "testing"

func TestGetPut(t *testing.T) {
	p := New(64)
	b := p.Get()
	if len(*b) != 64 {
		t.Fatalf("expected len 64, got %d", len(*b))
	}
	*b = (*b)[:3]
	p.Put(b)

	b = p.Get()
	if len(*b) != 64 {
		t.Fatalf("buffer not restored to full size: %d", len(*b))
	}
	p.Put(nil)
	small := make([]byte, 8)
	p.Put(&small)
	if got := p.Get(); cap(*got) < 64 {
		t.Fatal("pool returned an undersized buffer")
	}
}
