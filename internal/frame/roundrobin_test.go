package frame

import "testing"

type fakeStripe struct {
	buffered uint64
	sent     [][]byte
}

func (f *fakeStripe) BufferedAmount() uint64 { return f.buffered }
func (f *fakeStripe) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

func TestRoundRobinSkipsFullStripes(t *testing.T) {
	a := &fakeStripe{buffered: 20 * 1024 * 1024}
	b := &fakeStripe{buffered: 0}
	rr := NewRoundRobin([]BufferedSender{a, b})

	stripe, idx, ok := rr.Next(16 * 1024 * 1024)
	if !ok {
		t.Fatal("expected an eligible stripe")
	}
	if idx != 1 || stripe != b {
		t.Fatalf("expected stripe 1 (b), got index %d", idx)
	}
}

func TestRoundRobinAllFullReturnsNotOK(t *testing.T) {
	a := &fakeStripe{buffered: 20 * 1024 * 1024}
	b := &fakeStripe{buffered: 20 * 1024 * 1024}
	rr := NewRoundRobin([]BufferedSender{a, b})

	_, _, ok := rr.Next(16 * 1024 * 1024)
	if ok {
		t.Fatal("expected no eligible stripe when all are above the watermark")
	}
}

func TestRoundRobinCyclesFairly(t *testing.T) {
	a := &fakeStripe{}
	b := &fakeStripe{}
	rr := NewRoundRobin([]BufferedSender{a, b})

	first, idx1, _ := rr.Next(1024)
	second, idx2, _ := rr.Next(1024)

	if idx1 == idx2 {
		t.Fatalf("expected alternating stripes, got %d then %d", idx1, idx2)
	}
	if first == second {
		t.Fatal("expected distinct stripes on consecutive calls")
	}
}
