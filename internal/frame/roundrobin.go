package frame

// BufferedSender is the minimal surface the round-robin stripe selector
// needs from a file channel: its current outstanding send buffer and a
// way to push bytes onto the wire.
type BufferedSender interface {
	BufferedAmount() uint64
	Send(data []byte) error
}

// RoundRobin cycles through a fixed set of stripes, handing out the next
// one whose BufferedAmount is below the given high watermark.
type RoundRobin struct {
	stripes []BufferedSender
	cursor  int
}

func NewRoundRobin(stripes []BufferedSender) *RoundRobin {
	return &RoundRobin{stripes: stripes}
}

// Next returns the next eligible stripe and its index, or ok=false if
// every stripe is at or above high.
func (r *RoundRobin) Next(high int) (stripe BufferedSender, index int, ok bool) {
	n := len(r.stripes)
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		if r.stripes[idx].BufferedAmount() < uint64(high) {
			r.cursor = (idx + 1) % n
			return r.stripes[idx], idx, true
		}
	}
	return nil, -1, false
}

// Len reports how many stripes are in rotation.
func (r *RoundRobin) Len() int {
	return len(r.stripes)
}
