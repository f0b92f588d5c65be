package transfer

import (
	"io"

	"github.com/pion/webrtc/v3"

	"github.com/sharefileio/sharefile/internal/frame"
	"github.com/sharefileio/sharefile/internal/protocol"
	"github.com/sharefileio/sharefile/internal/xerr"
)

// sendChunks implements spec §4.5 steps 5: striped, paced, backpressure-
// aware chunked send. seq is a single global counter across all stripes
// for this file (spec §3 Frame invariant).
func (m *Manager) sendChunks(t *OutgoingTransfer, channels []*webrtc.DataChannel) error {
	// The SCTP transport under the data channels rejects any message over
	// 65536 bytes, so each frame, header included, is sized to fit it.
	const sctpMaxMessageSize = 65536
	size := t.Source.Size()
	chunkSize := frame.ChunkSize(sctpMaxMessageSize)
	watermarks := frame.DefaultWatermarks(frame.HostMemoryBytes())

	senders := make([]frame.BufferedSender, len(channels))
	for i, c := range channels {
		senders[i] = c
	}
	rr := frame.NewRoundRobin(senders)
	pacer := frame.NewPacer(m.cfg.Fast)

	var seq uint32

	sendFrame := func(payload []byte) error {
		for {
			if t.Cancel.Aborted() {
				return xerr.New(xerr.Cancelled, "transfer.sendChunks", nil)
			}

			stripe, idx, ok := rr.Next(watermarks.High)
			if !ok {
				if err := m.sess.WaitForBuffer(t.Cancel.Context(), channels[0], watermarks.Low, bufferWaitTimeout); err != nil {
					return err
				}
				continue
			}

			wire := protocol.EncodeFrame(seq, payload)
			err := stripe.Send(wire)
			if err == nil {
				seq++
				t.addSent(len(payload))
				return nil
			}
			if frame.IsQueueFullError(err) {
				watermarks = frame.AdjustOnQueueFull(watermarks)
				if waitErr := m.sess.WaitForBuffer(t.Cancel.Context(), channels[idx], frame.DrainTarget, bufferWaitTimeout); waitErr != nil {
					return waitErr
				}
				continue
			}
			return xerr.New(xerr.ChannelClosed, "transfer.sendChunks", err)
		}
	}

	if size == 0 {
		return sendFrame(nil)
	}

	var offset int64
	for offset < size {
		if pacer.Expired() {
			if err := pacer.Yield(t.Cancel.Context()); err != nil {
				return err
			}
		}

		end := offset + int64(chunkSize)
		if end > size {
			end = size
		}
		buf := make([]byte, end-offset)
		if _, err := t.Source.ReadAt(buf, offset); err != nil && err != io.EOF {
			return xerr.New(xerr.SinkError, "transfer.sendChunks", err)
		}
		if err := sendFrame(buf); err != nil {
			return err
		}
		offset = end
	}
	return nil
}
