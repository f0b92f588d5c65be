// Package handshake glues internal/signalcodec, internal/rendezvous and
// internal/session together: the sender publishes an offer, the
// receiver answers, and both converge on session.StatusConnected and
// fall through to the heartbeat (spec §4.6).
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sharefileio/sharefile/internal/rendezvous"
	"github.com/sharefileio/sharefile/internal/session"
	"github.com/sharefileio/sharefile/internal/signalcodec"
	"github.com/sharefileio/sharefile/internal/xerr"
)

// rendezvousResendInterval is how often the sender re-broadcasts its
// offer and the receiver re-broadcasts "join", per spec §4.6.
const rendezvousResendInterval = 3 * time.Second

// busMessage is the application-level payload carried inside a
// rendezvous envelope's dataStr (spec §6).
type busMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// GenerateCode returns a fresh 6-digit rendezvous code.
func GenerateCode() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	n := binary.BigEndian.Uint32(b) % 1000000
	return fmt.Sprintf("%06d", n)
}

// RunSender drives the sender side of the handshake to completion for a
// rendezvous code the caller already generated (via GenerateCode) and
// displayed: it connects to bus, publishes the offer (repeating until a
// valid answer arrives), and applies the first valid answer to sess. It
// returns ApplyAnswer's result for that first answer, or an error once
// ctx is done. Splitting
// code generation from this call lets a caller show the code to the user
// before blocking on the handshake.
func RunSender(ctx context.Context, sess *session.Session, bus rendezvous.Bus, code string, logger *slog.Logger) (err error) {
	offer, err := sess.CreateOffer(ctx)
	if err != nil {
		return err
	}
	offerPayload, err := json.Marshal(busMessage{Type: "signal", Content: offer})
	if err != nil {
		return err
	}

	var (
		mu         sync.Mutex
		lastAnswer string
		once       sync.Once
		done       = make(chan struct{})
		resultCh   = make(chan error, 1)
	)

	var rc *rendezvous.Client
	rc = rendezvous.New(rendezvous.Options{
		Bus:    bus,
		Logger: logger,
		OnOpen: func() {
			go resendLoop(ctx, rc, string(offerPayload), done)
		},
		OnMessage: func(dataStr string) {
			var bm busMessage
			if err := json.Unmarshal([]byte(dataStr), &bm); err != nil {
				return
			}
			if bm.Type != "signal" {
				return
			}
			desc, err := signalcodec.Decode(bm.Content)
			if err != nil || desc.Type != signalcodec.TypeAnswer {
				// Reject anything that isn't an answer — cross-talk safety
				// (spec §4.6).
				return
			}

			mu.Lock()
			if bm.Content == lastAnswer {
				// Self-echo safety: ignore a repeat of an answer we
				// already applied.
				mu.Unlock()
				return
			}
			lastAnswer = bm.Content
			mu.Unlock()

			applyErr := sess.ApplyAnswer(ctx, bm.Content)
			once.Do(func() {
				resultCh <- applyErr
				close(done)
			})
		},
	})

	if err := rc.Connect(ctx, code); err != nil {
		return err
	}
	defer rc.Disconnect()

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return xerr.New(xerr.Cancelled, "handshake.RunSender", ctx.Err())
	}
}

// RunReceiver drives the receiver side of the handshake: it joins code,
// broadcasts "join" until the first offer arrives, computes and
// publishes the answer, and returns once that exchange completes.
func RunReceiver(ctx context.Context, sess *session.Session, bus rendezvous.Bus, code string, logger *slog.Logger) error {
	joinPayload, err := json.Marshal(busMessage{Type: "join"})
	if err != nil {
		return err
	}

	var (
		once     sync.Once
		done     = make(chan struct{})
		resultCh = make(chan error, 1)
	)

	var rc *rendezvous.Client
	rc = rendezvous.New(rendezvous.Options{
		Bus:    bus,
		Logger: logger,
		OnOpen: func() {
			go resendLoop(ctx, rc, string(joinPayload), done)
		},
		OnMessage: func(dataStr string) {
			var bm busMessage
			if err := json.Unmarshal([]byte(dataStr), &bm); err != nil {
				return
			}
			if bm.Type != "signal" {
				return
			}
			desc, err := signalcodec.Decode(bm.Content)
			if err != nil || desc.Type != signalcodec.TypeOffer {
				// Reject answers (self or third-party cross-talk), spec §4.6.
				return
			}

			answer, createErr := sess.CreateAnswer(ctx, bm.Content)
			if createErr != nil {
				once.Do(func() {
					resultCh <- createErr
					close(done)
				})
				return
			}

			payload, marshalErr := json.Marshal(busMessage{Type: "signal", Content: answer})
			if marshalErr != nil {
				once.Do(func() {
					resultCh <- marshalErr
					close(done)
				})
				return
			}

			sendErr := rc.Send(ctx, string(payload))
			once.Do(func() {
				resultCh <- sendErr
				close(done)
			})
		},
	})

	if err := rc.Connect(ctx, code); err != nil {
		return err
	}
	defer rc.Disconnect()

	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return xerr.New(xerr.Cancelled, "handshake.RunReceiver", ctx.Err())
	}
}

func resendLoop(ctx context.Context, rc *rendezvous.Client, payload string, done <-chan struct{}) {
	_ = rc.Send(ctx, payload)

	ticker := time.NewTicker(rendezvousResendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = rc.Send(ctx, payload)
		}
	}
}
