package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/sharefileio/sharefile/internal/bus"
	"github.com/sharefileio/sharefile/internal/handshake"
	"github.com/sharefileio/sharefile/internal/session"
	"github.com/sharefileio/sharefile/internal/slogpretty"
	"github.com/sharefileio/sharefile/internal/transfer"
)

var receiveCmd = &cobra.Command{
	Use:   "receive <code>",
	Short: "join a rendezvous code and receive whatever the sender offers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := args[0]
		cfg, err := configurationFromFlags()
		if err != nil {
			return err
		}
		logger := slogpretty.New()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sess := session.New(session.Options{Config: cfg, Logger: logger})
		defer sess.Close()

		done := make(chan error, 1)
		go func() { done <- handshake.RunReceiver(ctx, sess, bus.NewTCPBus(flagBusAddr), code, logger) }()

		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := waitConnected(ctx, sess); err != nil {
			return err
		}
		fmt.Println("connected, waiting for files...")

		var mgr *transfer.Manager
		mgr = transfer.NewManager(sess, cfg, logger, transfer.Hooks{
			OnText: func(text string) { fmt.Println("peer:", text) },
			OnIncomingMeta: func(it *transfer.IncomingTransfer) {
				acceptIncoming(mgr, it)
			},
			OnIncomingComplete: func(it *transfer.IncomingTransfer) {
				fmt.Printf("received %s (%d bytes)\n", it.Name, it.Size)
			},
		})

		<-ctx.Done()
		return nil
	},
}

// acceptIncoming prompts on stdin whether to accept it, the out-of-band
// UI event spec §4.5 receiver step 2 describes, then hands Manager a
// streaming sink writing straight to disk under the current directory.
func acceptIncoming(mgr *transfer.Manager, it *transfer.IncomingTransfer) {
	fmt.Printf("incoming file %q (%d bytes) — accept? [y/N] ", it.Name, it.Size)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	if strings.ToLower(strings.TrimSpace(line)) != "y" {
		fmt.Println("declined", it.Name)
		mgr.CancelIncoming(it.ID)
		return
	}

	sink, err := createFileSink(it.Name)
	if err != nil {
		fmt.Println("could not create", it.Name, ":", err)
		mgr.CancelIncoming(it.ID)
		return
	}

	mgr.AcceptIncoming(it, sink)
	go showReceiveProgress(it)
}

func showReceiveProgress(it *transfer.IncomingTransfer) {
	bar := progressbar.DefaultBytes(it.Size, it.Name)
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		received := it.Received()
		_ = bar.Set64(received)
		if received >= it.Size {
			_ = bar.Finish()
			return
		}
	}
}
