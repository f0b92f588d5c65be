package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/sharefileio/sharefile/internal/bus"
	"github.com/sharefileio/sharefile/internal/handshake"
	"github.com/sharefileio/sharefile/internal/session"
	"github.com/sharefileio/sharefile/internal/slogpretty"
	"github.com/sharefileio/sharefile/internal/transfer"
	"github.com/sharefileio/sharefile/internal/xerr"
)

var sendCmd = &cobra.Command{
	Use:   "send <path>...",
	Short: "generate a rendezvous code and send one or more files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, paths []string) error {
		cfg, err := configurationFromFlags()
		if err != nil {
			return err
		}
		logger := slogpretty.New()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sess := session.New(session.Options{Config: cfg, Logger: logger})
		defer sess.Close()

		code := handshake.GenerateCode()
		fmt.Printf("rendezvous code: %s\nwaiting for a peer to connect...\n", code)

		if err := handshake.RunSender(ctx, sess, bus.NewTCPBus(flagBusAddr), code, logger); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}

		if err := waitConnected(ctx, sess); err != nil {
			return err
		}
		fmt.Println("connected, sending", len(paths), "file(s)")

		mgr := transfer.NewManager(sess, cfg, logger, transfer.Hooks{
			OnText: func(text string) { fmt.Println("peer:", text) },
		})

		for _, path := range paths {
			if err := sendOne(ctx, mgr, path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
		}
		return nil
	},
}

func sendOne(ctx context.Context, mgr *transfer.Manager, path string) error {
	src, err := openFileSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	name := filepath.Base(path)
	token := xerr.NewToken(ctx)
	t, resultCh := mgr.EnqueueSend(uuid.NewString(), name, src, token)

	bar := progressbar.DefaultBytes(src.Size(), name)
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-resultCh:
			_ = bar.Set64(t.SentBytes())
			_ = bar.Finish()
			return err
		case <-ticker.C:
			_ = bar.Set64(t.SentBytes())
		}
	}
}

func waitConnected(ctx context.Context, sess *session.Session) error {
	if sess.Status() == session.StatusConnected {
		return nil
	}
	for {
		select {
		case status := <-sess.StatusCh():
			if status == session.StatusConnected {
				return nil
			}
			if status == session.StatusFailed || status == session.StatusClosed {
				return fmt.Errorf("session %s before connecting", status)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
