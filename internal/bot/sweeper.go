package bot

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/susu3304/qarzbot/internal/dialogue"
)

// sweepWorker periodically closes idle dialogue sessions and tells their
// users.
type sweepWorker struct {
	engine   *dialogue.Engine
	sender   Sender
	log      *slog.Logger
	stopChan chan struct{}
	ticker   *time.Ticker
	interval time.Duration
}

func newSweepWorker(engine *dialogue.Engine, sender Sender, log *slog.Logger, interval time.Duration) *sweepWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &sweepWorker{
		engine:   engine,
		sender:   sender,
		log:      log,
		stopChan: make(chan struct{}),
		interval: interval,
	}
}

func (w *sweepWorker) start() {
	if w == nil {
		return
	}
	w.ticker = time.NewTicker(w.interval)
	go w.loop()
}

func (w *sweepWorker) stop() {
	if w == nil {
		return
	}
	close(w.stopChan)
	if w.ticker != nil {
		w.ticker.Stop()
	}
}

func (w *sweepWorker) loop() {
	ctx := context.Background()
	for {
		select {
		case <-w.ticker.C:
			w.tick(ctx)
		case <-w.stopChan:
			return
		}
	}
}

func (w *sweepWorker) tick(ctx context.Context) {
	replies, err := w.engine.Expire(ctx)
	if err != nil {
		// Sessions closed before the error still get their notice.
		w.log.Error("sweep sessions", "err", err)
	}
	for _, r := range replies {
		if err := sendWithRetry(ctx, w.sender, r); err != nil {
			w.log.Warn("send expiry notice", "to", r.To, "err", err)
		}
	}
}

func sendWithRetry(ctx context.Context, sender Sender, r dialogue.Reply) error {
	const attemptTimeout = 12 * time.Second
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		err := sender.Send(sendCtx, r)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) {
			return err
		}
		time.Sleep(time.Duration(300+rand.Intn(500)) * time.Millisecond)
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
