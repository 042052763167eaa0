package chatsession

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Poller is a running poll loop bound to one opened conversation.
type Poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the loop and waits for it to exit. Safe to call more than
// once and on a nil Poller.
func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}

// StartPolling replaces any running poller with a new one for the open
// conversation. It returns nil when nothing is open.
func (s *Session) StartPolling(ctx context.Context) *Poller {
	s.mu.Lock()
	old := s.poller
	s.poller = nil
	if s.state == StateClosed || s.state == StateLoading {
		s.mu.Unlock()
		old.Stop()
		return nil
	}
	p := s.startPollerLocked(ctx)
	s.poller = p
	s.mu.Unlock()
	old.Stop()
	return p
}

func (s *Session) startPollerLocked(ctx context.Context) *Poller {
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{cancel: cancel, done: make(chan struct{})}
	go s.pollLoop(ctx, s.gen, s.convID, p.done)
	return p
}

func (s *Session) pollLoop(ctx context.Context, gen, convID uint64, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := s.refresh(ctx, gen)
			switch {
			case err == nil:
			case errors.Is(err, ErrSuperseded), errors.Is(err, ErrNotOpen):
				return
			case ctx.Err() != nil:
				return
			default:
				// Retried on the next tick.
				s.logger.Warn("poll failed", zap.Uint64("conversation_id", convID), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
