// Package slack posts critical error alerts to a Slack channel.
package slack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/codeready-toolchain/agentrun/pkg/faults"
)

const (
	lookupTimeout = 5 * time.Second
	postTimeout   = 10 * time.Second
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// Service delivers critical error alerts.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client *Client
	clk    clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	threads map[string]string // fingerprint -> parent message ts
	wg      sync.WaitGroup
}

// NewService creates a new Slack alert service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return NewServiceWithClient(NewClient(cfg.Token, cfg.Channel), clockwork.NewRealClock())
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
func NewServiceWithClient(client *Client, clk clockwork.Clock) *Service {
	return &Service{
		client:  client,
		clk:     clk,
		logger:  slog.Default().With("component", "slack-service"),
		threads: map[string]string{},
	}
}

// NotifyCriticalError posts rec if its severity is CRITICAL. Repeats of the
// same fingerprint are threaded under the first alert.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyCriticalError(ctx context.Context, rec faults.ErrorRecord) {
	if s == nil || rec.Severity != faults.SeverityCritical {
		return
	}

	fp := Fingerprint(rec)
	threadTS := s.threadFor(ctx, fp)

	text, blocks := BuildCriticalErrorMessage(rec)
	ts, err := s.client.PostMessage(ctx, text, blocks, threadTS, postTimeout)
	if err != nil {
		s.logger.Error("Failed to send Slack critical error alert",
			"error_id", rec.ErrorID,
			"code", rec.Code,
			"error", err)
		return
	}
	if threadTS == "" {
		s.mu.Lock()
		s.threads[fp] = ts
		s.mu.Unlock()
	}
}

func (s *Service) threadFor(ctx context.Context, fp string) string {
	s.mu.Lock()
	ts, ok := s.threads[fp]
	s.mu.Unlock()
	if ok {
		return ts
	}

	lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	ts, err := s.client.FindMessageByFingerprint(lookupCtx, fp, s.clk.Now())
	if err != nil {
		s.logger.Warn("Failed to find Slack thread for fingerprint",
			"fingerprint", fp,
			"error", err)
		return ""
	}
	if ts != "" {
		s.mu.Lock()
		s.threads[fp] = ts
		s.mu.Unlock()
	}
	return ts
}

// Observer returns a faults.Observer that alerts on critical records in the
// background, so the classifier is never blocked on Slack.
func (s *Service) Observer() faults.Observer {
	return func(rec faults.ErrorRecord) {
		if s == nil || rec.Severity != faults.SeverityCritical {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.NotifyCriticalError(context.Background(), rec)
		}()
	}
}

// Wait blocks until every alert started by Observer has been delivered or
// has failed.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}
