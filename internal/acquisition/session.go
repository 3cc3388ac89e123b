// ABOUTME: Cancellable acquisition session with ordered progress and a single terminal result
// ABOUTME: Guards against transports that report completion more than once

package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/identity-vault/internal/credential"
)

// Stage identifies where an acquisition session currently is.
type Stage string

const (
	StageConnecting     Stage = "connecting"
	StageAuthenticating Stage = "authenticating"
	StageReading        Stage = "reading"
	StageComplete       Stage = "complete"
	StageFailed         Stage = "failed"
)

// Progress is one status notification from the transport. For StageReading,
// Completed/Total report how much document data has arrived.
type Progress struct {
	Stage     Stage
	Completed int
	Total     int
}

// Result is the terminal outcome of a session: the parsed credential
// attributes, or nothing on failure.
type Result struct {
	Attributes map[string]string
}

// Error is a typed acquisition failure carrying the stage it happened in.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("acquisition failed during %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Callbacks is handed to the transport. OnProgress may be called any number
// of times before a terminal callback; OnComplete and OnError resolve the
// session, and only the first terminal call counts.
type Callbacks struct {
	OnProgress func(Progress)
	OnComplete func(map[string]string)
	OnError    func(stage Stage, err error)
}

// Transport is the physical-channel integration (e.g. a contactless card
// session). Start must return promptly; the transport reports through the
// callbacks from its own context and must stop when ctx is cancelled.
type Transport interface {
	Start(ctx context.Context, cb Callbacks) error
}

// ErrCancelled resolves sessions whose context ended before the transport.
var ErrCancelled = errors.New("acquisition cancelled")

// Session runs one document acquisition. Create with NewSession, start with
// Run, consume Progress and then Wait for the terminal result.
type Session struct {
	transport Transport
	logger    *slog.Logger

	resolveOnce sync.Once
	progressCh  chan Progress
	doneCh      chan struct{}

	mu       sync.Mutex
	resolved bool
	result   *Result
	err      error
}

// NewSession creates a session over the given transport.
func NewSession(transport Transport) *Session {
	return &Session{
		transport:  transport,
		logger:     slog.Default().With("component", "acquisition"),
		progressCh: make(chan Progress, 16),
		doneCh:     make(chan struct{}),
	}
}

// Progress returns the ordered progress notifications. The channel closes
// when the session resolves.
func (s *Session) Progress() <-chan Progress {
	return s.progressCh
}

// Run starts the transport and resolves the session when it reports a
// terminal state or ctx is cancelled, whichever comes first.
func (s *Session) Run(ctx context.Context) error {
	cb := Callbacks{
		OnProgress: s.emitProgress,
		OnComplete: func(attrs map[string]string) {
			s.resolve(&Result{Attributes: attrs}, nil)
		},
		OnError: func(stage Stage, err error) {
			s.resolve(nil, &Error{Stage: stage, Err: err})
		},
	}
	if err := s.transport.Start(ctx, cb); err != nil {
		s.resolve(nil, &Error{Stage: StageConnecting, Err: err})
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			s.resolve(nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		case <-s.doneCh:
		}
	}()
	return nil
}

// Wait blocks until the session resolves and returns the terminal result.
func (s *Session) Wait() (*Result, error) {
	<-s.doneCh
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

func (s *Session) emitProgress(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		// Late progress after the terminal result is dropped.
		return
	}
	select {
	case s.progressCh <- p:
	default:
		s.logger.Debug("progress dropped, consumer not keeping up", "stage", p.Stage)
	}
}

// resolve records the terminal result. Only the first call wins; hardware
// sessions that report twice do not double-resolve.
func (s *Session) resolve(result *Result, err error) {
	s.resolveOnce.Do(func() {
		s.mu.Lock()
		s.resolved = true
		s.result = result
		s.err = err
		close(s.progressCh)
		s.mu.Unlock()
		close(s.doneCh)
	})
}

// Populate copies acquired attributes onto a credential.
func (r *Result) Populate(cred *credential.Credential) {
	for k, v := range r.Attributes {
		cred.Attributes[k] = v
	}
}
