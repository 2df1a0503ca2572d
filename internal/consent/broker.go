// Package consent runs one bounded-lifetime session per pending
// assertion request. Every session owns a private reply channel and an
// unguessable identifier; decisions are routed strictly by that
// identifier and delivered at most once.
package consent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"attestd/go-agent/internal/platform/privacylog"
	"attestd/go-agent/pkg/models"
)

const DefaultTimeout = 5 * time.Minute

var (
	ErrUnknownSession = errors.New("unknown or already resolved consent session")
	ErrBrokerClosed   = errors.New("consent broker is closed")
)

// Decision is what the consent surface delivers for one session. Name
// and Email are only set when the prompt asked for first-use identity
// collection.
type Decision struct {
	Approved bool
	Name     string
	Email    string
}

// Result is the terminal outcome of a session. Expired covers deadline
// elapse; a dismissed surface arrives as an explicit denial.
type Result struct {
	Decision Decision
	Expired  bool
}

// Presenter is the user-facing surface. Present shows a prompt;
// Dismiss tears the prompt down after the session reached a terminal
// state (it must tolerate already-gone prompts).
type Presenter interface {
	Present(prompt models.ConsentPrompt) error
	Dismiss(sessionID string)
}

// Session is the handle returned to the caller that opened it. Only
// that caller reads the reply channel.
type Session struct {
	id        string
	prompt    models.ConsentPrompt
	reply     chan Result
	timer     *time.Timer
	createdAt time.Time
	deadline  time.Time
	broker    *Broker
}

func (s *Session) ID() string { return s.id }

func (s *Session) Deadline() time.Time { return s.deadline }

// Await blocks until the session reaches a terminal state or ctx is
// done. Context cancellation abandons the session, which counts as a
// denial everywhere else.
func (s *Session) Await(ctx context.Context) (Result, error) {
	select {
	case res := <-s.reply:
		return res, nil
	case <-ctx.Done():
		s.broker.abandon(s.id)
		// A decision may have raced the cancellation; prefer it.
		select {
		case res := <-s.reply:
			return res, nil
		default:
			return Result{}, ctx.Err()
		}
	}
}

type Broker struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	counter   uint64
	closed    bool
	timeout   time.Duration
	presenter Presenter
	logger    *slog.Logger
	nowFunc   func() time.Time
}

func NewBroker(presenter Presenter, timeout time.Duration, logger *slog.Logger) *Broker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		sessions:  make(map[string]*Session),
		timeout:   timeout,
		presenter: presenter,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Open allocates a fresh session for prompt, presents it, and arms the
// expiry timer. The prompt's SessionID and ExpiresAt fields are filled
// in here.
func (b *Broker) Open(prompt models.ConsentPrompt) (*Session, error) {
	id, err := b.newSessionID()
	if err != nil {
		return nil, err
	}
	now := b.nowFunc().UTC()
	prompt.SessionID = id
	prompt.ExpiresAt = now.Add(b.timeout)

	session := &Session{
		id:        id,
		prompt:    prompt,
		reply:     make(chan Result, 1),
		createdAt: now,
		deadline:  prompt.ExpiresAt,
		broker:    b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.sessions[id] = session
	session.timer = time.AfterFunc(b.timeout, func() { b.expire(id) })
	b.mu.Unlock()

	if err := b.presenter.Present(prompt); err != nil {
		b.take(id)
		return nil, fmt.Errorf("present consent prompt: %w", err)
	}

	b.logger.Info("consent session opened", privacylog.SanitizeArgs(
		"session_id", id,
		"app_url", prompt.AppURL,
	)...)
	return session, nil
}

// Resolve delivers a decision to the session that owns sessionID. A
// second resolve, or one carrying an unknown identifier, is rejected
// with ErrUnknownSession and changes nothing.
func (b *Broker) Resolve(sessionID string, decision Decision) error {
	session, ok := b.take(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	session.reply <- Result{Decision: decision}
	b.presenter.Dismiss(sessionID)
	b.logger.Info("consent session decided", privacylog.SanitizeArgs(
		"session_id", sessionID,
		"approved", decision.Approved,
	)...)
	return nil
}

// Pending lists prompts for sessions that have not reached a terminal
// state, for surfaces that reconnect mid-flight.
func (b *Broker) Pending() []models.ConsentPrompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.ConsentPrompt, 0, len(b.sessions))
	for _, session := range b.sessions {
		out = append(out, session.prompt)
	}
	return out
}

// Close expires every open session and rejects future opens. Used at
// daemon shutdown.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	open := make([]*Session, 0, len(b.sessions))
	for _, session := range b.sessions {
		open = append(open, session)
	}
	b.sessions = make(map[string]*Session)
	b.mu.Unlock()

	for _, session := range open {
		session.stopTimer()
		session.reply <- Result{Expired: true}
		b.presenter.Dismiss(session.id)
	}
}

func (b *Broker) expire(sessionID string) {
	session, ok := b.take(sessionID)
	if !ok {
		// A decision won the race; the timer fired into a resolved
		// session and must be a no-op.
		return
	}
	session.reply <- Result{Expired: true}
	b.presenter.Dismiss(sessionID)
	b.logger.Info("consent session expired", "session_id", sessionID)
}

func (b *Broker) abandon(sessionID string) {
	if _, ok := b.take(sessionID); !ok {
		return
	}
	b.presenter.Dismiss(sessionID)
	b.logger.Info("consent session abandoned", "session_id", sessionID)
}

// take removes the session from the registry, making the caller the
// sole writer of its reply channel. This is the exactly-once guarantee:
// whichever of decision, expiry or abandonment takes the session first
// wins, and the rest see ErrUnknownSession.
func (b *Broker) take(sessionID string) (*Session, bool) {
	b.mu.Lock()
	session, ok := b.sessions[sessionID]
	if ok {
		delete(b.sessions, sessionID)
	}
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	session.stopTimer()
	return session, true
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// newSessionID combines high-entropy randomness with a monotonic
// counter so identifiers stay unique even under rapid concurrent
// opens.
func (b *Broker) newSessionID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.counter++
	n := b.counter
	b.mu.Unlock()
	return fmt.Sprintf("cs_%s_%d", hex.EncodeToString(buf), n), nil
}
