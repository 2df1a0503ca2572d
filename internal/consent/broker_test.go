package consent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"attestd/go-agent/pkg/models"
)

type recordingPresenter struct {
	mu         sync.Mutex
	presented  []models.ConsentPrompt
	dismissed  []string
	presentErr error
}

func (p *recordingPresenter) Present(prompt models.ConsentPrompt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.presentErr != nil {
		return p.presentErr
	}
	p.presented = append(p.presented, prompt)
	return nil
}

func (p *recordingPresenter) Dismiss(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed = append(p.dismissed, sessionID)
}

func (p *recordingPresenter) dismissCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dismissed)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testPrompt() models.ConsentPrompt {
	return models.ConsentPrompt{AppName: "Example", AppURL: "http://localhost:3000", KeyID: "att1test"}
}

func TestResolveDeliversDecision(t *testing.T) {
	presenter := &recordingPresenter{}
	broker := NewBroker(presenter, time.Minute, testLogger())

	session, err := broker.Open(testPrompt())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := broker.Resolve(session.ID(), Decision{Approved: true}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	res, err := session.Await(context.Background())
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if !res.Decision.Approved || res.Expired {
		t.Fatalf("unexpected result: %+v", res)
	}
	if presenter.dismissCount() != 1 {
		t.Fatal("resolve must dismiss the presented prompt")
	}
}

func TestResolveIsExactlyOnce(t *testing.T) {
	broker := NewBroker(&recordingPresenter{}, time.Minute, testLogger())
	session, err := broker.Open(testPrompt())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := broker.Resolve(session.ID(), Decision{Approved: false}); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if err := broker.Resolve(session.ID(), Decision{Approved: true}); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("second resolve must be rejected, got %v", err)
	}
	res, err := session.Await(context.Background())
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if res.Decision.Approved {
		t.Fatal("the first decision must win")
	}
}

func TestResolveUnknownSessionIsRejected(t *testing.T) {
	broker := NewBroker(&recordingPresenter{}, time.Minute, testLogger())
	if err := broker.Resolve("cs_forged_1", Decision{Approved: true}); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	broker := NewBroker(&recordingPresenter{}, time.Minute, testLogger())

	first, err := broker.Open(testPrompt())
	if err != nil {
		t.Fatalf("open first failed: %v", err)
	}
	second, err := broker.Open(testPrompt())
	if err != nil {
		t.Fatalf("open second failed: %v", err)
	}
	if first.ID() == second.ID() {
		t.Fatal("concurrent sessions must never share an identifier")
	}

	// Decide them out of order.
	if err := broker.Resolve(second.ID(), Decision{Approved: true}); err != nil {
		t.Fatalf("resolve second failed: %v", err)
	}
	if err := broker.Resolve(first.ID(), Decision{Approved: false}); err != nil {
		t.Fatalf("resolve first failed: %v", err)
	}

	firstRes, err := first.Await(context.Background())
	if err != nil {
		t.Fatalf("await first failed: %v", err)
	}
	secondRes, err := second.Await(context.Background())
	if err != nil {
		t.Fatalf("await second failed: %v", err)
	}
	if firstRes.Decision.Approved {
		t.Fatal("first session received the second session's decision")
	}
	if !secondRes.Decision.Approved {
		t.Fatal("second session received the first session's decision")
	}
}

func TestSessionIDsUniqueUnderRapidOpens(t *testing.T) {
	broker := NewBroker(&recordingPresenter{}, time.Minute, testLogger())
	seen := make(map[string]struct{})
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := broker.Open(testPrompt())
			if err != nil {
				t.Errorf("open failed: %v", err)
				return
			}
			mu.Lock()
			if _, dup := seen[session.ID()]; dup {
				t.Errorf("duplicate session id: %s", session.ID())
			}
			seen[session.ID()] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
}

func TestTimeoutResolvesToExpiry(t *testing.T) {
	presenter := &recordingPresenter{}
	broker := NewBroker(presenter, 30*time.Millisecond, testLogger())
	session, err := broker.Open(testPrompt())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	res, err := session.Await(context.Background())
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if !res.Expired {
		t.Fatalf("expected expiry, got %+v", res)
	}
	// A decision arriving after expiry must be a no-op.
	if err := broker.Resolve(session.ID(), Decision{Approved: true}); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("late decision must be rejected, got %v", err)
	}
	if presenter.dismissCount() != 1 {
		t.Fatal("expiry must tear down the presented prompt exactly once")
	}
}

func TestDecisionCancelsExpiryTimer(t *testing.T) {
	broker := NewBroker(&recordingPresenter{}, 30*time.Millisecond, testLogger())
	session, err := broker.Open(testPrompt())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := broker.Resolve(session.ID(), Decision{Approved: true}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	res, err := session.Await(context.Background())
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if res.Expired || !res.Decision.Approved {
		t.Fatalf("unexpected result: %+v", res)
	}
	// Give the timer a chance to misfire; the session is gone, so
	// nothing may panic or double-deliver.
	time.Sleep(60 * time.Millisecond)
}

func TestAwaitContextCancellationAbandonsSession(t *testing.T) {
	broker := NewBroker(&recordingPresenter{}, time.Minute, testLogger())
	session, err := broker.Open(testPrompt())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := session.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := broker.Resolve(session.ID(), Decision{Approved: true}); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("abandoned session must reject decisions, got %v", err)
	}
}

func TestPendingListsOpenSessionsOnly(t *testing.T) {
	broker := NewBroker(&recordingPresenter{}, time.Minute, testLogger())
	session, err := broker.Open(testPrompt())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	pending := broker.Pending()
	if len(pending) != 1 || pending[0].SessionID != session.ID() {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
	if pending[0].ExpiresAt.IsZero() {
		t.Fatal("pending prompt must carry its deadline")
	}
	if err := broker.Resolve(session.ID(), Decision{}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got := broker.Pending(); len(got) != 0 {
		t.Fatalf("resolved sessions must leave the pending set, got %+v", got)
	}
}

func TestPresentFailureTearsDownSession(t *testing.T) {
	presenter := &recordingPresenter{presentErr: errors.New("surface gone")}
	broker := NewBroker(presenter, time.Minute, testLogger())
	if _, err := broker.Open(testPrompt()); err == nil {
		t.Fatal("expected error when presenting fails")
	}
	if got := broker.Pending(); len(got) != 0 {
		t.Fatalf("failed open must not leave a session behind, got %+v", got)
	}
}

func TestCloseExpiresOpenSessions(t *testing.T) {
	broker := NewBroker(&recordingPresenter{}, time.Minute, testLogger())
	session, err := broker.Open(testPrompt())
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	broker.Close()
	res, err := session.Await(context.Background())
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if !res.Expired {
		t.Fatalf("close must expire open sessions, got %+v", res)
	}
	if _, err := broker.Open(testPrompt()); !errors.Is(err, ErrBrokerClosed) {
		t.Fatalf("expected ErrBrokerClosed, got %v", err)
	}
}
