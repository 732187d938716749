package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dukerupert/smartform/internal/apperr"
	"github.com/dukerupert/smartform/internal/database"
	"github.com/dukerupert/smartform/internal/metrics"
	"github.com/dukerupert/smartform/internal/tokenstore"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyStore fails the selected operations.
type flakyStore struct {
	tokenstore.Store
	putErr  error
	getErr  error
	takeErr error
	puts    int
	failPut int // fail the nth Put (1-based); 0 fails none unless putErr is set
}

func (f *flakyStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.puts++
	if f.putErr != nil && (f.failPut == 0 || f.failPut == f.puts) {
		return f.putErr
	}
	return f.Store.Put(ctx, key, value, ttl)
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Take(ctx context.Context, key string) ([]byte, error) {
	if f.takeErr != nil {
		return nil, f.takeErr
	}
	return f.Store.Take(ctx, key)
}

func setupLinks(t *testing.T) (*Links, *tokenstore.Memory, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := tokenstore.NewMemory(tokenstore.WithClock(clock.Now))
	return NewLinks(store, DefaultLinkTTL, WithClock(clock.Now)), store, clock
}

func setupSessions(t *testing.T) (*Sessions, *tokenstore.Memory, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := tokenstore.NewMemory(tokenstore.WithClock(clock.Now))
	return NewSessions(store, DefaultSessionTTL, WithClock(clock.Now)), store, clock
}

func TestLinkIssueAndRedeem(t *testing.T) {
	links, _, clock := setupLinks(t)
	ctx := context.Background()

	token, expiresAt, err := links.Issue(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}
	if want := clock.Now().Add(15 * time.Minute); !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}

	email, err := links.Redeem(ctx, token)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if email != "alice@example.com" {
		t.Errorf("email = %q, want %q", email, "alice@example.com")
	}
}

func TestLinkSingleUse(t *testing.T) {
	links, store, _ := setupLinks(t)
	ctx := context.Background()

	token, _, _ := links.Issue(ctx, "alice@example.com")
	if _, err := links.Redeem(ctx, token); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := links.Redeem(ctx, token); !errors.Is(err, ErrLinkInvalid) {
		t.Errorf("second redeem err = %v, want ErrLinkInvalid", err)
	}
	if store.Len() != 0 {
		t.Errorf("store len = %d, want 0", store.Len())
	}
}

func TestLinkExpiryBoundary(t *testing.T) {
	links, _, clock := setupLinks(t)
	ctx := context.Background()

	early, _, _ := links.Issue(ctx, "early@example.com")
	late, _, _ := links.Issue(ctx, "late@example.com")

	clock.Advance(15*time.Minute - time.Millisecond)
	if _, err := links.Redeem(ctx, early); err != nil {
		t.Errorf("redeem just before expiry: %v", err)
	}

	clock.Advance(2 * time.Millisecond)
	if _, err := links.Redeem(ctx, late); !errors.Is(err, ErrLinkInvalid) {
		t.Errorf("redeem after expiry err = %v, want ErrLinkInvalid", err)
	}
}

func TestLinkExpiredEntryRemovedAndTagged(t *testing.T) {
	// The store clock stays put so the entry is still physically present
	// when the link clock has passed its expiry.
	storeClock := newFakeClock()
	linkClock := newFakeClock()
	store := tokenstore.NewMemory(tokenstore.WithClock(storeClock.Now))
	links := NewLinks(store, time.Minute, WithClock(linkClock.Now))
	ctx := context.Background()

	token, _, _ := links.Issue(ctx, "alice@example.com")
	linkClock.Advance(2 * time.Minute)

	counter := metrics.AuthFailures.WithLabelValues("magic_link", "expired")
	before := testutil.ToFloat64(counter)

	if _, err := links.Redeem(ctx, token); !errors.Is(err, ErrLinkInvalid) {
		t.Fatalf("err = %v, want ErrLinkInvalid", err)
	}
	if store.Len() != 0 {
		t.Errorf("store len = %d, want 0", store.Len())
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expired counter delta = %v, want 1", got)
	}
}

func TestLinkRedeemUnknownAndEmpty(t *testing.T) {
	links, _, _ := setupLinks(t)
	ctx := context.Background()

	for _, token := range []string{"", "never-issued"} {
		if _, err := links.Redeem(ctx, token); !errors.Is(err, ErrLinkInvalid) {
			t.Errorf("Redeem(%q) err = %v, want ErrLinkInvalid", token, err)
		}
	}
}

func TestLinkConcurrentRedeem(t *testing.T) {
	links, _, _ := setupLinks(t)
	ctx := context.Background()
	token, _, _ := links.Issue(ctx, "alice@example.com")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := links.Redeem(ctx, token); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Errorf("successful redeems = %d, want 1", got)
	}
}

func TestLinkStoreFailureIsNotInvalid(t *testing.T) {
	store := &flakyStore{Store: tokenstore.NewMemory(), takeErr: errors.New("connection reset")}
	links := NewLinks(store, DefaultLinkTTL)

	_, err := links.Redeem(context.Background(), "whatever")
	if errors.Is(err, ErrLinkInvalid) {
		t.Fatal("store failure must not look like an invalid link")
	}
	if apperr.KindOf(err) != apperr.KindStore {
		t.Errorf("kind = %v, want store", apperr.KindOf(err))
	}

	store.putErr = errors.New("read only")
	if _, _, err := links.Issue(context.Background(), "a@example.com"); apperr.KindOf(err) != apperr.KindStore {
		t.Errorf("issue kind = %v, want store", apperr.KindOf(err))
	}
}

func TestSessionCreateAndValidate(t *testing.T) {
	sessions, _, clock := setupSessions(t)
	ctx := context.Background()

	token, sess, err := sessions.Create(ctx, "user-1", "alice@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if want := clock.Now().Add(24 * time.Hour); !sess.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", sess.ExpiresAt, want)
	}

	clock.Advance(23 * time.Hour)
	got, err := sessions.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.UserID != "user-1" || got.Email != "alice@example.com" {
		t.Errorf("session = %+v", got)
	}
	if !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Error("validate must not extend expiry")
	}
}

func TestSessionLazyExpiry(t *testing.T) {
	storeClock := newFakeClock()
	sessClock := newFakeClock()
	store := tokenstore.NewMemory(tokenstore.WithClock(storeClock.Now))
	sessions := NewSessions(store, DefaultSessionTTL, WithClock(sessClock.Now))
	ctx := context.Background()

	token, _, _ := sessions.Create(ctx, "user-1", "alice@example.com")
	sessClock.Advance(24*time.Hour + time.Second)

	if _, err := sessions.Validate(ctx, token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("err = %v, want ErrSessionInvalid", err)
	}
	if store.Len() != 0 {
		t.Errorf("expired session should be deleted, store len = %d", store.Len())
	}
}

func TestSessionLazyExpirySQL(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := newFakeClock()
	store := tokenstore.NewSQL(db, tokenstore.WithClock(clock.Now))
	sessions := NewSessions(store, DefaultSessionTTL, WithClock(clock.Now))
	ctx := context.Background()

	token, _, err := sessions.Create(ctx, "user-1", "alice@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.Advance(24*time.Hour + time.Second)

	if _, err := sessions.Validate(ctx, token); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("err = %v, want ErrSessionInvalid", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM tokens`).Scan(&count); err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 0 {
		t.Errorf("expired session row should be deleted, rows = %d", count)
	}
}

func TestSessionDeleteIdempotent(t *testing.T) {
	sessions, _, _ := setupSessions(t)
	ctx := context.Background()

	token, _, _ := sessions.Create(ctx, "user-1", "alice@example.com")
	if err := sessions.Delete(ctx, token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := sessions.Delete(ctx, token); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := sessions.Validate(ctx, token); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("err = %v, want ErrSessionInvalid", err)
	}
}

func TestSessionValidateStoreFailure(t *testing.T) {
	store := &flakyStore{Store: tokenstore.NewMemory(), getErr: errors.New("timeout")}
	sessions := NewSessions(store, DefaultSessionTTL)

	_, err := sessions.Validate(context.Background(), "token")
	if errors.Is(err, ErrSessionInvalid) {
		t.Fatal("store failure must not look like an invalid session")
	}
	if apperr.KindOf(err) != apperr.KindStore {
		t.Errorf("kind = %v, want store", apperr.KindOf(err))
	}
}

// stallStore blocks every call until the context ends.
type stallStore struct{ tokenstore.Store }

func (stallStore) Get(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallStore) Take(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreCallsAreBounded(t *testing.T) {
	store := stallStore{Store: tokenstore.NewMemory()}
	sessions := NewSessions(store, DefaultSessionTTL, WithStoreTimeout(20*time.Millisecond))
	links := NewLinks(store, DefaultLinkTTL, WithStoreTimeout(20*time.Millisecond))
	ctx := context.Background()

	_, err := sessions.Validate(ctx, "token")
	if apperr.KindOf(err) != apperr.KindStore || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("validate err = %v, want store deadline", err)
	}
	if _, _, err := sessions.Refresh(ctx, "token"); apperr.KindOf(err) != apperr.KindStore {
		t.Errorf("refresh kind = %v, want store", apperr.KindOf(err))
	}
	if _, err := links.Redeem(ctx, "token"); apperr.KindOf(err) != apperr.KindStore {
		t.Errorf("redeem kind = %v, want store", apperr.KindOf(err))
	}
}

func TestSessionRefreshRotatesToken(t *testing.T) {
	sessions, _, clock := setupSessions(t)
	ctx := context.Background()

	old, _, _ := sessions.Create(ctx, "user-1", "alice@example.com")
	clock.Advance(20 * time.Hour)

	fresh, sess, err := sessions.Refresh(ctx, old)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if fresh == old {
		t.Fatal("refresh must issue a new token")
	}
	if want := clock.Now().Add(24 * time.Hour); !sess.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", sess.ExpiresAt, want)
	}
	if _, err := sessions.Validate(ctx, old); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("old token err = %v, want ErrSessionInvalid", err)
	}
	got, err := sessions.Validate(ctx, fresh)
	if err != nil {
		t.Fatalf("validate new token: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "user-1")
	}
}

func TestSessionRefreshConcurrent(t *testing.T) {
	sessions, store, _ := setupSessions(t)
	ctx := context.Background()
	old, _, _ := sessions.Create(ctx, "user-1", "alice@example.com")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := sessions.Refresh(ctx, old); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Errorf("successful refreshes = %d, want 1", got)
	}
	if store.Len() != 1 {
		t.Errorf("store len = %d, want 1", store.Len())
	}
}

func TestSessionRefreshRestoresOnFailure(t *testing.T) {
	clock := newFakeClock()
	store := &flakyStore{
		Store:   tokenstore.NewMemory(tokenstore.WithClock(clock.Now)),
		putErr:  errors.New("write failed"),
		failPut: 2,
	}
	sessions := NewSessions(store, DefaultSessionTTL, WithClock(clock.Now))
	ctx := context.Background()

	old, _, err := sessions.Create(ctx, "user-1", "alice@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := sessions.Refresh(ctx, old); apperr.KindOf(err) != apperr.KindStore {
		t.Fatalf("refresh kind = %v, want store", apperr.KindOf(err))
	}
	if _, err := sessions.Validate(ctx, old); err != nil {
		t.Errorf("old session should survive a failed refresh: %v", err)
	}
}

func TestSessionRefreshExpired(t *testing.T) {
	sessions, _, clock := setupSessions(t)
	ctx := context.Background()

	old, _, _ := sessions.Create(ctx, "user-1", "alice@example.com")
	clock.Advance(25 * time.Hour)
	if _, _, err := sessions.Refresh(ctx, old); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("err = %v, want ErrSessionInvalid", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "alice@example.com" {
		t.Errorf("got %q, want %q", got, "alice@example.com")
	}

	for _, bad := range []string{"", "alice", "Alice <alice@example.com>"} {
		if _, err := NormalizeEmail(bad); apperr.KindOf(err) != apperr.KindValidation {
			t.Errorf("NormalizeEmail(%q) kind = %v, want validation", bad, apperr.KindOf(err))
		}
	}
}
