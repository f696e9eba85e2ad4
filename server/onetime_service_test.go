package server

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/giantswarm/oauth-authz/internal/testutil"
	"github.com/giantswarm/oauth-authz/security"
	"github.com/giantswarm/oauth-authz/storage"
	"github.com/giantswarm/oauth-authz/storage/memory"
)

// recordingNotifier keeps every link it was asked to deliver and then fails
// with err, if set.
type recordingNotifier struct {
	mu    sync.Mutex
	links map[string]string
	err   error
}

func (n *recordingNotifier) Deliver(_ context.Context, username, link string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links == nil {
		n.links = make(map[string]string)
	}
	n.links[username] = link
	return n.err
}

func newTestOneTimeTokenService(t *testing.T) (*OneTimeTokenService, *memory.Store, *recordingNotifier) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	notifier := &recordingNotifier{}
	return NewOneTimeTokenService(store, notifier, "https://auth.example.com/login/ott", discardLogger()), store, notifier
}

func TestOneTimeTokenService_IssueAndRedeem(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier := newTestOneTimeTokenService(t)

	token, err := svc.Issue(ctx, "alice", "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, "alice", token.Username)

	link, err := url.Parse(notifier.links["alice"])
	require.NoError(t, err)
	assert.Equal(t, "auth.example.com", link.Host)
	assert.Equal(t, token.Value, link.Query().Get(OneTimeTokenParameter))

	redeemed, err := svc.Redeem(ctx, token.Value, "192.0.2.1")
	require.NoError(t, err)
	require.NotNil(t, redeemed)
	assert.Equal(t, "alice", redeemed.Username)

	again, err := svc.Redeem(ctx, token.Value, "192.0.2.1")
	require.NoError(t, err)
	assert.Nil(t, again, "tokens are single use")
}

func TestOneTimeTokenService_RedeemUnknownAndExpired(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestOneTimeTokenService(t)

	got, err := svc.Redeem(ctx, "never-issued", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	clock := testutil.NewMockTime(time.Now())
	store.SetClock(clock.Now)

	token, err := svc.Issue(ctx, "bob", "")
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	got, err = svc.Redeem(ctx, token.Value, "")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = svc.Redeem(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.Issue(ctx, "  ", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOneTimeTokenService_ConcurrentRedeem(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestOneTimeTokenService(t)

	token, err := svc.Issue(ctx, "carol", "")
	require.NoError(t, err)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := svc.Redeem(ctx, token.Value, "")
			if err == nil && got != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestOneTimeTokenService_RateLimited(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestOneTimeTokenService(t)
	inst, reader := newTestInstrumentation(t)
	svc.SetInstrumentation(inst)

	limiter := security.NewRateLimiter(rate.Every(time.Hour), 2, discardLogger())
	t.Cleanup(limiter.Stop)
	svc.SetRateLimiter(limiter)

	for range 2 {
		_, err := svc.Issue(ctx, "dave", "")
		require.NoError(t, err)
	}
	_, err := svc.Issue(ctx, "dave", "")
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = svc.Issue(ctx, "erin", "")
	require.NoError(t, err, "limits are per username")

	assert.Equal(t, int64(3), counterTotal(t, reader, "oauth.one_time_token.issued"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "oauth.rate_limit.exceeded"))
}

func TestOneTimeTokenService_DeliveryFailure(t *testing.T) {
	ctx := context.Background()
	svc, store, notifier := newTestOneTimeTokenService(t)
	notifier.err = errors.New("smtp down")

	_, err := svc.Issue(ctx, "frank", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, notifier.err)

	link, err := url.Parse(notifier.links["frank"])
	require.NoError(t, err)
	value := link.Query().Get(OneTimeTokenParameter)
	require.NotEmpty(t, value)

	_, err = store.Consume(ctx, value)
	assert.ErrorIs(t, err, storage.ErrOneTimeTokenNotFound, "undelivered token must not stay redeemable")

	redeemed, err := svc.Redeem(ctx, value, "")
	require.NoError(t, err)
	assert.Nil(t, redeemed)
}

func TestOneTimeTokenService_Link(t *testing.T) {
	tests := []struct {
		name     string
		linkBase string
		want     string
	}{
		{name: "plain base", linkBase: "https://auth.example.com/login/ott", want: "https://auth.example.com/login/ott?token=abc"},
		{name: "base with query", linkBase: "https://auth.example.com/login?lang=en", want: "https://auth.example.com/login?lang=en&token=abc"},
		{name: "no base", linkBase: "", want: "?token=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewOneTimeTokenService(nil, nil, tt.linkBase, discardLogger())
			assert.Equal(t, tt.want, svc.Link("abc"))
		})
	}
}

func TestNotifierFunc(t *testing.T) {
	var got string
	n := NotifierFunc(func(_ context.Context, username, _ string, _ time.Time) error {
		got = username
		return nil
	})
	require.NoError(t, n.Deliver(context.Background(), "grace", "link", time.Now()))
	assert.Equal(t, "grace", got)
}
