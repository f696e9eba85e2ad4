package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/internal/util"
	"github.com/giantswarm/oauth-authz/security"
	"github.com/giantswarm/oauth-authz/storage"
)

// ErrRateLimited is returned when a username requested too many one-time tokens.
var ErrRateLimited = errors.New("too many one-time token requests")

// OneTimeTokenParameter is the query parameter carrying the token in login links.
const OneTimeTokenParameter = "token"

// Notifier delivers a login link to the user it was issued for.
type Notifier interface {
	Deliver(ctx context.Context, username, link string, expiresAt time.Time) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, username, link string, expiresAt time.Time) error

// Deliver calls f.
func (f NotifierFunc) Deliver(ctx context.Context, username, link string, expiresAt time.Time) error {
	return f(ctx, username, link, expiresAt)
}

// LogNotifier writes links to a logger. It is meant for development setups
// without a mail or chat integration.
type LogNotifier struct {
	Logger *slog.Logger
}

// Deliver logs the link at info level.
func (n LogNotifier) Deliver(ctx context.Context, username, link string, expiresAt time.Time) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "One-time login link issued",
		"username", username,
		"link", link,
		"expires_at", expiresAt)
	return nil
}

// OneTimeTokenService issues single-use login tokens and redeems them.
type OneTimeTokenService struct {
	serviceTelemetry

	store       storage.OneTimeTokenStore
	notifier    Notifier
	rateLimiter *security.RateLimiter
	auditor     *security.Auditor
	linkBase    string
	logger      *slog.Logger
}

// NewOneTimeTokenService returns a service that stores tokens in store and
// hands links to notifier. Links are linkBase with the token appended as the
// "token" query parameter. A nil notifier logs the links.
func NewOneTimeTokenService(store storage.OneTimeTokenStore, notifier Notifier, linkBase string, logger *slog.Logger) *OneTimeTokenService {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &OneTimeTokenService{
		store:    store,
		notifier: notifier,
		linkBase: linkBase,
		logger:   logger,
	}
}

// SetInstrumentation enables spans and one-time token metrics.
func (s *OneTimeTokenService) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.setInstrumentation(inst)
}

// SetAuditor sets the auditor that receives issuance and redemption events.
func (s *OneTimeTokenService) SetAuditor(a *security.Auditor) {
	s.auditor = a
}

// SetRateLimiter limits issuance per username. A nil limiter disables the check.
func (s *OneTimeTokenService) SetRateLimiter(rl *security.RateLimiter) {
	s.rateLimiter = rl
}

// Issue generates a token for username and delivers its link. The token is
// returned for callers that deliver it themselves; HTTP handlers must not
// echo it back to the requester.
func (s *OneTimeTokenService) Issue(ctx context.Context, username, clientIP string) (_ *storage.OneTimeToken, err error) {
	ctx, span := s.startSpan(ctx, "issue_one_time_token")
	defer span.End()
	defer func() {
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	}()

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("issue one-time token: %w", ErrInvalidArgument)
	}

	if s.rateLimiter != nil && !s.rateLimiter.Allow(username) {
		if m := s.metrics(); m != nil {
			m.RecordRateLimitExceeded(ctx, "one_time_token")
		}
		s.auditor.LogRateLimitExceeded(ctx, clientIP, username, "one_time_token")
		return nil, ErrRateLimited
	}

	token, err := s.store.Generate(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("issue one-time token: %w", err)
	}

	if err := s.notifier.Deliver(ctx, username, s.Link(token.Value), token.ExpiresAt); err != nil {
		s.logger.Warn("Failed to deliver one-time token",
			"username", username,
			"error", err)
		// The user never received the link, so the token must not stay redeemable.
		if _, discardErr := s.store.Consume(ctx, token.Value); discardErr != nil {
			s.logger.Warn("Failed to discard undelivered one-time token",
				"username", username,
				"token_prefix", util.SafeTruncate(token.Value, tokenLogLength),
				"error", discardErr)
		}
		return nil, fmt.Errorf("deliver one-time token: %w", err)
	}

	if m := s.metrics(); m != nil {
		m.RecordOneTimeTokenIssued(ctx)
	}
	s.auditor.LogOneTimeTokenIssued(ctx, username, clientIP)
	s.logger.Debug("Issued one-time token",
		"username", username,
		"token_prefix", util.SafeTruncate(token.Value, tokenLogLength),
		"expires_at", token.ExpiresAt)
	return token, nil
}

// Redeem consumes value. Unknown, expired and already used tokens return
// (nil, nil).
func (s *OneTimeTokenService) Redeem(ctx context.Context, value, clientIP string) (_ *storage.OneTimeToken, err error) {
	ctx, span := s.startSpan(ctx, "redeem_one_time_token")
	defer span.End()
	defer func() {
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	}()

	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("redeem one-time token: %w", ErrInvalidArgument)
	}

	token, err := s.store.Consume(ctx, value)
	if err != nil {
		if errors.Is(err, storage.ErrOneTimeTokenNotFound) {
			if m := s.metrics(); m != nil {
				m.RecordOneTimeTokenConsumed(ctx, false)
			}
			s.auditor.LogOneTimeTokenConsumed(ctx, "", clientIP, false)
			return nil, nil
		}
		return nil, fmt.Errorf("redeem one-time token: %w", err)
	}

	if m := s.metrics(); m != nil {
		m.RecordOneTimeTokenConsumed(ctx, true)
	}
	s.auditor.LogOneTimeTokenConsumed(ctx, token.Username, clientIP, true)
	return token, nil
}

// Link returns the login link for value.
func (s *OneTimeTokenService) Link(value string) string {
	u, err := url.Parse(s.linkBase)
	if err != nil || s.linkBase == "" {
		return "?" + OneTimeTokenParameter + "=" + url.QueryEscape(value)
	}
	q := u.Query()
	q.Set(OneTimeTokenParameter, value)
	u.RawQuery = q.Encode()
	return u.String()
}
