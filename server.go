package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/codec"
	"github.com/giantswarm/oauth-authz/grant"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/security"
	"github.com/giantswarm/oauth-authz/server"
	"github.com/giantswarm/oauth-authz/storage"
)

// Issuer turns a converted grant request into a new authorization. The
// returned aggregate is persisted by the server.
type Issuer interface {
	Issue(ctx context.Context, req grant.AuthenticationRequest) (*authorization.Authorization, error)
}

// ErrNoAccessToken is returned by IssueToken when the Issuer produced an
// authorization without an access token. Nothing is persisted.
var ErrNoAccessToken = errors.New("issuer returned an authorization without an access token")

// Stores groups the storage backends a Server needs. OneTimeTokens is
// optional; without it one-time token login is disabled.
type Stores struct {
	Authorizations storage.AuthorizationStore
	Clients        storage.ClientStore
	OneTimeTokens  storage.OneTimeTokenStore
}

// Server implements the token, introspection, revocation and one-time token
// logic on top of the authorization and client services. Handler is its HTTP
// adapter.
type Server struct {
	Authorizations  *server.AuthorizationService
	Clients         *server.ClientService
	OneTimeTokens   *server.OneTimeTokenService
	Converters      *grant.Chain
	Issuer          Issuer
	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter   // per-IP limit at the token endpoints
	LoginLimiter    *security.WindowLimiter // per-IP limit at the one-time token login
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	ottLimiter *security.RateLimiter
	ipResolver security.ClientIPResolver
	tracer     trace.Tracer
	now        func() time.Time
}

// NewServer wires the services over stores. c encodes the stored map columns
// and may be nil for plain JSON.
func NewServer(stores Stores, issuer Issuer, c *codec.Codec, config *Config, logger *slog.Logger) (*Server, error) {
	if stores.Authorizations == nil || stores.Clients == nil {
		return nil, errors.New("authorization and client stores are required")
	}
	if issuer == nil {
		return nil, errors.New("issuer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = &Config{}
	}
	config = applySecureDefaults(config, logger)

	auditor := security.NewAuditor(logger, config.EnableAuditLogging)

	authorizations := server.NewAuthorizationService(stores.Authorizations, stores.Clients, c, logger)
	authorizations.SetAuditor(auditor)
	clients := server.NewClientService(stores.Clients, c, logger)
	clients.SetAuditor(auditor)

	s := &Server{
		Authorizations: authorizations,
		Clients:        clients,
		Converters: grant.NewChain(
			grant.NewPasswordConverter(config.PasswordGrantAliases...),
			grant.NewJWTBearerConverter(),
		),
		Issuer:  issuer,
		Auditor: auditor,
		Logger:  logger,
		Config:  config,
		ipResolver: security.ClientIPResolver{
			TrustProxy:        config.TrustProxy,
			TrustedProxyCount: config.TrustedProxyCount,
		},
		now: time.Now,
	}

	if config.RateLimit.TokenRequestsPerSecond > 0 {
		s.RateLimiter = security.NewRateLimiterWithConfig(
			rate.Limit(config.RateLimit.TokenRequestsPerSecond),
			config.RateLimit.TokenBurst,
			config.RateLimit.MaxEntries,
			logger)
	}

	if stores.OneTimeTokens != nil {
		ott := server.NewOneTimeTokenService(stores.OneTimeTokens,
			config.OneTimeToken.Notifier, config.OneTimeToken.LinkBaseURL, logger)
		ott.SetAuditor(auditor)
		if config.OneTimeToken.RequestsPerHour > 0 {
			s.ottLimiter = security.NewRateLimiterWithConfig(
				rate.Every(time.Hour/time.Duration(config.OneTimeToken.RequestsPerHour)),
				defaultOneTimeTokenRequestsPerBurst,
				config.RateLimit.MaxEntries,
				logger)
			ott.SetRateLimiter(s.ottLimiter)
		}
		s.OneTimeTokens = ott
		s.LoginLimiter = security.NewWindowLimiter(
			config.OneTimeToken.LoginAttemptsPerWindow,
			config.OneTimeToken.LoginWindow,
			logger)
	}

	logger.Info("Authorization server initialized",
		"issuer", config.Issuer,
		"password_grant_aliases", config.PasswordGrantAliases,
		"one_time_token_login", s.OneTimeTokens != nil,
		"audit_logging", config.EnableAuditLogging)

	return s, nil
}

// SetInstrumentation enables tracing and metrics for the server and every
// component it owns.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	s.tracer = nil
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
	s.Authorizations.SetInstrumentation(inst)
	s.Clients.SetInstrumentation(inst)
	s.Converters.SetInstrumentation(inst)
	s.Auditor.SetInstrumentation(inst)
	if s.OneTimeTokens != nil {
		s.OneTimeTokens.SetInstrumentation(inst)
	}
}

// SetAuditor replaces the auditor created from Config.EnableAuditLogging.
func (s *Server) SetAuditor(a *security.Auditor) {
	s.Auditor = a
	s.Authorizations.SetAuditor(a)
	s.Clients.SetAuditor(a)
	if s.OneTimeTokens != nil {
		s.OneTimeTokens.SetAuditor(a)
	}
}

// Stop releases the background goroutines of the rate limiters.
func (s *Server) Stop() {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
	if s.ottLimiter != nil {
		s.ottLimiter.Stop()
	}
	if s.LoginLimiter != nil {
		s.LoginLimiter.Stop()
	}
}

func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

func (s *Server) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "oauth."+name, trace.WithAttributes(attrs...))
}

// IssueToken converts params for the authenticated client, issues an
// authorization for the request and persists it. params must not carry
// client credentials.
func (s *Server) IssueToken(ctx context.Context, principal *grant.ClientPrincipal, params url.Values, clientIP string) (_ *authorization.Authorization, err error) {
	ctx, span := s.startSpan(ctx, "issue_token")
	defer span.End()
	defer func() {
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	}()

	if principal == nil || principal.Client == nil {
		return nil, ErrInvalidClient("Client authentication failed")
	}
	client := principal.Client
	ctx = grant.WithClientPrincipal(ctx, principal)

	req, err := s.Converters.Convert(ctx, params)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", params.Get(grant.ParameterGrantType)))
	}
	if !client.SupportsGrantType(req.GrantType()) {
		s.Auditor.LogAuthFailure(ctx, "", client.ClientID, clientIP, "grant_type_not_allowed")
		return nil, ErrUnauthorizedClient(fmt.Sprintf("client is not allowed to use grant_type %s", req.GrantType()))
	}

	a, err := s.Issuer.Issue(ctx, req)
	if err != nil {
		var ge *grant.Error
		if errors.As(err, &ge) {
			s.Auditor.LogAuthFailure(ctx, "", client.ClientID, clientIP, ge.Code)
		}
		return nil, err
	}
	if a == nil || a.AccessToken == nil {
		return nil, fmt.Errorf("issue %s token: %w", req.GrantType(), ErrNoAccessToken)
	}
	if err := s.Authorizations.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save issued authorization: %w", err)
	}

	instrumentation.AddAuthorizationAttributes(span, a.ID, client.ClientID, a.PrincipalName, a.GrantType.String())
	scope := strings.Join(a.AuthorizedScopes, " ")
	if m := s.metrics(); m != nil {
		m.RecordTokenIssued(ctx, client.ClientID, a.GrantType.String())
	}
	s.Auditor.LogTokenIssued(ctx, a.PrincipalName, client.ClientID, clientIP, a.GrantType.String(), scope)
	s.Logger.Info("Issued token",
		"client_id", client.ClientID,
		"grant_type", a.GrantType.String(),
		"authorization_id", a.ID)
	return a, nil
}

// findByToken looks value up using hint first and all lookup types second.
// Unrecognised hints are ignored (RFC 7009 section 2.1, RFC 7662 section 2.1).
func (s *Server) findByToken(ctx context.Context, value, hint string) (*authorization.Authorization, error) {
	tokenType := authorization.TokenType(hint)
	if hint != "" && storage.IsLookupTokenType(tokenType) {
		a, err := s.Authorizations.FindByToken(ctx, value, tokenType)
		if err != nil || a != nil {
			return a, err
		}
	}
	return s.Authorizations.FindByToken(ctx, value, "")
}

// Introspect reports the state of token (RFC 7662). Only access and refresh
// tokens can be active; unknown, revoked and expired tokens yield
// {"active": false}.
func (s *Server) Introspect(ctx context.Context, token, hint string) (_ *IntrospectionResponse, err error) {
	ctx, span := s.startSpan(ctx, "introspect_token",
		attribute.String(instrumentation.AttrTokenTypeHint, hint))
	defer span.End()

	resp, err := s.introspect(ctx, token, hint)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool(instrumentation.AttrTokenFound, resp.Active))
	instrumentation.SetSpanSuccess(span)
	if m := s.metrics(); m != nil {
		m.RecordTokenIntrospection(ctx, resp.Active)
	}
	return resp, nil
}

func (s *Server) introspect(ctx context.Context, token, hint string) (*IntrospectionResponse, error) {
	inactive := &IntrospectionResponse{Active: false}

	a, err := s.findByToken(ctx, token, hint)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return inactive, nil
	}

	tokenType, t, ok := a.FindToken(token)
	if !ok || (tokenType != authorization.TokenTypeAccessToken && tokenType != authorization.TokenTypeRefreshToken) {
		return inactive, nil
	}
	if t.IsInvalidated() || security.IsExpired(t.ExpiresAt, s.now(), s.Config.ClockSkewGracePeriod) {
		return inactive, nil
	}

	client, err := s.Clients.FindByID(ctx, a.RegisteredClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return inactive, nil
	}

	resp := &IntrospectionResponse{
		Active:   true,
		ClientID: client.ClientID,
		Username: a.PrincipalName,
		Subject:  a.PrincipalName,
		Issuer:   s.Config.Issuer,
		Scope:    strings.Join(a.AuthorizedScopes, " "),
	}
	if tokenType == authorization.TokenTypeAccessToken {
		resp.TokenType = a.AccessToken.TokenType
		if len(a.AccessToken.Scopes) > 0 {
			resp.Scope = strings.Join(a.AccessToken.Scopes, " ")
		}
	}
	if !t.ExpiresAt.IsZero() {
		resp.ExpiresAt = t.ExpiresAt.Unix()
	}
	if !t.IssuedAt.IsZero() {
		resp.IssuedAt = t.IssuedAt.Unix()
	}
	return resp, nil
}

// Revoke invalidates token on behalf of client (RFC 7009). Unknown tokens
// are not an error. A token issued to another client yields invalid_client.
// Concurrent modification of the authorization is retried up to
// Config.RevocationAttempts times.
func (s *Server) Revoke(ctx context.Context, client *authorization.RegisteredClient, token, hint, clientIP string) (err error) {
	ctx, span := s.startSpan(ctx, "revoke_token",
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrTokenTypeHint, hint))
	defer span.End()
	defer func() {
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	}()

	for attempt := 1; ; attempt++ {
		a, err := s.findByToken(ctx, token, hint)
		if err != nil {
			return err
		}
		if a == nil {
			span.SetAttributes(attribute.Bool(instrumentation.AttrTokenFound, false))
			return nil
		}
		if a.RegisteredClientID != client.ID {
			s.Logger.Warn("Client attempted to revoke a token issued to another client",
				"client_id", client.ClientID,
				"ip", clientIP)
			s.Auditor.LogAuthFailure(ctx, "", client.ClientID, clientIP, "revocation_client_mismatch")
			return ErrInvalidClient("Client authentication failed")
		}

		tokenType, _, _ := a.FindToken(token)
		if !a.Invalidate(token) {
			// Matched on the state attribute; nothing to revoke.
			return nil
		}

		err = s.Authorizations.Save(ctx, a)
		if errors.Is(err, storage.ErrConcurrentModification) && attempt < s.Config.RevocationAttempts {
			s.Logger.Debug("Retrying revocation after concurrent modification",
				"authorization_id", a.ID,
				"attempt", attempt)
			continue
		}
		if err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}

		span.SetAttributes(attribute.String(instrumentation.AttrTokenType, string(tokenType)))
		if m := s.metrics(); m != nil {
			m.RecordTokenRevocation(ctx, client.ClientID, string(tokenType))
		}
		s.Auditor.LogTokenRevoked(ctx, a.PrincipalName, client.ClientID, clientIP, string(tokenType))
		return nil
	}
}
