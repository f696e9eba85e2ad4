package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/grant"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/security"
	"github.com/giantswarm/oauth-authz/server"
)

// Endpoint paths registered by RegisterRoutes.
const (
	TokenPath                = "/oauth2/token"
	IntrospectionPath        = "/oauth2/introspect"
	RevocationPath           = "/oauth2/revoke"
	OneTimeTokenRequestPath  = "/ott/generate"
	OneTimeTokenLoginPath    = DefaultOneTimeTokenLoginPath
	parameterClientID        = "client_id"
	parameterClientSecret    = "client_secret"
	parameterToken           = "token"
	parameterTokenTypeHint   = "token_type_hint"
	parameterUsername        = "username"
	rateLimitRetryAfter      = "60"
	oneTimeTokenStatusAccept = "accepted"
)

// Handler is a thin HTTP adapter for the Server.
// It parses requests, authenticates clients and renders responses; all
// decisions are made by the Server.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	// Initialize tracer if instrumentation is enabled
	if server.Instrumentation != nil {
		h.tracer = server.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes registers every endpoint on mux. The one-time token
// endpoints are only registered when the server has a one-time token store.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(TokenPath, h.ServeToken)
	mux.HandleFunc(IntrospectionPath, h.ServeIntrospection)
	mux.HandleFunc(RevocationPath, h.ServeRevocation)
	if h.server.OneTimeTokens != nil {
		mux.HandleFunc(OneTimeTokenRequestPath, h.ServeOneTimeTokenRequest)
		mux.HandleFunc(OneTimeTokenLoginPath, h.ServeOneTimeTokenLogin)
	}
}

// Routes returns all endpoints wrapped in request id and security header
// middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.RequestIDMiddleware(security.SecurityHeadersMiddleware(h.server.Config.Issuer)(mux))
}

func (h *Handler) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return h.tracer.Start(ctx, "oauth.http."+name)
}

// ServeToken handles the token endpoint (RFC 6749 section 3.2) for the
// extension grants known to the server's converter chain.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "token")
	defer span.End()
	logger := security.LoggerWithRequestID(ctx, h.logger)

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.server.ipResolver.Resolve(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		instrumentation.RecordError(span, err)
		h.fail(w, span, "token", r.Method, startTime, ErrInvalidRequest("Failed to parse request"))
		return
	}
	if r.PostForm.Get(grant.ParameterGrantType) == "" {
		h.fail(w, span, "token", r.Method, startTime, ErrInvalidRequest("grant_type is required"))
		return
	}

	principal, oauthErr := h.authenticateClient(ctx, r, clientIP)
	if oauthErr != nil {
		h.fail(w, span, "token", r.Method, startTime, oauthErr)
		return
	}
	span.SetAttributes(attribute.String(instrumentation.AttrClientID, principal.Client.ClientID))

	params := make(url.Values, len(r.PostForm))
	for name, values := range r.PostForm {
		if name == parameterClientID || name == parameterClientSecret {
			continue
		}
		params[name] = slices.Clone(values)
	}

	a, err := h.server.IssueToken(ctx, principal, params, clientIP)
	if err != nil {
		oe := ErrorFromError(err)
		if oe.Code == ErrorCodeServerError {
			logger.Error("Token request failed", "client_id", principal.Client.ClientID, "error", err)
		} else {
			logger.Debug("Token request rejected", "client_id", principal.Client.ClientID, "error", err)
		}
		instrumentation.RecordError(span, err)
		h.fail(w, span, "token", r.Method, startTime, oe)
		return
	}

	if !h.writeTokenResponse(w, a) {
		logger.Error("Issued authorization has no access token", "client_id", principal.Client.ClientID)
		h.fail(w, span, "token", r.Method, startTime, ErrServerError())
		return
	}
	h.recordHTTPMetrics("token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
}

// ServeIntrospection handles the RFC 7662 token introspection endpoint.
// Only confidential clients may introspect.
func (h *Handler) ServeIntrospection(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "token_introspection")
	defer span.End()
	logger := security.LoggerWithRequestID(ctx, h.logger)

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("introspect", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.server.ipResolver.Resolve(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("introspect", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		instrumentation.RecordError(span, err)
		h.fail(w, span, "introspect", r.Method, startTime, ErrInvalidRequest("Failed to parse request"))
		return
	}

	principal, oauthErr := h.authenticateClient(ctx, r, clientIP)
	if oauthErr != nil {
		h.fail(w, span, "introspect", r.Method, startTime, oauthErr)
		return
	}
	if principal.Method == authorization.ClientAuthenticationMethodNone {
		h.logAuthFailure(ctx, principal.Client.ClientID, clientIP, "public_client_introspection", "Public client attempted introspection")
		h.fail(w, span, "introspect", r.Method, startTime, ErrInvalidClient("Client authentication required"))
		return
	}

	token := r.PostForm.Get(parameterToken)
	if token == "" {
		h.fail(w, span, "introspect", r.Method, startTime, ErrInvalidRequest("token is required"))
		return
	}

	resp, err := h.server.Introspect(ctx, token, r.PostForm.Get(parameterTokenTypeHint))
	if err != nil {
		logger.Error("Token introspection failed", "client_id", principal.Client.ClientID, "error", err)
		instrumentation.RecordError(span, err)
		h.fail(w, span, "introspect", r.Method, startTime, ErrorFromError(err))
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
	h.recordHTTPMetrics("introspect", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
}

// ServeRevocation handles the RFC 7009 token revocation endpoint. Unknown
// tokens are answered with 200.
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "token_revocation")
	defer span.End()
	logger := security.LoggerWithRequestID(ctx, h.logger)

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.server.ipResolver.Resolve(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		instrumentation.RecordError(span, err)
		h.fail(w, span, "revoke", r.Method, startTime, ErrInvalidRequest("Failed to parse request"))
		return
	}

	principal, oauthErr := h.authenticateClient(ctx, r, clientIP)
	if oauthErr != nil {
		h.fail(w, span, "revoke", r.Method, startTime, oauthErr)
		return
	}

	token := r.PostForm.Get(parameterToken)
	if token == "" {
		h.fail(w, span, "revoke", r.Method, startTime, ErrInvalidRequest("token is required"))
		return
	}

	if err := h.server.Revoke(ctx, principal.Client, token, r.PostForm.Get(parameterTokenTypeHint), clientIP); err != nil {
		oe := ErrorFromError(err)
		if oe.Code == ErrorCodeServerError {
			logger.Error("Failed to revoke token", "client_id", principal.Client.ClientID, "ip", clientIP, "error", err)
		}
		instrumentation.RecordError(span, err)
		h.fail(w, span, "revoke", r.Method, startTime, oe)
		return
	}

	h.recordHTTPMetrics("revoke", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ServeOneTimeTokenRequest issues a one-time login token for the posted
// username. The token is delivered by the configured notifier and never
// returned to the requester.
func (h *Handler) ServeOneTimeTokenRequest(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "one_time_token_request")
	defer span.End()
	logger := security.LoggerWithRequestID(ctx, h.logger)

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("ott_generate", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.server.ipResolver.Resolve(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics("ott_generate", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		instrumentation.RecordError(span, err)
		h.fail(w, span, "ott_generate", r.Method, startTime, ErrInvalidRequest("Failed to parse request"))
		return
	}
	username := r.PostForm.Get(parameterUsername)
	if username == "" {
		h.fail(w, span, "ott_generate", r.Method, startTime, ErrInvalidRequest("username is required"))
		return
	}

	if _, err := h.server.OneTimeTokens.Issue(ctx, username, clientIP); err != nil {
		oe := ErrorFromError(err)
		switch {
		case errors.Is(err, server.ErrRateLimited):
			w.Header().Set("Retry-After", rateLimitRetryAfter)
		case oe.Code == ErrorCodeServerError:
			logger.Error("Failed to issue one-time token", "ip", clientIP, "error", err)
		}
		instrumentation.RecordError(span, err)
		h.fail(w, span, "ott_generate", r.Method, startTime, oe)
		return
	}

	h.writeJSON(w, http.StatusAccepted, OneTimeTokenRequestResponse{Status: oneTimeTokenStatusAccept})
	h.recordHTTPMetrics("ott_generate", r.Method, http.StatusAccepted, startTime)
	instrumentation.SetSpanSuccess(span)
}

// ServeOneTimeTokenLogin redeems the token carried by a login link.
func (h *Handler) ServeOneTimeTokenLogin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.startSpan(r.Context(), "one_time_token_login")
	defer span.End()
	logger := security.LoggerWithRequestID(ctx, h.logger)

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics("ott_login", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.server.ipResolver.Resolve(r)
	if h.server.LoginLimiter != nil && !h.server.LoginLimiter.Allow(clientIP) {
		logger.Warn("One-time token login attempts exceeded", "ip", clientIP)
		h.recordRateLimitExceeded(ctx, "one_time_token_login", clientIP, r.URL.Path)
		w.Header().Set("Retry-After", rateLimitRetryAfter)
		h.fail(w, span, "ott_login", r.Method, startTime,
			ErrRateLimitExceeded("Too many login attempts. Please try again later."))
		return
	}

	if err := r.ParseForm(); err != nil {
		instrumentation.RecordError(span, err)
		h.fail(w, span, "ott_login", r.Method, startTime, ErrInvalidRequest("Failed to parse request"))
		return
	}
	value := r.Form.Get(server.OneTimeTokenParameter)
	if value == "" {
		h.fail(w, span, "ott_login", r.Method, startTime, ErrInvalidRequest("token is required"))
		return
	}

	token, err := h.server.OneTimeTokens.Redeem(ctx, value, clientIP)
	if err != nil {
		logger.Error("Failed to redeem one-time token", "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
		h.fail(w, span, "ott_login", r.Method, startTime, ErrorFromError(err))
		return
	}
	if token == nil {
		h.fail(w, span, "ott_login", r.Method, startTime, ErrInvalidGrant("The one-time token is invalid or expired"))
		return
	}

	h.recordHTTPMetrics("ott_login", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	if onSuccess := h.server.Config.OneTimeToken.SuccessHandler; onSuccess != nil {
		onSuccess(w, r.WithContext(ctx), token.Username)
		return
	}
	h.writeJSON(w, http.StatusOK, OneTimeTokenLoginResponse{Username: token.Username})
}

// ============================================================
// Helper methods
// ============================================================

// authenticateClient resolves the client from HTTP Basic credentials
// (client_secret_basic), form credentials (client_secret_post) or a bare
// client_id (none). Presenting more than one method is an invalid_request.
func (h *Handler) authenticateClient(ctx context.Context, r *http.Request, clientIP string) (*grant.ClientPrincipal, *OAuthError) {
	form := r.PostForm
	if len(form[parameterClientID]) > 1 || len(form[parameterClientSecret]) > 1 {
		return nil, ErrInvalidRequest("client credentials must appear at most once")
	}
	formID := form.Get(parameterClientID)
	formSecret := form.Get(parameterClientSecret)

	var clientID, secret string
	var method authorization.ClientAuthenticationMethod

	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		if formSecret != "" {
			return nil, ErrInvalidRequest("multiple client authentication methods are not allowed")
		}
		// RFC 6749 section 2.3.1: credentials are form-urlencoded before Basic encoding.
		var err error
		if clientID, err = url.QueryUnescape(basicID); err != nil {
			return nil, ErrInvalidClient("Client authentication failed")
		}
		if secret, err = url.QueryUnescape(basicSecret); err != nil {
			return nil, ErrInvalidClient("Client authentication failed")
		}
		if formID != "" && formID != clientID {
			return nil, ErrInvalidRequest("client_id does not match the authenticated client")
		}
		method = authorization.ClientAuthenticationMethodClientSecretBasic
	} else {
		clientID, secret = formID, formSecret
		method = authorization.ClientAuthenticationMethodNone
		if secret != "" {
			method = authorization.ClientAuthenticationMethodClientSecretPost
		}
	}

	if clientID == "" {
		h.logAuthFailure(ctx, "", clientIP, "missing_client_id", "Client authentication missing")
		return nil, ErrInvalidClient("Client authentication required")
	}

	client, err := h.server.Clients.Authenticate(ctx, clientID, secret, method)
	if err != nil {
		if errors.Is(err, server.ErrClientAuthenticationFailed) {
			h.logAuthFailure(ctx, clientID, clientIP, "client_authentication_failed", "Client authentication failed")
			return nil, ErrInvalidClient("Client authentication failed")
		}
		h.logger.Error("Client lookup failed", "client_id", clientID, "error", err)
		return nil, ErrorFromError(err)
	}
	return &grant.ClientPrincipal{Client: client, Method: method}, nil
}

// logAuthFailure logs authentication failures with optional auditing.
func (h *Handler) logAuthFailure(ctx context.Context, clientID, clientIP, reason, message string) {
	h.logger.Warn(message, "client_id", clientID, "ip", clientIP)
	h.server.Auditor.LogAuthFailure(ctx, "", clientID, clientIP, reason)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP)
	h.recordRateLimitExceeded(r.Context(), "ip", clientIP, r.URL.Path)
	w.Header().Set("Retry-After", rateLimitRetryAfter)
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// recordRateLimitExceeded records rate limit metrics and audit events.
func (h *Handler) recordRateLimitExceeded(ctx context.Context, limitType, clientIP, endpoint string) {
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, limitType)
	}
	h.server.Auditor.LogEvent(ctx, security.Event{
		Type:      security.EventRateLimitExceeded,
		IPAddress: clientIP,
		Details:   map[string]any{"endpoint": endpoint, "limiter": limitType},
	})
}

// fail writes oe, records the request and marks the span as failed.
func (h *Handler) fail(w http.ResponseWriter, span trace.Span, endpoint, method string, startTime time.Time, oe *OAuthError) {
	if oe.Retryable && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "1")
	}
	h.writeError(w, oe.Code, oe.Description, oe.Status)
	h.recordHTTPMetrics(endpoint, method, oe.Status, startTime)
	span.SetAttributes(
		attribute.String(instrumentation.AttrError, oe.Code),
		attribute.String(instrumentation.AttrErrorDescription, oe.Description))
	instrumentation.SetSpanError(span, oe.Code)
}

// writeTokenResponse writes the token response for a. It writes nothing and
// returns false when a carries no access token.
func (h *Handler) writeTokenResponse(w http.ResponseWriter, a *authorization.Authorization) bool {
	if a == nil {
		return false
	}
	token := a.OAuth2Token()
	if token == nil {
		return false
	}

	expiresIn := int64(token.Expiry.Sub(h.server.now()).Round(time.Second).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}

	response := TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresIn:    expiresIn,
		RefreshToken: token.RefreshToken,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		response.Scope = scope
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		response.IDToken = idToken
	}

	h.writeJSON(w, http.StatusOK, response)
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	// RFC 6749 section 5.2: a failed Basic authentication is answered with a challenge.
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// recordHTTPMetrics records HTTP request metrics if instrumentation is enabled
func (h *Handler) recordHTTPMetrics(endpoint, method string, statusCode int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	duration := float64(time.Since(startTime).Milliseconds())
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, statusCode, duration)
}
