package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/codec"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/security"
	"github.com/giantswarm/oauth-authz/storage"
)

// ErrClientAuthenticationFailed is returned by Authenticate for unknown
// clients, wrong secrets, expired secrets and disallowed methods alike.
var ErrClientAuthenticationFailed = errors.New("client authentication failed")

// dummySecretHash is compared against when the client does not exist so that
// unknown and known clients take the same time to reject.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ClientService registers and authenticates clients.
type ClientService struct {
	serviceTelemetry

	store   storage.ClientStore
	mapper  *storage.ClientMapper
	auditor *security.Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// NewClientService returns a service backed by store. Settings are encoded with c.
func NewClientService(store storage.ClientStore, c *codec.Codec, logger *slog.Logger) *ClientService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientService{
		store:  store,
		mapper: storage.NewClientMapper(c),
		logger: logger,
		now:    time.Now,
	}
}

// SetInstrumentation enables spans and registration metrics.
func (s *ClientService) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.setInstrumentation(inst)
}

// SetAuditor sets the auditor that receives registration events.
func (s *ClientService) SetAuditor(a *security.Auditor) {
	s.auditor = a
}

// Register stores c and returns the stored copy. Missing ids are generated,
// ClientIDIssuedAt defaults to now and a plaintext secret is replaced by its
// bcrypt hash. Without authentication methods a client with a secret gets
// client_secret_basic and one without gets none.
func (s *ClientService) Register(ctx context.Context, c *authorization.RegisteredClient) (_ *authorization.RegisteredClient, err error) {
	ctx, span := s.startSpan(ctx, "register_client")
	defer span.End()
	defer func() {
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	}()

	if c == nil {
		return nil, fmt.Errorf("register client: %w", ErrInvalidArgument)
	}

	registered := *c
	if registered.ID == "" {
		registered.ID = uuid.NewString()
	}
	if registered.ClientID == "" {
		registered.ClientID = uuid.NewString()
	}
	if registered.ClientIDIssuedAt.IsZero() {
		registered.ClientIDIssuedAt = s.now().UTC()
	}
	if registered.ClientSecret != "" && !isBcryptHash(registered.ClientSecret) {
		hash, err := HashSecret(registered.ClientSecret)
		if err != nil {
			return nil, err
		}
		registered.ClientSecret = hash
	}
	if len(registered.ClientAuthenticationMethods) == 0 {
		method := authorization.ClientAuthenticationMethodNone
		if registered.ClientSecret != "" {
			method = authorization.ClientAuthenticationMethodClientSecretBasic
		}
		registered.ClientAuthenticationMethods = []authorization.ClientAuthenticationMethod{method}
	}
	span.SetAttributes(attribute.String(instrumentation.AttrClientID, registered.ClientID))

	record, err := s.mapper.ToEntity(&registered)
	if err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}
	if err := s.store.SaveClient(ctx, record); err != nil {
		return nil, fmt.Errorf("register client %s: %w", registered.ClientID, err)
	}

	methods := make([]string, 0, len(registered.ClientAuthenticationMethods))
	for _, m := range registered.ClientAuthenticationMethods {
		methods = append(methods, m.String())
	}
	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx, methods[0])
	}
	s.auditor.LogClientRegistered(ctx, registered.ClientID, methods)
	s.logger.Info("Registered client",
		"client_id", registered.ClientID,
		"client_name", registered.ClientName,
		"authentication_methods", methods)

	return &registered, nil
}

// FindByID returns the client with the given internal id, or nil if there is none.
func (s *ClientService) FindByID(ctx context.Context, id string) (*authorization.RegisteredClient, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("find client by id: %w", ErrInvalidArgument)
	}
	record, err := s.store.GetClient(ctx, id)
	return s.toObject(record, err)
}

// FindByClientID returns the client with the given client_id, or nil if there is none.
func (s *ClientService) FindByClientID(ctx context.Context, clientID string) (*authorization.RegisteredClient, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("find client by client_id: %w", ErrInvalidArgument)
	}
	record, err := s.store.GetClientByClientID(ctx, clientID)
	return s.toObject(record, err)
}

func (s *ClientService) toObject(record *storage.ClientRecord, err error) (*authorization.RegisteredClient, error) {
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.mapper.ToObject(record)
}

// Authenticate verifies that clientID may authenticate with method and, for
// secret based methods, that secret matches the stored hash. Every failure
// is reported as ErrClientAuthenticationFailed.
func (s *ClientService) Authenticate(ctx context.Context, clientID, secret string, method authorization.ClientAuthenticationMethod) (*authorization.RegisteredClient, error) {
	ctx, span := s.startSpan(ctx, "authenticate_client",
		attribute.String(instrumentation.AttrClientID, clientID))
	defer span.End()

	client, err := s.FindByClientID(ctx, clientID)
	if err != nil && !errors.Is(err, ErrInvalidArgument) {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	hash := dummySecretHash
	if client != nil && client.ClientSecret != "" {
		hash = client.ClientSecret
	}
	secretErr := VerifySecret(hash, secret)

	reason := ""
	switch {
	case client == nil:
		reason = "unknown client"
	case !client.SupportsAuthenticationMethod(method):
		reason = fmt.Sprintf("authentication method %s not allowed", method)
	case method == authorization.ClientAuthenticationMethodNone:
		if secret != "" {
			reason = "secret presented for public client"
		}
	case client.ClientSecret == "":
		reason = "client has no secret"
	case client.IsSecretExpired(s.now()):
		reason = "client secret expired"
	case secretErr != nil:
		reason = "invalid client secret"
	}

	if reason != "" {
		instrumentation.SetSpanError(span, reason)
		s.logger.Debug("Client authentication failed",
			"client_id", clientID,
			"method", method.String(),
			"reason", reason)
		return nil, fmt.Errorf("%w: %s", ErrClientAuthenticationFailed, reason)
	}

	instrumentation.SetSpanSuccess(span)
	return client, nil
}

// GenerateClientSecret returns a fresh random client secret.
func GenerateClientSecret() string {
	return oauth2.GenerateVerifier()
}

// HashSecret returns the bcrypt hash of a secret or password.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret compares secret against a bcrypt hash.
func VerifySecret(hash, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
