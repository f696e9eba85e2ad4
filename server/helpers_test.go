package server

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/giantswarm/oauth-authz/authorization"
	"github.com/giantswarm/oauth-authz/instrumentation"
	"github.com/giantswarm/oauth-authz/internal/testutil"
	"github.com/giantswarm/oauth-authz/storage/memory"
)

const (
	testClientID         = "client-1"
	testClientIdentifier = "test-client"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestStore returns a memory store that already holds the test client.
func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	require.NoError(t, store.SaveClient(context.Background(),
		testutil.GenerateTestClientRecord(testClientID, testClientIdentifier)))
	return store
}

func newTestInstrumentation(t *testing.T) (*instrumentation.Instrumentation, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MetricReader: reader})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, reader
}

// counterTotal sums all data points of an int64 counter.
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

// newTestAuthorization builds an aggregate for the test client. Empty values
// leave the slot absent.
func newTestAuthorization(id, state, access, refresh string) *authorization.Authorization {
	now := time.Now().UTC().Truncate(time.Microsecond)
	a := &authorization.Authorization{
		ID:                 id,
		RegisteredClientID: testClientID,
		PrincipalName:      "alice",
		GrantType:          authorization.GrantTypePassword,
		AuthorizedScopes:   []string{"read"},
	}
	if state != "" {
		a.SetState(state)
	}
	if access != "" {
		a.AccessToken = &authorization.AccessToken{
			Token:     authorization.Token{Value: access, IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
			TokenType: authorization.TokenTypeAccessTokenBearer,
			Scopes:    []string{"read"},
		}
	}
	if refresh != "" {
		a.RefreshToken = &authorization.Token{Value: refresh, IssuedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	}
	return a
}
