package events

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgevents "github.com/floroz/auctioneer/pkg/events"
	"github.com/floroz/auctioneer/services/bid-service/internal/adapters/memory"
)

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Suspend(ctx context.Context, userID uuid.UUID, until time.Time) error {
	return m.Called(ctx, userID, until).Error(0)
}

func (m *MockRegistry) Reinstate(ctx context.Context, userID uuid.UUID) error {
	return m.Called(ctx, userID).Error(0)
}

func payload(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	body, err := pkgevents.MarshalPayload(fields)
	require.NoError(t, err)
	return body
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSuspensionConsumer_Handle(t *testing.T) {
	ctx := context.Background()
	registry := memory.NewSuspensions()
	consumer := NewSuspensionConsumer(nil, registry, "", testLogger())
	userID := uuid.New()

	t.Run("Suspends Until Ban End", func(t *testing.T) {
		err := consumer.handle(ctx, RoutingKeyUserSuspended, payload(t, map[string]any{
			"user_id":     userID.String(),
			"ban_ends_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		}))
		require.NoError(t, err)

		suspended, err := registry.IsSuspended(ctx, userID)
		require.NoError(t, err)
		assert.True(t, suspended)
	})

	t.Run("Reinstates", func(t *testing.T) {
		err := consumer.handle(ctx, RoutingKeyUserReinstated, payload(t, map[string]any{"user_id": userID.String()}))
		require.NoError(t, err)

		suspended, err := registry.IsSuspended(ctx, userID)
		require.NoError(t, err)
		assert.False(t, suspended)
	})

	t.Run("Missing End Means Permanent", func(t *testing.T) {
		other := uuid.New()
		err := consumer.handle(ctx, RoutingKeyUserSuspended, payload(t, map[string]any{"user_id": other.String()}))
		require.NoError(t, err)

		suspended, err := registry.IsSuspended(ctx, other)
		require.NoError(t, err)
		assert.True(t, suspended)
	})

	malformed := []struct {
		name       string
		routingKey string
		body       []byte
	}{
		{"Not A Payload", RoutingKeyUserSuspended, []byte{0xff, 0x01}},
		{"Bad User ID", RoutingKeyUserSuspended, payload(t, map[string]any{"user_id": "nope"})},
		{"Bad Ban End", RoutingKeyUserSuspended, payload(t, map[string]any{"user_id": userID.String(), "ban_ends_at": "tomorrow"})},
		{"Unknown Routing Key", "user.deleted", payload(t, map[string]any{"user_id": userID.String()})},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			err := consumer.handle(ctx, tt.routingKey, tt.body)
			require.ErrorIs(t, err, errMalformedEvent)
		})
	}
}

func TestSuspensionConsumer_RegistryFailureIsRetryable(t *testing.T) {
	registry := new(MockRegistry)
	consumer := NewSuspensionConsumer(nil, registry, "", testLogger())
	userID := uuid.New()

	registry.On("Reinstate", mock.Anything, userID).Return(errors.New("redis down"))

	err := consumer.handle(context.Background(), RoutingKeyUserReinstated, payload(t, map[string]any{"user_id": userID.String()}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, errMalformedEvent)
	registry.AssertExpectations(t)
}
