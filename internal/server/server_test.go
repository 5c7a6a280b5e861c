package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tubeshelf/accounts/config"
)

func validConfig() config.Config {
	return config.Config{
		StoreBackend: config.StoreBackendMemory,
		Auth: config.AuthConfig{
			AccessTokenSecret:  "access",
			AccessTokenExpiry:  time.Hour,
			RefreshTokenSecret: "refresh",
			RefreshTokenExpiry: 24 * time.Hour,
		},
		Media: config.MediaConfig{Backend: config.StorageBackendMinio},
		MQ:    config.MQConfig{Backend: config.MQBackendNone},
	}
}

func TestNewRejectsMissingSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.AccessTokenSecret = ""
	cfg.Auth.RefreshTokenSecret = ""

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	require.ErrorContains(t, err, "ACCESS_TOKEN_SECRET is required")
	require.ErrorContains(t, err, "REFRESH_TOKEN_SECRET is required")
}

func TestNewRejectsUnknownStoreBackend(t *testing.T) {
	cfg := validConfig()
	cfg.StoreBackend = "cassandra"

	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown STORE_BACKEND")
}

func TestCloseAllRunsInReverseOrder(t *testing.T) {
	var order []int
	s := &Server{}
	for i := range 3 {
		s.closers = append(s.closers, func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, s.closeAll(context.Background()))
	require.Equal(t, []int{2, 1, 0}, order)
	require.Empty(t, s.closers)
}
