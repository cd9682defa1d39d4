package appctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vulntor/scanpilot/pkg/config"
)

func TestWithConfig(t *testing.T) {
	manager := config.NewManager()
	ctx := WithConfig(context.Background(), manager)

	got, ok := Config(ctx)
	require.True(t, ok)
	require.Same(t, manager, got)
}

func TestWithConfig_NilContext(t *testing.T) {
	manager := config.NewManager()
	//nolint:staticcheck
	ctx := WithConfig(nil, manager)

	got, ok := Config(ctx)
	require.True(t, ok)
	require.Same(t, manager, got)
}

func TestConfig_Missing(t *testing.T) {
	_, ok := Config(context.Background())
	require.False(t, ok)

	//nolint:staticcheck
	_, ok = Config(nil)
	require.False(t, ok)

	var nilMgr *config.Manager
	_, ok = Config(WithConfig(context.Background(), nilMgr))
	require.False(t, ok)
}

func TestMustConfig(t *testing.T) {
	require.Equal(t, config.DefaultConfig(), MustConfig(context.Background()))

	manager := config.NewManager()
	require.NoError(t, manager.Load(&config.DefaultSource{}))
	require.Equal(t, manager.Get(), MustConfig(WithConfig(context.Background(), manager)))
}
