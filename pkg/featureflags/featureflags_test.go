package featureflags

import (
	"context"
	"testing"

	"coin-settlement/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestEnabledWithoutClientUsesFallback(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})

	require.True(t, ff.Enabled(context.Background(), AutoPayouts, true))
	require.False(t, ff.Enabled(context.Background(), AutoPayouts, false))
}

func TestStatic(t *testing.T) {
	ff := Static(map[string]bool{AutoPayouts: false})

	require.False(t, ff.Enabled(context.Background(), AutoPayouts, true))
	require.True(t, ff.Enabled(context.Background(), WebhookArchive, true))
}
