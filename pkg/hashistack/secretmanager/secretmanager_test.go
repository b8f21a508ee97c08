package secretmanager

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestEnabled(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	require.False(t, Enabled())

	t.Setenv("VAULT_ADDR", "http://vault:8200")
	require.True(t, Enabled())

	client, err := ProvideVault()
	require.NoError(t, err)
	require.NotNil(t, client)
}
