package gen

import (
	"testing"

	"smallbiznis-licensing/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestNewSnowflakeNode(t *testing.T) {
	node, err := NewSnowflakeNode(&config.Config{NodeID: 7})
	require.NoError(t, err)

	a, b := node.Generate(), node.Generate()
	require.Equal(t, int64(7), a.Node())
	require.Less(t, a.Int64(), b.Int64())
	require.Len(t, a.String(), len(b.String()))
}

func TestNewSnowflakeNodeRejectsOutOfRange(t *testing.T) {
	_, err := NewSnowflakeNode(&config.Config{NodeID: 1 << 10})
	require.Error(t, err)
}
