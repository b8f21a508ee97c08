package profiling

import (
	"testing"

	"smallbiznis-licensing/pkg/config"

	"github.com/grafana/pyroscope-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestProvideProfilingDisabledWithoutAddress(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	require.NoError(t, ProvideProfiling(lc, &config.Config{AppName: "licensing"}))
	lc.RequireStart().RequireStop()
}

func TestProfilerConfig(t *testing.T) {
	cfg := &config.Config{AppName: "licensing", AppEnv: "staging", AppVersion: "1.4.0"}
	cfg.Pyroscope.Addr = "http://pyroscope:4040"

	pc := profilerConfig(cfg)
	require.Equal(t, "licensing", pc.ApplicationName)
	require.Equal(t, "http://pyroscope:4040", pc.ServerAddress)
	require.Equal(t, "1.4.0", pc.Tags["version"])
	require.Contains(t, pc.ProfileTypes, pyroscope.ProfileCPU)
	require.NotContains(t, pc.ProfileTypes, pyroscope.ProfileMutexCount)
}
