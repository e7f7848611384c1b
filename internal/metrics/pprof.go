package metrics

import (
	"github.com/grafana/pyroscope-go"
)

type PProfConfig struct {
	AppInstanceID string
	AppName       string
	ServerAddr    string
}

// InitPProf starts continuous profiling when ServerAddr is configured; an
// empty address disables it rather than erroring, since the simplified
// MetricsConfig carries one optional URL rather than a nested block.
func InitPProf(cfg *PProfConfig) (*pyroscope.Profiler, error) {
	if cfg.ServerAddr == "" {
		return nil, nil
	}

	pTags := map[string]string{
		"instance": cfg.AppInstanceID,
	}

	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.ServerAddr,
		Logger:          pyroscope.StandardLogger,
		Tags:            pTags,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,

			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,

			pyroscope.ProfileGoroutines,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		},
	})
}
