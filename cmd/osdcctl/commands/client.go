package commands

import (
	"context"

	"github.com/marmos91/osdc/internal/demo"
	"github.com/marmos91/osdc/internal/logger"
	"github.com/marmos91/osdc/internal/telemetry"
	"github.com/marmos91/osdc/pkg/config"
	"github.com/marmos91/osdc/pkg/osdclient"
)

// newDemoClient builds an OSD client wired against the in-memory
// loopback transport and single-osd fake map, for CLI demos. The
// returned shutdown func stops both the client and the profiler (if
// profiling is enabled) and must be deferred by every caller.
func newDemoClient() (*osdclient.Client, func()) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		Exit("config: %v", err)
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		Exit("logger: %v", err)
	}

	stopProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:      cfg.Profiling.Enabled,
		ServiceName:  cfg.Profiling.ServiceName,
		Endpoint:     cfg.Profiling.Endpoint,
		ProfileTypes: cfg.Profiling.ProfileTypes,
	})
	if err != nil {
		Exit("profiling: %v", err)
	}

	m := demo.NewFakeMap("osd0:6800")

	var c *osdclient.Client
	dialer := &demo.Dialer{
		OnReply: func(ctx context.Context, msg []byte) {
			c.OnReply(ctx, msg)
		},
	}

	c = osdclient.Init(osdclient.Config{
		Map:        m,
		Dialer:     dialer,
		Monitor:    demo.NoopMonitor{},
		Decoder:    demo.NoopDecoder{},
		Pinger:     demo.NoopPinger{},
		LocalFSID:  "demo-fs",
		OsdTimeout: cfg.OsdTimeout,
	})

	shutdown := func() {
		c.Stop()
		_ = stopProfiling()
	}
	return c, shutdown
}
