package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/leakradar/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the configured Pusher, which is nil when pushing is off.
var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
)

// PeriodicModule additionally pushes the default registry on an interval and once more on stop.
var PeriodicModule = fx.Module("metrics.push.periodic",
	fx.Provide(NewPusher),
	fx.Invoke(startPeriodicPush),
)

// PushOnce pushes the default registry and logs instead of failing.
func PushOnce(ctx context.Context, pusher Pusher, log *zap.Logger) {
	if pusher == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	if err := pusher.Push(pushCtx, prometheus.DefaultGatherer); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
	}
}

func startPeriodicPush(lc fx.Lifecycle, cfg config.Config, pusher Pusher, log *zap.Logger) {
	if pusher == nil {
		return
	}
	interval := cfg.MetricsPush.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics push worker", zap.Duration("interval", interval))
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				for {
					select {
					case <-ticker.C:
						PushOnce(ctx, pusher, log)
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			<-done
			PushOnce(stopCtx, pusher, log)
			return nil
		},
	})
}
