package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSetter is satisfied by *health.Server.
type StatusSetter interface {
	SetServingStatus(service string, servingStatus healthpb.HealthCheckResponse_ServingStatus)
}

// StartHealthProbe pings the store once immediately and then every interval,
// publishing the result for the overall server and for service.
func StartHealthProbe(ctx context.Context, interval, timeout time.Duration, store Pinger, health StatusSetter, service string, log *logrus.Entry) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log = log.WithField("job", "health_probe")

	probe := func() {
		tickCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ProbeOnce(tickCtx, store, health, service, log)
	}
	probe()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

func ProbeOnce(ctx context.Context, store Pinger, health StatusSetter, service string, log *logrus.Entry) bool {
	servingStatus := healthpb.HealthCheckResponse_SERVING
	err := store.Ping(ctx)
	if err != nil {
		servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
		log.WithError(err).Warn("store ping failed")
	}
	health.SetServingStatus("", servingStatus)
	health.SetServingStatus(service, servingStatus)
	return err == nil
}
