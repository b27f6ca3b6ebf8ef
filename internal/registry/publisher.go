package registry

import (
	"context"
	"time"

	"github.com/zsiec/lockstep/internal/logger"
	"github.com/zsiec/lockstep/internal/metrics"
	lsync "github.com/zsiec/lockstep/internal/sync"
	"github.com/zsiec/lockstep/pkg/version"
)

// SnapshotSource is satisfied by *sync.Engine.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (lsync.SessionSnapshot, error)
}

// Publisher periodically copies the engine's session into a Registry.
type Publisher struct {
	source   SnapshotSource
	registry Registry
	instance string
	interval time.Duration
	log      logger.Logger
}

// NewPublisher creates a publisher for one instance.
func NewPublisher(source SnapshotSource, reg Registry, instance string, interval time.Duration, log logger.Logger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Publisher{
		source:   source,
		registry: reg,
		instance: instance,
		interval: interval,
		log:      logger.WithComponent(log, "publisher").WithField("instance", instance),
	}
}

// Run publishes immediately and then on every interval until ctx is done.
// On exit the instance's records are withdrawn.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.WithField("interval", p.interval.String()).Info("Status publisher started")
	_ = p.PublishOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := p.registry.Withdraw(wctx, p.instance); err != nil {
				p.log.WithError(err).Warn("Failed to withdraw status records")
			}
			cancel()
			p.log.Info("Status publisher stopped")
			return nil
		case <-ticker.C:
			_ = p.PublishOnce(ctx)
		}
	}
}

// PublishOnce takes one snapshot and writes it.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	snap, err := p.source.Snapshot(pctx)
	if err != nil {
		metrics.RecordRegistryPublish(err)
		p.log.WithError(err).Debug("Snapshot unavailable")
		return err
	}

	session, streams := FromSnapshot(p.instance, version.GetInfo().Version, snap)
	err = p.registry.Publish(pctx, session, streams)
	metrics.RecordRegistryPublish(err)
	if err != nil {
		p.log.WithError(err).Warn("Failed to publish status")
	}
	return err
}
