package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bottled-honey/bottled-honey/internal/events"
)

// ErrNotConnected is returned by exporters whose transport is down.
var ErrNotConnected = errors.New("exporter is not connected")

// Exporter ships finished captures to one destination.
type Exporter interface {
	Name() string
	Export(ctx context.Context, event events.Event) error
	Shutdown(ctx context.Context) error
}

// Pipeline subscribes exporters to the capture bus and accounts for their
// results.
type Pipeline struct {
	mu        sync.Mutex
	bus       *events.Bus
	metrics   *Metrics
	timeout   time.Duration
	exporters []Exporter
}

// NewPipeline creates a pipeline. Every Export call is bounded by timeout.
// metrics may be nil.
func NewPipeline(bus *events.Bus, metrics *Metrics, timeout time.Duration) *Pipeline {
	p := &Pipeline{
		bus:     bus,
		metrics: metrics,
		timeout: timeout,
	}
	bus.OnError(p.onError)
	return p
}

// Add subscribes an exporter. Names must be unique.
func (p *Pipeline) Add(exp Exporter) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.exporters {
		if existing.Name() == exp.Name() {
			return fmt.Errorf("exporter %q already registered", exp.Name())
		}
	}
	p.exporters = append(p.exporters, exp)

	name := exp.Name()
	p.bus.Subscribe(name, func(ctx context.Context, event events.Event) error {
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
		if err := exp.Export(ctx, event); err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.Exported(name)
		}
		return nil
	})

	log.Info().Str("exporter", name).Msg("capture exporter registered")
	return nil
}

// Names returns the registered exporter names in registration order.
func (p *Pipeline) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.exporters))
	for i, exp := range p.exporters {
		names[i] = exp.Name()
	}
	return names
}

// Shutdown unsubscribes and shuts down every exporter, in reverse order of
// registration. The bus should be stopped first so queued captures flush.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	exporters := p.exporters
	p.exporters = nil
	p.mu.Unlock()

	var errs []error
	for i := len(exporters) - 1; i >= 0; i-- {
		exp := exporters[i]
		p.bus.Unsubscribe(exp.Name())
		if err := exp.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Str("exporter", exp.Name()).Msg("exporter shutdown failed")
			errs = append(errs, fmt.Errorf("%s: %w", exp.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) onError(handler string, err error) {
	if p.metrics != nil {
		p.metrics.ExportFailed(handler)
	}
}
