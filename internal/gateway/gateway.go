// Package gateway ties the router, the sensor registry and the MQTT
// forwarders together so sensors can be attached at start-up or at runtime.
package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/banshee-data/canfd.gateway/internal/canfd"
	"github.com/banshee-data/canfd.gateway/internal/monitoring"
	"github.com/banshee-data/canfd.gateway/internal/router"
	"github.com/banshee-data/canfd.gateway/internal/sensor"
)

// Forwarder drains one sensor queue. *mqttsink.Forwarder implements it.
type Forwarder interface {
	Run(ctx context.Context, sensorID string, frames <-chan canfd.Frame) error
}

// Gateway owns the consumers of every attached sensor queue.
type Gateway struct {
	ctx      context.Context
	router   *router.Router
	registry *sensor.Registry
	fwd      Forwarder

	// mu orders forwarder starts against Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns a gateway. With a nil forwarder attached queues are left for
// other consumers, and only hold the newest frames.
func New(ctx context.Context, r *router.Router, registry *sensor.Registry, fwd Forwarder) *Gateway {
	return &Gateway{ctx: ctx, router: r, registry: registry, fwd: fwd}
}

// AttachSensor attaches a sensor and, when a forwarder is configured, starts
// draining its queue until the sensor is detached or the gateway stops.
// After Close it returns sensor.ErrRegistryClosed.
func (g *Gateway) AttachSensor(id string, receiverID uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return sensor.ErrRegistryClosed
	}
	ch, err := g.router.AttachSensor(id, receiverID)
	if err != nil {
		return err
	}
	if g.fwd == nil {
		return nil
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.fwd.Run(g.ctx, id, ch); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("gateway: forwarder for sensor %s stopped: %v", id, err)
		}
	}()
	return nil
}

// DetachSensor detaches the sensor. Its forwarder exits once the queue
// drains.
func (g *Gateway) DetachSensor(id string) error {
	return g.router.DetachSensor(id)
}

// Sensors returns the attached sensors ordered by id.
func (g *Gateway) Sensors() []*sensor.Subscription {
	return g.registry.Snapshot()
}

// State returns the router state.
func (g *Gateway) State() router.State { return g.router.State() }

// Stats returns the router counters.
func (g *Gateway) Stats() router.Stats { return g.router.Stats() }

// Err returns the error the router stopped with.
func (g *Gateway) Err() error { return g.router.Err() }

// Close detaches every sensor and waits for the forwarders to finish.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.registry.Close()
	g.wg.Wait()
}
