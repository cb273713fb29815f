package backend

import (
	"context"

	"github.com/gravitational/trace"
	pool "github.com/jolestar/go-commons-pool/v2"
)

// probeFactory creates pooled probe clients for the health monitor.
type probeFactory struct {
	cfg Config
}

func (f probeFactory) MakeObject(ctx context.Context) (*pool.PooledObject, error) {
	probe, err := DialProbe(f.cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return pool.NewPooledObject(probe), nil
}

func (f probeFactory) DestroyObject(ctx context.Context, object *pool.PooledObject) error {
	probe, ok := object.Object.(*Probe)
	if !ok {
		return trace.BadParameter("pooled object is %T, not a probe", object.Object)
	}
	return probe.Close()
}

func (f probeFactory) ValidateObject(ctx context.Context, object *pool.PooledObject) bool {
	probe, ok := object.Object.(*Probe)
	if !ok {
		return false
	}
	return probe.Ping() == nil
}

func (f probeFactory) ActivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

func (f probeFactory) PassivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

// NewProbePool builds a pool of probe clients for the given backend.
func NewProbePool(ctx context.Context, cfg Config) *pool.ObjectPool {
	return pool.NewObjectPoolWithDefaultConfig(ctx, probeFactory{cfg: cfg})
}
