package maintenance

import (
	"context"
	"reflect"

	"github.com/dura-io/duraq/internal/baseservice"
	"github.com/dura-io/duraq/internal/startstop"
)

// Maintainer groups the stalled-job sweeper and the repeat-job engine under
// a single Start/Stop call so the queue runtime doesn't have to manage each
// background service by hand.
type Maintainer struct {
	startstop.BaseStartStop
	baseservice.BaseService

	servicesByName map[string]startstop.Service
}

// NewMaintainer returns a Maintainer wrapping the given services. Service
// names are derived by type for use with GetService in tests.
func NewMaintainer(archetype *baseservice.Archetype, services []startstop.Service) *Maintainer {
	servicesByName := make(map[string]startstop.Service, len(services))
	for _, service := range services {
		servicesByName[reflect.TypeOf(service).Elem().Name()] = service
	}

	return baseservice.Init(archetype, &Maintainer{
		servicesByName: servicesByName,
	})
}

func (m *Maintainer) Start(ctx context.Context) error {
	ctx, shouldStart, started, stopped := m.StartInit(ctx)
	if !shouldStart {
		return nil
	}

	for _, service := range m.servicesByName {
		if err := service.Start(ctx); err != nil {
			return err
		}
	}

	started()

	go func() {
		defer stopped()

		<-ctx.Done()

		services := make([]startstop.Service, 0, len(m.servicesByName))
		for _, service := range m.servicesByName {
			services = append(services, service)
		}
		startstop.StopAllParallel(services)
	}()

	return nil
}

// GetService returns a wrapped service by its concrete type, for test use
// only: it panics if the type isn't present.
func GetService[T startstop.Service](m *Maintainer) T {
	var kindPtr T
	return m.servicesByName[reflect.TypeOf(kindPtr).Elem().Name()].(T) //nolint:forcetypeassert
}
