package maintenance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dura-io/duraq/internal/startstop"
	"github.com/dura-io/duraq/internal/storage"
)

func TestMaintainerStartsAndStopsAllServices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := storage.NewMemory()
	sweeper := NewStalledSweeper(repeatTestArchetype(), store, 0, nil)
	engine := NewRepeatEngine(repeatTestArchetype(), store, seqIDs())

	m := NewMaintainer(repeatTestArchetype(), []startstop.Service{sweeper, engine})
	require.NoError(t, m.Start(ctx))

	<-sweeper.Started()
	<-engine.Started()

	got := GetService[*StalledSweeper](m)
	require.Same(t, sweeper, got)

	sweeperStopped := sweeper.Stopped()

	m.Stop()

	select {
	case <-sweeperStopped:
	default:
		t.Fatal("sweeper did not stop")
	}
}

func TestMaintainerStopWithoutStart(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	sweeper := NewStalledSweeper(repeatTestArchetype(), store, 0, nil)

	m := NewMaintainer(repeatTestArchetype(), []startstop.Service{sweeper})
	m.Stop()
}
