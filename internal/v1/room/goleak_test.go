package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/watchroom-dev/watchroom/backend/go/internal/v1/bus"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// BlockingBus simulates a Bus that spawns a long-running goroutine on
// Subscribe, mimicking the real Redis adapter's behavior.
type BlockingBus struct {
	*MockBusService
}

func (b *BlockingBus) Subscribe(ctx context.Context, roomCode string, wg *sync.WaitGroup, handler func(bus.PubSubPayload)) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer wg.Done()
		<-ctx.Done()
	}()
}

func TestRoom_ShutdownDrainsSubscriber(t *testing.T) {
	blockingBus := &BlockingBus{MockBusService: &MockBusService{}}

	r := NewRoom(context.Background(), "ABC123", Options{}, nil, blockingBus, "instance-1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	// Leak assertions are handled by TestMain's goleak.VerifyTestMain.
}
