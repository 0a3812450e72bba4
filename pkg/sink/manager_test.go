package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder collects published events. Connect fails until failures reaches 0.
type recorder struct {
	mu           sync.Mutex
	events       []broker.Event
	config       map[string]any
	failures     int
	pubErr       error
	block        chan struct{}
	disconnected bool
}

func (r *recorder) Connect(config json.RawMessage, _ *zap.Logger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("not yet")
	}
	return json.Unmarshal(config, &r.config)
}

func (r *recorder) Pub(_ context.Context, e broker.Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.pubErr
}

func (r *recorder) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = true
	return nil
}

func (r *recorder) received() []broker.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broker.Event(nil), r.events...)
}

// register installs a single recorder instance under a test-specific name.
func register(t *testing.T, r *recorder) string {
	t.Helper()
	name := "recorder-" + t.Name()
	RegisterConnector(name, func() Connector { return r })
	return name
}

func event(table, id string) broker.Event {
	return broker.Event{Type: ingest.OpUpdate, Table: table, ID: id, Value: json.RawMessage(`{}`)}
}

func TestManagerDispatch(t *testing.T) {
	all := &recorder{}
	sensorsOnly := &recorder{}

	m := NewManager(zap.NewNop())
	err := m.Init(context.Background(), []Config{
		{Name: "all", Connector: register(t, all), Config: map[string]any{"topic": "x"}},
		{Name: "sensors", Connector: "recorder-sensors", Tables: []string{"Sens*"}},
	})
	require.Error(t, err, "unregistered connector")

	RegisterConnector("recorder-sensors", func() Connector { return sensorsOnly })
	m = NewManager(zap.NewNop())
	require.NoError(t, m.Init(context.Background(), []Config{
		{Name: "all", Connector: register(t, all), Config: map[string]any{"topic": "x"}},
		{Name: "sensors", Connector: "recorder-sensors", Tables: []string{"Sens*"}},
	}))
	assert.Equal(t, []string{"all", "sensors"}, m.Names())
	assert.Equal(t, map[string]any{"topic": "x"}, all.config)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	m.Start(ctx, &wg)

	m.Dispatch(event("Sensors", "101"))
	m.Dispatch(event("Dogs", "1"))

	require.Eventually(t, func() bool {
		return len(all.received()) == 2 && len(sensorsOnly.received()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "101", sensorsOnly.received()[0].ID)

	cancel()
	wg.Wait()
	m.Close()
	assert.True(t, all.disconnected)
	assert.True(t, sensorsOnly.disconnected)
}

func TestManagerConnectRetry(t *testing.T) {
	r := &recorder{failures: 2}
	m := NewManager(zap.NewNop())
	require.NoError(t, m.Init(context.Background(), []Config{{Connector: register(t, r)}}))
	assert.Equal(t, []string{register(t, r)}, m.Names(), "name defaults to connector")
}

func TestManagerConnectGivesUp(t *testing.T) {
	r := &recorder{failures: 1000}
	m := NewManager(zap.NewNop())
	m.MaxConnectTime = 50 * time.Millisecond

	err := m.Init(context.Background(), []Config{{Name: "never", Connector: register(t, r)}})
	assert.ErrorContains(t, err, "never")
}

func TestManagerInvalidTablePattern(t *testing.T) {
	m := NewManager(zap.NewNop())
	err := m.Init(context.Background(), []Config{{Connector: register(t, &recorder{}), Tables: []string{"[bad"}}})
	assert.Error(t, err)
}

func TestManagerDropsWhenFull(t *testing.T) {
	r := &recorder{block: make(chan struct{})}
	m := NewManager(zap.NewNop())
	require.NoError(t, m.Init(context.Background(), []Config{{Connector: register(t, r), Buffer: 1}}))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	m.Start(ctx, &wg)

	// first event is taken by the blocked worker, second fills the buffer
	m.Dispatch(event("Sensors", "1"))
	require.Eventually(t, func() bool { return len(m.sinks[0].ch) == 0 }, time.Second, time.Millisecond)
	m.Dispatch(event("Sensors", "2"))
	m.Dispatch(event("Sensors", "3"))

	close(r.block)
	require.Eventually(t, func() bool { return len(r.received()) == 2 }, time.Second, 10*time.Millisecond)
	ids := []string{r.received()[0].ID, r.received()[1].ID}
	assert.Equal(t, []string{"1", "2"}, ids)

	cancel()
	wg.Wait()
	m.Close()
}

func TestManagerDispatchDuringClose(t *testing.T) {
	r := &recorder{}
	m := NewManager(zap.NewNop())
	require.NoError(t, m.Init(context.Background(), []Config{{Connector: register(t, r), Buffer: 1000}}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m.Dispatch(event("Sensors", "1"))
			}
		}()
	}
	m.Close()
	wg.Wait()

	assert.True(t, r.disconnected)
	assert.Empty(t, m.Names())
	m.Dispatch(event("Sensors", "2"))
}

func TestConnectors(t *testing.T) {
	register(t, &recorder{})
	assert.Contains(t, Connectors(), "recorder-TestConnectors")

	_, err := NewConnector("missing")
	assert.Error(t, err)
}
