package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/draymonix/pathlens/internal/event"
	pathplugin "github.com/draymonix/pathlens/pkg/plugin"
)

// stubPlugin implements pathplugin.Plugin plus every optional interface
// (Validator, HealthChecker, EventSubscriber) so registry tests can flip
// each behavior on a per-case basis.
type stubPlugin struct {
	name          string
	initCalled    bool
	validateErr   error
	health        pathplugin.HealthStatus
	subscriptions []pathplugin.Subscription
	onStart       func()
	onStop        func()
}

func newStubPlugin(name string) *stubPlugin {
	return &stubPlugin{name: name}
}

func (p *stubPlugin) Name() string    { return p.name }
func (p *stubPlugin) Version() string { return "0.0.1" }

func (p *stubPlugin) Init(_ *viper.Viper, _ *zap.Logger) error {
	p.initCalled = true
	return nil
}

func (p *stubPlugin) Start(_ context.Context) error {
	if p.onStart != nil {
		p.onStart()
	}
	return nil
}

func (p *stubPlugin) Stop() error {
	if p.onStop != nil {
		p.onStop()
	}
	return nil
}

func (p *stubPlugin) Routes() []pathplugin.Route { return nil }

func (p *stubPlugin) Health(_ context.Context) pathplugin.HealthStatus { return p.health }

func (p *stubPlugin) Subscriptions() []pathplugin.Subscription { return p.subscriptions }

func (p *stubPlugin) ValidateConfig() error { return p.validateErr }

func TestRegistry_RegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Register(newStubPlugin("a")))
	assert.Error(t, r.Register(newStubPlugin("a")))
}

func TestRegistry_InitAllSkipsDisabledPlugin(t *testing.T) {
	r := NewRegistry(nil, nil)
	p := newStubPlugin("a")
	require.NoError(t, r.Register(p))

	v := viper.New()
	v.Set("plugins.a.enabled", false)

	require.NoError(t, r.InitAll(v))
	assert.False(t, p.initCalled)
}

func TestRegistry_InitAllRunsValidator(t *testing.T) {
	r := NewRegistry(nil, nil)
	p := newStubPlugin("a")
	p.validateErr = assertError{"bad config"}
	require.NoError(t, r.Register(p))

	err := r.InitAll(viper.New())
	assert.ErrorContains(t, err, "bad config")
}

func TestRegistry_InitAllSubscribesEventHandlers(t *testing.T) {
	bus := event.NewBus(nil)
	r := NewRegistry(nil, bus)
	p := newStubPlugin("a")
	received := make(chan struct{}, 1)
	p.subscriptions = []pathplugin.Subscription{
		{Topic: "ping", Handler: func(_ context.Context, _ pathplugin.Event) { received <- struct{}{} }},
	}
	require.NoError(t, r.Register(p))
	require.NoError(t, r.InitAll(viper.New()))

	bus.PublishAsync(context.Background(), pathplugin.Event{Topic: "ping"})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestRegistry_AggregateHealth(t *testing.T) {
	r := NewRegistry(nil, nil)
	p := newStubPlugin("a")
	p.health = pathplugin.HealthStatus{Healthy: true}
	require.NoError(t, r.Register(p))
	require.NoError(t, r.InitAll(viper.New()))

	statuses := r.AggregateHealth(context.Background())
	assert.True(t, statuses["a"].Healthy)
}

func TestRegistry_StartStopOrder(t *testing.T) {
	r := NewRegistry(nil, nil)
	var order []string
	a := newStubPlugin("a")
	a.onStart = func() { order = append(order, "start-a") }
	a.onStop = func() { order = append(order, "stop-a") }
	b := newStubPlugin("b")
	b.onStart = func() { order = append(order, "start-b") }
	b.onStop = func() { order = append(order, "stop-b") }

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.NoError(t, r.InitAll(viper.New()))
	require.NoError(t, r.StartAll(context.Background()))
	r.StopAll()

	assert.Equal(t, []string{"start-a", "start-b", "stop-b", "stop-a"}, order)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
