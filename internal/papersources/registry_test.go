package papersources

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockService struct {
	name     string
	enabled  bool
	probeErr error
	probed   bool
}

func (m *mockService) Name() string    { return m.name }
func (m *mockService) IsEnabled() bool { return m.enabled }

type mockProber struct {
	*mockService
}

func (m mockProber) Probe(ctx context.Context) error {
	m.probed = true
	return m.probeErr
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.All())

	ads := &mockService{name: "ads", enabled: true}
	r.Register(ads)

	assert.Same(t, ads, r.Get("ads"))
	assert.Nil(t, r.Get("missing"))

	replacement := &mockService{name: "ads", enabled: false}
	r.Register(replacement)
	assert.Same(t, replacement, r.Get("ads"))
	assert.Len(t, r.All(), 1)
}

func TestRegistry_Enabled(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockService{name: "semantic_scholar", enabled: false})
	r.Register(&mockService{name: "ads", enabled: true})

	enabled := r.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "ads", enabled[0].Name())

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "ads", all[0].Name(), "sorted by name")
}

func TestRegistry_ProbeAll(t *testing.T) {
	r := NewRegistry()
	healthy := &mockService{name: "ads", enabled: true}
	broken := &mockService{name: "broken", enabled: true, probeErr: errors.New("dial tcp: refused")}
	disabled := &mockService{name: "semantic_scholar", enabled: false}
	plain := &mockService{name: "zz_plain", enabled: true}

	r.Register(mockProber{healthy})
	r.Register(mockProber{broken})
	r.Register(mockProber{disabled})
	r.Register(plain)

	results := r.ProbeAll(context.Background())
	require.Len(t, results, 4)

	byName := map[string]ProbeResult{}
	for _, res := range results {
		byName[res.Name] = res
	}

	assert.True(t, byName["ads"].Healthy)
	assert.True(t, healthy.probed)
	assert.False(t, byName["broken"].Healthy)
	assert.Equal(t, "dial tcp: refused", byName["broken"].Error)
	assert.False(t, byName["semantic_scholar"].Enabled)
	assert.False(t, disabled.probed, "disabled services are not probed")
	assert.True(t, byName["zz_plain"].Healthy)
}

func TestRegistry_ProbeAllEmpty(t *testing.T) {
	assert.Nil(t, NewRegistry().ProbeAll(context.Background()))
}
