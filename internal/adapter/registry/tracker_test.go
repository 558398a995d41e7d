package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/logger"
)

func newTracker() *SessionTracker {
	return NewSessionTracker(logger.NewTestLogger())
}

func TestSessionTracker_BindLookupUnbind(t *testing.T) {
	tracker := newTracker()
	a := domain.NewEndpoint("a", 1059, "")

	tracker.Bind("s1", a)
	require.Equal(t, a, tracker.Lookup("s1"))

	tracker.Unbind("s1")
	assert.Nil(t, tracker.Lookup("s1"))

	// Unbinding again is a no-op.
	tracker.Unbind("s1")
}

func TestSessionTracker_BindRejectsInvalidInput(t *testing.T) {
	tracker := newTracker()
	a := domain.NewEndpoint("a", 1059, "")

	tracker.Bind("", a)
	tracker.Bind("s1", nil)

	assert.Equal(t, 0, tracker.Len())
	assert.Nil(t, tracker.Lookup("s1"))
}

func TestSessionTracker_BindOverwrites(t *testing.T) {
	tracker := newTracker()
	a := domain.NewEndpoint("a", 1059, "")
	b := domain.NewEndpoint("b", 1059, "")

	tracker.Bind("s1", a)
	tracker.Bind("s1", b)

	assert.Equal(t, b, tracker.Lookup("s1"))
	assert.Equal(t, 1, tracker.Len())
}

func TestSessionTracker_LookupNeverSynthesises(t *testing.T) {
	tracker := newTracker()
	assert.Nil(t, tracker.Lookup("ghost"))
	assert.Equal(t, 0, tracker.Len())
}

func TestSessionTracker_RecordConnect(t *testing.T) {
	tracker := newTracker()
	a := domain.NewEndpoint("a", 1059, "")
	b := domain.NewEndpoint("b", 1059, "")

	tracker.RecordConnect("hash-1", a)
	tracker.RecordConnect("hash-1", b)
	tracker.RecordConnect("hash-1", a) // duplicate

	endpoints := tracker.ConnectedEndpoints("hash-1")
	assert.Len(t, endpoints, 2)

	tracker.ForgetConnection("hash-1")
	assert.Empty(t, tracker.ConnectedEndpoints("hash-1"))
}

func TestSessionTracker_InvalidateEndpoint(t *testing.T) {
	tracker := newTracker()
	a := domain.NewEndpoint("a", 1059, "")
	b := domain.NewEndpoint("b", 1059, "")

	tracker.Bind("s1", a)
	tracker.Bind("s2", a)
	tracker.Bind("s3", b)

	dropped := tracker.InvalidateEndpoint(a)
	assert.ElementsMatch(t, []string{"s1", "s2"}, dropped)

	assert.Nil(t, tracker.Lookup("s1"))
	assert.Nil(t, tracker.Lookup("s2"))
	assert.Equal(t, b, tracker.Lookup("s3"))
}

func TestSessionTracker_CountFor(t *testing.T) {
	tracker := newTracker()
	a := domain.NewEndpoint("a", 1059, "")
	b := domain.NewEndpoint("b", 1059, "")

	for i := 0; i < 4; i++ {
		tracker.Bind(fmt.Sprintf("a-%d", i), a)
	}
	tracker.Bind("b-0", b)

	assert.Equal(t, 4, tracker.CountFor(a))
	assert.Equal(t, 1, tracker.CountFor(b))
	assert.Equal(t, 0, tracker.CountFor(domain.NewEndpoint("c", 1059, "")))
}

func TestSessionTracker_ConcurrentBindings(t *testing.T) {
	tracker := newTracker()
	a := domain.NewEndpoint("a", 1059, "")
	b := domain.NewEndpoint("b", 1059, "")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", n)
			if n%2 == 0 {
				tracker.Bind(id, a)
			} else {
				tracker.Bind(id, b)
			}
			tracker.Lookup(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, tracker.Len())
	assert.Equal(t, 25, tracker.CountFor(a))
	assert.Equal(t, 25, tracker.CountFor(b))
}

func TestEndpointRegistry_HealthSubsets(t *testing.T) {
	a := domain.NewEndpoint("a", 1059, "")
	b := domain.NewEndpoint("b", 1059, "")
	c := domain.NewEndpoint("c", 1059, "")
	reg := NewEndpointRegistry(a, b, c)

	b.MarkUnhealthy(1)

	assert.Len(t, reg.GetAll(), 3)
	assert.Len(t, reg.GetHealthy(), 2)
	assert.Len(t, reg.GetUnhealthy(), 1)

	got, ok := reg.Get("b:1059")
	require.True(t, ok)
	assert.Equal(t, b, got)

	// Re-adding an existing endpoint does not duplicate it.
	reg.Add(domain.NewEndpoint("a", 1059, ""))
	assert.Equal(t, 3, reg.Len())
}
