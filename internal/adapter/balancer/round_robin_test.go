package balancer

import (
	"context"
	"testing"

	"github.com/openjproxy/ojp/internal/core/domain"
)

func createEndpoint(host string, port int) *domain.Endpoint {
	return domain.NewEndpoint(host, port, "")
}

func createUnhealthyEndpoint(host string, port int) *domain.Endpoint {
	e := domain.NewEndpoint(host, port, "")
	e.MarkUnhealthy(1)
	return e
}

func TestNewRoundRobinSelector(t *testing.T) {
	selector := NewRoundRobinSelector()

	if selector == nil {
		t.Fatal("NewRoundRobinSelector returned nil")
	}

	if selector.Name() != DefaultBalancerRoundRobin {
		t.Errorf("Expected name %q, got %q", DefaultBalancerRoundRobin, selector.Name())
	}

	// Counter should start at 0
	if selector.counter != 0 {
		t.Errorf("Expected counter to start at 0, got %d", selector.counter)
	}
}

func TestRoundRobinSelector_Select_NoEndpoints(t *testing.T) {
	selector := NewRoundRobinSelector()
	ctx := context.Background()

	endpoint, err := selector.Select(ctx, []*domain.Endpoint{})
	if err == nil {
		t.Error("Expected error for empty endpoints")
	}
	if endpoint != nil {
		t.Error("Expected nil endpoint for empty slice")
	}
	if domain.KindOf(err) != domain.KindNoHealthyServer {
		t.Errorf("Expected no-healthy-server kind, got %v", domain.KindOf(err))
	}
}

func TestRoundRobinSelector_Select_NoHealthyEndpoints(t *testing.T) {
	selector := NewRoundRobinSelector()
	ctx := context.Background()

	endpoints := []*domain.Endpoint{
		createUnhealthyEndpoint("node-1", 1059),
		createUnhealthyEndpoint("node-2", 1059),
	}

	endpoint, err := selector.Select(ctx, endpoints)
	if err == nil {
		t.Error("Expected error for no healthy endpoints")
	}
	if endpoint != nil {
		t.Error("Expected nil endpoint for no healthy endpoints")
	}
}

func TestRoundRobinSelector_Select_SingleEndpoint(t *testing.T) {
	selector := NewRoundRobinSelector()
	ctx := context.Background()

	endpoints := []*domain.Endpoint{
		createEndpoint("single", 1059),
	}

	// Should always return the same endpoint
	for i := 0; i < 5; i++ {
		endpoint, err := selector.Select(ctx, endpoints)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if endpoint.Host != "single" {
			t.Errorf("Expected 'single', got %s", endpoint.Host)
		}
	}
}

func TestRoundRobinSelector_Select_Distribution(t *testing.T) {
	selector := NewRoundRobinSelector()
	ctx := context.Background()

	endpoints := []*domain.Endpoint{
		createEndpoint("node-1", 1059),
		createEndpoint("node-2", 1059),
		createEndpoint("node-3", 1059),
	}

	// Sequential round-robin behaviour - starts from index 0
	expectedOrder := []string{"node-1", "node-2", "node-3", "node-1", "node-2", "node-3"}

	for i, expected := range expectedOrder {
		endpoint, err := selector.Select(ctx, endpoints)
		if err != nil {
			t.Fatalf("Select %d failed: %v", i, err)
		}
		if endpoint.Host != expected {
			t.Errorf("Selection %d: expected %s, got %s", i, expected, endpoint.Host)
		}
	}
}

func TestRoundRobinSelector_Select_SkipsUnhealthy(t *testing.T) {
	selector := NewRoundRobinSelector()
	ctx := context.Background()

	endpoints := []*domain.Endpoint{
		createUnhealthyEndpoint("down", 1059),
		createEndpoint("up-1", 1059),
		createEndpoint("up-2", 1059),
	}

	for i := 0; i < 6; i++ {
		endpoint, err := selector.Select(ctx, endpoints)
		if err != nil {
			t.Fatalf("Select %d failed: %v", i, err)
		}
		if endpoint.Host == "down" {
			t.Errorf("Selection %d returned unhealthy endpoint", i)
		}
	}
}
