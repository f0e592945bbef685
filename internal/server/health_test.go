package server

import (
	"context"
	"testing"

	"connectrpc.com/grpchealth"
)

func TestEndpointHealthCheckerNotServingByDefault(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	checker := newHealthChecker(registry)

	resp, err := checker.Check(context.Background(), &grpchealth.CheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpchealth.StatusNotServing {
		t.Errorf("Status = %v, want StatusNotServing", resp.Status)
	}
}

func TestEndpointHealthCheckerServingOnceEndpointListening(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.AddEndpoint()
	checker := newHealthChecker(registry)

	resp, err := checker.Check(context.Background(), &grpchealth.CheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpchealth.StatusServing {
		t.Errorf("Status = %v, want StatusServing", resp.Status)
	}

	registry.RemoveEndpoint()
	resp, err = checker.Check(context.Background(), &grpchealth.CheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != grpchealth.StatusNotServing {
		t.Errorf("after RemoveEndpoint: Status = %v, want StatusNotServing", resp.Status)
	}
}
