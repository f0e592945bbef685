package server

import (
	"context"

	"connectrpc.com/grpchealth"
)

// endpointHealthChecker reports SERVING once at least one Endpoint is
// listening, NOT_SERVING otherwise. Unlike grpchealth.NewStaticChecker (the
// teacher's choice for its always-on BFD service), readiness here tracks
// real daemon state instead of being wired true unconditionally.
type endpointHealthChecker struct {
	registry *Registry
}

// newHealthChecker returns a grpchealth.Checker backed by registry.
func newHealthChecker(registry *Registry) grpchealth.Checker {
	return &endpointHealthChecker{registry: registry}
}

// Check implements grpchealth.Checker.
func (h *endpointHealthChecker) Check(_ context.Context, _ *grpchealth.CheckRequest) (*grpchealth.CheckResponse, error) {
	if h.registry.EndpointCount() == 0 {
		return &grpchealth.CheckResponse{Status: grpchealth.StatusNotServing}, nil
	}
	return &grpchealth.CheckResponse{Status: grpchealth.StatusServing}, nil
}
