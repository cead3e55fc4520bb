// Package grpc exposes the service-to-service side of taskhub: the standard
// gRPC health service, behind the shared service token.
package grpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check name reported alongside the overall status.
const ServiceName = "taskhub"

func NewServer(serviceToken string, healthServer *health.Server) (*grpc.Server, error) {
	interceptor, err := NewServiceAuthUnaryInterceptor(serviceToken)
	if err != nil {
		return nil, err
	}
	server := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	healthpb.RegisterHealthServer(server, healthServer)
	return server, nil
}
