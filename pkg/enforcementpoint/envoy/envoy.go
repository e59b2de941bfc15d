//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package envoy implements the enforcement point as an Envoy External
// Authorization (ext_authz v3) gRPC server. Allowed requests carry the
// authorization-context header back to Envoy for injection; denied
// requests short-circuit with the pipeline's status and body.
package envoy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/cwms-data/authorizer/internal/logging"
	"github.com/cwms-data/authorizer/pkg/authorizer/pipeline"
	"github.com/cwms-data/authorizer/pkg/enforcementpoint"
)

var logger = logging.GetLogger("enforcementpoint.envoy")

const agent string = "envoy"

var requestCodec = protojson.MarshalOptions{Multiline: false}

// ExtAuthzServer implements the ext_authz v3 gRPC check request API.
type ExtAuthzServer struct {
	grpcServer *grpc.Server
	pipeline   *pipeline.Pipeline
	gate       *pipeline.Gate

	// For test only
	grpcPort chan int
}

func (s *ExtAuthzServer) allow(header string) *authv3.CheckResponse {
	var headers []*corev3.HeaderValueOption
	if header != "" {
		headers = append(headers, &corev3.HeaderValueOption{
			Header: &corev3.HeaderValue{
				Key:   pipeline.HeaderAuthContext,
				Value: header,
			},
		})
	}

	return &authv3.CheckResponse{
		HttpResponse: &authv3.CheckResponse_OkResponse{
			OkResponse: &authv3.OkHttpResponse{
				Headers: headers,
			},
		},
		Status: &status.Status{Code: int32(codes.OK)},
	}
}

func (s *ExtAuthzServer) deny(failure *pipeline.HTTPError) *authv3.CheckResponse {
	body, _ := json.Marshal(map[string]string{
		"error":   failure.Code,
		"message": failure.Message,
	})

	return &authv3.CheckResponse{
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Status: &typev3.HttpStatus{Code: typev3.StatusCode(failure.Status)},
				Body:   string(body),
				Headers: []*corev3.HeaderValueOption{
					{
						Header: &corev3.HeaderValue{
							Key:   "content-type",
							Value: "application/json",
						},
					},
				},
			},
		},
		Status: &status.Status{Code: int32(codes.PermissionDenied)},
	}
}

// Check implements the gRPC v3 check request.
func (s *ExtAuthzServer) Check(ctx context.Context, request *authv3.CheckRequest) (*authv3.CheckResponse, error) {
	httpAttrs := request.GetAttributes().GetRequest().GetHttp()
	path := httpAttrs.GetPath()
	headers := httpAttrs.GetHeaders()

	if logger.IsTraceEnabled() {
		raw, _ := requestCodec.Marshal(request)
		logger.Tracef(agent, "check", "[gRPCv3]: %s %s%s %s", httpAttrs.GetMethod(), httpAttrs.GetHost(), path, raw)
	}

	if !s.gate.RequiresEnforcement(path) {
		return s.allow(""), nil
	}

	cleanPath, query := splitPath(path)

	out := s.pipeline.Authorize(ctx, pipeline.Request{
		Method:       httpAttrs.GetMethod(),
		Path:         cleanPath,
		Query:        query,
		Bearer:       headers["authorization"],
		TestIdentity: headers["x-test-user"],
	})
	if out.Failure != nil {
		return s.deny(out.Failure), nil
	}

	return s.allow(out.Header), nil
}

// splitPath separates the envoy path attribute, which carries the raw
// query string, into a clean path and a flat query map.
func splitPath(path string) (string, map[string]string) {
	clean, rawQuery, _ := strings.Cut(path, "?")

	query := map[string]string{}
	if values, err := url.ParseQuery(rawQuery); err == nil {
		for key := range values {
			query[key] = values.Get(key)
		}
	}

	return clean, query
}

func (s *ExtAuthzServer) startGRPC(address string, wg *sync.WaitGroup) {
	logger.Infof(agent, "start", "Starting Envoy External Authorization gRPC server on %s", address)
	defer func() {
		wg.Done()
		logger.SysInfof("Stopped gRPC server")
	}()

	listener, err := net.Listen("tcp", address)
	if err != nil {
		logger.Fatalf(agent, "net.listen", "Failed to start gRPC server: %v", err)
		return
	}

	s.grpcServer = grpc.NewServer()
	authv3.RegisterAuthorizationServer(s.grpcServer, s)

	// Store the port for test only. Must be after grpcServer is set to avoid race condition.
	s.grpcPort <- listener.Addr().(*net.TCPAddr).Port

	logger.SysInfof("Starting gRPC server at %s", listener.Addr())
	if err := s.grpcServer.Serve(listener); err != nil {
		logger.Fatalf(agent, "grpc.start", "Failed to serve gRPC server: %v", err)
		return
	}
}

func (s *ExtAuthzServer) run(grpcAddr string) {
	var wg sync.WaitGroup
	wg.Add(1)
	go s.startGRPC(grpcAddr, &wg)
	wg.Wait()
}

// CreateServer creates and starts a new Envoy External Authorization
// server running the given pipeline behind the given gate.
func CreateServer(p *pipeline.Pipeline, gate *pipeline.Gate, port int) (enforcementpoint.Server, error) {
	s := &ExtAuthzServer{
		grpcPort: make(chan int, 1),
		pipeline: p,
		gate:     gate,
	}

	go s.run(fmt.Sprintf(":%d", port))

	return s, nil
}

// Stop stops the ExtAuthzServer by stopping the underlying gRPC server.
func (s *ExtAuthzServer) Stop(ctx context.Context) error {
	s.grpcServer.Stop()
	logger.SysInfof("GRPC server stopped")

	return nil
}
