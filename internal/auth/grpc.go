package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service served by maild authd.
const ServiceName = "maild.auth.v1.Authenticator"

const (
	codecName          = "json"
	authenticateMethod = "/" + ServiceName + "/Authenticate"
	secretMethod       = "/" + ServiceName + "/Secret"
)

// AuthenticateRequest carries one credential check.
type AuthenticateRequest struct {
	Username   string `json:"username"`
	Credential string `json:"credential"`
}

// AuthenticateResponse reports the verdict of a credential check.
type AuthenticateResponse struct {
	OK bool `json:"ok"`
}

// SecretRequest asks for a user's APOP secret.
type SecretRequest struct {
	Username string `json:"username"`
}

// SecretResponse carries an APOP secret when one exists.
type SecretResponse struct {
	Secret string `json:"secret,omitempty"`
	Found  bool   `json:"found"`
}

// jsonCodec lets the service run without generated protobuf types.
// Messages travel as JSON under the "application/grpc+json" content type.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// errRejected marks a request the service refused to evaluate. Callers
// treat it as a failed check rather than a backend fault.
var errRejected = errors.New("request rejected by auth service")

// RemoteProvider is a Backend that forwards every check to a remote
// authenticator service.
type RemoteProvider struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// DialRemote creates a client for the authenticator at target. Extra
// dial options are appended after the plaintext transport default.
func DialRemote(target string, timeout time.Duration, opts ...grpc.DialOption) (*RemoteProvider, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating auth client: %w", err)
	}
	return &RemoteProvider{conn: conn, timeout: timeout}, nil
}

// Authenticate asks the remote service to check the credential.
func (p *RemoteProvider) Authenticate(ctx context.Context, username, credential string) (bool, error) {
	var resp AuthenticateResponse
	req := &AuthenticateRequest{Username: username, Credential: credential}
	if err := p.invoke(ctx, authenticateMethod, req, &resp); err != nil {
		if errors.Is(err, errRejected) {
			return false, nil
		}
		return false, err
	}
	return resp.OK, nil
}

// Secret asks the remote service for the user's APOP secret.
func (p *RemoteProvider) Secret(ctx context.Context, username string) (string, bool, error) {
	var resp SecretResponse
	if err := p.invoke(ctx, secretMethod, &SecretRequest{Username: username}, &resp); err != nil {
		if errors.Is(err, errRejected) {
			return "", false, nil
		}
		return "", false, err
	}
	return resp.Secret, resp.Found, nil
}

// Close releases the client connection.
func (p *RemoteProvider) Close() error {
	return p.conn.Close()
}

func (p *RemoteProvider) invoke(ctx context.Context, method string, req, resp any) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	err := p.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(codecName))
	switch status.Code(err) {
	case codes.OK:
		return nil
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %w", errRejected, err)
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return fmt.Errorf("auth service %s: %w", method, err)
	}
}

// AuthServer is the server side of the authenticator service.
type AuthServer interface {
	Authenticate(ctx context.Context, req *AuthenticateRequest) (*AuthenticateResponse, error)
	Secret(ctx context.Context, req *SecretRequest) (*SecretResponse, error)
}

// GRPCService exposes a local Provider over gRPC.
type GRPCService struct {
	provider Provider
	logger   *slog.Logger
}

// NewGRPCService wraps provider. If provider also implements
// SecretProvider, the Secret method serves APOP secrets.
func NewGRPCService(provider Provider, logger *slog.Logger) *GRPCService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GRPCService{provider: provider, logger: logger}
}

// Authenticate implements AuthServer.
func (s *GRPCService) Authenticate(ctx context.Context, req *AuthenticateRequest) (*AuthenticateResponse, error) {
	if req.Username == "" {
		return nil, status.Error(codes.InvalidArgument, "username is required")
	}
	ok, err := s.provider.Authenticate(ctx, req.Username, req.Credential)
	if err != nil {
		s.logger.Error("credential check failed", "username", req.Username, "error", err.Error())
		return nil, status.Error(codes.Unavailable, "credential backend unavailable")
	}
	s.logger.Info("credential check", "username", req.Username, "ok", ok)
	return &AuthenticateResponse{OK: ok}, nil
}

// Secret implements AuthServer.
func (s *GRPCService) Secret(ctx context.Context, req *SecretRequest) (*SecretResponse, error) {
	if req.Username == "" {
		return nil, status.Error(codes.InvalidArgument, "username is required")
	}
	sp, ok := s.provider.(SecretProvider)
	if !ok {
		return &SecretResponse{}, nil
	}
	secret, found, err := sp.Secret(ctx, req.Username)
	if err != nil {
		s.logger.Error("secret lookup failed", "username", req.Username, "error", err.Error())
		return nil, status.Error(codes.Unavailable, "credential backend unavailable")
	}
	return &SecretResponse{Secret: secret, Found: found}, nil
}

// NewGRPCServer returns a gRPC server carrying the authenticator and the
// standard health service.
func NewGRPCServer(svc AuthServer, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&authServiceDesc, svc)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv
}

// LoggingInterceptor logs every unary call with its duration and status code.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

var authServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authenticate", Handler: authenticateHandler},
		{MethodName: "Secret", Handler: secretHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func authenticateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AuthenticateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServer).Authenticate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: authenticateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthServer).Authenticate(ctx, req.(*AuthenticateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func secretHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SecretRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServer).Secret(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: secretMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthServer).Secret(ctx, req.(*SecretRequest))
	}
	return interceptor(ctx, in, info, handler)
}
