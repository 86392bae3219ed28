package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ekisa-team/modelforge/internal/backend"
	"github.com/ekisa-team/modelforge/internal/bundle"
	"github.com/ekisa-team/modelforge/internal/cache"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/config"
	"github.com/ekisa-team/modelforge/internal/metrics"
	"github.com/ekisa-team/modelforge/internal/pipeline"
	"github.com/ekisa-team/modelforge/internal/service"
	"github.com/ekisa-team/modelforge/internal/tensor"
	"github.com/ekisa-team/modelforge/internal/xfs"
)

// Forge is the subset of service.Forge the server needs.
type Forge interface {
	Fetch(ctx context.Context, kind catalog.Kind, root string, overwrite bool) (string, error)
	Compile(ctx context.Context, cfg *config.CompileConfig, reuse bool) (*service.CompileResult, error)
	Run(ctx context.Context, cfg *config.CompileConfig, input *tensor.Tensor, seed uint64, reuse bool) (*service.RunResult, error)
}

// Server implements ForgeServer on top of a Forge service. Requests override a base config.
type Server struct {
	forge Forge
	base  *config.CompileConfig
}

var _ ForgeServer = (*Server)(nil)

// NewServer creates a new Server.
func NewServer(forge Forge, base *config.CompileConfig) *Server {
	return &Server{forge: forge, base: base.Clone()}
}

// NewGRPCServer builds a grpc.Server serving srv and the standard health service.
func NewGRPCServer(srv *Server, m *metrics.Collector, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryInterceptor(m))}, opts...)
	s := grpc.NewServer(opts...)

	RegisterForgeServer(s, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	return s
}

// UnaryInterceptor logs every request and records it on m.
func UnaryInterceptor(m *metrics.Collector) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		method := path.Base(info.FullMethod)

		resp, err := handler(ctx, req)

		code := status.Code(err)
		m.ObserveRPC(method, code.String(), time.Since(start))
		if err != nil {
			slog.Warn("RPC failed", "method", method, "code", code, "error", err)
		} else {
			slog.Debug("RPC served", "method", method, "duration", time.Since(start))
		}

		return resp, err
	}
}

// Fetch makes an artifact available in the cache.
func (s *Server) Fetch(ctx context.Context, in *FetchRequest) (*FetchResponse, error) {
	kind, err := catalog.ParseKind(in.Kind)
	if err != nil {
		return nil, toStatus(err)
	}

	root, err := s.modelsRoot(in.Root)
	if err != nil {
		return nil, toStatus(err)
	}

	p, err := s.forge.Fetch(ctx, kind, root, in.Overwrite)
	if err != nil {
		return nil, toStatus(err)
	}

	return &FetchResponse{Path: p}, nil
}

// Compile compiles a model and exports its bundle.
func (s *Server) Compile(ctx context.Context, in *CompileRequest) (*CompileResponse, error) {
	cfg, err := s.config(in)
	if err != nil {
		return nil, toStatus(err)
	}

	res, err := s.forge.Compile(ctx, cfg, in.Reuse)
	if err != nil {
		return nil, toStatus(err)
	}

	return &CompileResponse{
		Name:        res.Paths.Name,
		Library:     res.Paths.Library,
		Graph:       res.Paths.Graph,
		Params:      res.Paths.Params,
		Manifest:    res.Paths.Manifest,
		Fingerprint: res.Manifest.Fingerprint,
		Reused:      res.Reused,
	}, nil
}

// Run compiles or reuses a bundle and executes it once.
func (s *Server) Run(ctx context.Context, in *RunRequest) (*RunResponse, error) {
	cfg, err := s.config(&in.CompileRequest)
	if err != nil {
		return nil, toStatus(err)
	}
	if in.Device != "" {
		cfg.Device = in.Device
	}
	if in.Debug != nil {
		cfg.Debug = *in.Debug
	}
	if err := cfg.Validate(); err != nil {
		return nil, toStatus(err)
	}

	var input *tensor.Tensor
	if in.Input != nil {
		input, err = in.Input.Tensor()
		if err != nil {
			return nil, toStatus(err)
		}
	}

	res, err := s.forge.Run(ctx, cfg, input, in.Seed, in.Reuse)
	if err != nil {
		return nil, toStatus(err)
	}

	return &RunResponse{
		HandleID: res.HandleID,
		Input:    res.Input,
		Output:   FromTensor(res.Output),
		Reused:   res.Reused,
	}, nil
}

// modelsRoot resolves a requested cache root against the configured one. Clients may only
// pick a directory inside it.
func (s *Server) modelsRoot(requested string) (string, error) {
	base := filepath.Clean(xfs.ExpandTilde(s.base.ModelsRoot()))
	if requested == "" {
		return base, nil
	}

	root := filepath.Clean(requested)
	if !filepath.IsAbs(root) {
		root = filepath.Join(base, root)
	}

	rel, err := filepath.Rel(base, root)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: root %q is outside the models directory", config.ErrInvalid, requested)
	}

	return root, nil
}

func (s *Server) config(in *CompileRequest) (*config.CompileConfig, error) {
	cfg := s.base.Clone()

	if in.Kind != "" {
		kind, err := catalog.ParseKind(in.Kind)
		if err != nil {
			return nil, err
		}
		cfg.Model.Kind = kind
	}
	if in.Target != "" {
		cfg.Target = in.Target
	}
	if in.OptLevel != nil {
		cfg.OptLevel = *in.OptLevel
	}
	if in.Shapes != nil {
		cfg.Inputs.Shapes = in.Shapes
	}
	if in.DTypes != nil {
		cfg.Inputs.DTypes = make(map[string]tensor.DType, len(in.DTypes))
		for name, v := range in.DTypes {
			dt, err := tensor.ParseDType(v)
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", name, err)
			}
			cfg.Inputs.DTypes[name] = dt
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, catalog.ErrUnsupportedModelKind),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, tensor.ErrUnsupportedDType),
		errors.Is(err, tensor.ErrShapeMismatch),
		errors.Is(err, backend.ErrUnsupportedDevice),
		errors.Is(err, backend.ErrNotFound):
		code = codes.InvalidArgument
	case errors.Is(err, cache.ErrAcquisitionFailed):
		code = codes.Unavailable
	case errors.Is(err, cache.ErrCorruptArtifact),
		errors.Is(err, bundle.ErrIncomplete):
		code = codes.DataLoss
	case errors.Is(err, pipeline.ErrNotLoaded),
		errors.Is(err, pipeline.ErrNotCompiled),
		errors.Is(err, pipeline.ErrNotInstantiated):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}

	return status.Error(code, err.Error())
}
