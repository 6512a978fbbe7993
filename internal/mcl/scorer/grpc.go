package scorer

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/overlap-mcl/internal/mcl/volume"
)

const (
	scorerService    = "overlapnet.v1.OverlapScorer"
	extractorService = "overlapnet.v1.FeatureExtractor"

	scoreMethod        = "/" + scorerService + "/Score"
	capabilitiesMethod = "/" + scorerService + "/Capabilities"
	extractMethod      = "/" + extractorService + "/Extract"

	// Feature volumes for a full batch exceed the 4MB gRPC default.
	maxMsgSize = 64 * 1024 * 1024
)

// jsonCodec carries request and response structs as JSON so the service
// needs no generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

type scoreRequest struct {
	Query volume.Volume   `json:"query"`
	Maps  []volume.Volume `json:"maps"`
}

type scoreResponse struct {
	Overlaps      []float64   `json:"overlaps"`
	YawHistograms [][]float64 `json:"yaw_histograms,omitempty"`
}

type capabilitiesRequest struct{}

type extractRequest struct {
	Keys []volume.Key `json:"keys"`
}

type extractResponse struct {
	Volumes []volume.Volume `json:"volumes"`
}

// Dial opens a client connection to a remote scorer or extractor.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial scorer %s: %w", addr, err)
	}
	return conn, nil
}

// GRPCScorer is a Scorer backed by a remote OverlapScorer service.
type GRPCScorer struct {
	conn grpc.ClientConnInterface
	caps Capabilities
}

// NewGRPCScorer queries the remote capabilities once and returns a scorer
// that reports them for the rest of the run.
func NewGRPCScorer(ctx context.Context, conn grpc.ClientConnInterface) (*GRPCScorer, error) {
	var caps Capabilities
	if err := conn.Invoke(ctx, capabilitiesMethod, &capabilitiesRequest{}, &caps, grpc.ForceCodec(jsonCodec{})); err != nil {
		return nil, fmt.Errorf("query scorer capabilities: %w", err)
	}
	diagf("remote scorer capabilities: yaw=%v bins=%d", caps.Yaw, caps.YawBins)
	return &GRPCScorer{conn: conn, caps: caps}, nil
}

func (s *GRPCScorer) Capabilities() Capabilities { return s.caps }

func (s *GRPCScorer) Score(ctx context.Context, query volume.Volume, maps []volume.Volume) (Result, error) {
	var resp scoreResponse
	req := &scoreRequest{Query: query, Maps: maps}
	if err := s.conn.Invoke(ctx, scoreMethod, req, &resp, grpc.ForceCodec(jsonCodec{})); err != nil {
		return Result{}, err
	}
	return Result{Overlaps: resp.Overlaps, YawHistograms: resp.YawHistograms}, nil
}

// GRPCExtractor is a volume.Extractor backed by a remote FeatureExtractor
// service.
type GRPCExtractor struct {
	conn grpc.ClientConnInterface
}

// NewGRPCExtractor wraps conn.
func NewGRPCExtractor(conn grpc.ClientConnInterface) *GRPCExtractor {
	return &GRPCExtractor{conn: conn}
}

func (e *GRPCExtractor) Extract(ctx context.Context, keys []volume.Key) ([]volume.Volume, error) {
	var resp extractResponse
	if err := e.conn.Invoke(ctx, extractMethod, &extractRequest{Keys: keys}, &resp, grpc.ForceCodec(jsonCodec{})); err != nil {
		return nil, err
	}
	return resp.Volumes, nil
}

// NewServer returns a gRPC server exposing sc and, when ex is non-nil, ex.
func NewServer(sc Scorer, ex volume.Extractor, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}, opts...)
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&scorerServiceDesc, sc)
	if ex != nil {
		srv.RegisterService(&extractorServiceDesc, ex)
	}
	return srv
}

var scorerServiceDesc = grpc.ServiceDesc{
	ServiceName: scorerService,
	HandlerType: (*Scorer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Score", Handler: scoreHandler},
		{MethodName: "Capabilities", Handler: capabilitiesHandler},
	},
	Streams: []grpc.StreamDesc{},
}

var extractorServiceDesc = grpc.ServiceDesc{
	ServiceName: extractorService,
	HandlerType: (*volume.Extractor)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Extract", Handler: extractHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func unary(srv any, ctx context.Context, req any, method string, interceptor grpc.UnaryServerInterceptor, handle grpc.UnaryHandler) (any, error) {
	if interceptor == nil {
		return handle(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, handle)
}

func scoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(scoreRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return unary(srv, ctx, in, scoreMethod, interceptor, func(ctx context.Context, req any) (any, error) {
		r := req.(*scoreRequest)
		res, err := srv.(Scorer).Score(ctx, r.Query, r.Maps)
		if err != nil {
			opsf("score request failed: %v", err)
			return nil, status.Error(codes.Internal, err.Error())
		}
		return &scoreResponse{Overlaps: res.Overlaps, YawHistograms: res.YawHistograms}, nil
	})
}

func capabilitiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(capabilitiesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return unary(srv, ctx, in, capabilitiesMethod, interceptor, func(ctx context.Context, req any) (any, error) {
		caps := srv.(Scorer).Capabilities()
		return &caps, nil
	})
}

func extractHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(extractRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	return unary(srv, ctx, in, extractMethod, interceptor, func(ctx context.Context, req any) (any, error) {
		vols, err := srv.(volume.Extractor).Extract(ctx, req.(*extractRequest).Keys)
		if err != nil {
			opsf("extract request failed: %v", err)
			return nil, status.Error(codes.Internal, err.Error())
		}
		return &extractResponse{Volumes: vols}, nil
	})
}
