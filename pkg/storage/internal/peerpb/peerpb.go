// Package peerpb defines the single advisory RPC storage.Remote uses to
// announce newly-bound Names to configured peers. It stands in for
// a protoc-generated package — proto compilation isn't available in this
// environment — so messages are plain structs carried over gRPC's
// pluggable codec (see codec.go) rather than wire-format protobuf. The
// shape (ServiceDesc, method handler, thin client wrapper) mirrors what
// protoc-gen-go-grpc would emit for a one-RPC service.
package peerpb

import (
	"context"

	"google.golang.org/grpc"
)

// AnnounceRequest carries a newly-bound Name and the Citation it was
// bound to.
type AnnounceRequest struct {
	Name          string `json:"name"`
	CitationBytes []byte `json:"citationBytes"`
}

// AnnounceResponse is empty; the RPC is fire-and-forget.
type AnnounceResponse struct{}

// PeerServiceServer is implemented by whatever wants to receive announce
// hints (unused by this repo's own RequestEngine today; defined so a peer
// node running this same binary can serve it).
type PeerServiceServer interface {
	Announce(ctx context.Context, req *AnnounceRequest) (*AnnounceResponse, error)
}

// PeerServiceClient is the thin client stub storage.Remote calls.
type PeerServiceClient interface {
	Announce(ctx context.Context, req *AnnounceRequest, opts ...grpc.CallOption) (*AnnounceResponse, error)
}

type peerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPeerServiceClient builds a client bound to an existing connection.
func NewPeerServiceClient(cc grpc.ClientConnInterface) PeerServiceClient {
	return &peerServiceClient{cc: cc}
}

func (c *peerServiceClient) Announce(ctx context.Context, req *AnnounceRequest, opts ...grpc.CallOption) (*AnnounceResponse, error) {
	out := new(AnnounceResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.cc.Invoke(ctx, "/peerpb.PeerService/Announce", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterPeerServiceServer registers srv against an *grpc.Server.
func RegisterPeerServiceServer(s *grpc.Server, srv PeerServiceServer) {
	s.RegisterService(&peerServiceDesc, srv)
}

func announceHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AnnounceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServiceServer).Announce(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/peerpb.PeerService/Announce"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PeerServiceServer).Announce(ctx, req.(*AnnounceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: "peerpb.PeerService",
	HandlerType: (*PeerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Announce", Handler: announceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "peerpb/peerpb.proto",
}
