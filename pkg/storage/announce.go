package storage

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/nebula/pkg/bali"
	"github.com/cuemby/nebula/pkg/storage/internal/peerpb"
	"github.com/cuemby/nebula/pkg/types"
)

const announceTimeout = 5 * time.Second

// AnnounceHandler receives a peer's advisory notice that name was bound
// to the citation encoded in citationBytes.
type AnnounceHandler func(ctx context.Context, name string, citationBytes []byte)

// RegisterAnnounceServer mounts h on s as the peer announce service, so a
// node can receive the hints its peers' Remote backends fire.
func RegisterAnnounceServer(s *grpc.Server, h AnnounceHandler) {
	peerpb.RegisterPeerServiceServer(s, announceServer{handler: h})
}

type announceServer struct {
	handler AnnounceHandler
}

func (s announceServer) Announce(ctx context.Context, req *peerpb.AnnounceRequest) (*peerpb.AnnounceResponse, error) {
	s.handler(ctx, req.Name, req.CitationBytes)
	return &peerpb.AnnounceResponse{}, nil
}

// announcePeer dials peer and fires the single advisory Announce RPC
//. The connection is per-call: announces are rare (one per
// WriteName) and best-effort, so holding pooled connections open to every
// peer is not worth the bookkeeping.
func announcePeer(ctx context.Context, peer string, name types.Name, citation types.Citation) error {
	ctx, cancel := context.WithTimeout(ctx, announceTimeout)
	defer cancel()

	conn, err := grpc.NewClient(peer, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	client := peerpb.NewPeerServiceClient(conn)
	_, err = client.Announce(ctx, &peerpb.AnnounceRequest{
		Name:          name.String(),
		CitationBytes: bali.EncodeCitation(citation),
	})
	return err
}
