// Package grpc exposes the identity service over gRPC with CBOR-encoded
// messages.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/auth"
	"github.com/dmitrijs2005/gophid/internal/server/lifecycle"
	"github.com/dmitrijs2005/gophid/internal/server/models"
	"github.com/dmitrijs2005/gophid/internal/server/verifier"
	"google.golang.org/grpc"
)

// Lifecycle is the account API the handlers call.
type Lifecycle interface {
	StageUser(ctx context.Context, email, password, site string) (*lifecycle.Staged, error)
	StageUnverifiedUser(ctx context.Context, email, password, site string) (*lifecycle.Staged, error)
	CompleteUserCreation(ctx context.Context, secret string, proof lifecycle.Proof) (*lifecycle.Session, error)
	StageEmail(ctx context.Context, uid int64, email, password, site string) (*lifecycle.Staged, error)
	CompleteEmailConfirmation(ctx context.Context, secret string, proof lifecycle.Proof) (*models.Completion, error)
	StageReset(ctx context.Context, email, site string) (*lifecycle.Staged, error)
	CompletePasswordReset(ctx context.Context, secret string, proof lifecycle.Proof, newPassword string) (*lifecycle.Session, error)
	StageTransition(ctx context.Context, email, password, site string) (*lifecycle.Staged, error)
	AuthenticateUser(ctx context.Context, email, password string) (*lifecycle.Session, error)
	AuthWithAssertion(ctx context.Context, assertion, audience string) (*lifecycle.Session, error)
	AddEmailWithAssertion(ctx context.Context, uid int64, assertion, audience string) (string, error)
	ListEmails(ctx context.Context, uid int64) ([]string, error)
	RemoveEmail(ctx context.Context, uid int64, email string) error
	CancelAccount(ctx context.Context, uid int64) error
	AddressInfo(ctx context.Context, email string) (*lifecycle.AddressInfo, error)
	SessionValid(ctx context.Context, token string) (*auth.Session, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RPCObserver records every served call.
type RPCObserver interface {
	ObserveRPC(method, code string, d time.Duration)
}

type nopRPCObserver struct{}

func (nopRPCObserver) ObserveRPC(string, string, time.Duration) {}

type GRPCServer struct {
	address   string
	lifecycle Lifecycle
	verifier  verifier.Verifier
	health    Pinger
	rpcs      RPCObserver
	logger    logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, lc Lifecycle, v verifier.Verifier, health Pinger, rpcs RPCObserver) *GRPCServer {
	if rpcs == nil {
		rpcs = nopRPCObserver{}
	}
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		lifecycle: lc,
		verifier:  v,
		health:    health,
		rpcs:      rpcs,
	}
}

// NewServer builds the grpc.Server with the service and interceptors
// registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(Codec()),
		grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.sessionInterceptor),
	}, opts...)
	srv := grpc.NewServer(opts...)
	RegisterIdentityServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
