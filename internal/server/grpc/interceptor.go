package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/server/auth"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	sessionKey   ctxKey = "session"
	requestIDKey ctxKey = "requestID"
)

// RequestIDHeaderName is echoed back to the client in the response header.
const RequestIDHeaderName = "x-request-id"

// sessionMethods require a valid session_token.
var sessionMethods = map[string]bool{
	FullMethod(MethodStageEmail):            true,
	FullMethod(MethodAddEmailWithAssertion): true,
	FullMethod(MethodListEmails):            true,
	FullMethod(MethodRemoveEmail):           true,
	FullMethod(MethodCancelAccount):         true,
	FullMethod(MethodSessionInfo):           true,
}

// SessionFromContext returns the session the interceptor attached.
func SessionFromContext(ctx context.Context) (*auth.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*auth.Session)
	return s, ok
}

// RequestIDFromContext returns the id the logging interceptor assigned.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *GRPCServer) sessionInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if !sessionMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.SessionTokenHeaderName)
		if len(values) > 0 {
			token = values[0]
		}
	}
	if len(token) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing session token")
	}

	sess, err := s.lifecycle.SessionValid(ctx, token)
	if err != nil {
		return nil, toStatus(err)
	}

	return handler(context.WithValue(ctx, sessionKey, sess), req)
}

// loggingInterceptor tags each call with a request id and records its
// outcome.
func (s *GRPCServer) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	id := uuid.NewString()
	ctx = context.WithValue(ctx, requestIDKey, id)
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeaderName, id))

	start := time.Now()
	resp, err := handler(ctx, req)
	d := time.Since(start)
	code := status.Code(err)

	s.rpcs.ObserveRPC(info.FullMethod, code.String(), d)

	l := s.logger.With("request_id", id, "method", info.FullMethod, "code", code.String(), "duration", d)
	switch code {
	case codes.OK:
		l.Debug(ctx, "request served")
	case codes.Internal, codes.Unavailable, codes.DeadlineExceeded:
		l.Error(ctx, "request failed", "error", err)
	default:
		l.Info(ctx, "request rejected", "error", err)
	}
	return resp, err
}
