package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophid/internal/server/auth"
	"github.com/dmitrijs2005/gophid/internal/server/lifecycle"
	"github.com/dmitrijs2005/gophid/internal/server/verifier"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fail logs errors that will reach the client as Internal and converts err
// to a status.
func (s *GRPCServer) fail(ctx context.Context, err error) error {
	st := toStatus(err)
	if status.Code(st) == codes.Internal {
		s.logger.Error(ctx, "internal error", "request_id", RequestIDFromContext(ctx), "error", err)
	}
	return st
}

func (s *GRPCServer) session(ctx context.Context) (*auth.Session, error) {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing session")
	}
	return sess, nil
}

func sessionResponse(sess *lifecycle.Session) *SessionResponse {
	return &SessionResponse{UserID: sess.UserID, Email: sess.Email, SessionToken: sess.Token}
}

func (s *GRPCServer) Ping(ctx context.Context, _ *Empty) (*PingResponse, error) {
	if s.health != nil {
		if err := s.health.Ping(ctx); err != nil {
			return nil, s.fail(ctx, err)
		}
	}
	return &PingResponse{Status: "OK"}, nil
}

// Verify checks an assertion for a relying party. Rejected assertions are a
// normal response with Status "failure"; only timeouts and an unavailable
// verifier are call errors.
func (s *GRPCServer) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	res, err := s.verifier.Verify(ctx, verifier.Request{
		Assertion:       req.Assertion,
		Audience:        req.Audience,
		ForceIssuer:     req.ForceIssuer,
		AllowUnverified: req.AllowUnverified,
	})
	if err != nil {
		var verr *verifier.Error
		if errors.As(err, &verr) && verr.Kind != verifier.KindTimeout && verr.Kind != verifier.KindUnavailable {
			return &VerifyResponse{Status: "failure", Kind: string(verr.Kind), Reason: verr.Reason}, nil
		}
		return nil, s.fail(ctx, err)
	}
	resp := &VerifyResponse{
		Status:   "okay",
		Audience: res.Audience,
		Expires:  res.ExpiresAt.UnixMilli(),
		Issuer:   res.Issuer,
		Verified: res.Verified,
	}
	if res.Verified {
		resp.Email = res.Email
	} else {
		resp.UnverifiedEmail = res.Email
	}
	return resp, nil
}

func (s *GRPCServer) AddressInfo(ctx context.Context, req *AddressInfoRequest) (*AddressInfoResponse, error) {
	ai, err := s.lifecycle.AddressInfo(ctx, req.Email)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &AddressInfoResponse{
		Type:            string(ai.Type),
		State:           ai.State,
		Issuer:          ai.Issuer,
		NormalizedEmail: ai.NormalizedEmail,
		Verified:        ai.Verified,
		HasPassword:     ai.HasPassword,
	}, nil
}

func (s *GRPCServer) StageUser(ctx context.Context, req *StageUserRequest) (*StageResponse, error) {
	stage := s.lifecycle.StageUser
	if req.AllowUnverified {
		stage = s.lifecycle.StageUnverifiedUser
	}
	st, err := stage(ctx, req.Email, req.Password, req.Site)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &StageResponse{PendingToken: st.PendingToken, Unverified: req.AllowUnverified}, nil
}

func (s *GRPCServer) CompleteUserCreation(ctx context.Context, req *CompleteRequest) (*SessionResponse, error) {
	sess, err := s.lifecycle.CompleteUserCreation(ctx, req.Secret, lifecycle.Proof{
		PendingToken: req.PendingToken,
		Password:     req.Password,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return sessionResponse(sess), nil
}

func (s *GRPCServer) StageEmail(ctx context.Context, req *StageEmailRequest) (*StageResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	st, err := s.lifecycle.StageEmail(ctx, sess.UserID, req.Email, req.Password, req.Site)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &StageResponse{PendingToken: st.PendingToken}, nil
}

func (s *GRPCServer) CompleteEmailConfirmation(ctx context.Context, req *CompleteRequest) (*ConfirmationResponse, error) {
	c, err := s.lifecycle.CompleteEmailConfirmation(ctx, req.Secret, lifecycle.Proof{
		PendingToken: req.PendingToken,
		Password:     req.Password,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &ConfirmationResponse{UserID: c.UID, Email: c.Email}, nil
}

func (s *GRPCServer) StageReset(ctx context.Context, req *StageResetRequest) (*StageResponse, error) {
	st, err := s.lifecycle.StageReset(ctx, req.Email, req.Site)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &StageResponse{PendingToken: st.PendingToken}, nil
}

func (s *GRPCServer) CompleteReset(ctx context.Context, req *CompleteResetRequest) (*SessionResponse, error) {
	sess, err := s.lifecycle.CompletePasswordReset(ctx, req.Secret, lifecycle.Proof{
		PendingToken: req.PendingToken,
		Password:     req.Password,
	}, req.NewPassword)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return sessionResponse(sess), nil
}

func (s *GRPCServer) StageTransition(ctx context.Context, req *StageTransitionRequest) (*StageResponse, error) {
	st, err := s.lifecycle.StageTransition(ctx, req.Email, req.Password, req.Site)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &StageResponse{PendingToken: st.PendingToken}, nil
}

func (s *GRPCServer) Authenticate(ctx context.Context, req *AuthenticateRequest) (*SessionResponse, error) {
	sess, err := s.lifecycle.AuthenticateUser(ctx, req.Email, req.Password)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return sessionResponse(sess), nil
}

func (s *GRPCServer) AuthWithAssertion(ctx context.Context, req *AssertionRequest) (*SessionResponse, error) {
	sess, err := s.lifecycle.AuthWithAssertion(ctx, req.Assertion, req.Audience)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return sessionResponse(sess), nil
}

func (s *GRPCServer) AddEmailWithAssertion(ctx context.Context, req *AssertionRequest) (*EmailResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	email, err := s.lifecycle.AddEmailWithAssertion(ctx, sess.UserID, req.Assertion, req.Audience)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &EmailResponse{Email: email}, nil
}

func (s *GRPCServer) ListEmails(ctx context.Context, _ *Empty) (*ListEmailsResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	emails, err := s.lifecycle.ListEmails(ctx, sess.UserID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &ListEmailsResponse{Emails: emails}, nil
}

func (s *GRPCServer) RemoveEmail(ctx context.Context, req *RemoveEmailRequest) (*Empty, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.lifecycle.RemoveEmail(ctx, sess.UserID, req.Email); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &Empty{}, nil
}

func (s *GRPCServer) CancelAccount(ctx context.Context, _ *Empty) (*Empty, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.lifecycle.CancelAccount(ctx, sess.UserID); err != nil {
		return nil, s.fail(ctx, err)
	}
	return &Empty{}, nil
}

func (s *GRPCServer) SessionInfo(ctx context.Context, _ *Empty) (*SessionInfoResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	return &SessionInfoResponse{
		UserID:    sess.UserID,
		AuthLevel: string(sess.AuthLevel),
		IssuedAt:  sess.IssuedAt.UnixMilli(),
		ExpiresAt: sess.ExpiresAt.UnixMilli(),
	}, nil
}
