package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "gophid.IdentityService"

// Method names of gophid.IdentityService.
const (
	MethodPing                      = "Ping"
	MethodVerify                    = "Verify"
	MethodAddressInfo               = "AddressInfo"
	MethodStageUser                 = "StageUser"
	MethodCompleteUserCreation      = "CompleteUserCreation"
	MethodStageEmail                = "StageEmail"
	MethodCompleteEmailConfirmation = "CompleteEmailConfirmation"
	MethodStageReset                = "StageReset"
	MethodCompleteReset             = "CompleteReset"
	MethodStageTransition           = "StageTransition"
	MethodAuthenticate              = "Authenticate"
	MethodAuthWithAssertion         = "AuthWithAssertion"
	MethodAddEmailWithAssertion     = "AddEmailWithAssertion"
	MethodListEmails                = "ListEmails"
	MethodRemoveEmail               = "RemoveEmail"
	MethodCancelAccount             = "CancelAccount"
	MethodSessionInfo               = "SessionInfo"
)

// FullMethod returns the wire name of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// IdentityServer is the server API of gophid.IdentityService.
type IdentityServer interface {
	Ping(context.Context, *Empty) (*PingResponse, error)
	Verify(context.Context, *VerifyRequest) (*VerifyResponse, error)
	AddressInfo(context.Context, *AddressInfoRequest) (*AddressInfoResponse, error)
	StageUser(context.Context, *StageUserRequest) (*StageResponse, error)
	CompleteUserCreation(context.Context, *CompleteRequest) (*SessionResponse, error)
	StageEmail(context.Context, *StageEmailRequest) (*StageResponse, error)
	CompleteEmailConfirmation(context.Context, *CompleteRequest) (*ConfirmationResponse, error)
	StageReset(context.Context, *StageResetRequest) (*StageResponse, error)
	CompleteReset(context.Context, *CompleteResetRequest) (*SessionResponse, error)
	StageTransition(context.Context, *StageTransitionRequest) (*StageResponse, error)
	Authenticate(context.Context, *AuthenticateRequest) (*SessionResponse, error)
	AuthWithAssertion(context.Context, *AssertionRequest) (*SessionResponse, error)
	AddEmailWithAssertion(context.Context, *AssertionRequest) (*EmailResponse, error)
	ListEmails(context.Context, *Empty) (*ListEmailsResponse, error)
	RemoveEmail(context.Context, *RemoveEmailRequest) (*Empty, error)
	CancelAccount(context.Context, *Empty) (*Empty, error)
	SessionInfo(context.Context, *Empty) (*SessionInfoResponse, error)
}

func unary[Req, Resp any](method string, call func(IdentityServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(IdentityServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(IdentityServer), ctx, req.(*Req))
			})
		},
	}
}

// IdentityServiceDesc describes gophid.IdentityService for grpc.Server.
var IdentityServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IdentityServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPing, IdentityServer.Ping),
		unary(MethodVerify, IdentityServer.Verify),
		unary(MethodAddressInfo, IdentityServer.AddressInfo),
		unary(MethodStageUser, IdentityServer.StageUser),
		unary(MethodCompleteUserCreation, IdentityServer.CompleteUserCreation),
		unary(MethodStageEmail, IdentityServer.StageEmail),
		unary(MethodCompleteEmailConfirmation, IdentityServer.CompleteEmailConfirmation),
		unary(MethodStageReset, IdentityServer.StageReset),
		unary(MethodCompleteReset, IdentityServer.CompleteReset),
		unary(MethodStageTransition, IdentityServer.StageTransition),
		unary(MethodAuthenticate, IdentityServer.Authenticate),
		unary(MethodAuthWithAssertion, IdentityServer.AuthWithAssertion),
		unary(MethodAddEmailWithAssertion, IdentityServer.AddEmailWithAssertion),
		unary(MethodListEmails, IdentityServer.ListEmails),
		unary(MethodRemoveEmail, IdentityServer.RemoveEmail),
		unary(MethodCancelAccount, IdentityServer.CancelAccount),
		unary(MethodSessionInfo, IdentityServer.SessionInfo),
	},
	Metadata: "gophid/identity",
}

// RegisterIdentityServer registers srv on s.
func RegisterIdentityServer(s grpc.ServiceRegistrar, srv IdentityServer) {
	s.RegisterService(&IdentityServiceDesc, srv)
}

// Client calls gophid.IdentityService over cc using the CBOR codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with in and decodes the reply into out.
func (c *Client) Call(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, FullMethod(method), in, out, opts...)
}
