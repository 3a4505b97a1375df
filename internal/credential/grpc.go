package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const grpcServiceName = "credentials.v1.CredentialService"

// CredentialServiceServer is the gRPC surface of the coordinator. Messages are
// google.protobuf.Struct documents with the same field names as the JSON API.
type CredentialServiceServer interface {
	IssueCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	VerifyCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RevokeCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv CredentialServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CredentialServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + grpcServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(CredentialServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var credentialServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*CredentialServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "IssueCredential", Handler: unaryHandler("IssueCredential", CredentialServiceServer.IssueCredential)},
		{MethodName: "VerifyCredential", Handler: unaryHandler("VerifyCredential", CredentialServiceServer.VerifyCredential)},
		{MethodName: "RevokeCredential", Handler: unaryHandler("RevokeCredential", CredentialServiceServer.RevokeCredential)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credentials/v1/credentials.proto",
}

// GRPCServer handles incoming gRPC requests.
type GRPCServer struct {
	coordinator *Coordinator
}

// NewGRPCServer creates a new gRPC server.
func NewGRPCServer(coordinator *Coordinator) *GRPCServer {
	return &GRPCServer{coordinator: coordinator}
}

// Register registers the gRPC service.
func (s *GRPCServer) Register(grpcServer *grpc.Server) {
	grpcServer.RegisterService(&credentialServiceDesc, s)
}

func (s *GRPCServer) IssueCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slog.Info("received grpc issue request")
	rec, err := s.coordinator.IssueCredential(ctx, IssueRequest{
		IssuerAddress:     stringField(req, "issuerAddress"),
		StudentIdentifier: stringField(req, "studentIdentifier"),
		StudentName:       stringField(req, "studentName"),
		CourseName:        stringField(req, "courseName"),
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(rec)
}

func (s *GRPCServer) VerifyCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.coordinator.VerifyCredential(ctx, stringField(req, "fingerprint"))
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(res)
}

func (s *GRPCServer) RevokeCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slog.Info("received grpc revoke request")
	rec, err := s.coordinator.RevokeCredential(ctx, stringField(req, "fingerprint"))
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(rec)
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

// toStruct converts v through its JSON encoding so both APIs share field names.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

func grpcError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return status.Error(codes.NotFound, ReasonOf(err))
	}
	switch KindOf(err) {
	case KindAuthorization:
		return status.Error(codes.PermissionDenied, ReasonOf(err))
	case KindState:
		return status.Error(codes.FailedPrecondition, ReasonOf(err))
	case KindData:
		return status.Error(codes.InvalidArgument, ReasonOf(err))
	case KindAvailability:
		return status.Error(codes.Unavailable, ReasonOf(err))
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// GRPCClient calls a remote CredentialService.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

func (c *GRPCClient) invoke(ctx context.Context, method string, fields map[string]interface{}) (map[string]interface{}, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+grpcServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *GRPCClient) IssueCredential(ctx context.Context, req IssueRequest) (map[string]interface{}, error) {
	return c.invoke(ctx, "IssueCredential", map[string]interface{}{
		"issuerAddress":     req.IssuerAddress,
		"studentIdentifier": req.StudentIdentifier,
		"studentName":       req.StudentName,
		"courseName":        req.CourseName,
	})
}

func (c *GRPCClient) VerifyCredential(ctx context.Context, fingerprint string) (map[string]interface{}, error) {
	return c.invoke(ctx, "VerifyCredential", map[string]interface{}{"fingerprint": fingerprint})
}

func (c *GRPCClient) RevokeCredential(ctx context.Context, fingerprint string) (map[string]interface{}, error) {
	return c.invoke(ctx, "RevokeCredential", map[string]interface{}{"fingerprint": fingerprint})
}
