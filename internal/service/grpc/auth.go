package grpcsvc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationMDKey = "authorization"
	bearerPrefix       = "Bearer "
)

// AuthUnaryInterceptor требует bearer-токен у методов AdminService.
// Пустой токен отключает проверку (режим разработки), health и reflection
// остаются открытыми.
func AuthUnaryInterceptor(token string) grpc.UnaryServerInterceptor {
	expected := []byte(token)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" || !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}
		got, ok := bearerFromContext(ctx)
		if !ok || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid or missing admin token")
		}
		return handler(ctx, req)
	}
}

func bearerFromContext(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, v := range md.Get(authorizationMDKey) {
		if strings.HasPrefix(v, bearerPrefix) {
			return strings.TrimPrefix(v, bearerPrefix), true
		}
	}
	return "", false
}

// TokenCredentials добавляет admin-токен к каждому вызову клиента.
type TokenCredentials string

var _ credentials.PerRPCCredentials = TokenCredentials("")

func (t TokenCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	if t == "" {
		return nil, nil
	}
	return map[string]string{authorizationMDKey: bearerPrefix + string(t)}, nil
}

// RequireTransportSecurity разрешает токен поверх insecure-соединения внутри кластера.
func (TokenCredentials) RequireTransportSecurity() bool { return false }
