// Package grpc exposes the security pipeline to gRPC services as a unary interceptor
// chain and hosts the gRPC server with the standard health service.
package grpc

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/turtacn/accessgate/internal/domain/models"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/internal/infrastructure/monitoring"
	"github.com/turtacn/accessgate/pkg/constants"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
	"github.com/turtacn/accessgate/pkg/utils"
)

// Pipeline stage names, shared with the HTTP middleware metrics.
const (
	stageRateLimit    = "rate_limit"
	stageAuthenticate = "authentication"
	stageAuthorize    = "authorization"
)

// InterceptorChain 拦截器链
type InterceptorChain struct {
	log     logger.Logger
	limiter service.RateLimiter
	tokens  service.TokenService
	policy  service.PolicyEngine
	metrics *monitoring.Metrics
}

// NewInterceptorChain 创建拦截器链. metrics may be nil.
func NewInterceptorChain(
	log logger.Logger,
	limiter service.RateLimiter,
	tokens service.TokenService,
	policy service.PolicyEngine,
	metrics *monitoring.Metrics,
) *InterceptorChain {
	return &InterceptorChain{
		log:     log.WithComponent("grpc_interceptor"),
		limiter: limiter,
		tokens:  tokens,
		policy:  policy,
		metrics: metrics,
	}
}

// UnaryRecoveryInterceptor 恢复拦截器(捕获 panic)
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Error(grpcCodes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor 日志拦截器
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()

		resp, err := handler(ctx, req)

		statusCode := grpcCodes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				statusCode = st.Code()
			}
		}

		ic.log.Info(ctx, "gRPC request completed",
			logger.String("method", info.FullMethod),
			logger.String("client_ip", ClientIPFromContext(ctx)),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", statusCode.String()),
		)
		return resp, err
	}
}

// UnarySecurityInterceptor runs rate limiting, token verification and policy
// evaluation with the full method name as the request path. Metadata stands in
// for HTTP headers and the peer address for the remote address.
func (ic *InterceptorChain) UnarySecurityInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		reqInfo := requestInfo(ctx, info.FullMethod)
		clientIP := utils.ClientIP(reqInfo.Header, reqInfo.RemoteAddr)

		// 先验证携带的令牌，以便按调用方主体计入用户桶；验证结果在认证阶段处理
		token := bearer(reqInfo.Header.Get(constants.HeaderAuthorization))
		var claims *models.TokenClaims
		var verifyErr error
		userID := ""
		if token != "" {
			claims, verifyErr = ic.tokens.Verify(ctx, token, models.TokenTypeAccess)
			if verifyErr == nil {
				userID = claims.Subject
			}
		}

		// 限流：限流器故障时降级放行
		result, err := ic.limiter.Check(ctx, reqInfo, userID)
		switch {
		case err != nil:
			ic.log.Error(ctx, "Rate limiter failed, allowing call", err,
				logger.String("method", info.FullMethod),
				logger.String("client_ip", clientIP),
			)
			ic.record(stageRateLimit, "error")
		case !result.Allowed:
			ic.record(stageRateLimit, "denied")
			if ic.metrics != nil {
				ic.metrics.RecordRateLimitHit(result.Scope)
			}
			_ = grpc.SetHeader(ctx, metadata.Pairs(strings.ToLower(constants.HeaderRetryAfter), strconv.Itoa(result.RetryAfter)))
			return nil, toStatus(errors.ErrRateLimitExceeded(result.Scope, result.RetryAfter))
		default:
			ic.record(stageRateLimit, "allowed")
		}

		// 认证：携带令牌时必须有效，未携带时交由策略判断
		if token != "" {
			if verifyErr != nil {
				ic.record(stageAuthenticate, "denied")
				return nil, toStatus(verifyErr)
			}
			ic.record(stageAuthenticate, "allowed")
		}

		// 授权：策略引擎故障时拒绝
		decision, err := ic.policy.Evaluate(ctx, reqInfo, clientIP, claims)
		if err != nil {
			ic.log.Error(ctx, "Policy engine failed, denying call", err,
				logger.String("method", info.FullMethod),
			)
			ic.record(stageAuthorize, "error")
			decision = &models.PolicyDecision{Reason: models.ReasonEngineError, Message: "authorization is unavailable"}
		}
		if !decision.Allowed {
			if err == nil {
				ic.record(stageAuthorize, "denied")
			}
			ic.log.Debug(ctx, "gRPC call denied",
				logger.String("method", info.FullMethod),
				logger.String("reason", string(decision.Reason)),
			)
			if claims != nil || decision.HasHint() {
				return nil, status.Error(grpcCodes.PermissionDenied, decision.Message)
			}
			return nil, status.Error(grpcCodes.Unauthenticated, decision.Message)
		}
		ic.record(stageAuthorize, "allowed")

		ctx = context.WithValue(ctx, constants.ContextKeyClientIP, clientIP)
		if claims != nil {
			ctx = context.WithValue(ctx, constants.ContextKeyIdentity, models.IdentityFromClaims(claims))
		}
		return handler(ctx, req)
	}
}

// UnaryErrorInterceptor 错误转换拦截器(将领域错误转换为 gRPC 状态码)
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		return resp, toStatus(err)
	}
}

// ChainUnaryInterceptors 链式调用所有拦截器
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(), // 1. 恢复 panic
		ic.UnaryLoggingInterceptor(),  // 2. 日志
		ic.UnarySecurityInterceptor(), // 3. 限流、认证、授权
		ic.UnaryErrorInterceptor(),    // 4. 错误转换
	)
}

func (ic *InterceptorChain) record(stage, outcome string) {
	if ic.metrics != nil {
		ic.metrics.RecordDecision(stage, outcome)
	}
}

// IdentityFromContext returns the caller identity the security interceptor attached.
func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(constants.ContextKeyIdentity).(*models.Identity)
	return identity, ok && identity != nil
}

// ClientIPFromContext returns the client IP the security interceptor resolved.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(constants.ContextKeyClientIP).(string)
	return ip
}

// requestInfo builds the transport-neutral request view from incoming metadata.
func requestInfo(ctx context.Context, fullMethod string) *models.RequestInfo {
	header := make(http.Header)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for key, values := range md {
			if strings.HasPrefix(key, ":") {
				continue
			}
			header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
	}

	info := &models.RequestInfo{
		Method: http.MethodPost,
		Path:   fullMethod,
		Header: header,
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		info.RemoteAddr = p.Addr.String()
		info.TLS = p.AuthInfo != nil && p.AuthInfo.AuthType() == "tls"
	}
	return info
}

func bearer(value string) string {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], constants.BearerScheme) {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// toStatus 将领域错误转换为 gRPC 错误
func toStatus(err error) error {
	gateErr, ok := errors.AsGateError(err)
	if !ok {
		return status.Error(grpcCodes.Internal, "internal server error")
	}

	switch gateErr.HTTPStatus() {
	case http.StatusBadRequest:
		return status.Error(grpcCodes.InvalidArgument, gateErr.Error())
	case http.StatusUnauthorized:
		return status.Error(grpcCodes.Unauthenticated, gateErr.Error())
	case http.StatusForbidden:
		return status.Error(grpcCodes.PermissionDenied, gateErr.Error())
	case http.StatusTooManyRequests:
		return status.Error(grpcCodes.ResourceExhausted, gateErr.Error())
	case http.StatusServiceUnavailable:
		return status.Error(grpcCodes.Unavailable, gateErr.Error())
	default:
		return status.Error(grpcCodes.Internal, "internal server error")
	}
}
