package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// OK represents a successful operation.
var OK = Register(&Errno{
	Code:      0,
	HTTP:      http.StatusOK,
	GRPCCode:  codes.OK,
	MessageEN: "Success",
	MessageZH: "成功",
})

var (
	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = Register(&Errno{
		Code:      MakeCode(ModuleCommon, CategoryRequest, 0),
		HTTP:      http.StatusBadRequest,
		GRPCCode:  codes.InvalidArgument,
		MessageEN: "Bad request",
		MessageZH: "请求错误",
	})

	// ErrRouteNotFound indicates no route matched the request.
	ErrRouteNotFound = Register(&Errno{
		Code:      MakeCode(ModuleCommon, CategoryResource, 1),
		HTTP:      http.StatusNotFound,
		GRPCCode:  codes.NotFound,
		MessageEN: "Route not found",
		MessageZH: "路由不存在",
	})

	// ErrMethodNotAllowed indicates the route exists for other methods.
	ErrMethodNotAllowed = Register(&Errno{
		Code:      MakeCode(ModuleCommon, CategoryRequest, 2),
		HTTP:      http.StatusMethodNotAllowed,
		GRPCCode:  codes.Unimplemented,
		MessageEN: "Method not allowed",
		MessageZH: "方法不允许",
	})

	// ErrInternal indicates an internal server error.
	ErrInternal = Register(&Errno{
		Code:      MakeCode(ModuleCommon, CategoryInternal, 0),
		HTTP:      http.StatusInternalServerError,
		GRPCCode:  codes.Internal,
		MessageEN: "Internal server error",
		MessageZH: "服务器内部错误",
	})

	// ErrServiceUnavailable indicates the service is unavailable.
	ErrServiceUnavailable = Register(&Errno{
		Code:      MakeCode(ModuleCommon, CategoryUnavailable, 1),
		HTTP:      http.StatusServiceUnavailable,
		GRPCCode:  codes.Unavailable,
		MessageEN: "Service unavailable",
		MessageZH: "服务不可用",
	})
)

// Control plane errors.
var (
	// ErrEngineUnavailable is returned by a connector whose engine is unset
	// or not started.
	ErrEngineUnavailable = NewBuilder(ModuleControl, CategoryUnavailable, 1).
				HTTP(http.StatusServiceUnavailable).
				GRPC(codes.Unavailable).
				Message("Engine unavailable", "引擎不可用").
				MustBuild()

	// ErrExecutorOverloaded is returned when a connector executor rejects a
	// request.
	ErrExecutorOverloaded = NewBuilder(ModuleControl, CategoryRateLimit, 1).
				HTTP(http.StatusServiceUnavailable).
				GRPC(codes.ResourceExhausted).
				Message("Executor overloaded", "执行器繁忙").
				MustBuild()

	// ErrStatusUnavailable is returned when a status snapshot cannot be
	// built, e.g. an engine without a server.
	ErrStatusUnavailable = NewBuilder(ModuleControl, CategoryResource, 1).
				HTTP(http.StatusNotFound).
				GRPC(codes.NotFound).
				Message("Status unavailable", "状态不可用").
				MustBuild()
)
