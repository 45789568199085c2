// Package pool provides the named worker pools used as executors by the
// control plane, and the scheduled utility pool owned by the server.
package pool

import "errors"

// 池相关错误定义
var (
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("pool is closed")

	// ErrPoolOverload 池已满
	ErrPoolOverload = errors.New("pool is overloaded")

	// ErrInvalidPoolConfig 无效的池配置
	ErrInvalidPoolConfig = errors.New("invalid pool config")

	// ErrNotStarted 执行器未启动
	ErrNotStarted = errors.New("executor is not started")
)
