package xcachemgr

import "errors"

var (
	// ErrEmptyName 表示缓存名称为空。
	ErrEmptyName = errors.New("xcachemgr: empty cache name")

	// ErrAlreadyRegistered 表示同名缓存已注册。
	ErrAlreadyRegistered = errors.New("xcachemgr: cache already registered")

	// ErrTypeMismatch 表示同名缓存已以不同的值类型注册。
	ErrTypeMismatch = errors.New("xcachemgr: cache registered with a different value type")

	// ErrUnknownCache 表示缓存名称未注册。
	ErrUnknownCache = errors.New("xcachemgr: unknown cache")

	// ErrClosed 表示 Manager 已关闭。
	ErrClosed = errors.New("xcachemgr: manager closed")
)
