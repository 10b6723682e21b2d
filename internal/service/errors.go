package service

import "errors"

// 业务层通用错误，路由层据此映射到发给客户端的协议事件。
var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyMember = errors.New("user already in chat")
)
