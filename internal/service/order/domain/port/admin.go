package port

import "context"

// AdminChecker 查询用户是否具有管理员身份。
// 查询失败按非管理员处理（宁可拒绝合法操作，不放行越权操作）。
type AdminChecker interface {
	IsAdmin(ctx context.Context, openID string) (bool, error)
}
