package adapter

import (
	"context"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/httpclient"
)

// AdminHTTPAdapter 是 port.AdminChecker 的 HTTP 实现，
// 向管理后台查询 openid 是否具有商家身份。
type AdminHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewAdminHTTPAdapter(client *httpclient.Client, baseURL string) *AdminHTTPAdapter {
	return &AdminHTTPAdapter{client: client, baseURL: baseURL}
}

type adminCheckResponse struct {
	IsAdmin bool `json:"isAdmin"`
}

// IsAdmin 查询失败时返回 error，调用方按非管理员处理。
func (a *AdminHTTPAdapter) IsAdmin(ctx context.Context, openID string) (bool, error) {
	req := map[string]string{"openid": openID}
	var resp adminCheckResponse
	if err := a.client.PostJSON(ctx, "admin.check", a.baseURL+"/api/admin/check", req, &resp); err != nil {
		return false, err
	}
	return resp.IsAdmin, nil
}
