package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/httpclient"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain/port"
)

// WxpayHTTPAdapter 是 port.PaymentGateway 的微信支付云调用实现。
// 网关的业务失败统一转成 *domain.GatewayError，调用方按错误码决定重试。
type WxpayHTTPAdapter struct {
	client    *httpclient.Client
	baseURL   string
	mchID     string
	notifyURL string
}

func NewWxpayHTTPAdapter(client *httpclient.Client, baseURL, mchID, notifyURL string) *WxpayHTTPAdapter {
	return &WxpayHTTPAdapter{
		client:    client,
		baseURL:   baseURL,
		mchID:     mchID,
		notifyURL: notifyURL,
	}
}

// gatewayResponse 是微信支付网关的通用应答结构。
// return_code 表示通信层结果，result_code 表示业务层结果。
type gatewayResponse struct {
	ReturnCode string `json:"return_code"`
	ReturnMsg  string `json:"return_msg"`
	ResultCode string `json:"result_code"`
	ErrCode    string `json:"err_code"`
	ErrCodeDes string `json:"err_code_des"`
}

// gatewayErr 把非成功应答转成领域错误。
func (r *gatewayResponse) gatewayErr() error {
	if r.ReturnCode != "SUCCESS" {
		return &domain.GatewayError{Code: "network_error", Message: r.ReturnMsg}
	}
	if r.ResultCode != "SUCCESS" {
		msg := r.ErrCodeDes
		if msg == "" {
			msg = r.ReturnMsg
		}
		return &domain.GatewayError{Code: r.ErrCode, Message: msg}
	}
	return nil
}

type unifiedOrderResponse struct {
	gatewayResponse
	PrepayID string `json:"prepay_id"`
	NonceStr string `json:"nonce_str"`
	Package  string `json:"package"`
	PaySign  string `json:"pay_sign"`
	SignType string `json:"sign_type"`
}

func (a *WxpayHTTPAdapter) RequestPayment(ctx context.Context, orderID string, totalFee int64, openID string) (*port.PaymentParams, error) {
	req := map[string]interface{}{
		"sub_mch_id":   a.mchID,
		"out_trade_no": orderID,
		"total_fee":    totalFee,
		"openid":       openID,
		"body":         "小店商品",
		"notify_url":   a.notifyURL,
	}
	var resp unifiedOrderResponse
	if err := a.client.PostJSON(ctx, "wxpay.unifiedorder", a.baseURL+"/unifiedorder", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.gatewayErr(); err != nil {
		return nil, err
	}
	return &port.PaymentParams{
		PrepayID:  resp.PrepayID,
		NonceStr:  resp.NonceStr,
		Timestamp: fmt.Sprintf("%d", time.Now().Unix()),
		Package:   resp.Package,
		PaySign:   resp.PaySign,
		SignType:  resp.SignType,
	}, nil
}

type orderQueryResponse struct {
	gatewayResponse
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	TotalFee      int64  `json:"total_fee"`
}

func (a *WxpayHTTPAdapter) QueryPayment(ctx context.Context, orderID string) (*port.PaymentStatus, error) {
	req := map[string]interface{}{
		"sub_mch_id":   a.mchID,
		"out_trade_no": orderID,
	}
	var resp orderQueryResponse
	if err := a.client.PostJSON(ctx, "wxpay.orderquery", a.baseURL+"/orderquery", req, &resp); err != nil {
		return nil, err
	}
	if err := resp.gatewayErr(); err != nil {
		return nil, err
	}
	return &port.PaymentStatus{
		TransactionID: resp.TransactionID,
		TradeState:    resp.TradeState,
		TotalFee:      resp.TotalFee,
	}, nil
}

func (a *WxpayHTTPAdapter) RequestRefund(ctx context.Context, req *port.RefundRequest) error {
	body := map[string]interface{}{
		"sub_mch_id":    a.mchID,
		"out_trade_no":  req.OutTradeNo,
		"out_refund_no": req.OutRefundNo, // 幂等键，网关按它去重
		"total_fee":     req.TotalFee,
		"refund_fee":    req.RefundFee,
		"refund_desc":   req.Reason,
	}
	var resp gatewayResponse
	if err := a.client.PostJSON(ctx, "wxpay.refund", a.baseURL+"/refund", body, &resp); err != nil {
		return err
	}
	return resp.gatewayErr()
}

type refundQueryResponse struct {
	gatewayResponse
	OutRefundNo  string `json:"out_refund_no"`
	RefundID     string `json:"refund_id"`
	RefundStatus string `json:"refund_status"`
	RefundFee    int64  `json:"refund_fee"`
}

func (a *WxpayHTTPAdapter) QueryRefund(ctx context.Context, outRefundNo string) (*port.RefundStatus, error) {
	req := map[string]interface{}{
		"sub_mch_id":    a.mchID,
		"out_refund_no": outRefundNo,
	}
	var resp refundQueryResponse
	if err := a.client.PostJSON(ctx, "wxpay.refundquery", a.baseURL+"/refundquery", req, &resp); err != nil {
		return nil, err
	}
	if resp.ReturnCode != "SUCCESS" {
		return nil, &domain.GatewayError{Code: "network_error", Message: resp.ReturnMsg}
	}

	status := resp.RefundStatus
	switch {
	case resp.ResultCode != "SUCCESS" && resp.ErrCode == "REFUNDNOTEXIST":
		// 网关没有这笔退款，视为从未发起
		status = "NOTFOUND"
	case resp.ResultCode != "SUCCESS":
		return nil, &domain.GatewayError{Code: resp.ErrCode, Message: resp.ErrCodeDes}
	case status == "":
		status = "PROCESSING"
	}

	raw, _ := json.Marshal(resp)
	return &port.RefundStatus{
		OutRefundNo: outRefundNo,
		RefundID:    resp.RefundID,
		Status:      status,
		RefundFee:   resp.RefundFee,
		RawResponse: string(raw),
	}, nil
}
