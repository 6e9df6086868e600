package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ginkoc/wxcloud-little-store/internal/service/order/application"
)

type stubPaymentHandler struct {
	ok     bool
	events []application.PaymentCallbackEvent
}

func (s *stubPaymentHandler) Handle(ctx context.Context, ev application.PaymentCallbackEvent) bool {
	s.events = append(s.events, ev)
	return s.ok
}

type stubRefundHandler struct {
	events []application.RefundCallbackEvent
}

func (s *stubRefundHandler) Handle(ctx context.Context, ev application.RefundCallbackEvent) {
	s.events = append(s.events, ev)
}

func postCallback(t *testing.T, h *CallbackHandler, path, body string) callbackAck {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var ack callbackAck
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

func TestPaymentCallbackAckSuccess(t *testing.T) {
	payments := &stubPaymentHandler{ok: true}
	h := NewCallbackHandler(payments, &stubRefundHandler{})

	body := `{"outTradeNo":"order_1","resultCode":"SUCCESS","returnCode":"SUCCESS","totalFee":5000,"transactionId":"txn_1"}`
	ack := postCallback(t, h, "/callback/payment", body)

	if ack.ErrCode != 0 || ack.ReturnCode != "SUCCESS" {
		t.Errorf("ack = %+v, want success", ack)
	}
	if len(payments.events) != 1 {
		t.Fatalf("handled events = %d, want 1", len(payments.events))
	}
}

// 处理失败时应答 FAIL，让网关按退避策略重发。
func TestPaymentCallbackAckFailOnRejection(t *testing.T) {
	h := NewCallbackHandler(&stubPaymentHandler{ok: false}, &stubRefundHandler{})

	ack := postCallback(t, h, "/callback/payment", `{"outTradeNo":"order_1"}`)
	if ack.ErrCode != 1 || ack.ReturnCode != "FAIL" {
		t.Errorf("ack = %+v, want fail", ack)
	}
}

func TestPaymentCallbackAckFailOnMalformedBody(t *testing.T) {
	payments := &stubPaymentHandler{ok: true}
	h := NewCallbackHandler(payments, &stubRefundHandler{})

	ack := postCallback(t, h, "/callback/payment", `{not json`)
	if ack.ErrCode != 1 || ack.ReturnCode != "FAIL" {
		t.Errorf("ack = %+v, want fail", ack)
	}
	if len(payments.events) != 0 {
		t.Error("malformed body must not reach the handler")
	}
}

// 退款回调永远应答成功：网关重发解决不了数据问题。
func TestRefundCallbackAlwaysAcksSuccess(t *testing.T) {
	refunds := &stubRefundHandler{}
	h := NewCallbackHandler(&stubPaymentHandler{}, refunds)

	ack := postCallback(t, h, "/callback/refund", `{"out_refund_no":"refund_1","result_code":"FAIL","return_code":"SUCCESS"}`)
	if ack.ErrCode != 0 || ack.ReturnCode != "SUCCESS" {
		t.Errorf("ack = %+v, want success even for failure result", ack)
	}
	if len(refunds.events) != 1 {
		t.Fatalf("handled events = %d, want 1", len(refunds.events))
	}
	if refunds.events[0].OutRefundNo != "refund_1" {
		t.Errorf("event = %+v", refunds.events[0])
	}
}

func TestRefundCallbackAcksSuccessOnMalformedBody(t *testing.T) {
	refunds := &stubRefundHandler{}
	h := NewCallbackHandler(&stubPaymentHandler{}, refunds)

	ack := postCallback(t, h, "/callback/refund", `{not json`)
	if ack.ErrCode != 0 || ack.ReturnCode != "SUCCESS" {
		t.Errorf("ack = %+v, want success", ack)
	}
	if len(refunds.events) != 0 {
		t.Error("malformed body must not reach the handler")
	}
}
