package domain

import (
	"strings"
	"testing"
)

func TestTransitionAllowsFrom(t *testing.T) {
	cases := []struct {
		name       string
		transition string
		from       Status
		want       bool
	}{
		{"pay from pending", TransitionPayOrder, StatusPendingPayment, true},
		{"pay from paid", TransitionPayOrder, StatusPaid, false},
		{"user cancel only before payment", TransitionCancelOrder, StatusPaid, false},
		{"user cancel from pending", TransitionCancelOrder, StatusPendingPayment, true},
		{"confirm from delivered", TransitionConfirmReceived, StatusDelivered, true},
		{"confirm from delivering", TransitionConfirmReceived, StatusDelivering, false},
		{"refund from paid", TransitionApplyRefund, StatusPaid, true},
		{"refund from pending", TransitionApplyRefund, StatusPendingPayment, false},
		{"refund from delivered", TransitionApplyRefund, StatusDelivered, true},
		{"accept from paid", TransitionAcceptOrder, StatusPaid, true},
		{"accept from accepted", TransitionAcceptOrder, StatusAccepted, false},
		{"deliver from accepted", TransitionStartDelivery, StatusAccepted, true},
		{"complete delivery from delivering", TransitionCompleteDelivery, StatusDelivering, true},
		{"admin cancel from pending", TransitionCancelOrderByAdmin, StatusPendingPayment, true},
		{"admin cancel from delivering", TransitionCancelOrderByAdmin, StatusDelivering, true},
		{"admin cancel from delivered", TransitionCancelOrderByAdmin, StatusDelivered, false},
		{"cancel refund from refunding", TransitionCancelRefund, StatusRefunding, true},
		{"complete refund from refunding", TransitionCompleteRefund, StatusRefunding, true},
		{"complete refund from paid", TransitionCompleteRefund, StatusPaid, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, ok := Transitions[tc.transition]
			if !ok {
				t.Fatalf("transition %s not defined", tc.transition)
			}
			if got := tr.AllowsFrom(tc.from); got != tc.want {
				t.Errorf("AllowsFrom(%s) = %v, want %v", tc.from, got, tc.want)
			}
		})
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusCancelled} {
		for name, tr := range Transitions {
			if tr.AllowsFrom(terminal) {
				t.Errorf("terminal status %s must not allow transition %s", terminal, name)
			}
		}
	}
}

func TestNeedsRefund(t *testing.T) {
	refundFrom := []Status{StatusPaid, StatusAccepted, StatusDelivering, StatusDelivered}
	for _, from := range refundFrom {
		if !NeedsRefund(from, StatusRefunding) {
			t.Errorf("NeedsRefund(%s, refunding) = false, want true", from)
		}
	}
	if NeedsRefund(StatusPendingPayment, StatusRefunding) {
		t.Error("pending_payment must not trigger refund")
	}
	if NeedsRefund(StatusPaid, StatusCancelled) {
		t.Error("paid -> cancelled must not trigger refund")
	}
}

func TestFriendlyMessage(t *testing.T) {
	if msg := FriendlyMessage(StatusPaid, StatusRefunding); !strings.Contains(msg, "退款") {
		t.Errorf("unexpected refunding message: %s", msg)
	}
	if msg := FriendlyMessage(StatusRefunding, StatusCancelled); !strings.Contains(msg, "客服") {
		t.Errorf("unexpected rollback message: %s", msg)
	}
	// 未配置的组合走默认文案
	if msg := FriendlyMessage(StatusPaid, StatusAccepted); msg != "订单状态已更新为已接单" {
		t.Errorf("unexpected default message: %s", msg)
	}
}

func TestAvailableActions(t *testing.T) {
	user := AvailableActions(StatusDelivered, false)
	names := make([]string, 0, len(user))
	for _, a := range user {
		names = append(names, a.Name)
	}
	if len(names) != 2 || names[0] != TransitionConfirmReceived || names[1] != TransitionApplyRefund {
		t.Errorf("delivered user actions = %v", names)
	}

	admin := AvailableActions(StatusRefunding, true)
	if len(admin) != 2 {
		t.Fatalf("refunding admin actions = %v", admin)
	}
	if admin[0].To != StatusCancelled || admin[1].To != StatusCancelled {
		t.Errorf("refund resolutions must land in cancelled, got %v", admin)
	}

	if got := AvailableActions(StatusCompleted, true); len(got) != 0 {
		t.Errorf("completed must expose no actions, got %v", got)
	}
}

func TestNewOrderComputesTotal(t *testing.T) {
	order, err := NewOrder("user_1", []OrderItem{
		{ProductID: "p1", Name: "酱香饼", Price: 1500, Quantity: 2},
		{ProductID: "p2", Name: "豆浆", Price: 500, Quantity: 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	if order.TotalFee != 5000 {
		t.Errorf("TotalFee = %d, want 5000", order.TotalFee)
	}
	if order.Status != StatusPendingPayment {
		t.Errorf("Status = %s, want pending_payment", order.Status)
	}

	if _, err := NewOrder("user_1", nil); err == nil {
		t.Error("empty items must be rejected")
	}
	if _, err := NewOrder("", []OrderItem{{Price: 1, Quantity: 1}}); err == nil {
		t.Error("empty openid must be rejected")
	}
}

func TestNewRefundRecordValidation(t *testing.T) {
	order := &Order{ID: "o1", Status: StatusPaid, IsPaid: true, TotalFee: 5000}

	rec, err := NewRefundRecord(order, "user_1", 5000, "不想要了")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != RefundProcessing {
		t.Errorf("new refund status = %s", rec.Status)
	}
	if !strings.HasPrefix(rec.RefundID, "refund_") {
		t.Errorf("refund id format: %s", rec.RefundID)
	}

	if _, err := NewRefundRecord(order, "user_1", 5001, "x"); err == nil {
		t.Error("refund above total must be rejected")
	}
	if _, err := NewRefundRecord(order, "user_1", 0, "x"); err == nil {
		t.Error("zero refund must be rejected")
	}

	unpaid := &Order{ID: "o2", Status: StatusPaid, IsPaid: false, TotalFee: 100}
	if _, err := NewRefundRecord(unpaid, "user_1", 100, "x"); err == nil {
		t.Error("unpaid order must be rejected")
	}
}
