package application

import (
	"context"
	"errors"
	"testing"

	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
)

func newTestOrderService(store *memStore, gateway *fakeGateway, admins ...string) *OrderService {
	adminSet := make(map[string]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}
	engine := NewEngine(store)
	refunds := newTestRefundService(store, gateway, newFakeGuard(), allowAllPolicy{}, &fakeNoticeProducer{})
	return NewOrderService(store, engine, gateway, &fakeAdminChecker{admins: adminSet}, allowAllPolicy{}, refunds)
}

func TestCreateOrderPersistsPendingPayment(t *testing.T) {
	store := newMemStore()
	svc := newTestOrderService(store, newFakeGateway())

	order, err := svc.CreateOrder(context.Background(), "user_1", CreateOrderInput{
		Items: []domain.OrderItem{
			{ProductID: "p1", Name: "牛奶", Price: 500, Quantity: 2},
			{ProductID: "p2", Name: "面包", Price: 300, Quantity: 1},
		},
		ContactName:  "张三",
		ContactPhone: "13800000000",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Status != domain.StatusPendingPayment {
		t.Errorf("status = %s, want pending_payment", order.Status)
	}
	if order.TotalFee != 1300 {
		t.Errorf("totalFee = %d, want 1300", order.TotalFee)
	}

	stored, err := store.Orders().Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if stored.ContactName != "张三" {
		t.Errorf("contactName = %q", stored.ContactName)
	}
}

func TestCreatePaymentRejectsPaidOrder(t *testing.T) {
	store := newMemStore()
	store.addOrder(paidOrder("order_1", "user_1", 5000))
	svc := newTestOrderService(store, newFakeGateway())

	_, err := svc.CreatePayment(context.Background(), "user_1", "order_1")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCreatePaymentRejectsNonOwner(t *testing.T) {
	store := newMemStore()
	store.addOrder(pendingOrder("order_1", "user_1", 5000))
	svc := newTestOrderService(store, newFakeGateway())

	if _, err := svc.CreatePayment(context.Background(), "user_2", "order_1"); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
}

// 已收款订单的管理员取消不直接中止，而是进入退款 saga，
// 真正的中止由退款回调完成。
func TestCancelOrderByAdminPaidEntersRefundSaga(t *testing.T) {
	store := newMemStore()
	store.addOrder(paidOrder("order_1", "user_1", 5000))
	svc := newTestOrderService(store, newFakeGateway(), "admin_1")

	result, err := svc.CancelOrderByAdmin(context.Background(), "admin_1", "order_1", "缺货")
	if err != nil {
		t.Fatalf("CancelOrderByAdmin: %v", err)
	}
	if !result.Refunding || result.RefundID == "" {
		t.Fatalf("result = %+v, want refunding with refundID", result)
	}

	order, _ := store.Orders().Get(context.Background(), "order_1")
	if order.Status != domain.StatusRefunding {
		t.Fatalf("order status = %s, want refunding", order.Status)
	}
	rec, _ := store.Refunds().GetByRefundID(context.Background(), result.RefundID)
	if rec.Status != domain.RefundProcessing {
		t.Errorf("refund status = %s, want processing", rec.Status)
	}
	if rec.RefundFee != 5000 {
		t.Errorf("refundFee = %d, want full amount", rec.RefundFee)
	}
}

func TestCancelOrderByAdminUnpaidCancelsDirectly(t *testing.T) {
	store := newMemStore()
	store.addOrder(pendingOrder("order_1", "user_1", 5000))
	svc := newTestOrderService(store, newFakeGateway(), "admin_1")

	result, err := svc.CancelOrderByAdmin(context.Background(), "admin_1", "order_1", "")
	if err != nil {
		t.Fatalf("CancelOrderByAdmin: %v", err)
	}
	if result.Refunding {
		t.Fatal("unpaid order must not enter the refund saga")
	}

	order, _ := store.Orders().Get(context.Background(), "order_1")
	if order.Status != domain.StatusCancelled {
		t.Fatalf("order status = %s, want cancelled", order.Status)
	}
	if recs, _ := store.Refunds().ListByOrder(context.Background(), "order_1"); len(recs) != 0 {
		t.Errorf("refund records = %d, want 0", len(recs))
	}
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	store := newMemStore()
	store.addOrder(paidOrder("order_1", "user_1", 5000))
	svc := newTestOrderService(store, newFakeGateway())

	if _, err := svc.AcceptOrder(context.Background(), "user_1", "order_1"); !errors.Is(err, domain.ErrNotAdmin) {
		t.Errorf("AcceptOrder err = %v, want ErrNotAdmin", err)
	}
	if _, err := svc.CancelOrderByAdmin(context.Background(), "user_1", "order_1", ""); !errors.Is(err, domain.ErrNotAdmin) {
		t.Errorf("CancelOrderByAdmin err = %v, want ErrNotAdmin", err)
	}
}

func TestGetOrderDetailOwnership(t *testing.T) {
	store := newMemStore()
	store.addOrder(paidOrder("order_1", "user_1", 5000))
	svc := newTestOrderService(store, newFakeGateway(), "admin_1")

	if _, err := svc.GetOrderDetail(context.Background(), "user_2", "order_1"); !errors.Is(err, domain.ErrNotOwner) {
		t.Errorf("stranger err = %v, want ErrNotOwner", err)
	}
	if _, err := svc.GetOrderDetail(context.Background(), "admin_1", "order_1"); err != nil {
		t.Errorf("admin err = %v, want access", err)
	}
}

// 退款资格规则把不符合条件的退款入口从可用操作里过滤掉。
func TestGetOrderActionsFiltersRefundByPolicy(t *testing.T) {
	store := newMemStore()
	store.addOrder(paidOrder("order_1", "user_1", 5000))
	engine := NewEngine(store)
	refunds := newTestRefundService(store, newFakeGateway(), newFakeGuard(), rejectPolicy{}, &fakeNoticeProducer{})
	svc := NewOrderService(store, engine, newFakeGateway(), &fakeAdminChecker{admins: map[string]bool{}}, rejectPolicy{}, refunds)

	actions, err := svc.GetOrderActions(context.Background(), "user_1", "order_1")
	if err != nil {
		t.Fatalf("GetOrderActions: %v", err)
	}
	for _, a := range actions {
		if a.Name == domain.TransitionApplyRefund {
			t.Fatalf("applyRefund offered despite policy rejection: %+v", actions)
		}
	}
}

func TestAdminLifecycleTransitions(t *testing.T) {
	store := newMemStore()
	store.addOrder(paidOrder("order_1", "user_1", 5000))
	svc := newTestOrderService(store, newFakeGateway(), "admin_1")
	ctx := context.Background()

	if _, err := svc.AcceptOrder(ctx, "admin_1", "order_1"); err != nil {
		t.Fatalf("AcceptOrder: %v", err)
	}
	if _, err := svc.StartDelivery(ctx, "admin_1", "order_1"); err != nil {
		t.Fatalf("StartDelivery: %v", err)
	}
	if _, err := svc.CompleteDelivery(ctx, "admin_1", "order_1"); err != nil {
		t.Fatalf("CompleteDelivery: %v", err)
	}
	if _, err := svc.ConfirmReceived(ctx, "user_1", "order_1"); err != nil {
		t.Fatalf("ConfirmReceived: %v", err)
	}

	order, _ := store.Orders().Get(ctx, "order_1")
	if order.Status != domain.StatusCompleted {
		t.Fatalf("order status = %s, want completed", order.Status)
	}
	if order.AcceptTime == nil || order.DeliverTime == nil || order.DeliveredTime == nil || order.CompleteTime == nil {
		t.Error("lifecycle timestamps not all stamped")
	}
	if hists := store.historiesFor("order_1"); len(hists) != 4 {
		t.Errorf("history rows = %d, want 4", len(hists))
	}
}
