package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
)

type fakeContinuationPublisher struct {
	published []ConfirmCursor
	err       error
}

func (p *fakeContinuationPublisher) PublishContinuation(ctx context.Context, cursor ConfirmCursor) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, cursor)
	return nil
}

func deliveredOrder(id, openID string, deliveredAgo time.Duration) *domain.Order {
	o := paidOrder(id, openID, 5000)
	o.Status = domain.StatusDelivered
	delivered := time.Now().Add(-deliveredAgo)
	o.DeliveredTime = &delivered
	return o
}

func seedDelivered(store *memStore, n int, deliveredAgo time.Duration) {
	for i := 1; i <= n; i++ {
		store.addOrder(deliveredOrder(fmt.Sprintf("order_%03d", i), "user_1", deliveredAgo))
	}
}

func newTestAutoConfirm(store *memStore, publisher ContinuationPublisher) *AutoConfirmService {
	return NewAutoConfirmService(store, NewEngine(store), publisher, 7)
}

func TestAutoConfirmProcessesAllPages(t *testing.T) {
	store := newMemStore()
	seedDelivered(store, 250, 8*24*time.Hour)
	svc := newTestAutoConfirm(store, &fakeContinuationPublisher{})

	result, err := svc.Run(context.Background(), ConfirmCursor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Continued {
		t.Fatal("continued = true, want full scan in one call")
	}
	if result.Cursor.ProcessedTotal != 250 {
		t.Errorf("processedTotal = %d, want 250", result.Cursor.ProcessedTotal)
	}
	if result.Cursor.SuccessCount != 250 {
		t.Errorf("successCount = %d, want 250", result.Cursor.SuccessCount)
	}
	if result.Cursor.FailureCount != 0 {
		t.Errorf("failureCount = %d, want 0", result.Cursor.FailureCount)
	}

	order, _ := store.Orders().Get(context.Background(), "order_250")
	if order.Status != domain.StatusCompleted {
		t.Fatalf("order status = %s, want completed", order.Status)
	}
	if order.CompleteTime == nil {
		t.Error("completeTime not stamped")
	}
	hists := store.historiesFor("order_001")
	if len(hists) != 1 || hists[0].Remark != "送达超时，系统自动确认收货" {
		t.Fatalf("unexpected history: %+v", hists)
	}
}

func TestAutoConfirmSkipsRecentDeliveries(t *testing.T) {
	store := newMemStore()
	store.addOrder(deliveredOrder("order_001", "user_1", 2*24*time.Hour))
	svc := newTestAutoConfirm(store, &fakeContinuationPublisher{})

	result, err := svc.Run(context.Background(), ConfirmCursor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Cursor.ProcessedTotal != 0 {
		t.Errorf("processedTotal = %d, want 0", result.Cursor.ProcessedTotal)
	}
	order, _ := store.Orders().Get(context.Background(), "order_001")
	if order.Status != domain.StatusDelivered {
		t.Errorf("order status = %s, want untouched", order.Status)
	}
}

// 时间预算耗尽：处理完当前页就把游标发到续批主题。
func TestAutoConfirmBudgetExhaustedPublishesContinuation(t *testing.T) {
	store := newMemStore()
	seedDelivered(store, 150, 8*24*time.Hour)
	publisher := &fakeContinuationPublisher{}
	svc := newTestAutoConfirm(store, publisher)

	base := time.Now()
	calls := 0
	svc.now = func() time.Time {
		calls++
		if calls <= 2 {
			return base
		}
		// 第一页处理完后时钟直接越过预算
		return base.Add(svc.budget + time.Second)
	}

	result, err := svc.Run(context.Background(), ConfirmCursor{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Continued {
		t.Fatal("continued = false, want continuation")
	}
	if result.Cursor.ProcessedTotal != 100 {
		t.Errorf("processedTotal = %d, want 100", result.Cursor.ProcessedTotal)
	}
	if result.Cursor.LastID != "order_100" {
		t.Errorf("lastID = %q, want order_100", result.Cursor.LastID)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("published = %d, want 1", len(publisher.published))
	}
	if publisher.published[0].LastID != "order_100" {
		t.Errorf("published cursor lastID = %q", publisher.published[0].LastID)
	}

	// 游标之后的订单还没动
	order, _ := store.Orders().Get(context.Background(), "order_101")
	if order.Status != domain.StatusDelivered {
		t.Errorf("order_101 status = %s, want delivered", order.Status)
	}
}

func TestAutoConfirmResumesFromCursor(t *testing.T) {
	store := newMemStore()
	seedDelivered(store, 150, 8*24*time.Hour)
	svc := newTestAutoConfirm(store, &fakeContinuationPublisher{})

	cursor := ConfirmCursor{LastID: "order_100", ProcessedTotal: 100, SuccessCount: 100}
	result, err := svc.Run(context.Background(), cursor)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Cursor.ProcessedTotal != 150 {
		t.Errorf("processedTotal = %d, want 150", result.Cursor.ProcessedTotal)
	}

	// 游标之前的订单不会被重复处理
	order, _ := store.Orders().Get(context.Background(), "order_050")
	if order.Status != domain.StatusDelivered {
		t.Errorf("order_050 status = %s, want untouched", order.Status)
	}
	after, _ := store.Orders().Get(context.Background(), "order_150")
	if after.Status != domain.StatusCompleted {
		t.Errorf("order_150 status = %s, want completed", after.Status)
	}
}

func TestAutoConfirmPublishFailurePropagates(t *testing.T) {
	store := newMemStore()
	seedDelivered(store, 150, 8*24*time.Hour)
	publisher := &fakeContinuationPublisher{err: fmt.Errorf("kafka down")}
	svc := newTestAutoConfirm(store, publisher)

	base := time.Now()
	calls := 0
	svc.now = func() time.Time {
		calls++
		if calls <= 2 {
			return base
		}
		return base.Add(svc.budget + time.Second)
	}

	if _, err := svc.Run(context.Background(), ConfirmCursor{}); err == nil {
		t.Fatal("expected error when continuation publish fails")
	}
}
