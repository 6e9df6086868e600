package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
)

func addStaleRefund(store *memStore, orderID, refundID string, age time.Duration) *domain.RefundRecord {
	rec := processingRefund(refundID, orderID, 5000, age)
	store.addOrder(refundingOrder(orderID, "user_1", 5000, refundID))
	_ = store.Refunds().Create(context.Background(), rec)
	return rec
}

func TestSweepHighPriorityGatewaySuccess(t *testing.T) {
	store := newMemStore()
	rec := addStaleRefund(store, "order_1", "refund_1", 25*time.Hour)
	gateway := newFakeGateway()
	gateway.queryStatus[rec.RefundID] = "SUCCESS"
	guard := newFakeGuard()
	svc := NewRecoveryService(store, gateway, guard)

	result, err := svc.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if result.HighPriority != 1 {
		t.Errorf("highPriority = %d, want 1", result.HighPriority)
	}
	if result.Recovered != 1 {
		t.Errorf("recovered = %d, want 1", result.Recovered)
	}

	order, _ := store.Orders().Get(context.Background(), "order_1")
	if order.Status != domain.StatusCancelled {
		t.Fatalf("order status = %s, want cancelled", order.Status)
	}
	stored, _ := store.Refunds().GetByRefundID(context.Background(), rec.RefundID)
	if stored.Status != domain.RefundSuccess {
		t.Fatalf("refund status = %s, want success", stored.Status)
	}
	if stored.RecoveredBy != "system_recovery" {
		t.Errorf("recoveredBy = %q", stored.RecoveredBy)
	}
	if len(guard.released) == 0 {
		t.Error("guard not released after sync")
	}

	hists := store.historiesFor("order_1")
	if len(hists) != 1 || hists[0].OperatorID != "recovery_system" {
		t.Fatalf("unexpected history: %+v", hists)
	}
	if hists[0].StatusText != "已中止(状态恢复)" {
		t.Errorf("statusText = %q", hists[0].StatusText)
	}
}

func TestSweepStaleRefundGatewayFailed(t *testing.T) {
	store := newMemStore()
	rec := addStaleRefund(store, "order_1", "refund_1", 2*time.Hour)
	gateway := newFakeGateway()
	gateway.queryStatus[rec.RefundID] = "FAIL"
	svc := NewRecoveryService(store, gateway, newFakeGuard())

	result, _ := svc.RunSweep(context.Background())
	if result.Incomplete != 1 {
		t.Errorf("incomplete = %d, want 1", result.Incomplete)
	}
	if result.Recovered != 1 {
		t.Errorf("recovered = %d, want 1", result.Recovered)
	}

	stored, _ := store.Refunds().GetByRefundID(context.Background(), rec.RefundID)
	if stored.Status != domain.RefundFailed {
		t.Fatalf("refund status = %s, want failed", stored.Status)
	}
	// 订单从退款中滚回已支付
	order, _ := store.Orders().Get(context.Background(), "order_1")
	if order.Status != domain.StatusPaid {
		t.Fatalf("order status = %s, want paid", order.Status)
	}
	hists := store.historiesFor("order_1")
	if len(hists) != 1 || hists[0].OperationResult != 0 {
		t.Fatalf("unexpected history: %+v", hists)
	}
}

// 网关查不到单号视同从未发起，按失败收敛。
func TestSweepRefundNotFoundTreatedAsFailed(t *testing.T) {
	store := newMemStore()
	rec := addStaleRefund(store, "order_1", "refund_1", 2*time.Hour)
	gateway := newFakeGateway()
	gateway.queryStatus[rec.RefundID] = "NOTFOUND"
	svc := NewRecoveryService(store, gateway, newFakeGuard())

	svc.RunSweep(context.Background())

	stored, _ := store.Refunds().GetByRefundID(context.Background(), rec.RefundID)
	if stored.Status != domain.RefundFailed {
		t.Fatalf("refund status = %s, want failed", stored.Status)
	}
}

func TestSweepLeavesGatewayProcessingAlone(t *testing.T) {
	store := newMemStore()
	rec := addStaleRefund(store, "order_1", "refund_1", 2*time.Hour)
	svc := NewRecoveryService(store, newFakeGateway(), newFakeGuard())

	result, _ := svc.RunSweep(context.Background())
	if result.Recovered != 0 {
		t.Errorf("recovered = %d, want 0", result.Recovered)
	}
	stored, _ := store.Refunds().GetByRefundID(context.Background(), rec.RefundID)
	if stored.Status != domain.RefundProcessing {
		t.Fatalf("refund status = %s, want untouched processing", stored.Status)
	}
}

func TestSweepQueryErrorCountsFailure(t *testing.T) {
	store := newMemStore()
	addStaleRefund(store, "order_1", "refund_1", 2*time.Hour)
	gateway := newFakeGateway()
	gateway.queryErr = errors.New("gateway unreachable")
	svc := NewRecoveryService(store, gateway, newFakeGuard())

	result, _ := svc.RunSweep(context.Background())
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}
	if result.Recovered != 0 {
		t.Errorf("recovered = %d, want 0", result.Recovered)
	}
}

func TestSweepInconsistentBothDirections(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	// 方向一：退款已成功，订单还停在退款中
	recA := processingRefund("refund_a", "order_a", 5000, 0)
	recA.Status = domain.RefundSuccess
	store.addOrder(refundingOrder("order_a", "user_1", 5000, recA.RefundID))
	_ = store.Refunds().Create(ctx, recA)

	// 方向二：订单已中止，退款记录却还是处理中
	recB := processingRefund("refund_b", "order_b", 3000, 0)
	orderB := refundingOrder("order_b", "user_2", 3000, recB.RefundID)
	orderB.Status = domain.StatusCancelled
	store.addOrder(orderB)
	_ = store.Refunds().Create(ctx, recB)

	svc := NewRecoveryService(store, newFakeGateway(), newFakeGuard())
	result, _ := svc.RunSweep(ctx)

	if result.Inconsistent != 2 {
		t.Errorf("inconsistent = %d, want 2", result.Inconsistent)
	}
	if result.Recovered != 2 {
		t.Errorf("recovered = %d, want 2", result.Recovered)
	}

	orderA, _ := store.Orders().Get(ctx, "order_a")
	if orderA.Status != domain.StatusCancelled {
		t.Errorf("order_a status = %s, want cancelled", orderA.Status)
	}
	hists := store.historiesFor("order_a")
	if len(hists) != 1 || hists[0].StatusText != "已中止(状态一致性恢复)" {
		t.Fatalf("unexpected order_a history: %+v", hists)
	}

	storedB, _ := store.Refunds().GetByRefundID(ctx, recB.RefundID)
	if storedB.Status != domain.RefundSuccess {
		t.Errorf("refund_b status = %s, want success", storedB.Status)
	}
	if storedB.RecoveredBy != "system_recovery" {
		t.Errorf("refund_b recoveredBy = %q", storedB.RecoveredBy)
	}
}

func TestSweepReplaysRecoveryTasks(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	rec := addStaleRefund(store, "order_1", "refund_1", 0)
	task := domain.NewRecoveryTask("order_1", rec.RefundID, domain.RecoverySourceRefundCallback, "事务处理失败（重试耗尽）", domain.PriorityHigh)
	_ = store.RecoveryTasks().Create(ctx, task)

	gateway := newFakeGateway()
	gateway.queryStatus[rec.RefundID] = "SUCCESS"
	svc := NewRecoveryService(store, gateway, newFakeGuard())

	result, _ := svc.RunSweep(ctx)
	if result.TasksReplayed != 1 {
		t.Errorf("tasksReplayed = %d, want 1", result.TasksReplayed)
	}

	stored, _ := store.Refunds().GetByRefundID(ctx, rec.RefundID)
	if stored.Status != domain.RefundSuccess {
		t.Fatalf("refund status = %s, want success after replay", stored.Status)
	}
	if n, _ := store.RecoveryTasks().CountPending(ctx); n != 0 {
		t.Errorf("pending tasks = %d, want 0 after replay", n)
	}
}

func TestSweepPersistsSummary(t *testing.T) {
	store := newMemStore()
	svc := NewRecoveryService(store, newFakeGateway(), newFakeGuard())

	svc.RunSweep(context.Background())

	// 审计记录本身不能是待重放任务
	if n, _ := store.RecoveryTasks().CountPending(context.Background()); n != 0 {
		t.Fatalf("pending tasks = %d, summary must not be replayable", n)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.tasks) != 1 {
		t.Fatalf("task rows = %d, want 1 summary row", len(store.tasks))
	}
	summary := store.tasks[0]
	if summary.Source != domain.RecoverySourceSweep {
		t.Errorf("summary source = %q", summary.Source)
	}
	if !strings.HasPrefix(summary.Reason, "task_completed: ") {
		t.Errorf("summary reason = %q", summary.Reason)
	}
}

func TestCalculateBatchSize(t *testing.T) {
	cases := []struct {
		count int64
		want  int
	}{
		{0, 10},
		{50, 10},
		{51, 15},
		{100, 15},
		{101, 20},
	}
	for _, c := range cases {
		if got := calculateBatchSize(c.count); got != c.want {
			t.Errorf("calculateBatchSize(%d) = %d, want %d", c.count, got, c.want)
		}
	}
}
