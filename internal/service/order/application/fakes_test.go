package application

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain/port"
)

// memStore 是 domain.Store 的内存实现，测试专用。
// failTransacts 大于 0 时 Transact 直接失败并递减，用来验证重试路径。
type memStore struct {
	mu sync.Mutex

	orders    map[string]*domain.Order
	histories []*domain.HistoryRecord
	refunds   map[string]*domain.RefundRecord
	tasks     []*domain.RecoveryTask

	nextHistoryID int64
	nextRefundID  int64
	nextTaskID    int64

	failTransacts int
}

func newMemStore() *memStore {
	return &memStore{
		orders:  make(map[string]*domain.Order),
		refunds: make(map[string]*domain.RefundRecord),
	}
}

func (m *memStore) Orders() domain.OrderRepository               { return &memOrderRepo{m} }
func (m *memStore) Histories() domain.HistoryRepository          { return &memHistoryRepo{m} }
func (m *memStore) Refunds() domain.RefundRepository             { return &memRefundRepo{m} }
func (m *memStore) RecoveryTasks() domain.RecoveryTaskRepository { return &memTaskRepo{m} }

func (m *memStore) Transact(ctx context.Context, fn func(domain.Store) error) error {
	m.mu.Lock()
	if m.failTransacts > 0 {
		m.failTransacts--
		m.mu.Unlock()
		return errors.New("simulated transaction failure")
	}
	m.mu.Unlock()
	return fn(m)
}

func (m *memStore) addOrder(o *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *memStore) historiesFor(orderID string) []*domain.HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.HistoryRecord
	for _, h := range m.histories {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out
}

type memOrderRepo struct{ s *memStore }

func (r *memOrderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) ApplyPatch(ctx context.Context, id string, patch domain.OrderPatch) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return 0, nil
	}
	applyPatch(o, patch)
	return 1, nil
}

func (r *memOrderRepo) ApplyPatchBatch(ctx context.Context, ids []string, patch domain.OrderPatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		if o, ok := r.s.orders[id]; ok {
			applyPatch(o, patch)
		}
	}
	return nil
}

func (r *memOrderRepo) List(ctx context.Context, q domain.OrderQuery) ([]*domain.Order, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []*domain.Order
	for _, o := range r.s.orders {
		if o.OpenID != q.OpenID {
			continue
		}
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreateTime.After(matched[j].CreateTime) })
	total := int64(len(matched))
	start := (q.Page - 1) * q.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *memOrderRepo) ListByIDs(ctx context.Context, ids []string) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Order
	for _, id := range ids {
		if o, ok := r.s.orders[id]; ok {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memOrderRepo) ListDeliveredBefore(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.s.orders {
		if o.Status != domain.StatusDelivered || o.DeliveredTime == nil || !o.DeliveredTime.Before(cutoff) {
			continue
		}
		if afterID != "" && strings.Compare(o.ID, afterID) <= 0 {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memOrderRepo) ListCancelledWithOpenRefund(ctx context.Context, limit int) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Order
	for _, o := range r.s.orders {
		if o.Status != domain.StatusCancelled || o.RefundID == "" {
			continue
		}
		rec, ok := r.s.refunds[o.RefundID]
		if ok && rec.Status != domain.RefundSuccess {
			cp := *o
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memHistoryRepo struct{ s *memStore }

func (r *memHistoryRepo) Append(ctx context.Context, rec *domain.HistoryRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextHistoryID++
	rec.ID = r.s.nextHistoryID
	r.s.histories = append(r.s.histories, rec)
	return nil
}

func (r *memHistoryRepo) AppendBatch(ctx context.Context, recs []*domain.HistoryRecord) error {
	for _, rec := range recs {
		if err := r.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *memHistoryRepo) ListByOrder(ctx context.Context, orderID string) ([]*domain.HistoryRecord, error) {
	return r.s.historiesFor(orderID), nil
}

type memRefundRepo struct{ s *memStore }

func (r *memRefundRepo) Create(ctx context.Context, rec *domain.RefundRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.refunds[rec.RefundID]; exists {
		return domain.ErrDuplicateRefund
	}
	r.s.nextRefundID++
	rec.ID = r.s.nextRefundID
	r.s.refunds[rec.RefundID] = rec
	return nil
}

func (r *memRefundRepo) GetByRefundID(ctx context.Context, refundID string) (*domain.RefundRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.refunds[refundID]
	if !ok {
		return nil, domain.ErrRefundNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memRefundRepo) Update(ctx context.Context, rec *domain.RefundRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.refunds[rec.RefundID]
	if !ok {
		return domain.ErrRefundNotFound
	}
	stored.Status = rec.Status
	stored.GatewayResult = rec.GatewayResult
	stored.RecoveredBy = rec.RecoveredBy
	stored.UpdateTime = rec.UpdateTime
	stored.CompleteTime = rec.CompleteTime
	return nil
}

func (r *memRefundRepo) ListByOrder(ctx context.Context, orderID string) ([]*domain.RefundRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.RefundRecord
	for _, rec := range r.s.refunds {
		if rec.OrderID == orderID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRefundRepo) ListProcessingBetween(ctx context.Context, from, to time.Time, limit int) ([]*domain.RefundRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.RefundRecord
	for _, rec := range r.s.refunds {
		if rec.Status != domain.RefundProcessing {
			continue
		}
		if rec.CreateTime.After(to) {
			continue
		}
		if !from.IsZero() && !rec.CreateTime.After(from) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime.Before(out[j].CreateTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRefundRepo) CountProcessingBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for _, rec := range r.s.refunds {
		if rec.Status == domain.RefundProcessing && !rec.CreateTime.After(before) {
			count++
		}
	}
	return count, nil
}

func (r *memRefundRepo) ListSucceededWithOrderOpen(ctx context.Context, limit int) ([]*domain.RefundRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.RefundRecord
	for _, rec := range r.s.refunds {
		if rec.Status != domain.RefundSuccess {
			continue
		}
		if o, ok := r.s.orders[rec.OrderID]; ok && o.Status != domain.StatusCancelled {
			cp := *rec
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTaskRepo struct{ s *memStore }

func (r *memTaskRepo) Create(ctx context.Context, task *domain.RecoveryTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextTaskID++
	task.ID = r.s.nextTaskID
	r.s.tasks = append(r.s.tasks, task)
	return nil
}

func (r *memTaskRepo) ListPending(ctx context.Context, limit int) ([]*domain.RecoveryTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.RecoveryTask
	for _, t := range r.s.tasks {
		if t.NeedRecovery {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreateTime.Before(out[j].CreateTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTaskRepo) CountPending(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for _, t := range r.s.tasks {
		if t.NeedRecovery {
			count++
		}
	}
	return count, nil
}

func (r *memTaskRepo) MarkRecovered(ctx context.Context, id int64, recoveredAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tasks {
		if t.ID == id {
			t.NeedRecovery = false
			t.RecoveredAt = &recoveredAt
			return nil
		}
	}
	return nil
}

// fakeGateway 可编排的支付网关。
type fakeGateway struct {
	mu sync.Mutex

	refundErr     error
	refundErrOnce bool // 只失败第一次，验证重试
	refundCalls   int

	queryStatus map[string]string // refundID -> SUCCESS/FAIL/PROCESSING/NOTFOUND
	queryErr    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{queryStatus: make(map[string]string)}
}

func (g *fakeGateway) RequestPayment(ctx context.Context, orderID string, totalFee int64, openID string) (*port.PaymentParams, error) {
	return &port.PaymentParams{PrepayID: "prepay_" + orderID}, nil
}

func (g *fakeGateway) QueryPayment(ctx context.Context, orderID string) (*port.PaymentStatus, error) {
	return &port.PaymentStatus{TradeState: "SUCCESS"}, nil
}

func (g *fakeGateway) RequestRefund(ctx context.Context, req *port.RefundRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	if g.refundErr != nil {
		err := g.refundErr
		if g.refundErrOnce {
			g.refundErr = nil
		}
		return err
	}
	return nil
}

func (g *fakeGateway) QueryRefund(ctx context.Context, outRefundNo string) (*port.RefundStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	status, ok := g.queryStatus[outRefundNo]
	if !ok {
		status = "PROCESSING"
	}
	return &port.RefundStatus{OutRefundNo: outRefundNo, Status: status}, nil
}

// fakeGuard 记录闸门操作。
type fakeGuard struct {
	mu       sync.Mutex
	held     map[string]string
	denyNext bool
	released []string
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{held: make(map[string]string)}
}

func (g *fakeGuard) Acquire(ctx context.Context, orderID, refundID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.denyNext {
		g.denyNext = false
		return false, nil
	}
	if _, ok := g.held[orderID]; ok {
		return false, nil
	}
	g.held[orderID] = refundID
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, orderID)
	g.released = append(g.released, orderID)
	return nil
}

// allowAllPolicy 放行一切，rejectPolicy 拒绝一切。
type allowAllPolicy struct{}

func (allowAllPolicy) Allow(ctx context.Context, in port.RefundPolicyInput) (bool, error) {
	return true, nil
}

type rejectPolicy struct{}

func (rejectPolicy) Allow(ctx context.Context, in port.RefundPolicyInput) (bool, error) {
	return false, nil
}

// fakeNoticeProducer 收集发出的商家通知。
type fakeNoticeProducer struct {
	mu      sync.Mutex
	notices []*port.MerchantNotice
}

func (p *fakeNoticeProducer) SendMerchantNotice(ctx context.Context, notice *port.MerchantNotice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, notice)
	return nil
}

// fakeAdminChecker 按白名单判定管理员。
type fakeAdminChecker struct {
	admins map[string]bool
}

func (c *fakeAdminChecker) IsAdmin(ctx context.Context, openID string) (bool, error) {
	return c.admins[openID], nil
}

// --- 构造辅助 ---

func paidOrder(id, openID string, totalFee int64) *domain.Order {
	now := time.Now()
	payTime := now.Add(-time.Hour)
	return &domain.Order{
		ID:         id,
		OpenID:     openID,
		Status:     domain.StatusPaid,
		Items:      []domain.OrderItem{{ProductID: "p1", Name: "商品", Price: totalFee, Quantity: 1}},
		TotalFee:   totalFee,
		IsPaid:     true,
		PaymentID:  "txn_" + id,
		CreateTime: now.Add(-2 * time.Hour),
		UpdateTime: now,
		PayTime:    &payTime,
	}
}

func pendingOrder(id, openID string, totalFee int64) *domain.Order {
	now := time.Now()
	return &domain.Order{
		ID:         id,
		OpenID:     openID,
		Status:     domain.StatusPendingPayment,
		Items:      []domain.OrderItem{{ProductID: "p1", Name: "商品", Price: totalFee, Quantity: 1}},
		TotalFee:   totalFee,
		CreateTime: now,
		UpdateTime: now,
	}
}

func refundingOrder(id, openID string, totalFee int64, refundID string) *domain.Order {
	o := paidOrder(id, openID, totalFee)
	o.Status = domain.StatusRefunding
	o.RefundID = refundID
	now := time.Now()
	o.RefundingTime = &now
	return o
}

func processingRefund(refundID, orderID string, fee int64, age time.Duration) *domain.RefundRecord {
	created := time.Now().Add(-age)
	return &domain.RefundRecord{
		RefundID:     refundID,
		OrderID:      orderID,
		OperatorID:   "user_1",
		TotalFee:     fee,
		RefundFee:    fee,
		RefundReason: "不想要了",
		Status:       domain.RefundProcessing,
		CreateTime:   created,
		UpdateTime:   created,
	}
}

func nowPtr() *time.Time {
	now := time.Now()
	return &now
}

func newTestRefundService(store domain.Store, gateway port.PaymentGateway, guard port.RefundGuard, policy port.RefundPolicy, producer port.NoticeProducer) *RefundService {
	svc := NewRefundService(store, NewEngine(store), gateway, guard, policy, NewNoticeService(producer))
	svc.syncGateway = true
	return svc
}
