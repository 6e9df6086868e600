package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
)

// OpenDB 建立 MySQL 连接并迁移表结构。
func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&OrderModel{},
		&OrderHistoryModel{},
		&RefundRecordModel{},
		&RecoveryTaskModel{},
	); err != nil {
		return nil, err
	}
	return db, nil
}

// GormStore 是 domain.Store 的 GORM 实现。
// Transact 内传给 fn 的 Store 绑定事务连接，四个仓储共用。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Orders() domain.OrderRepository {
	return &gormOrderRepo{db: s.db}
}

func (s *GormStore) Histories() domain.HistoryRepository {
	return &gormHistoryRepo{db: s.db}
}

func (s *GormStore) Refunds() domain.RefundRepository {
	return &gormRefundRepo{db: s.db}
}

func (s *GormStore) RecoveryTasks() domain.RecoveryTaskRepository {
	return &gormTaskRepo{db: s.db}
}

func (s *GormStore) Transact(ctx context.Context, fn func(domain.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// isDuplicateKey 识别 MySQL 1062 唯一索引冲突。
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// --- 订单仓储 ---

type gormOrderRepo struct {
	db *gorm.DB
}

func (r *gormOrderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return toDomainOrder(&model), nil
}

func (r *gormOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	return r.db.WithContext(ctx).Create(toOrderModel(order)).Error
}

func (r *gormOrderRepo) ApplyPatch(ctx context.Context, id string, patch domain.OrderPatch) (int64, error) {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ?", id).
		Updates(patchColumns(patch))
	return res.RowsAffected, res.Error
}

func (r *gormOrderRepo) ApplyPatchBatch(ctx context.Context, ids []string, patch domain.OrderPatch) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id IN ?", ids).
		Updates(patchColumns(patch)).Error
}

func (r *gormOrderRepo) List(ctx context.Context, q domain.OrderQuery) ([]*domain.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&OrderModel{}).Where("open_id = ?", q.OpenID)
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []*OrderModel
	offset := (q.Page - 1) * q.PageSize
	err := query.Order("create_time DESC").Offset(offset).Limit(q.PageSize).Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	return toDomainOrders(models), total, nil
}

func (r *gormOrderRepo) ListByIDs(ctx context.Context, ids []string) ([]*domain.Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []*OrderModel
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainOrders(models), nil
}

func (r *gormOrderRepo) ListDeliveredBefore(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*domain.Order, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusDelivered).
		Where("delivered_time < ?", cutoff)
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}
	var models []*OrderModel
	err := query.Order("id ASC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainOrders(models), nil
}

func (r *gormOrderRepo) ListCancelledWithOpenRefund(ctx context.Context, limit int) ([]*domain.Order, error) {
	var models []*OrderModel
	err := r.db.WithContext(ctx).
		Select("orders.*").
		Where("orders.status = ?", domain.StatusCancelled).
		Where("orders.refund_id <> ''").
		Joins("JOIN refund_record ON refund_record.refund_id = orders.refund_id AND refund_record.status <> ?", domain.RefundSuccess).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainOrders(models), nil
}

func toDomainOrders(models []*OrderModel) []*domain.Order {
	orders := make([]*domain.Order, len(models))
	for i, m := range models {
		orders[i] = toDomainOrder(m)
	}
	return orders
}

// patchColumns 把补丁转成部分更新的列集合，nil 字段不出现。
func patchColumns(p domain.OrderPatch) map[string]interface{} {
	cols := map[string]interface{}{
		"status":      p.Status,
		"update_time": p.UpdateTime,
	}
	if p.IsPaid != nil {
		cols["is_paid"] = *p.IsPaid
	}
	if p.PaymentID != nil {
		cols["payment_id"] = *p.PaymentID
	}
	if p.RefundID != nil {
		cols["refund_id"] = *p.RefundID
	}
	if p.CancelReason != nil {
		cols["cancel_reason"] = *p.CancelReason
	}
	if p.CancelOperator != nil {
		cols["cancel_operator"] = *p.CancelOperator
	}
	if p.RefundReason != nil {
		cols["refund_reason"] = *p.RefundReason
	}
	if p.PayTime != nil {
		cols["pay_time"] = *p.PayTime
	}
	if p.AcceptTime != nil {
		cols["accept_time"] = *p.AcceptTime
	}
	if p.DeliverTime != nil {
		cols["deliver_time"] = *p.DeliverTime
	}
	if p.DeliveredTime != nil {
		cols["delivered_time"] = *p.DeliveredTime
	}
	if p.CompleteTime != nil {
		cols["complete_time"] = *p.CompleteTime
	}
	if p.CancelTime != nil {
		cols["cancel_time"] = *p.CancelTime
	}
	if p.RefundingTime != nil {
		cols["refunding_time"] = *p.RefundingTime
	}
	if p.RefundTime != nil {
		cols["refund_time"] = *p.RefundTime
	}
	return cols
}

// --- 历史仓储 ---

type gormHistoryRepo struct {
	db *gorm.DB
}

func (r *gormHistoryRepo) Append(ctx context.Context, rec *domain.HistoryRecord) error {
	model := toHistoryModel(rec)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	rec.ID = model.ID
	return nil
}

func (r *gormHistoryRepo) AppendBatch(ctx context.Context, recs []*domain.HistoryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	models := make([]*OrderHistoryModel, len(recs))
	for i, rec := range recs {
		models[i] = toHistoryModel(rec)
	}
	return r.db.WithContext(ctx).Create(models).Error
}

func (r *gormHistoryRepo) ListByOrder(ctx context.Context, orderID string) ([]*domain.HistoryRecord, error) {
	var models []*OrderHistoryModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("create_time ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	recs := make([]*domain.HistoryRecord, len(models))
	for i, m := range models {
		recs[i] = toDomainHistory(m)
	}
	return recs, nil
}

// --- 退款仓储 ---

type gormRefundRepo struct {
	db *gorm.DB
}

func (r *gormRefundRepo) Create(ctx context.Context, rec *domain.RefundRecord) error {
	model := toRefundModel(rec)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrDuplicateRefund
		}
		return err
	}
	rec.ID = model.ID
	return nil
}

func (r *gormRefundRepo) GetByRefundID(ctx context.Context, refundID string) (*domain.RefundRecord, error) {
	var model RefundRecordModel
	err := r.db.WithContext(ctx).Where("refund_id = ?", refundID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRefundNotFound
		}
		return nil, err
	}
	return toDomainRefund(&model), nil
}

func (r *gormRefundRepo) Update(ctx context.Context, rec *domain.RefundRecord) error {
	return r.db.WithContext(ctx).
		Model(&RefundRecordModel{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"status":         rec.Status,
			"gateway_result": rec.GatewayResult,
			"recovered_by":   rec.RecoveredBy,
			"update_time":    rec.UpdateTime,
			"complete_time":  rec.CompleteTime,
		}).Error
}

func (r *gormRefundRepo) ListByOrder(ctx context.Context, orderID string) ([]*domain.RefundRecord, error) {
	var models []*RefundRecordModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("create_time DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainRefunds(models), nil
}

func (r *gormRefundRepo) ListProcessingBetween(ctx context.Context, from, to time.Time, limit int) ([]*domain.RefundRecord, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", domain.RefundProcessing).
		Where("create_time <= ?", to)
	if !from.IsZero() {
		query = query.Where("create_time > ?", from)
	}
	var models []*RefundRecordModel
	err := query.Order("create_time ASC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainRefunds(models), nil
}

func (r *gormRefundRepo) CountProcessingBefore(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RefundRecordModel{}).
		Where("status = ?", domain.RefundProcessing).
		Where("create_time <= ?", before).
		Count(&count).Error
	return count, err
}

func (r *gormRefundRepo) ListSucceededWithOrderOpen(ctx context.Context, limit int) ([]*domain.RefundRecord, error) {
	var models []*RefundRecordModel
	err := r.db.WithContext(ctx).
		Select("refund_record.*").
		Joins("JOIN orders ON orders.id = refund_record.order_id AND orders.status <> ?", domain.StatusCancelled).
		Where("refund_record.status = ?", domain.RefundSuccess).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainRefunds(models), nil
}

func toDomainRefunds(models []*RefundRecordModel) []*domain.RefundRecord {
	recs := make([]*domain.RefundRecord, len(models))
	for i, m := range models {
		recs[i] = toDomainRefund(m)
	}
	return recs
}

// --- 恢复任务仓储 ---

type gormTaskRepo struct {
	db *gorm.DB
}

func (r *gormTaskRepo) Create(ctx context.Context, task *domain.RecoveryTask) error {
	model := toTaskModel(task)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	task.ID = model.ID
	return nil
}

func (r *gormTaskRepo) ListPending(ctx context.Context, limit int) ([]*domain.RecoveryTask, error) {
	var models []*RecoveryTaskModel
	err := r.db.WithContext(ctx).
		Where("need_recovery = ?", true).
		Order("priority DESC, create_time ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	tasks := make([]*domain.RecoveryTask, len(models))
	for i, m := range models {
		tasks[i] = toDomainTask(m)
	}
	return tasks, nil
}

func (r *gormTaskRepo) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RecoveryTaskModel{}).
		Where("need_recovery = ?", true).
		Count(&count).Error
	return count, err
}

func (r *gormTaskRepo) MarkRecovered(ctx context.Context, id int64, recoveredAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&RecoveryTaskModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"need_recovery": false,
			"recovered_at":  recoveredAt,
		}).Error
}
