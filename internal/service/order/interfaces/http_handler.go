package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ginkoc/wxcloud-little-store/internal/pkg/logger"
	"github.com/ginkoc/wxcloud-little-store/internal/pkg/metrics"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/application"
	"github.com/ginkoc/wxcloud-little-store/internal/service/order/domain"
)

const serviceName = "order-service"

// 微信云托管网关注入的用户身份头
const headerOpenID = "X-WX-OPENID"

// OrderHTTPHandler 封装订单服务的 HTTP 处理器。
type OrderHTTPHandler struct {
	orders  *application.OrderService
	refunds *application.RefundService
}

func NewOrderHTTPHandler(orders *application.OrderService, refunds *application.RefundService) *OrderHTTPHandler {
	return &OrderHTTPHandler{orders: orders, refunds: refunds}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/order/create", h.auth(h.createOrder))
	mux.HandleFunc("/api/order/detail", h.auth(h.orderDetail))
	mux.HandleFunc("/api/order/list", h.auth(h.orderList))
	mux.HandleFunc("/api/order/history", h.auth(h.orderHistory))
	mux.HandleFunc("/api/order/actions", h.auth(h.orderActions))
	mux.HandleFunc("/api/order/pay", h.auth(h.createPayment))
	mux.HandleFunc("/api/order/pay/query", h.auth(h.queryPayment))
	mux.HandleFunc("/api/order/cancel", h.auth(h.cancelOrder))
	mux.HandleFunc("/api/order/confirm", h.auth(h.confirmReceived))
	mux.HandleFunc("/api/order/refund/apply", h.auth(h.applyRefund))
	mux.HandleFunc("/api/order/refund/list", h.auth(h.listRefunds))

	mux.HandleFunc("/api/admin/order/accept", h.auth(h.acceptOrder))
	mux.HandleFunc("/api/admin/order/deliver", h.auth(h.startDelivery))
	mux.HandleFunc("/api/admin/order/delivered", h.auth(h.completeDelivery))
	mux.HandleFunc("/api/admin/order/cancel", h.auth(h.adminCancelOrder))
	mux.HandleFunc("/api/admin/refund/cancel", h.auth(h.cancelRefund))
	mux.HandleFunc("/api/admin/refund/complete", h.auth(h.completeRefund))
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, openID string)

// auth 从网关注入的请求头取出用户身份，并重建追踪上下文。
func (h *OrderHTTPHandler) auth(next handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		tracer := otel.Tracer(serviceName)
		ctx, span := tracer.Start(ctx, r.URL.Path)
		defer span.End()

		openID := r.Header.Get(headerOpenID)
		if openID == "" {
			writeError(w, http.StatusUnauthorized, errors.New("缺少用户身份"))
			return
		}
		next(w, r.WithContext(ctx), openID)
	}
}

// --- 请求/响应结构 ---

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type orderRequest struct {
	OrderID   string `json:"orderId"`
	Reason    string `json:"reason,omitempty"`
	RefundFee int64  `json:"refundFee,omitempty"`
}

type createOrderRequest struct {
	Items          []domain.OrderItem `json:"items"`
	Remark         string             `json:"remark"`
	ContactName    string             `json:"contactName"`
	ContactPhone   string             `json:"contactPhone"`
	DeliveryAddr   string             `json:"deliveryAddr"`
	DeliveryRemark string             `json:"deliveryRemark"`
}

// orderView 是订单的对外视图。
type orderView struct {
	OrderID    string             `json:"orderId"`
	Status     string             `json:"status"`
	StatusText string             `json:"statusText"`
	Items      []domain.OrderItem `json:"items"`
	TotalFee   int64              `json:"totalFee"`
	IsPaid     bool               `json:"isPaid"`
	RefundID   string             `json:"refundId,omitempty"`

	ContactName  string `json:"contactName,omitempty"`
	ContactPhone string `json:"contactPhone,omitempty"`
	DeliveryAddr string `json:"deliveryAddr,omitempty"`
	Remark       string `json:"remark,omitempty"`

	CreateTime string `json:"createTime"`
	UpdateTime string `json:"updateTime"`
}

const timeLayout = "2006-01-02 15:04:05"

func toOrderView(o *domain.Order) *orderView {
	return &orderView{
		OrderID:      o.ID,
		Status:       string(o.Status),
		StatusText:   o.StatusText(),
		Items:        o.Items,
		TotalFee:     o.TotalFee,
		IsPaid:       o.IsPaid,
		RefundID:     o.RefundID,
		ContactName:  o.ContactName,
		ContactPhone: o.ContactPhone,
		DeliveryAddr: o.DeliveryAddr,
		Remark:       o.Remark,
		CreateTime:   o.CreateTime.Format(timeLayout),
		UpdateTime:   o.UpdateTime.Format(timeLayout),
	}
}

// --- 用户端 ---

func (h *OrderHTTPHandler) createOrder(w http.ResponseWriter, r *http.Request, openID string) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("请求格式错误"))
		return
	}
	order, err := h.orders.CreateOrder(r.Context(), openID, application.CreateOrderInput{
		Items:          req.Items,
		Remark:         req.Remark,
		ContactName:    req.ContactName,
		ContactPhone:   req.ContactPhone,
		DeliveryAddr:   req.DeliveryAddr,
		DeliveryRemark: req.DeliveryRemark,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, toOrderView(order), "订单创建成功")
}

func (h *OrderHTTPHandler) orderDetail(w http.ResponseWriter, r *http.Request, openID string) {
	order, err := h.orders.GetOrderDetail(r.Context(), openID, r.URL.Query().Get("orderId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, toOrderView(order), "")
}

func (h *OrderHTTPHandler) orderList(w http.ResponseWriter, r *http.Request, openID string) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	orders, total, err := h.orders.GetOrders(r.Context(), openID, domain.Status(q.Get("status")), page, pageSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]*orderView, len(orders))
	for i, o := range orders {
		views[i] = toOrderView(o)
	}
	writeOK(w, map[string]interface{}{"orders": views, "total": total}, "")
}

func (h *OrderHTTPHandler) orderHistory(w http.ResponseWriter, r *http.Request, openID string) {
	recs, err := h.orders.GetOrderHistory(r.Context(), openID, r.URL.Query().Get("orderId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	type historyView struct {
		FromStatus string `json:"fromStatus"`
		ToStatus   string `json:"toStatus"`
		Operator   string `json:"operator"`
		StatusText string `json:"statusText"`
		Message    string `json:"message"`
		Result     int    `json:"result"`
		CreateTime string `json:"createTime"`
	}
	views := make([]historyView, len(recs))
	for i, rec := range recs {
		views[i] = historyView{
			FromStatus: string(rec.FromStatus),
			ToStatus:   string(rec.ToStatus),
			Operator:   rec.Operator,
			StatusText: rec.StatusText,
			Message:    rec.UserFriendlyMessage,
			Result:     rec.OperationResult,
			CreateTime: rec.CreateTime.Format(timeLayout),
		}
	}
	writeOK(w, views, "")
}

func (h *OrderHTTPHandler) orderActions(w http.ResponseWriter, r *http.Request, openID string) {
	actions, err := h.orders.GetOrderActions(r.Context(), openID, r.URL.Query().Get("orderId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, actions, "")
}

func (h *OrderHTTPHandler) createPayment(w http.ResponseWriter, r *http.Request, openID string) {
	req, ok := decodeOrderRequest(w, r)
	if !ok {
		return
	}
	params, err := h.orders.CreatePayment(r.Context(), openID, req.OrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, params, "")
}

func (h *OrderHTTPHandler) queryPayment(w http.ResponseWriter, r *http.Request, openID string) {
	result, err := h.orders.QueryPayment(r.Context(), openID, r.URL.Query().Get("orderId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, result, "")
}

func (h *OrderHTTPHandler) cancelOrder(w http.ResponseWriter, r *http.Request, openID string) {
	req, ok := decodeOrderRequest(w, r)
	if !ok {
		return
	}
	result, err := h.orders.CancelOrder(r.Context(), openID, req.OrderID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, toOrderView(result.Order), result.Message)
}

func (h *OrderHTTPHandler) confirmReceived(w http.ResponseWriter, r *http.Request, openID string) {
	req, ok := decodeOrderRequest(w, r)
	if !ok {
		return
	}
	result, err := h.orders.ConfirmReceived(r.Context(), openID, req.OrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, toOrderView(result.Order), result.Message)
}

func (h *OrderHTTPHandler) applyRefund(w http.ResponseWriter, r *http.Request, openID string) {
	req, ok := decodeOrderRequest(w, r)
	if !ok {
		return
	}
	rec, err := h.orders.ApplyRefund(r.Context(), openID, req.OrderID, req.RefundFee, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"refundId":  rec.RefundID,
		"refundFee": rec.RefundFee,
		"status":    rec.Status,
	}, domain.FriendlyMessage(domain.StatusPaid, domain.StatusRefunding))
}

func (h *OrderHTTPHandler) listRefunds(w http.ResponseWriter, r *http.Request, openID string) {
	recs, err := h.refunds.ListRefunds(r.Context(), openID, r.URL.Query().Get("orderId"), false)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, recs, "")
}

// --- 商家端 ---

func (h *OrderHTTPHandler) acceptOrder(w http.ResponseWriter, r *http.Request, openID string) {
	h.adminTransition(w, r, openID, h.orders.AcceptOrder)
}

func (h *OrderHTTPHandler) startDelivery(w http.ResponseWriter, r *http.Request, openID string) {
	h.adminTransition(w, r, openID, h.orders.StartDelivery)
}

func (h *OrderHTTPHandler) completeDelivery(w http.ResponseWriter, r *http.Request, openID string) {
	h.adminTransition(w, r, openID, h.orders.CompleteDelivery)
}

func (h *OrderHTTPHandler) completeRefund(w http.ResponseWriter, r *http.Request, openID string) {
	h.adminTransition(w, r, openID, h.orders.CompleteRefund)
}

func (h *OrderHTTPHandler) adminTransition(w http.ResponseWriter, r *http.Request, openID string, fn func(ctx context.Context, openID, orderID string) (*application.TransitionResult, error)) {
	req, ok := decodeOrderRequest(w, r)
	if !ok {
		return
	}
	result, err := fn(r.Context(), openID, req.OrderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, toOrderView(result.Order), result.Message)
}

func (h *OrderHTTPHandler) adminCancelOrder(w http.ResponseWriter, r *http.Request, openID string) {
	req, ok := decodeOrderRequest(w, r)
	if !ok {
		return
	}
	result, err := h.orders.CancelOrderByAdmin(r.Context(), openID, req.OrderID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, result, result.Message)
}

func (h *OrderHTTPHandler) cancelRefund(w http.ResponseWriter, r *http.Request, openID string) {
	req, ok := decodeOrderRequest(w, r)
	if !ok {
		return
	}
	result, err := h.orders.CancelRefund(r.Context(), openID, req.OrderID, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, toOrderView(result.Order), result.Message)
}

// --- 应答辅助 ---

func decodeOrderRequest(w http.ResponseWriter, r *http.Request) (orderRequest, bool) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeError(w, http.StatusBadRequest, errors.New("请求格式错误"))
		return req, false
	}
	return req, true
}

func writeOK(w http.ResponseWriter, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: err.Error()})
}

// writeDomainError 把领域错误映射到 HTTP 状态码。
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		vErr *domain.ValidationError
		tErr *domain.InvalidTransitionError
	)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrRefundNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrNotOwner), errors.Is(err, domain.ErrNotAdmin):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrRefundInFlight):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &vErr), errors.As(err, &tErr):
		writeError(w, http.StatusBadRequest, err)
	default:
		logger.Logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, errors.New("服务器内部错误"))
	}
}
