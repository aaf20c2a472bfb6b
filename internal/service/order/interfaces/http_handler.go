package interfaces

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"brasa/internal/pkg/logger"
	"brasa/internal/pkg/session"
	"brasa/internal/realtime"
	"brasa/internal/service/order/application"
	"brasa/internal/service/order/domain"
)

const serviceName = "order-service"

// OrderHandler 封装了订单服务的 HTTP 处理器
type OrderHandler struct {
	service  *application.OrderApplicationService
	tokens   *realtime.TokenStore
	sessions *session.Manager
}

func NewOrderHandler(service *application.OrderApplicationService, tokens *realtime.TokenStore, sessions *session.Manager) *OrderHandler {
	return &OrderHandler{service: service, tokens: tokens, sessions: sessions}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("GET /orders", h.withUser(h.listOrders))
	mux.HandleFunc("GET /orders/{id}", h.withUser(h.getOrder))
	mux.HandleFunc("POST /orders/{id}/cancel", h.withUser(h.cancelOrder))
	mux.HandleFunc("POST /orders/{id}/modify", h.withUser(h.modifyOrder))
	mux.HandleFunc("POST /realtime/token", h.withUser(h.mintChannelToken))

	// 支付网关的回调，走内网，不带用户会话
	mux.HandleFunc("POST /internal/payments/confirmed", h.paymentConfirmed)
}

// withUser 解析 Bearer 会话令牌并注入用户ID。
// 无有效会话时统一返回 not_authenticated，不区分"没带令牌"和"令牌过期"。
func (h *OrderHandler) withUser(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		r = r.WithContext(ctx)

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			writeError(w, domain.ErrNotAuthenticated)
			return
		}
		userID, err := h.sessions.ResolveUser(ctx, token)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("session lookup failed")
			writeError(w, err)
			return
		}
		if userID == "" {
			writeError(w, domain.ErrNotAuthenticated)
			return
		}
		next(w, r, userID)
	}
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, span := otel.Tracer(serviceName).Start(r.Context(), "api.GetOrder")
	defer span.End()

	view, err := h.service.GetOrder(ctx, userID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, span := otel.Tracer(serviceName).Start(r.Context(), "api.ListOrders")
	defer span.End()

	views, err := h.service.ListOrders(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": views})
}

func (h *OrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, span := otel.Tracer(serviceName).Start(r.Context(), "api.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", r.PathValue("id")))

	outcome, err := h.service.Cancel(ctx, userID, r.PathValue("id"))
	if err != nil {
		kind := Kind(err)
		cancelTotal.WithLabelValues(kind).Inc()
		if kind == "refund_retryable" || kind == "refund_terminal" {
			refundFailureTotal.WithLabelValues(strings.TrimPrefix(kind, "refund_")).Inc()
		}
		writeError(w, err)
		return
	}
	cancelTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, outcome)
}

func (h *OrderHandler) modifyOrder(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, span := otel.Tracer(serviceName).Start(r.Context(), "api.ModifyOrder")
	defer span.End()

	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Notes) == "" {
		http.Error(w, "notes is required", http.StatusBadRequest)
		return
	}

	outcome, err := h.service.RequestModification(ctx, userID, r.PathValue("id"), body.Notes)
	if err != nil {
		modificationTotal.WithLabelValues(Kind(err)).Inc()
		writeError(w, err)
		return
	}
	modificationTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, outcome)
}

func (h *OrderHandler) mintChannelToken(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, span := otel.Tracer(serviceName).Start(r.Context(), "api.MintChannelToken")
	defer span.End()

	token, err := h.tokens.Mint(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *OrderHandler) paymentConfirmed(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "api.PaymentConfirmed")
	defer span.End()

	var body struct {
		OrderID     string    `json:"orderId"`
		ConfirmedAt time.Time `json:"confirmedAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OrderID == "" {
		http.Error(w, "orderId and confirmedAt are required", http.StatusBadRequest)
		return
	}
	if body.ConfirmedAt.IsZero() {
		body.ConfirmedAt = time.Now().UTC()
	}

	err := h.service.HandlePaymentConfirmed(ctx, &domain.PaymentConfirmed{
		OrderID:     body.OrderID,
		ConfirmedAt: body.ConfirmedAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"kind":    Kind(err),
			"message": err.Error(),
		},
	})
}
