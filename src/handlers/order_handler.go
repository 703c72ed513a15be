package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spot-engine/src/models"
	"spot-engine/src/queue"
)

// Dispatcher carries commands to the engine.
type Dispatcher interface {
	SendAndAwait(ctx context.Context, cmd models.Command) (models.Response, error)
	Send(ctx context.Context, cmd models.Command) error
}

// OrderHandler translates HTTP requests into engine commands 1:1 and relays
// the engine's payload back.
type OrderHandler struct {
	dispatcher Dispatcher
}

func NewOrderHandler(dispatcher Dispatcher) *OrderHandler {
	return &OrderHandler{dispatcher: dispatcher}
}

func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var req models.CreateOrderPayload
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	req.Side = strings.ToLower(strings.TrimSpace(req.Side))
	if err := validateCreateOrder(&req); err != nil {
		return invalidRequest(c, err)
	}

	log.Info().
		Str("market", req.Market).
		Str("side", req.Side).
		Str("price", req.Price).
		Str("quantity", req.Quantity).
		Str("user_id", req.UserID).
		Str("ip", c.IP()).
		Msg("Order submitted")

	return h.roundTrip(c, models.CreateOrder, req)
}

func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	var req models.CancelOrderPayload
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	if err := required(map[string]string{"orderId": req.OrderID, "market": req.Market}); err != nil {
		return invalidRequest(c, err)
	}
	return h.roundTrip(c, models.CancelOrder, req)
}

func (h *OrderHandler) OpenOrders(c *fiber.Ctx) error {
	req := models.GetOpenOrdersPayload{UserID: c.Query("userId"), Market: c.Query("market")}
	if err := required(map[string]string{"userId": req.UserID, "market": req.Market}); err != nil {
		return invalidRequest(c, err)
	}
	return h.roundTrip(c, models.GetOpenOrders, req)
}

func (h *OrderHandler) Depth(c *fiber.Ctx) error {
	req := models.GetDepthPayload{Market: c.Query("market")}
	if err := required(map[string]string{"market": req.Market}); err != nil {
		return invalidRequest(c, err)
	}
	return h.roundTrip(c, models.GetDepth, req)
}

// OnRamp enqueues a deposit. The engine does not answer ON_RAMP, so the
// request is accepted once it is on the queue.
func (h *OrderHandler) OnRamp(c *fiber.Ctx) error {
	var req models.OnRampPayload
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	if err := required(map[string]string{"userId": req.UserID, "amount": req.Amount}); err != nil {
		return invalidRequest(c, err)
	}
	if err := positiveDecimal("amount", req.Amount); err != nil {
		return invalidRequest(c, err)
	}
	if req.TxnID == "" {
		req.TxnID = uuid.NewString()
	}

	cmd, err := models.NewCommand(models.OnRamp, req)
	if err != nil {
		return err
	}
	if err := h.dispatcher.Send(c.UserContext(), cmd); err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to enqueue on-ramp")
		return c.Status(fiber.StatusBadGateway).JSON(models.ErrorResponse{Error: "engine unavailable"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"txnId": req.TxnID})
}

func (h *OrderHandler) roundTrip(c *fiber.Ctx, cmdType string, payload interface{}) error {
	cmd, err := models.NewCommand(cmdType, payload)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := h.dispatcher.SendAndAwait(c.UserContext(), cmd)
	if err != nil {
		if errors.Is(err, queue.ErrTimeout) {
			return c.Status(fiber.StatusGatewayTimeout).JSON(models.ErrorResponse{Error: "engine did not respond in time"})
		}
		log.Error().Err(err).Str("type", cmdType).Msg("Engine round trip failed")
		return c.Status(fiber.StatusBadGateway).JSON(models.ErrorResponse{Error: "engine unavailable"})
	}

	log.Debug().
		Str("type", cmdType).
		Str("response", resp.Type).
		Dur("latency", time.Since(start)).
		Msg("Engine responded")

	if resp.Type == models.Error {
		var p models.ErrorPayload
		if err := resp.Decode(&p); err != nil {
			return err
		}
		return c.Status(statusFor(p.Code)).JSON(models.ErrorResponse{Error: p.Message, Code: p.Code})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(resp.Payload)
}

func statusFor(code string) int {
	switch code {
	case models.CodeMarketNotFound, models.CodeOrderNotFound:
		return fiber.StatusNotFound
	case models.CodeInsufficientFunds:
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusBadRequest
}

func malformed(c *fiber.Ctx, err error) error {
	log.Warn().
		Err(err).
		Str("ip", c.IP()).
		Str("path", c.Path()).
		Msg("Invalid request: malformed JSON")
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{Error: "Invalid request: malformed JSON"})
}

func invalidRequest(c *fiber.Ctx, err error) error {
	log.Warn().Err(err).Str("ip", c.IP()).Str("path", c.Path()).Msg("Invalid request")
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{Error: err.Error(), Code: models.CodeInvalidCommand})
}

func validateCreateOrder(req *models.CreateOrderPayload) error {
	if err := required(map[string]string{
		"market":   req.Market,
		"price":    req.Price,
		"quantity": req.Quantity,
		"side":     req.Side,
		"userId":   req.UserID,
	}); err != nil {
		return err
	}
	if req.Side != "buy" && req.Side != "sell" {
		return &ValidationError{Message: "Invalid order: side must be buy or sell"}
	}
	if err := positiveDecimal("price", req.Price); err != nil {
		return err
	}
	return positiveDecimal("quantity", req.Quantity)
}

// required lists every empty field, sorted by name.
func required(fields map[string]string) error {
	missing := make([]string, 0)
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &ValidationError{Message: "Invalid request: " + strings.Join(missing, ", ") + " required"}
}

func positiveDecimal(field, raw string) error {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !v.IsPositive() {
		return &ValidationError{Message: "Invalid request: " + field + " must be a positive decimal"}
	}
	return nil
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
