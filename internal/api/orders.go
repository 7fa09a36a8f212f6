package api

import (
	"context"
	"net/http"

	"furbox-service/internal/models"
	"furbox-service/internal/service"

	"github.com/gin-gonic/gin"
)

type advanceStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// checkout places a standard order from explicit lines
func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}
	req.UserID = currentUser(c)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.svc.Checkout.Checkout(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.svc.Orders.ListOrders(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := h.svc.Orders.GetOrder(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, err := h.svc.Orders.CancelOrder(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) activatePlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.ActivatePlanRequest
	if !bindJSON(c, &req) {
		return
	}
	req.PlanID = id
	req.UserID = currentUser(c)

	result, err := h.svc.Checkout.ActivatePlan(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) pausePlan(c *gin.Context) {
	h.planTransition(c, h.svc.Plans.Pause)
}

func (h *Handler) resumePlan(c *gin.Context) {
	h.planTransition(c, h.svc.Plans.Resume)
}

func (h *Handler) cancelPlan(c *gin.Context) {
	h.planTransition(c, h.svc.Plans.Cancel)
}

func (h *Handler) planTransition(c *gin.Context, op func(ctx context.Context, planID, ownerID int64) (*models.Draft, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	plan, err := op(c.Request.Context(), id, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *Handler) listCycles(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	cycles, err := h.svc.Plans.ListCycles(c.Request.Context(), id, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": cycles})
}

func (h *Handler) getCart(c *gin.Context) {
	items, err := h.svc.Cart.GetCart(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.CartItemRequest
	if !bindJSON(c, &req) {
		return
	}
	items, err := h.svc.Cart.AddItem(c.Request.Context(), currentUser(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	variantID, ok := pathID(c, "variantId")
	if !ok {
		return
	}
	items, err := h.svc.Cart.RemoveItem(c.Request.Context(), currentUser(c), variantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// createOrder is the order sink used by other internal callers
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.svc.Orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) advanceOrderStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req advanceStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.svc.Orders.AdvanceStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// runRenewals runs one renewal batch on demand
func (h *Handler) runRenewals(c *gin.Context) {
	results, err := h.svc.Renewals.ProcessRenewals(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
