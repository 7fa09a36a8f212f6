package api

import (
	"net/http"

	"furbox-service/internal/service"

	"github.com/gin-gonic/gin"
)

type budgetRequest struct {
	Budget *int64 `json:"budget" binding:"required"`
}

type petTypeRequest struct {
	PetType string `json:"pet_type"`
}

type categoriesRequest struct {
	Categories []string `json:"categories"`
}

func (h *Handler) createDraft(c *gin.Context) {
	var req service.CreateDraftRequest
	if !bindJSON(c, &req) {
		return
	}
	req.OwnerID = currentUser(c)

	state, err := h.svc.Drafts.CreateDraft(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (h *Handler) listDrafts(c *gin.Context) {
	states, err := h.svc.Drafts.ListDrafts(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drafts": states})
}

func (h *Handler) getDraft(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	state, err := h.svc.Drafts.GetDraft(c.Request.Context(), id, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) getWallet(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	wallet, err := h.svc.Drafts.GetWallet(c.Request.Context(), id, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

func (h *Handler) quoteBundle(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	quote, err := h.svc.Drafts.QuoteBundle(c.Request.Context(), id, currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) setBudget(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req budgetRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondDraft(c)(h.svc.Drafts.SetBudget(c.Request.Context(), id, currentUser(c), *req.Budget))
}

func (h *Handler) setPetType(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req petTypeRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondDraft(c)(h.svc.Drafts.SetPetType(c.Request.Context(), id, currentUser(c), req.PetType))
}

func (h *Handler) setCategories(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req categoriesRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondDraft(c)(h.svc.Drafts.SetCategories(c.Request.Context(), id, currentUser(c), req.Categories))
}

func (h *Handler) addLineItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.AddLineItemRequest
	if !bindJSON(c, &req) {
		return
	}
	req.DraftID = id
	req.OwnerID = currentUser(c)
	h.respondDraft(c)(h.svc.Drafts.AddLineItem(c.Request.Context(), &req))
}

func (h *Handler) updateLineItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	variantID, ok := pathID(c, "variantId")
	if !ok {
		return
	}
	var req service.UpdateLineItemRequest
	if !bindJSON(c, &req) {
		return
	}
	req.DraftID = id
	req.OwnerID = currentUser(c)
	req.VariantID = variantID
	h.respondDraft(c)(h.svc.Drafts.UpdateLineItemQuantity(c.Request.Context(), &req))
}

func (h *Handler) removeLineItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	h.respondDraft(c)(h.svc.Drafts.RemoveLineItem(c.Request.Context(), id, currentUser(c), productID))
}

func (h *Handler) checkoutBundle(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req service.BundleCheckoutRequest
	if !bindJSON(c, &req) {
		return
	}
	req.BundleID = id
	req.UserID = currentUser(c)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.svc.Checkout.CheckoutBundle(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// respondDraft writes the outcome of a draft mutation
func (h *Handler) respondDraft(c *gin.Context) func(*service.DraftState, error) {
	return func(state *service.DraftState, err error) {
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, state)
	}
}
