package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/example/curio-shop/internal/api/middleware"
	"github.com/example/curio-shop/internal/checkout"
	"github.com/example/curio-shop/internal/domain/cart"
	"github.com/example/curio-shop/internal/domain/inventory"
	"github.com/example/curio-shop/internal/domain/ledger"
	"github.com/example/curio-shop/internal/sweeper"
)

// PaymentInfo is the shop's manual-payment coordinates, shown to buyers in
// the next-steps block after checkout.
type PaymentInfo struct {
	UPIID       string `json:"upi_id"`
	AccountName string `json:"account_name"`
	BankAccount string `json:"bank_account"`
	BankIFSC    string `json:"bank_ifsc"`
}

type Handlers struct {
	inv      *inventory.Manager
	checkout *checkout.Orchestrator
	ledger   *ledger.Service
	carts    *cart.Service
	sweeper  *sweeper.Sweeper
	payInfo  PaymentInfo
}

func NewHandlers(inv *inventory.Manager, co *checkout.Orchestrator, led *ledger.Service, carts *cart.Service, sw *sweeper.Sweeper, payInfo PaymentInfo) *Handlers {
	return &Handlers{
		inv:      inv,
		checkout: co,
		ledger:   led,
		carts:    carts,
		sweeper:  sw,
		payInfo:  payInfo,
	}
}

// Item Handlers

func (h *Handlers) GetItems(w http.ResponseWriter, r *http.Request) {
	records, err := h.inv.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	key := extractPathParam(r.URL.Path, "/items/")
	rec, err := h.inv.Availability(r.Context(), key)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemKey     string   `json:"item_key"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Price       int      `json:"price"`
		Category    string   `json:"category"`
		Images      []string `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.inv.AddItem(r.Context(), &inventory.Record{
		ItemKey:     req.ItemKey,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Images:      req.Images,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// Cart Handlers

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), getUserID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemKey string `json:"item_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// The cart line carries a snapshot of the listing; availability is
	// checked for real at checkout.
	rec, err := h.inv.Availability(r.Context(), req.ItemKey)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if rec.Status == inventory.StatusSold {
		respondJSONError(w, "Item is already sold", http.StatusGone)
		return
	}

	c, err := h.carts.AddItem(r.Context(), getUserID(r), cart.Line{
		ItemKey: rec.ItemKey,
		Name:    rec.Name,
		Price:   rec.Price,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	itemKey := extractPathParam(r.URL.Path, "/cart/items/")
	c, err := h.carts.RemoveItem(r.Context(), getUserID(r), itemKey)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Checkout Handlers

func (h *Handlers) BuyNow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemKey string `json:"item_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ItemKey == "" {
		respondJSONError(w, "item_key is required", http.StatusBadRequest)
		return
	}

	result, err := h.checkout.BuyNow(r.Context(), req.ItemKey, getUserID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.checkoutResponse(result))
}

func (h *Handlers) CheckoutCart(w http.ResponseWriter, r *http.Request) {
	result, err := h.checkout.CheckoutCart(r.Context(), getUserID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.checkoutResponse(result))
}

func (h *Handlers) checkoutResponse(result *checkout.Result) map[string]any {
	return map[string]any{
		"order":        result,
		"payment_info": h.payInfo,
		"next_steps": []string{
			"Pay the exact amount by UPI or bank transfer using the payment details above.",
			"Submit your transaction reference with POST /payments/{order_ref}/proof before the reservation deadline.",
			"Your items are held for you until " + result.ReservedUntil.Format(time.RFC3339) + ".",
		},
	}
}

// Payment Handlers

func (h *Handlers) SubmitProof(w http.ResponseWriter, r *http.Request) {
	orderRef := paymentRef(r.URL.Path, "/proof")

	var req struct {
		Method ledger.Method `json:"payment_method"`
		Proof  string        `json:"payment_proof"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entry, err := h.ledger.SubmitProof(r.Context(), orderRef, getUserID(r), req.Method, req.Proof)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"order": entry,
		"next_steps": []string{
			"Payment recorded and your items are confirmed as sold.",
			"You will receive a confirmation email shortly.",
		},
	})
}

func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	orderRef := extractPathParam(r.URL.Path, "/payments/")

	buyerID := getUserID(r)
	if isAdmin(r) {
		buyerID = "" // admins can inspect any order
	}
	entry, err := h.ledger.Get(r.Context(), orderRef, buyerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) GetPayments(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.ListByBuyer(r.Context(), getUserID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/orders/")
	orderRef := strings.TrimSuffix(path, "/cancel")

	entry, err := h.ledger.Cancel(r.Context(), orderRef, getUserID(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// Admin Handlers

func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	orderRef := paymentRef(strings.TrimPrefix(r.URL.Path, "/admin"), "/verify")

	var req struct {
		Note string `json:"note"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	entry, err := h.ledger.Verify(r.Context(), orderRef, getUserID(r), req.Note)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) RejectPayment(w http.ResponseWriter, r *http.Request) {
	orderRef := paymentRef(strings.TrimPrefix(r.URL.Path, "/admin"), "/reject")

	var req struct {
		Note string `json:"note"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	entry, err := h.ledger.Reject(r.Context(), orderRef, getUserID(r), req.Note)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) RunCleanup(w http.ResponseWriter, r *http.Request) {
	entriesExpired, itemsReleased := h.sweeper.RunOnce(r.Context())
	respondJSON(w, http.StatusOK, map[string]int{
		"orders_expired": entriesExpired,
		"items_released": itemsReleased,
	})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondDomainError maps domain errors onto HTTP statuses: missing things
// are 404, terminal states 410, losable races 409, malformed input and
// operations invalid for the current status 400.
func respondDomainError(w http.ResponseWriter, err error) {
	var reserved *inventory.ReservedByOtherError
	if errors.As(err, &reserved) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error":          reserved.Error(),
			"item_key":       reserved.ItemKey,
			"reserved_until": reserved.ReservedUntil,
			"retry_after":    int(reserved.TimeLeft.Seconds()),
		})
		return
	}

	var status int
	switch {
	case errors.Is(err, inventory.ErrItemNotFound), errors.Is(err, ledger.ErrEntryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, inventory.ErrItemSold), errors.Is(err, inventory.ErrReservationExpired):
		status = http.StatusGone
	case errors.Is(err, inventory.ErrClaimConflict),
		errors.Is(err, inventory.ErrReservationMismatch),
		errors.Is(err, inventory.ErrItemExists):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidProof),
		errors.Is(err, ledger.ErrConflictingState),
		errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, cart.ErrAlreadyInCart),
		errors.Is(err, cart.ErrLineNotFound):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	respondJSONError(w, err.Error(), status)
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}

// paymentRef pulls the order ref out of /payments/{ref}{suffix}.
func paymentRef(path, suffix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, "/payments/"), suffix)
}

// getUserID extracts user ID from JWT context or falls back to X-User-ID header
func getUserID(r *http.Request) string {
	if userID := middleware.GetUserID(r.Context()); userID != "" {
		return userID
	}

	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return userID
	}

	return "default-user"
}

// isAdmin checks if the current user has admin role
func isAdmin(r *http.Request) bool {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return false
	}
	return claims.Role == "admin"
}
