package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/curio-shop/internal/domain/ledger"
	"github.com/example/curio-shop/internal/domain/user"
	"github.com/example/curio-shop/internal/email"
	"github.com/example/curio-shop/internal/infrastructure/kafka"
)

// Handler turns ledger events into buyer emails. Email is best-effort: a
// send failure is logged and never blocks or retries the order flow.
type Handler struct {
	emailService *email.Service
	users        *user.Service
	ledger       *ledger.Service
}

// NewHandler creates a new notification handler
func NewHandler(emailSvc *email.Service, users *user.Service, led *ledger.Service) *Handler {
	return &Handler{
		emailService: emailSvc,
		users:        users,
		ledger:       led,
	}
}

// HandleEvent processes an envelope from Kafka.
func (h *Handler) HandleEvent(ctx context.Context, env *kafka.Envelope) error {
	switch env.Type {
	case ledger.EventOrderPlaced, ledger.EventPaymentVerified, ledger.EventPaymentRejected:
		return h.handlePaymentEvent(ctx, env)
	}
	return nil
}

func (h *Handler) handlePaymentEvent(ctx context.Context, env *kafka.Envelope) error {
	var e ledger.PaymentEvent
	if err := json.Unmarshal(env.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal %s event: %v", env.Type, err)
		return err
	}

	log.Printf("[Notifier] Processing %s for order %s, buyer %s", env.Type, e.OrderRef, e.BuyerID)

	u, err := h.users.Get(ctx, e.BuyerID)
	if err != nil {
		log.Printf("[Notifier] Cannot resolve buyer %s: %v", e.BuyerID, err)
		return nil
	}

	entry, err := h.ledger.Get(ctx, e.OrderRef, "")
	if err != nil {
		log.Printf("[Notifier] Cannot load order %s: %v", e.OrderRef, err)
		return nil
	}

	emailItems := make([]email.OrderItem, len(entry.Items))
	for i, item := range entry.Items {
		emailItems[i] = email.OrderItem{
			ItemKey: item.ItemKey,
			Name:    item.Name,
			Price:   item.Price,
		}
	}

	switch env.Type {
	case ledger.EventOrderPlaced:
		err = h.emailService.SendReservationConfirmation(u.Email, entry.OrderRef, entry.Amount, emailItems, entry.ReservedUntil)
	case ledger.EventPaymentVerified:
		err = h.emailService.SendPaymentVerified(u.Email, entry.OrderRef, entry.Amount, emailItems)
	case ledger.EventPaymentRejected:
		err = h.emailService.SendPaymentRejected(u.Email, entry.OrderRef, entry.AdminNote)
	}
	if err != nil {
		log.Printf("[Notifier] Failed to send email to %s: %v", u.Email, err)
		return err
	}

	log.Printf("[Notifier] %s email sent to %s for order %s", env.Type, u.Email, entry.OrderRef)
	return nil
}
