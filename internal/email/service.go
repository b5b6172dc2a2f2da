package email

import (
	"fmt"
	"net/smtp"
	"time"
)

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
	}
}

// SendReservationConfirmation tells the buyer their items are held and how
// long they have to pay.
func (s *Service) SendReservationConfirmation(to, orderRef string, amount int, items []OrderItem, reservedUntil time.Time) error {
	subject := fmt.Sprintf("Order %s: items reserved, payment pending", orderRef)
	body := BuildReservationBody(orderRef, amount, items, reservedUntil)
	return s.send(to, subject, body)
}

// SendPaymentVerified confirms the sale.
func (s *Service) SendPaymentVerified(to, orderRef string, amount int, items []OrderItem) error {
	subject := fmt.Sprintf("Order %s confirmed, thank you!", orderRef)
	body := BuildPaymentVerifiedBody(orderRef, amount, items)
	return s.send(to, subject, body)
}

// SendPaymentRejected tells the buyer their payment could not be verified
// and their items were released.
func (s *Service) SendPaymentRejected(to, orderRef, reason string) error {
	subject := fmt.Sprintf("Order %s: payment could not be verified", orderRef)
	body := BuildPaymentRejectedBody(orderRef, reason)
	return s.send(to, subject, body)
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}
