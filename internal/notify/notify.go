// Package notify sends the confirmation email when a booking attempt
// succeeds. With no API key configured, notification is disabled and the
// success is only visible in the store and the logs.
package notify

import (
	"fmt"
	"log"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/clhuang/ticketd/internal/task"
)

// EmailNotifier delivers booking confirmations through SendGrid.
type EmailNotifier struct {
	apiKey      string
	fromName    string
	fromAddress string
	toAddress   string
}

// NewEmailNotifier returns nil when apiKey or toAddress is empty, which the
// driver treats as notification disabled.
func NewEmailNotifier(apiKey, fromName, fromAddress, toAddress string) *EmailNotifier {
	if apiKey == "" || toAddress == "" {
		return nil
	}
	return &EmailNotifier{
		apiKey:      apiKey,
		fromName:    fromName,
		fromAddress: fromAddress,
		toAddress:   toAddress,
	}
}

func (n *EmailNotifier) BookingSucceeded(t *task.Task) error {
	pnr := ""
	if t.SuccessPNR != nil {
		pnr = *t.SuccessPNR
	}

	subject := fmt.Sprintf("Booking confirmed: %s on %s", t.Route(), t.Date)
	body := fmt.Sprintf(
		"Your ticket booking succeeded after %d attempt(s).\n\nRoute: %s\nDate: %s\nPNR Code: %s\n\nComplete payment with the PNR code to finalize the ticket.",
		t.Attempts, t.Route(), t.Date, pnr,
	)

	from := mail.NewEmail(n.fromName, n.fromAddress)
	to := mail.NewEmail("", n.toAddress)
	email := mail.NewSingleEmail(from, subject, to, body, body)

	client := sendgrid.NewSendClient(n.apiKey)
	response, err := client.Send(email)
	if err != nil {
		return fmt.Errorf("failed to send confirmation email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	log.Printf("Confirmation email sent to %s (status: %d)", n.toAddress, response.StatusCode)
	return nil
}
