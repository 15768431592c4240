package services

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

// BookingLinkEmail carries a booking token link to a prospective renter
type BookingLinkEmail struct {
	To          string
	URL         string
	VehicleName string
	CompanyName string
	PickupDate  string
	ReturnDate  string
	Total       float64
	Currency    string
	ExpiresAt   string
}

// BookingConfirmationEmail is sent once a booking is confirmed
type BookingConfirmationEmail struct {
	To            string
	CustomerName  string
	BookingNumber string
	VehicleName   string
	PickupDate    string
	ReturnDate    string
	Total         float64
	Currency      string
	URL           string
}

// InvitationEmail gives a first-time renter access to their account
type InvitationEmail struct {
	To             string
	Name           string
	LoginURL       string
	TempCredential string
	BookingSummary string
}

// Notifier sends customer emails. Callers log failures and never roll back.
type Notifier interface {
	SendBookingLink(ctx context.Context, msg BookingLinkEmail) error
	SendBookingConfirmation(ctx context.Context, msg BookingConfirmationEmail) error
	SendInvitation(ctx context.Context, msg InvitationEmail) error
}

// ============================================================================
// SENDGRID
// ============================================================================

// SendGridNotifier delivers emails through SendGrid
type SendGridNotifier struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logrus.Logger
}

// NewSendGridNotifier creates a SendGrid-backed notifier
func NewSendGridNotifier(apiKey, fromEmail, fromName string, logger *logrus.Logger) *SendGridNotifier {
	return &SendGridNotifier{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
		logger:    logger,
	}
}

func (n *SendGridNotifier) send(ctx context.Context, to, toName, subject, plainText, htmlContent string) error {
	from := mail.NewEmail(n.fromName, n.fromEmail)
	recipient := mail.NewEmail(toName, to)
	message := mail.NewSingleEmail(from, subject, recipient, plainText, htmlContent)

	response, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}

	n.logger.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info("Email sent")
	return nil
}

// SendBookingLink emails the booking page link
func (n *SendGridNotifier) SendBookingLink(ctx context.Context, msg BookingLinkEmail) error {
	subject := fmt.Sprintf("Your %s booking with %s", msg.VehicleName, msg.CompanyName)
	plain := fmt.Sprintf(
		"Complete your booking of the %s from %s to %s (total %.2f %s): %s\nThis link expires at %s.",
		msg.VehicleName, msg.PickupDate, msg.ReturnDate, msg.Total, msg.Currency, msg.URL, msg.ExpiresAt)
	body := fmt.Sprintf(`<p>Complete your booking of the <strong>%s</strong> from %s to %s.</p>
<p>Total: %.2f %s</p>
<p><a href="%s">Book now</a></p>
<p>This link expires at %s.</p>`,
		html.EscapeString(msg.VehicleName), msg.PickupDate, msg.ReturnDate,
		msg.Total, msg.Currency, html.EscapeString(msg.URL), msg.ExpiresAt)

	return n.send(ctx, msg.To, "", subject, plain, body)
}

// SendBookingConfirmation emails the booking confirmation
func (n *SendGridNotifier) SendBookingConfirmation(ctx context.Context, msg BookingConfirmationEmail) error {
	subject := fmt.Sprintf("Booking %s confirmed", msg.BookingNumber)
	plain := fmt.Sprintf(
		"Hi %s, your booking %s for the %s from %s to %s is confirmed. Total paid: %.2f %s. Details: %s",
		msg.CustomerName, msg.BookingNumber, msg.VehicleName, msg.PickupDate, msg.ReturnDate,
		msg.Total, msg.Currency, msg.URL)
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>Your booking <strong>%s</strong> for the %s from %s to %s is confirmed.</p>
<p>Total paid: %.2f %s</p>
<p><a href="%s">View booking</a></p>`,
		html.EscapeString(msg.CustomerName), msg.BookingNumber, html.EscapeString(msg.VehicleName),
		msg.PickupDate, msg.ReturnDate, msg.Total, msg.Currency, html.EscapeString(msg.URL))

	return n.send(ctx, msg.To, msg.CustomerName, subject, plain, body)
}

// SendInvitation emails first-time account credentials
func (n *SendGridNotifier) SendInvitation(ctx context.Context, msg InvitationEmail) error {
	subject := "Your rental account is ready"
	plain := fmt.Sprintf(
		"Hi %s, an account was created for your booking (%s). Sign in at %s with temporary password %s and change it after your first login.",
		msg.Name, msg.BookingSummary, msg.LoginURL, msg.TempCredential)
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>An account was created for your booking (%s).</p>
<p>Sign in at <a href="%s">%s</a> with the temporary password <code>%s</code> and change it after your first login.</p>`,
		html.EscapeString(msg.Name), html.EscapeString(msg.BookingSummary),
		html.EscapeString(msg.LoginURL), html.EscapeString(msg.LoginURL), msg.TempCredential)

	return n.send(ctx, msg.To, msg.Name, subject, plain, body)
}

// ============================================================================
// LOG ONLY
// ============================================================================

// LogNotifier writes emails to the log. Used when SendGrid is not configured.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendBookingLink(ctx context.Context, msg BookingLinkEmail) error {
	n.logger.WithFields(logrus.Fields{
		"to":  msg.To,
		"url": msg.URL,
	}).Info("[email disabled] booking link")
	return nil
}

func (n *LogNotifier) SendBookingConfirmation(ctx context.Context, msg BookingConfirmationEmail) error {
	n.logger.WithFields(logrus.Fields{
		"to":             msg.To,
		"booking_number": msg.BookingNumber,
	}).Info("[email disabled] booking confirmation")
	return nil
}

func (n *LogNotifier) SendInvitation(ctx context.Context, msg InvitationEmail) error {
	n.logger.WithFields(logrus.Fields{
		"to":        msg.To,
		"login_url": msg.LoginURL,
	}).Info("[email disabled] customer invitation")
	return nil
}
