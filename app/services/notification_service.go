package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/sepehrx/simurgh/models"
)

// NotificationService informs customers and operators about settlement events
type NotificationService interface {
	// NotifyPaymentCredited tells the customer their balance was topped up
	NotifyPaymentCredited(ctx context.Context, customer *models.Customer, creditedAmount uint64, txHash string) error
	// NotifyPaymentExpired tells the customer the payment window elapsed unpaid
	NotifyPaymentExpired(ctx context.Context, customer *models.Customer, wallet *models.Wallet) error
	// AlertOps raises an operator alert for conditions needing manual attention
	AlertOps(ctx context.Context, subject, message string) error
}

// EmailProvider interface for email sending
type EmailProvider interface {
	SendEmail(email, subject, message string) error
}

// ChatProvider interface for messenger delivery
type ChatProvider interface {
	SendChatMessage(ctx context.Context, chatID int64, message string) error
}

// notificationService implements NotificationService. Customers with a chat
// binding are notified over the messenger, everyone gets email; operator
// alerts go to a fixed ops address.
type notificationService struct {
	emailProvider EmailProvider
	chatProvider  ChatProvider
	opsEmail      string
	logger        *log.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(emailProvider EmailProvider, chatProvider ChatProvider, opsEmail string, logger *log.Logger) NotificationService {
	return &notificationService{
		emailProvider: emailProvider,
		chatProvider:  chatProvider,
		opsEmail:      opsEmail,
		logger:        logger,
	}
}

func (s *notificationService) NotifyPaymentCredited(ctx context.Context, customer *models.Customer, creditedAmount uint64, txHash string) error {
	message := fmt.Sprintf("Your payment was confirmed and %d %s has been added to your balance. Transaction: %s",
		creditedAmount, customer.Currency, txHash)

	if customer.ChatID != nil && s.chatProvider != nil {
		if err := s.chatProvider.SendChatMessage(ctx, *customer.ChatID, message); err == nil {
			return nil
		} else {
			s.logger.Printf("WARN chat delivery failed for customer %d, falling back to email: %v", customer.ID, err)
		}
	}

	return s.sendEmail(customer.Email, "Payment confirmed", message)
}

func (s *notificationService) NotifyPaymentExpired(ctx context.Context, customer *models.Customer, wallet *models.Wallet) error {
	message := fmt.Sprintf("Your payment window for wallet %s has expired. Deposits sent after expiry are not credited automatically; contact support if you already transferred funds.",
		wallet.Address)

	if customer.ChatID != nil && s.chatProvider != nil {
		if err := s.chatProvider.SendChatMessage(ctx, *customer.ChatID, message); err == nil {
			return nil
		} else {
			s.logger.Printf("WARN chat delivery failed for customer %d, falling back to email: %v", customer.ID, err)
		}
	}

	return s.sendEmail(customer.Email, "Payment expired", message)
}

func (s *notificationService) AlertOps(ctx context.Context, subject, message string) error {
	if s.opsEmail == "" {
		s.logger.Printf("OPS ALERT (no ops email configured) [%s] %s", subject, message)
		return nil
	}
	return s.sendEmail(s.opsEmail, subject, message)
}

func (s *notificationService) sendEmail(email, subject, message string) error {
	if s.emailProvider == nil {
		return fmt.Errorf("email provider not configured")
	}
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %s", email)
	}
	return s.emailProvider.SendEmail(email, subject, message)
}

// SMTPEmailProvider sends email through a plain SMTP relay
type SMTPEmailProvider struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
}

func NewSMTPEmailProvider(host string, port int, username, password, fromEmail string) EmailProvider {
	return &SMTPEmailProvider{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromEmail: fromEmail,
	}
}

func (p *SMTPEmailProvider) SendEmail(email, subject, message string) error {
	addr := fmt.Sprintf("%s:%d", p.host, p.port)

	var auth smtp.Auth
	if p.username != "" {
		auth = smtp.PlainAuth("", p.username, p.password, p.host)
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		p.fromEmail, email, subject, message)

	if err := smtp.SendMail(addr, auth, p.fromEmail, []string{email}, []byte(body)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", email, err)
	}

	return nil
}

// BotChatProvider delivers messages through the messenger bot HTTP API
type BotChatProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewBotChatProvider(baseURL, token string, client *http.Client) ChatProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &BotChatProvider{baseURL: baseURL, token: token, client: client}
}

func (p *BotChatProvider) SendChatMessage(ctx context.Context, chatID int64, message string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"chat_id": chatID,
		"text":    message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", p.baseURL, p.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat API returned status %d", resp.StatusCode)
	}

	return nil
}

// MockEmailProvider logs instead of sending. Used in tests and local development.
type MockEmailProvider struct{}

func NewMockEmailProvider() EmailProvider {
	return &MockEmailProvider{}
}

func (p *MockEmailProvider) SendEmail(email, subject, message string) error {
	log.Printf("Email sent to %s [%s]: %s", email, subject, message)
	return nil
}
