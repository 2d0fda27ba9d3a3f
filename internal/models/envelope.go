// internal/models/envelope.go
package models

import "time"

// Flow identifies which pipeline an envelope belongs to.
type Flow string

const (
	FlowChat         Flow = "chat"
	FlowProvisioning Flow = "provisioning"
)

// ChatRequest is the inbound payload of POST /api/chat/ingest.
type ChatRequest struct {
	Message        string `json:"message"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	CallbackURL    string `json:"callbackUrl,omitempty"`
}

// ProvisioningRequest is the inbound payload of POST /api/provisioning/ingest,
// as sent by the WordPress/MemberPress purchase webhook.
type ProvisioningRequest struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	PurchaseID   string `json:"purchaseId"`
	ProductSKU   string `json:"productSku"`
	Organization string `json:"organization"`
	CallbackURL  string `json:"callbackUrl"`
}

// UserInfo is the user block carried on provisioning envelopes.
type UserInfo struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
}

// ChatEnvelope is the queued unit of work for the chat flow. Consumed
// at-least-once; the worker dedupes on MessageID.
type ChatEnvelope struct {
	MessageID      string            `json:"messageId"`
	Message        string            `json:"message"`
	UserID         string            `json:"userId"`
	ConversationID string            `json:"conversationId"`
	Timestamp      string            `json:"timestamp"` // ISO-8601 UTC
	CallbackURL    string            `json:"callbackUrl,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ProvisioningEnvelope is the queued unit of work for the purchase flow.
type ProvisioningEnvelope struct {
	ProvisioningID string          `json:"provisioningId"`
	PurchaseID     string          `json:"purchaseId"`
	Timestamp      string          `json:"timestamp"`
	User           UserInfo        `json:"user"`
	Organization   string          `json:"organization"`
	ProductSKU     string          `json:"productSku"`
	Provisioning   map[string]bool `json:"provisioning"`
	Status         string          `json:"status"`
	WebhookURL     string          `json:"webhookUrl"`
}

// Timestamp format used everywhere an envelope or result records time.
const TimestampLayout = time.RFC3339
