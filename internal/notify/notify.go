// Package notify delivers outbound notifications to external services.
//
// Three channels exist:
//   - otp_delivery: carries one-time passcodes to the customer's device
//   - customer_messaging: carries "was this you?" confirmation requests
//   - fraud_team: carries card-block and case alerts to the fraud desk
//
// Delivery targets are registered endpoints (SMS gateway adapters, push
// relays, fraud desk webhooks). Payloads are HMAC-signed and delivery is
// retried with bounded exponential backoff.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/halcyonpay/sentinel/internal/metrics"
	"github.com/halcyonpay/sentinel/internal/retry"
)

// Channel identifies a delivery channel
type Channel string

const (
	ChannelOTP       Channel = "otp_delivery"
	ChannelCustomer  Channel = "customer_messaging"
	ChannelFraudTeam Channel = "fraud_team"
)

// Message types per channel
const (
	TypeOTPCode             = "otp.code"
	TypeConfirmationRequest = "confirmation.request"
	TypeCardBlocked         = "card.blocked"
	TypeCaseEscalated       = "case.escalated"
)

// Message is one outbound notification
type Message struct {
	ID        string         `json:"id"`
	Channel   Channel        `json:"channel"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Endpoint is a registered delivery target for one channel
type Endpoint struct {
	ID          string     `json:"id"`
	Channel     Channel    `json:"channel"`
	URL         string     `json:"url"`
	Secret      string     `json:"-"` // Used for HMAC signing
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// Store persists delivery endpoints
type Store interface {
	Create(ctx context.Context, ep *Endpoint) error
	Get(ctx context.Context, id string) (*Endpoint, error)
	GetByChannel(ctx context.Context, channel Channel) ([]*Endpoint, error)
	Update(ctx context.Context, ep *Endpoint) error
	Delete(ctx context.Context, id string) error
}

// ErrEndpointNotFound is returned for unknown endpoint IDs
var ErrEndpointNotFound = errors.New("notify: endpoint not found")

// Dispatcher sends messages to every active endpoint on a channel
type Dispatcher struct {
	store  Store
	client *http.Client
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Dispatch sends a message to all active endpoints on its channel.
// Delivery is asynchronous; the caller never waits for the wire.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) error {
	endpoints, err := d.store.GetByChannel(ctx, msg.Channel)
	if err != nil {
		return fmt.Errorf("failed to get endpoints: %w", err)
	}

	for _, ep := range endpoints {
		if !ep.Active {
			continue
		}
		go d.send(ep, msg)
	}

	return nil
}

// send delivers one message with retries. Runs outside the request
// context; a slow endpoint must not hold the adjudication path.
func (d *Dispatcher) send(ep *Endpoint, msg *Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	payload, err := json.Marshal(msg)
	if err != nil {
		d.updateError(ctx, ep, "failed to marshal message")
		return
	}

	err = retry.Do(ctx, 4, 500*time.Millisecond, func() error {
		return d.deliver(ctx, ep, msg, payload)
	})

	if err != nil {
		metrics.NotificationDeliveriesTotal.WithLabelValues(string(msg.Channel), "failure").Inc()
		d.updateError(ctx, ep, err.Error())
		return
	}

	metrics.NotificationDeliveriesTotal.WithLabelValues(string(msg.Channel), "success").Inc()
	d.updateSuccess(ctx, ep)
}

func (d *Dispatcher) deliver(ctx context.Context, ep *Endpoint, msg *Message, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sentinel-Event", msg.Type)
	req.Header.Set("X-Sentinel-Timestamp", fmt.Sprintf("%d", msg.Timestamp.Unix()))

	// Sign the payload if a secret is set
	if ep.Secret != "" {
		req.Header.Set("X-Sentinel-Signature", sign(payload, ep.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// The endpoint rejected the payload; retrying won't change that
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) updateSuccess(ctx context.Context, ep *Endpoint) {
	now := time.Now()
	ep.LastSuccess = &now
	ep.LastError = ""
	_ = d.store.Update(ctx, ep)
}

func (d *Dispatcher) updateError(ctx context.Context, ep *Endpoint, errMsg string) {
	ep.LastError = errMsg
	_ = d.store.Update(ctx, ep)
}

// MemoryStore is an in-memory implementation for development and tests
type MemoryStore struct {
	endpoints map[string]*Endpoint
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints: make(map[string]*Endpoint),
	}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, ep *Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[ep.ID] = ep
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ep, ok := m.endpoints[id]; ok {
		return ep, nil
	}
	return nil, ErrEndpointNotFound
}

func (m *MemoryStore) GetByChannel(ctx context.Context, channel Channel) ([]*Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Endpoint
	for _, ep := range m.endpoints {
		if ep.Channel == channel {
			result = append(result, ep)
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, ep *Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[ep.ID] = ep
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints, id)
	return nil
}
