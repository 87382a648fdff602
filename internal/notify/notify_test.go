package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// MemoryStore tests
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ep := &Endpoint{
		ID:        "nep_test1",
		Channel:   ChannelOTP,
		URL:       "https://sms-gateway.example.com/deliver",
		Secret:    "secret123",
		Active:    true,
		CreatedAt: time.Now(),
	}

	// Create
	if err := store.Create(ctx, ep); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Get
	got, err := store.Get(ctx, "nep_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://sms-gateway.example.com/deliver" {
		t.Errorf("Expected URL, got %s", got.URL)
	}

	// Update
	ep.Active = false
	store.Update(ctx, ep)
	got, _ = store.Get(ctx, "nep_test1")
	if got.Active {
		t.Error("Expected inactive after update")
	}

	// Delete
	store.Delete(ctx, "nep_test1")
	if _, err = store.Get(ctx, "nep_test1"); err == nil {
		t.Error("Expected error after delete")
	}
}

func TestMemoryStore_GetByChannel(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Endpoint{ID: "nep1", Channel: ChannelOTP})
	store.Create(ctx, &Endpoint{ID: "nep2", Channel: ChannelFraudTeam})
	store.Create(ctx, &Endpoint{ID: "nep3", Channel: ChannelOTP})

	eps, _ := store.GetByChannel(ctx, ChannelOTP)
	if len(eps) != 2 {
		t.Errorf("Expected 2 endpoints for otp_delivery, got %d", len(eps))
	}
}

// ---------------------------------------------------------------------------
// Signature tests
// ---------------------------------------------------------------------------

func TestSign(t *testing.T) {
	payload := []byte(`{"type":"otp.code","data":{}}`)
	secret := "test_secret_key"

	sig := sign(payload, secret)

	// Verify manually
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if sig != expected {
		t.Errorf("Signature mismatch: got %s, want %s", sig, expected)
	}
}

// ---------------------------------------------------------------------------
// Delivery tests
// ---------------------------------------------------------------------------

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatchDeliversSignedPayload(t *testing.T) {
	var received atomic.Int32
	var gotSig, gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotSig = r.Header.Get("X-Sentinel-Signature")
		received.Add(1)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &Endpoint{
		ID: "nep1", Channel: ChannelOTP, URL: srv.URL, Secret: "s3cret", Active: true,
	})

	d := NewDispatcher(store)
	msg := &Message{
		ID:        "msg_1",
		Channel:   ChannelOTP,
		Type:      TypeOTPCode,
		Timestamp: time.Now(),
		Data:      map[string]any{"code": "123456"},
	}
	if err := d.Dispatch(ctx, msg); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	waitFor(t, func() bool { return received.Load() == 1 })

	// Signature must cover the exact payload bytes
	if sign([]byte(gotBody), "s3cret") != gotSig {
		t.Error("signature does not verify against received body")
	}

	var decoded Message
	if err := json.Unmarshal([]byte(gotBody), &decoded); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if decoded.Type != TypeOTPCode {
		t.Errorf("expected type %s, got %s", TypeOTPCode, decoded.Type)
	}
}

func TestDispatchSkipsInactiveEndpoints(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &Endpoint{ID: "nep1", Channel: ChannelOTP, URL: srv.URL, Active: false})

	d := NewDispatcher(store)
	if err := d.Dispatch(ctx, &Message{ID: "msg_1", Channel: ChannelOTP, Type: TypeOTPCode, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if received.Load() != 0 {
		t.Error("inactive endpoint should not receive deliveries")
	}
}

func TestDispatchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &Endpoint{ID: "nep1", Channel: ChannelFraudTeam, URL: srv.URL, Active: true})

	d := NewDispatcher(store)
	if err := d.Dispatch(ctx, &Message{ID: "msg_1", Channel: ChannelFraudTeam, Type: TypeCardBlocked, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	waitFor(t, func() bool { return calls.Load() >= 3 })

	waitFor(t, func() bool {
		ep, _ := store.Get(ctx, "nep1")
		return ep.LastSuccess != nil
	})
}

func TestDispatchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	store.Create(ctx, &Endpoint{ID: "nep1", Channel: ChannelCustomer, URL: srv.URL, Active: true})

	d := NewDispatcher(store)
	if err := d.Dispatch(ctx, &Message{ID: "msg_1", Channel: ChannelCustomer, Type: TypeConfirmationRequest, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	waitFor(t, func() bool {
		ep, _ := store.Get(ctx, "nep1")
		return ep.LastError != ""
	})
	if calls.Load() != 1 {
		t.Errorf("4xx should not be retried, got %d calls", calls.Load())
	}
}

// ---------------------------------------------------------------------------
// Emitter tests
// ---------------------------------------------------------------------------

func TestNilEmitterIsSafe(t *testing.T) {
	var e *Emitter
	// Must not panic
	e.EmitOTPCode("cust_1", "sms", "+15550001111", "123456", "tx_1", time.Now())
	e.EmitCardBlocked("card_1", "case_1", "limit reached")
}
