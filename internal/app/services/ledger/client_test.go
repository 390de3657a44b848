package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClient_Credit(t *testing.T) {
	var received CreditIntent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key1" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode intent: %v", err)
		}
		w.Write([]byte(`{"accepted": true}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.Client(), server.URL, "key1", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	intent := CreditIntent{
		PayeeID:        "payee",
		Amount:         1.1,
		Currency:       "USD",
		ReasonCode:     "joining_commission",
		IdempotencyKey: "joining:user",
	}
	if err := client.Credit(context.Background(), intent); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if received != intent {
		t.Fatalf("server received %+v, want %+v", received, intent)
	}
}

func TestHTTPClient_CreditRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accepted": false, "error": "unknown payee"}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Credit(context.Background(), CreditIntent{PayeeID: "x"}); err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestHTTPClient_CreditServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewHTTPClient(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Credit(context.Background(), CreditIntent{PayeeID: "x"}); err == nil {
		t.Fatal("expected status error")
	}
}

func TestNewHTTPClient_RequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPClient(nil, "  ", "", nil); err == nil {
		t.Fatal("expected endpoint error")
	}
}
