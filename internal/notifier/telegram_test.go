package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN")
	tg.baseURL = srv.URL

	if err := tg.SendMessage(context.Background(), "12345", "Pago registrado"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got["chat_id"] != "12345" {
		t.Fatalf("chat_id = %q, want %q", got["chat_id"], "12345")
	}
	if got["text"] != "Pago registrado" {
		t.Fatalf("text = %q, want %q", got["text"], "Pago registrado")
	}
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN")
	tg.baseURL = srv.URL

	if err := tg.SendMessage(context.Background(), "12345", "hola"); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestSendMessage_Disabled(t *testing.T) {
	tg := NewTelegram("")

	if tg.Enabled() {
		t.Fatal("empty token must disable the notifier")
	}
	if err := tg.SendMessage(context.Background(), "12345", "hola"); err == nil {
		t.Fatal("expected error when notifier disabled")
	}
}
