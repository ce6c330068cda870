package billingclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRunDueChargesSendsInternalKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/internal/billing/run" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("X-Internal-API-Key") != "internal-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"processed":3,"successful":1,"pending":1,"failed":1,"cancelled":0,"skipped":2}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "internal-key", time.Second)
	summary, err := client.RunDueCharges(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 3 || summary.Pending != 1 || summary.Skipped != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestRunDueChargesConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "k", time.Second).RunDueCharges(context.Background())
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestExpireConfirmationsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "k", time.Second).ExpireConfirmations(context.Background()); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient("", "k", 0).RunDueCharges(context.Background()); err == nil {
		t.Fatalf("expected missing base URL error")
	}
}
