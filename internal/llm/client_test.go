package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carebridge/go-oce/internal/dialogue"
	"github.com/carebridge/go-oce/internal/domain/outreach"
)

func fakeCompletionServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestNormalizeParsesTypedCompletion(t *testing.T) {
	srv := fakeCompletionServer(t, "4")
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	client := NewClient(cfg, nil, nil)

	q := dialogue.Question{Code: "WEIGHT_CHANGE_LBS", ResponseType: outreach.ResponseNumeric}
	v, err := client.Normalize(context.Background(), q, "gained around four pounds")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if v.Number == nil || *v.Number != 4 {
		t.Errorf("got %+v, want Number=4", v)
	}
}

func TestNormalizeYesNoCompletion(t *testing.T) {
	srv := fakeCompletionServer(t, "YES")
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	client := NewClient(cfg, nil, nil)

	q := dialogue.Question{Code: "SHORTNESS_OF_BREATH", ResponseType: outreach.ResponseYesNo}
	v, err := client.Normalize(context.Background(), q, "honestly it has been rough climbing stairs")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if v.Bool == nil || !*v.Bool {
		t.Errorf("got %+v, want Bool=true", v)
	}
}

func TestNormalizeMalformedCompletionDegradesToRawText(t *testing.T) {
	srv := fakeCompletionServer(t, "I think the patient probably means maybe?")
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	client := NewClient(cfg, nil, nil)

	q := dialogue.Question{Code: "SHORTNESS_OF_BREATH", ResponseType: outreach.ResponseYesNo}
	v, err := client.Normalize(context.Background(), q, "hard to say")
	if err != nil {
		t.Fatalf("malformed completion must not fail the turn: %v", err)
	}
	if v.Text != "hard to say" {
		t.Errorf("got %+v, want raw-text degradation", v)
	}
}

func TestNormalizeTransportFailureReturnsError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://127.0.0.1:1" // nothing listening
	client := NewClient(cfg, nil, nil)

	q := dialogue.Question{Code: "ANYTHING_ELSE", ResponseType: outreach.ResponseText}
	if _, err := client.Normalize(context.Background(), q, "hello"); err == nil {
		t.Fatal("expected transport error")
	}
}
