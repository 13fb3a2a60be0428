package services_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MegaGrindStone/persona-web-ui/internal/models"
	"github.com/MegaGrindStone/persona-web-ui/internal/services"
)

func TestLocalStreamsFragments(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{
			`{"choices":[{"delta":{"content":"Hi"}}]}`,
			`{"choices":[{"delta":{"content":" there"}}]}`,
			`{"choices":[]}`,
			`{"choices":[{"delta":{"content":"!"}}]}`,
			"[DONE]",
		} {
			_, _ = w.Write([]byte("data: " + chunk + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	l := services.NewLocal("sk-local", srv.URL, "my-local-model", discardLogger())
	fragments, err := collectFragments(t, l, "You are helpful", []models.Turn{
		{Role: models.RoleUser, Contents: []models.Content{{Type: models.ContentTypeText, Text: "Hello"}}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	want := []string{"Hi", " there", "!"}
	if len(fragments) != len(want) {
		t.Fatalf("fragments = %v, want %v", fragments, want)
	}
	for i := range want {
		if fragments[i] != want[i] {
			t.Errorf("fragment %d = %q, want %q", i, fragments[i], want[i])
		}
	}

	if gotAuth != "Bearer sk-local" {
		t.Errorf("authorization = %q, want bearer credential", gotAuth)
	}
}

func TestLocalNon2xxIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	l := services.NewLocal("sk-local", srv.URL, "my-local-model", discardLogger())
	_, err := collectFragments(t, l, "", []models.Turn{
		{Role: models.RoleUser, Contents: []models.Content{{Type: models.ContentTypeText, Text: "Hello"}}},
	})

	var provErr services.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if provErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", provErr.Status)
	}
}
