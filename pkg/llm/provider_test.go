package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlabs/rfsn-controller/pkg/rerr"
)

func TestNewHTTPProviderMissingEnvVar(t *testing.T) {
	os.Unsetenv("TESTPROVIDER_API_KEY")
	_, err := NewHTTPProvider("https://example.com", "TESTPROVIDER_API_KEY", "gpt-x")
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.CodeModelProviderMissing))
}

func TestHTTPProviderCompleteReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"mode":"patch","diff":"x"}`}},
			},
		})
	}))
	defer srv.Close()

	t.Setenv("TESTPROVIDER_API_KEY", "test-key")
	p, err := NewHTTPProvider(srv.URL, "TESTPROVIDER_API_KEY", "gpt-x")
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), "do the thing", 0.2)
	require.NoError(t, err)
	assert.Equal(t, `{"mode":"patch","diff":"x"}`, out)
}

func TestHTTPProviderCompletePropagatesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	t.Setenv("TESTPROVIDER_API_KEY", "test-key")
	p, err := NewHTTPProvider(srv.URL, "TESTPROVIDER_API_KEY", "gpt-x")
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), "prompt", 0.0)
	assert.Error(t, err)
}
