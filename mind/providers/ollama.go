package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/cellmesh/mind"
)

// OllamaProvider speaks the OpenAI-compatible API served by Ollama, vLLM, and
// similar local runtimes. Request and response handling is shared with
// OpenAIProvider; only the default URL and auth differ.
type OllamaProvider struct {
	OpenAIProvider
}

func init() {
	mind.RegisterProvider(&OllamaProvider{})
}

// Name returns the provider identifier.
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// BuildURL constructs the chat completions endpoint.
func (o *OllamaProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds a bearer token when one is configured, for gateways that
// front local runtimes.
func (o *OllamaProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("OLLAMA_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
