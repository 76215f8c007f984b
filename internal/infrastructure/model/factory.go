// Package model adapts external inference APIs to the ModelProvider port.
package model

import (
	"net/http"
	"strings"
	"time"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// Factory builds providers from model definitions, inferring the wire
// adapter from the endpoint.
type Factory struct {
	httpClient *http.Client
}

var _ ports.ProviderFactory = (*Factory)(nil)

// NewFactory creates a factory with a shared HTTP client.
func NewFactory() *Factory {
	return &Factory{
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ForModel returns a provider for the definition. Unknown endpoints get a
// scripted provider so the engine stays usable offline.
func (f *Factory) ForModel(model domain.ModelDefinition) (ports.ModelProvider, error) {
	switch inferProviderKind(model.Endpoint, model.Name) {
	case domain.ProviderKindAnthropic:
		return newHTTPProvider("anthropic", model, f.httpClient, anthropicAdapter()), nil
	case domain.ProviderKindOpenAI:
		return newHTTPProvider("openai", model, f.httpClient, openaiAdapter()), nil
	case domain.ProviderKindScripted:
		return NewScriptedProvider(model, DemoScript()), nil
	default:
		// Ollama and compatible local servers speak the chat completion
		// dialect without auth headers.
		return newHTTPProvider("openai-compatible", model, f.httpClient, providerAdapter{
			buildRequest:  buildChatCompletionRequest,
			parseResponse: parseChatCompletionResponse,
			setHeaders:    func(*http.Request, domain.ModelDefinition) error { return nil },
		}), nil
	}
}

func inferProviderKind(endpoint, name string) domain.ProviderKind {
	nameLower := strings.ToLower(name)
	switch {
	case endpoint == "" || endpoint == "scripted" || strings.Contains(nameLower, "scripted"):
		return domain.ProviderKindScripted
	case strings.Contains(endpoint, "anthropic.com"):
		return domain.ProviderKindAnthropic
	case strings.Contains(endpoint, "openai.com"):
		return domain.ProviderKindOpenAI
	default:
		return domain.ProviderKindUnknown
	}
}
