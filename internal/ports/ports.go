// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// These interfaces are the contract between the engine core and external
// adapters. The core depends only on abstractions: commerce data, model
// inference, caching and persistence are all swappable infrastructure.
package ports

import (
	"context"

	"github.com/doeshing/merchat/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.merchat/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// DataAccess is the Unified Data Access collaborator: the only gateway to
// the commerce backend. Every operation is fallible and latency-bearing;
// callers own timeouts via ctx.
type DataAccess interface {
	SearchCatalog(ctx context.Context, query string, filters map[string]any) ([]domain.ProductHit, error)
	GetInventory(ctx context.Context, ids []string) ([]domain.InventoryLevel, error)
	GetPricing(ctx context.Context, ids []string, mode domain.Mode) ([]domain.PriceQuote, error)
	MutateCart(ctx context.Context, sessionID string, op domain.CartOp) (domain.CartSnapshot, error)
	CustomerProfile(ctx context.Context, sessionID string) (domain.CustomerProfile, error)
	// CustomExtension is the escape hatch for domain-specific operations
	// (e.g. B2B bulk pricing) outside the standard surface.
	CustomExtension(ctx context.Context, name string, args map[string]any) (map[string]any, error)
	// Capabilities reports which optional features this backend provides.
	Capabilities() []domain.Capability
}

// ToolSpec advertises one action to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  domain.ParameterSchema
}

// ModelRequest contains everything needed for one inference call.
type ModelRequest struct {
	Messages     []domain.Message
	Tools        []ToolSpec
	Stream       bool
	StreamWriter domain.StreamWriter
}

// ModelResponse is either a natural-language continuation, one or more
// structured tool invocations, or both.
type ModelResponse struct {
	Content   string
	ToolCalls []domain.ToolCall
}

// ModelProvider defines the inference capability the engine consumes.
type ModelProvider interface {
	Name() string
	Model() domain.ModelDefinition
	Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// ProviderFactory builds model providers from configuration entries.
type ProviderFactory interface {
	ForModel(domain.ModelDefinition) (ModelProvider, error)
}

// CacheStore is one cache tier. Values are opaque JSON blobs.
type CacheStore interface {
	Get(ctx context.Context, key string) (domain.CacheEntry, bool, error)
	Set(ctx context.Context, entry domain.CacheEntry) error
	Invalidate(ctx context.Context, prefix string) error
	Len(ctx context.Context) (int, error)
}

// Checkpointer persists conversation snapshots across process restarts.
type Checkpointer interface {
	Save(ctx context.Context, state domain.ConversationState) error
	Load(ctx context.Context, sessionID string) (domain.ConversationState, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// SecurityJudge gatekeeps every untrusted string crossing the engine
// boundary, inbound and outbound.
type SecurityJudge interface {
	ValidateInput(ctx context.Context, text string, sctx domain.SecurityContext) domain.SecurityVerdict
	ValidateOutput(ctx context.Context, text string, sctx domain.SecurityContext) domain.SecurityVerdict
	// CheckRate consumes one token from the session's bucket. Exhaustion
	// yields a terminal verdict with a retry-after hint.
	CheckRate(sessionID string) domain.SecurityVerdict
}

// Logger provides structured logging abstraction for the application layer.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
