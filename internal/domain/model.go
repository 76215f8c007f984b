package domain

// ModelDefinition describes an inference provider declared in the config
// file. The engine never depends on a vendor API shape; the provider adapter
// chosen for an endpoint owns request construction and response parsing.
type ModelDefinition struct {
	Name       string `yaml:"name"`
	Endpoint   string `yaml:"endpoint"`
	AuthEnvVar string `yaml:"auth_env_var"`
	ModelID    string `yaml:"model_id"`
	MaxTokens  int    `yaml:"max_tokens"`
}

// ProviderKind labels the wire adapter used for a model.
type ProviderKind string

const (
	ProviderKindAnthropic ProviderKind = "anthropic"
	ProviderKindOpenAI    ProviderKind = "openai"
	ProviderKindScripted  ProviderKind = "scripted"
	ProviderKindUnknown   ProviderKind = "unknown"
)
