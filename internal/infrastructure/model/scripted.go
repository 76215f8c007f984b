package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// Script decides the scripted provider's answer for one request.
type Script func(ports.ModelRequest) ports.ModelResponse

// ScriptedProvider answers from a deterministic script instead of a remote
// API. It keeps the full engine runnable offline: demos, doctor checks, and
// end-to-end tests all run against it.
type ScriptedProvider struct {
	model  domain.ModelDefinition
	script Script
}

var _ ports.ModelProvider = (*ScriptedProvider)(nil)

// NewScriptedProvider wraps a script as a provider.
func NewScriptedProvider(model domain.ModelDefinition, script Script) *ScriptedProvider {
	return &ScriptedProvider{model: model, script: script}
}

func (p *ScriptedProvider) Name() string { return "scripted" }

func (p *ScriptedProvider) Model() domain.ModelDefinition { return p.model }

func (p *ScriptedProvider) Invoke(ctx context.Context, req ports.ModelRequest) (ports.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return ports.ModelResponse{}, err
	}
	resp := p.script(req)
	if req.Stream && req.StreamWriter != nil && resp.Content != "" {
		req.StreamWriter.WriteChunk(resp.Content)
		req.StreamWriter.Done()
	}
	return resp, nil
}

// DemoScript is a small keyword-driven script: first turn issues a catalog
// search for the user's words, and once a tool result is in the transcript
// it summarizes it. Good enough to walk the whole graph without a network.
func DemoScript() Script {
	return func(req ports.ModelRequest) ports.ModelResponse {
		lastUser := ""
		sawToolResult := false
		for _, msg := range req.Messages {
			switch msg.Role {
			case domain.RoleUser:
				lastUser = msg.Content
			case domain.RoleTool:
				sawToolResult = true
			}
		}

		if sawToolResult {
			return ports.ModelResponse{
				Content: "Here's what I found for you. Anything you'd like me to add to your cart?",
			}
		}
		if hasTool(req.Tools, "catalog_search") && lastUser != "" {
			return ports.ModelResponse{
				ToolCalls: []domain.ToolCall{{
					ID:     "demo-1",
					Name:   "catalog_search",
					Params: map[string]any{"query": demoQuery(lastUser)},
				}},
			}
		}
		return ports.ModelResponse{
			Content: fmt.Sprintf("I can help you shop. You said: %s", lastUser),
		}
	}
}

func hasTool(tools []ports.ToolSpec, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

func demoQuery(message string) string {
	words := strings.Fields(message)
	if len(words) > 4 {
		words = words[len(words)-4:]
	}
	return strings.Join(words, " ")
}
