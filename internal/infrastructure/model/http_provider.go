package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

type httpProvider struct {
	name       string
	model      domain.ModelDefinition
	httpClient *http.Client
	adapter    providerAdapter
}

type providerAdapter struct {
	buildRequest  func(domain.ModelDefinition, ports.ModelRequest) ([]byte, error)
	parseResponse func([]byte) (ports.ModelResponse, error)
	setHeaders    func(*http.Request, domain.ModelDefinition) error
}

func newHTTPProvider(name string, model domain.ModelDefinition, client *http.Client, adapter providerAdapter) ports.ModelProvider {
	return &httpProvider{
		name:       name,
		model:      model,
		httpClient: client,
		adapter:    adapter,
	}
}

func (p *httpProvider) Name() string {
	return p.name
}

func (p *httpProvider) Model() domain.ModelDefinition {
	return p.model
}

func (p *httpProvider) Invoke(ctx context.Context, req ports.ModelRequest) (ports.ModelResponse, error) {
	requestBody, err := p.adapter.buildRequest(p.model, req)
	if err != nil {
		return ports.ModelResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.model.Endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return ports.ModelResponse{}, err
	}

	httpReq.Header.Set("content-type", "application/json")
	if err := p.adapter.setHeaders(httpReq, p.model); err != nil {
		return ports.ModelResponse{}, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		// Network failures are retryable; a second attempt may land on a
		// healthy backend.
		return ports.ModelResponse{}, fmt.Errorf("%w: %s: %v", domain.ErrTransientDependency, p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return ports.ModelResponse{}, fmt.Errorf("%w: %s: %s", domain.ErrTransientDependency, p.name, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return ports.ModelResponse{}, fmt.Errorf("%w: %s: %s", domain.ErrPermanentDependency, p.name, resp.Status)
	}

	var responseBody bytes.Buffer
	if _, err := responseBody.ReadFrom(resp.Body); err != nil {
		return ports.ModelResponse{}, fmt.Errorf("%w: read %s response: %v", domain.ErrTransientDependency, p.name, err)
	}

	parsed, err := p.adapter.parseResponse(responseBody.Bytes())
	if err != nil {
		return ports.ModelResponse{}, err
	}
	if req.Stream && req.StreamWriter != nil && parsed.Content != "" {
		req.StreamWriter.WriteChunk(parsed.Content)
		req.StreamWriter.Done()
	}
	return parsed, nil
}

func anthropicAdapter() providerAdapter {
	return providerAdapter{
		buildRequest:  buildAnthropicRequest,
		parseResponse: parseAnthropicResponse,
		setHeaders:    setAnthropicHeaders,
	}
}

func openaiAdapter() providerAdapter {
	return providerAdapter{
		buildRequest:  buildChatCompletionRequest,
		parseResponse: parseChatCompletionResponse,
		setHeaders:    setOpenAIHeaders,
	}
}

func buildAnthropicRequest(model domain.ModelDefinition, req ports.ModelRequest) ([]byte, error) {
	systemPrompt, chatMessages := splitSystemMessages(req.Messages)

	request := map[string]interface{}{
		"model":      defaultString(model.ModelID, "claude-sonnet-4-20250514"),
		"max_tokens": defaultInt(model.MaxTokens, 1024),
		"messages":   chatMessages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"name":         tool.Name,
				"description":  tool.Description,
				"input_schema": schemaJSON(tool.Parameters),
			})
		}
		request["tools"] = tools
	}
	return json.Marshal(request)
}

func splitSystemMessages(messages []domain.Message) (string, []map[string]interface{}) {
	var systemLines []string
	var chatMessages []map[string]interface{}

	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			systemLines = append(systemLines, msg.Content)
		case domain.RoleTool:
			chatMessages = append(chatMessages, map[string]interface{}{
				"role": "user",
				"content": []map[string]interface{}{{
					"type":        "tool_result",
					"tool_use_id": msg.ToolCallID,
					"content":     msg.Content,
				}},
			})
		case domain.RoleAssistant:
			content := []map[string]interface{}{}
			if msg.Content != "" {
				content = append(content, map[string]interface{}{"type": "text", "text": msg.Content})
			}
			for _, call := range msg.ToolCalls {
				content = append(content, map[string]interface{}{
					"type":  "tool_use",
					"id":    call.ID,
					"name":  call.Name,
					"input": call.Params,
				})
			}
			chatMessages = append(chatMessages, map[string]interface{}{"role": "assistant", "content": content})
		default:
			chatMessages = append(chatMessages, map[string]interface{}{
				"role":    "user",
				"content": []map[string]interface{}{{"type": "text", "text": msg.Content}},
			})
		}
	}

	return strings.TrimSpace(strings.Join(systemLines, "\n")), chatMessages
}

func parseAnthropicResponse(body []byte) (ports.ModelResponse, error) {
	var response struct {
		Content []struct {
			Type  string         `json:"type"`
			Text  string         `json:"text"`
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ports.ModelResponse{}, fmt.Errorf("%w: decode anthropic response: %v", domain.ErrPermanentDependency, err)
	}

	var out ports.ModelResponse
	for _, block := range response.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: block.ID, Name: block.Name, Params: block.Input})
		}
	}
	return out, nil
}

func setAnthropicHeaders(req *http.Request, model domain.ModelDefinition) error {
	apiKey := getEnv(model.AuthEnvVar, "ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("missing API key: set %s or ANTHROPIC_API_KEY", model.AuthEnvVar)
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return nil
}

func buildChatCompletionRequest(model domain.ModelDefinition, req ports.ModelRequest) ([]byte, error) {
	chatMessages := make([]map[string]interface{}, 0, len(req.Messages))
	for _, msg := range req.Messages {
		entry := map[string]interface{}{
			"role":    string(msg.Role),
			"content": msg.Content,
		}
		if msg.Role == domain.RoleTool {
			entry["tool_call_id"] = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			var calls []map[string]interface{}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Params)
				if err != nil {
					return nil, err
				}
				calls = append(calls, map[string]interface{}{
					"id":   call.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      call.Name,
						"arguments": string(args),
					},
				})
			}
			entry["tool_calls"] = calls
		}
		chatMessages = append(chatMessages, entry)
	}

	request := map[string]interface{}{
		"model":    model.ModelID,
		"messages": chatMessages,
	}
	if model.MaxTokens > 0 {
		request["max_tokens"] = model.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  schemaJSON(tool.Parameters),
				},
			})
		}
		request["tools"] = tools
	}
	return json.Marshal(request)
}

func parseChatCompletionResponse(body []byte) (ports.ModelResponse, error) {
	var response struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return ports.ModelResponse{}, fmt.Errorf("%w: decode chat completion: %v", domain.ErrPermanentDependency, err)
	}
	if len(response.Choices) == 0 {
		return ports.ModelResponse{}, nil
	}

	message := response.Choices[0].Message
	out := ports.ModelResponse{Content: strings.TrimSpace(message.Content)}
	for _, call := range message.ToolCalls {
		params := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &params); err != nil {
				return ports.ModelResponse{}, fmt.Errorf("%w: decode tool arguments for %s: %v",
					domain.ErrPermanentDependency, call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: call.ID, Name: call.Function.Name, Params: params})
	}
	return out, nil
}

func setOpenAIHeaders(req *http.Request, model domain.ModelDefinition) error {
	apiKey := getEnv(model.AuthEnvVar, "OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("missing API key: set %s or OPENAI_API_KEY", model.AuthEnvVar)
	}
	req.Header.Set("authorization", "Bearer "+apiKey)
	return nil
}

// schemaJSON renders a parameter schema as a JSON-schema object, the shape
// both vendor APIs expect for tool parameters.
func schemaJSON(schema domain.ParameterSchema) map[string]interface{} {
	properties := map[string]interface{}{}
	var required []string
	for name, spec := range schema.Fields {
		prop := map[string]interface{}{
			"type":        jsonType(spec.Type),
			"description": spec.Description,
		}
		if len(spec.Enum) > 0 {
			prop["enum"] = spec.Enum
		}
		if spec.Minimum != nil {
			prop["minimum"] = *spec.Minimum
		}
		if spec.Maximum != nil {
			prop["maximum"] = *spec.Maximum
		}
		properties[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}
	out := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func jsonType(t domain.ParamType) string {
	switch t {
	case domain.ParamInt:
		return "integer"
	case domain.ParamNumber:
		return "number"
	case domain.ParamBool:
		return "boolean"
	default:
		return "string"
	}
}

func getEnv(primary, fallback string) string {
	if primary != "" {
		if value := os.Getenv(primary); value != "" {
			return value
		}
	}
	if fallback != "" {
		return os.Getenv(fallback)
	}
	return ""
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}
