// Package api is the HTTP client for the chatbycard backend. It covers
// document content retrieval, agent configuration resolution, workflow
// definition fetch, and the blocking and streaming chat endpoints.
package api

// ChatRequest is the request body for both chat endpoints.
type ChatRequest struct {
	AgentID          string   `json:"agentId"`
	DocumentIDs      []string `json:"documentIds,omitempty"`
	UserInput        string   `json:"userInput"`
	PreviousAIOutput string   `json:"previousAiOutput,omitempty"`
}

// ChatResponse is the response body of the blocking completions endpoint.
type ChatResponse struct {
	Content string `json:"content"`
}

// AgentConfig is an agent's resolved configuration.
type AgentConfig struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
}

// DocumentContent is one document's retrieved content.
type DocumentContent struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}
