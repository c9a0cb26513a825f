package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatbycard/internal/errors"
	"chatbycard/internal/logging"
	"chatbycard/internal/stream"
)

const apiPrefix = "/api/chatbycard"

// Client talks to the chatbycard backend over HTTP.
//
// The blocking client enforces the configured request timeout; the
// streaming client has no overall deadline because a chat stream may
// legitimately outlive any fixed timeout, and relies on the caller's
// context for cancellation.
type Client struct {
	baseURL   string
	http      *http.Client
	streaming *http.Client
	logger    *logging.Logger
}

// NewClient creates a backend client. baseURL must not have a trailing
// slash; a nil logger disables request logging.
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		streaming: &http.Client{},
		logger:    logger,
	}
}

// FetchDocumentContent retrieves one document's content.
func (c *Client) FetchDocumentContent(ctx context.Context, id string) (DocumentContent, error) {
	var doc DocumentContent
	err := c.getJSON(ctx, fmt.Sprintf("%s/documents/%s/content", apiPrefix, id), &doc)
	if err != nil {
		return DocumentContent{}, err
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return doc, nil
}

// FetchDocumentsContent retrieves the content of every listed document.
// Individual failures do not abort the batch: successfully fetched
// documents are always returned, and a RetrievalError naming the failed
// ids accompanies them when any fetch failed. Callers treat that error
// as degraded rather than fatal.
func (c *Client) FetchDocumentsContent(ctx context.Context, ids []string) ([]DocumentContent, error) {
	var docs []DocumentContent
	var failed []string
	var firstErr error

	for _, id := range ids {
		doc, err := c.FetchDocumentContent(ctx, id)
		if err != nil {
			c.logger.Warn("document fetch failed", "document_id", id, "error", err)
			failed = append(failed, id)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		docs = append(docs, doc)
	}

	if len(failed) > 0 {
		retErr := errors.NewRetrievalError(
			fmt.Sprintf("failed to retrieve %d of %d documents", len(failed), len(ids)), firstErr)
		return docs, retErr.WithDocumentIDs(failed)
	}
	return docs, nil
}

// ResolveAgentConfig fetches an agent's configuration by id.
func (c *Client) ResolveAgentConfig(ctx context.Context, id string) (AgentConfig, error) {
	var cfg AgentConfig
	if err := c.getJSON(ctx, fmt.Sprintf("%s/agents/%s", apiPrefix, id), &cfg); err != nil {
		cfgErr := errors.NewConfigResolutionError("failed to resolve agent configuration", err)
		return AgentConfig{}, cfgErr.WithAgentID(id)
	}
	return cfg, nil
}

// FetchWorkflow retrieves a workflow definition's raw JSON by id.
// Parsing belongs to the workflow package.
func (c *Client) FetchWorkflow(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/workflows/%s", apiPrefix, id), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// CallChat sends a blocking chat request and returns the full response
// content. Failures come back as AICallError.
func (c *Client) CallChat(ctx context.Context, req ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.NewAICallError("encode chat request", err).WithAgentID(req.AgentID)
	}

	start := time.Now()
	resp, err := c.do(ctx, http.MethodPost, apiPrefix+"/chat/completions", bytes.NewReader(body), "application/json")
	if err != nil {
		return "", errors.NewAICallError("chat request failed", err).WithAgentID(req.AgentID)
	}
	defer resp.Body.Close()

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", errors.NewAICallError("decode chat response", err).WithAgentID(req.AgentID)
	}

	c.logger.Debug("chat completion finished",
		"agent_id", req.AgentID,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_len", len(chatResp.Content))
	return chatResp.Content, nil
}

// StreamChat sends a streaming chat request and parses the SSE response,
// delivering chunks through the handlers as they arrive. Returns an
// AICallError when the request fails or the stream ends without a
// terminal event.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, handlers stream.Handlers) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.NewAICallError("encode chat request", err).WithAgentID(req.AgentID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		return errors.NewAICallError("build stream request", err).WithAgentID(req.AgentID)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streaming.Do(httpReq)
	if err != nil {
		return errors.NewAICallError("stream request failed", err).WithAgentID(req.AgentID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.NewAICallError(
			fmt.Sprintf("stream request rejected: %s", readErrorBody(resp)), nil).WithAgentID(req.AgentID)
	}

	if err := stream.Consume(resp.Body, handlers); err != nil {
		return errors.NewAICallError("stream interrupted", err).WithAgentID(req.AgentID)
	}
	return nil
}

// getJSON performs a GET and decodes a JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// do issues a request and fails on non-2xx responses, folding the
// response body into the error for diagnosis.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorBody(resp)
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %s", method, path, msg)
	}
	return resp, nil
}

// readErrorBody extracts a short diagnostic from an error response.
func readErrorBody(resp *http.Response) string {
	const maxErrBody = 512
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	body := strings.TrimSpace(string(data))
	if body == "" {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, body)
}
