package pipelineapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/tracing"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

const maxErrorBodyBytes = 4096

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	// BaseURL is the service root, e.g. http://localhost:7070
	BaseURL string

	// Timeout bounds each request (0 = 10s)
	Timeout time.Duration

	// Headers are added to every request, e.g. Authorization.
	Headers map[string]string
}

// Client implements API over the pipeline service REST routes.
type Client struct {
	baseURL string
	headers map[string]string
	http    *http.Client
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewClient creates an HTTP pipeline API client.
func NewClient(cfg *ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: tracing.Tracer(),
		logger: logger.With("component", "pipelineapi"),
	}
}

func pipelinePath(pipelineUUID string, parts ...string) string {
	p := "/api/v1/pipelines/" + url.PathEscape(pipelineUUID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// LoadPipeline fetches a pipeline with all of its nodes.
func (c *Client) LoadPipeline(ctx context.Context, pipelineUUID string) (*types.PipelineGraph, error) {
	var out types.PipelineGraph
	if err := c.do(ctx, "LoadPipeline", http.MethodGet, pipelinePath(pipelineUUID), nil, &out,
		tracing.PipelineKey.String(pipelineUUID)); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNode fetches a single node.
func (c *Client) GetNode(ctx context.Context, pipelineUUID, nodeUUID string) (*types.Node, error) {
	var out types.Node
	if err := c.do(ctx, "GetNode", http.MethodGet, pipelinePath(pipelineUUID, "nodes", nodeUUID), nil, &out,
		tracing.PipelineKey.String(pipelineUUID),
		tracing.NodeKey.String(nodeUUID)); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateNode patches a node and returns the server's copy.
func (c *Client) UpdateNode(ctx context.Context, pipelineUUID, nodeUUID string, patch *types.NodePatch) (*types.Node, error) {
	var out types.Node
	if err := c.do(ctx, "UpdateNode", http.MethodPatch, pipelinePath(pipelineUUID, "nodes", nodeUUID), patch, &out,
		tracing.PipelineKey.String(pipelineUUID),
		tracing.NodeKey.String(nodeUUID)); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteNode triggers execution of a node.
func (c *Client) ExecuteNode(ctx context.Context, pipelineUUID, nodeUUID string) error {
	return c.do(ctx, "ExecuteNode", http.MethodPost, pipelinePath(pipelineUUID, "nodes", nodeUUID, "execute"), nil, nil,
		tracing.PipelineKey.String(pipelineUUID),
		tracing.NodeKey.String(nodeUUID))
}

// ConnectNodes adds source to the target's slot.
func (c *Client) ConnectNodes(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error {
	body := &ConnectionRequest{Source: sourceUUID, Target: targetUUID, Slot: slot}
	return c.do(ctx, "ConnectNodes", http.MethodPost, pipelinePath(pipelineUUID, "connections"), body, nil,
		tracing.PipelineKey.String(pipelineUUID),
		tracing.NodeKey.String(targetUUID),
		tracing.SlotKey.String(slot))
}

// DisconnectNodes reads the target node, computes the slot value without
// source and patches it. Nothing is sent when source is not referenced.
func (c *Client) DisconnectNodes(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error {
	target, err := c.GetNode(ctx, pipelineUUID, targetUUID)
	if err != nil {
		return err
	}
	patch, ok := disconnectPatch(target, sourceUUID, slot)
	if !ok {
		return nil
	}
	_, err = c.UpdateNode(ctx, pipelineUUID, targetUUID, patch)
	return err
}

// CreateNode creates a node with a caller-supplied uuid.
func (c *Client) CreateNode(ctx context.Context, pipelineUUID string, req *types.NewNodeRequest) (*types.Node, error) {
	var out types.Node
	if err := c.do(ctx, "CreateNode", http.MethodPost, pipelinePath(pipelineUUID, "nodes"), req, &out,
		tracing.PipelineKey.String(pipelineUUID),
		tracing.NodeKey.String(req.UUID)); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteNode deletes a node.
func (c *Client) DeleteNode(ctx context.Context, pipelineUUID, nodeUUID string) error {
	return c.do(ctx, "DeleteNode", http.MethodDelete, pipelinePath(pipelineUUID, "nodes", nodeUUID), nil, nil,
		tracing.PipelineKey.String(pipelineUUID),
		tracing.NodeKey.String(nodeUUID))
}

// do sends a JSON request and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, in, out any, attrs ...attribute.KeyValue) (err error) {
	ctx, span := c.tracer.Start(ctx, "pipelineapi."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer func() {
		tracing.Fail(span, err)
		span.End()
	}()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("pipeline api call",
		slog.String("op", op),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}

var _ API = (*Client)(nil)
