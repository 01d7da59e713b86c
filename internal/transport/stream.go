// ABOUTME: HTTP stream adapter for the chat backend
// ABOUTME: Parses line-delimited data frames into ordered chunk/completed/failed events

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// eventBufferSize is the channel buffer for one exchange's events.
	eventBufferSize = 16

	// maxFrameSize bounds a single data frame on the wire.
	maxFrameSize = 1 << 20
)

// EventKind indicates the type of stream event.
type EventKind int

const (
	// EventChunk carries one increment of assistant text.
	EventChunk EventKind = iota
	// EventCompleted ends the exchange successfully with final metadata.
	EventCompleted
	// EventFailed ends the exchange with a failure reason.
	EventFailed
)

// Source identifies a paper excerpt the assistant drew on.
type Source struct {
	PaperID string  `json:"paper_id"`
	Title   string  `json:"title"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}

// Event is one typed event produced by the stream adapter.
type Event struct {
	Kind      EventKind
	Text      string   // EventChunk
	Sources   []Source // EventCompleted
	Followups []string // EventCompleted
	SessionID string   // EventCompleted: server-assigned session id
	Reason    string   // EventFailed
}

// SendRequest is the JSON body for POST /api/chat/stream.
type SendRequest struct {
	Message            string   `json:"message"`
	SessionID          string   `json:"session_id,omitempty"`
	ContextDocumentIDs []string `json:"paper_context"`
	WantSources        bool     `json:"include_sources"`
}

// streamFrame is one decoded wire frame.
type streamFrame struct {
	Chunk     string   `json:"chunk"`
	Done      bool     `json:"done"`
	SessionID string   `json:"session_id"`
	Sources   []Source `json:"sources"`
	Followups []string `json:"suggested_followups"`
}

// singleResponse is the non-streaming response shape.
type singleResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	SessionID string   `json:"session_id"`
	Sources   []Source `json:"sources"`
	Followups []string `json:"suggested_followups"`
}

// Streamer opens one network exchange per call.
// This allows injecting mock implementations for testing.
type Streamer interface {
	Stream(ctx context.Context, req *SendRequest) (<-chan Event, error)
}

// Client talks to the chat backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	tracer        trace.Tracer
	chunkCounter  metric.Int64Counter
	exchangeHist  metric.Float64Histogram
	droppedFrames metric.Int64Counter
}

// NewClient creates a Client for the given backend base URL.
// Pass nil for httpClient or logger to use defaults.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With("component", "transport"),
	}
}

// EnableTelemetry attaches a tracer and creates the stream instruments.
func (c *Client) EnableTelemetry(tracer trace.Tracer, meter metric.Meter) error {
	chunks, err := meter.Int64Counter("chat.stream.chunks",
		metric.WithDescription("Text chunks received across all exchanges"))
	if err != nil {
		return fmt.Errorf("creating chunk counter: %w", err)
	}
	dropped, err := meter.Int64Counter("chat.stream.dropped_frames",
		metric.WithDescription("Wire frames discarded because they failed to decode"))
	if err != nil {
		return fmt.Errorf("creating dropped-frame counter: %w", err)
	}
	hist, err := meter.Float64Histogram("chat.exchange.duration",
		metric.WithDescription("Exchange duration in milliseconds"))
	if err != nil {
		return fmt.Errorf("creating exchange histogram: %w", err)
	}
	c.tracer = tracer
	c.chunkCounter = chunks
	c.droppedFrames = dropped
	c.exchangeHist = hist
	return nil
}

// Stream opens one exchange and returns its ordered event channel.
// The channel closes after the terminal event, or silently once ctx is
// cancelled. Errors establishing the exchange are returned synchronously;
// nothing was streamed in that case.
func (c *Client) Stream(ctx context.Context, req *SendRequest) (<-chan Event, error) {
	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "chat_stream")
	}
	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		endSpan(span)
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		endSpan(span)
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		endSpan(span)
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		endSpan(span)
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, readErrorBody(resp))
	}

	out := make(chan Event, eventBufferSize)

	// Non-streaming backends answer with a single JSON object.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		go c.consumeSingle(ctx, resp.Body, out, span, start)
		return out, nil
	}

	go c.consumeStream(ctx, resp.Body, out, span, start)
	return out, nil
}

// consumeSingle synthesizes chunk and completion events from a
// non-streaming JSON response.
func (c *Client) consumeSingle(ctx context.Context, body io.ReadCloser, out chan<- Event, span trace.Span, start time.Time) {
	defer close(out)
	defer body.Close()
	defer c.finishExchange(ctx, span, start)

	var single singleResponse
	if err := json.NewDecoder(body).Decode(&single); err != nil {
		c.emit(ctx, out, Event{Kind: EventFailed, Reason: "malformed response stream"})
		return
	}

	if single.Message.Content != "" {
		if !c.emit(ctx, out, Event{Kind: EventChunk, Text: single.Message.Content}) {
			return
		}
	}
	c.emit(ctx, out, Event{
		Kind:      EventCompleted,
		Sources:   single.Sources,
		Followups: single.Followups,
		SessionID: single.SessionID,
	})
}

// consumeStream parses data frames line by line and emits typed events.
func (c *Client) consumeStream(ctx context.Context, body io.ReadCloser, out chan<- Event, span trace.Span, start time.Time) {
	defer close(out)
	defer body.Close()
	defer c.finishExchange(ctx, span, start)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var decoded, malformed int

	for scanner.Scan() {
		if ctx.Err() != nil {
			// Cancellation acknowledged: stop emitting.
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			malformed++
			c.countDropped(ctx)
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			malformed++
			c.countDropped(ctx)
			c.logger.Debug("discarding malformed frame", "error", err)
			continue
		}
		decoded++

		if frame.Done {
			c.emit(ctx, out, Event{
				Kind:      EventCompleted,
				Sources:   frame.Sources,
				Followups: frame.Followups,
				SessionID: frame.SessionID,
			})
			return
		}

		if c.chunkCounter != nil {
			c.chunkCounter.Add(ctx, 1)
		}
		if !c.emit(ctx, out, Event{Kind: EventChunk, Text: frame.Chunk}) {
			return
		}
	}

	if ctx.Err() != nil {
		return
	}

	// The stream ended without a done frame.
	reason := "stream closed before completion"
	if err := scanner.Err(); err != nil {
		reason = fmt.Sprintf("stream read failed: %v", err)
	}
	if decoded == 0 && malformed > 0 {
		reason = "malformed response stream"
	}
	c.emit(ctx, out, Event{Kind: EventFailed, Reason: reason})
}

// emit delivers an event unless the context has been cancelled.
// Reports whether the event was sent.
func (c *Client) emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) countDropped(ctx context.Context) {
	if c.droppedFrames != nil {
		c.droppedFrames.Add(ctx, 1)
	}
}

func (c *Client) finishExchange(ctx context.Context, span trace.Span, start time.Time) {
	if c.exchangeHist != nil {
		c.exchangeHist.Record(ctx, float64(time.Since(start).Milliseconds()))
	}
	endSpan(span)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

// readErrorBody extracts the error message from a JSON error response.
func readErrorBody(resp *http.Response) string {
	var errResp map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
		if msg, ok := errResp["error"]; ok {
			return msg
		}
		if msg, ok := errResp["detail"]; ok {
			return msg
		}
	}
	return "unknown error"
}
