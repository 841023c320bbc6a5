package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/NineSunsInc/rampart/pkg/risk"
)

const defaultRemoteTimeout = 15 * time.Second

// RemoteAnalyzer calls a self-hosted advisory service over HTTP. The
// service receives abstracted message records only; raw conversation text
// never transits this client because the pipeline never holds any.
type RemoteAnalyzer struct {
	client  *http.Client
	baseURL string
}

// NewRemoteAnalyzer builds a client for the advisory service at baseURL.
func NewRemoteAnalyzer(baseURL string, timeout time.Duration) (*RemoteAnalyzer, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("enrich: remote endpoint is required")
	}
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteAnalyzer{
		client:  newHTTPClient(timeout),
		baseURL: baseURL,
	}, nil
}

// IsAvailable reports whether the client is configured. Liveness of the
// remote end is discovered per call.
func (a *RemoteAnalyzer) IsAvailable() bool {
	return a != nil && a.baseURL != ""
}

type remoteMessage struct {
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

type remoteRequest struct {
	ConversationID  string          `json:"conversation_id"`
	Platform        string          `json:"platform,omitempty"`
	BehavioralScore float64         `json:"behavioral_score"`
	Messages        []remoteMessage `json:"messages"`
}

// Analyze implements Analyzer.
func (a *RemoteAnalyzer) Analyze(ctx context.Context, conv *risk.Conversation, behavioralScore float64) (*Result, error) {
	if !a.IsAvailable() {
		return nil, ErrUnavailable
	}
	if conv == nil {
		return nil, fmt.Errorf("enrich: conversation is required")
	}

	reqBody := remoteRequest{
		ConversationID:  conv.ID.String(),
		Platform:        conv.PlatformType,
		BehavioralScore: behavioralScore,
		Messages:        make([]remoteMessage, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		reqBody.Messages = append(reqBody.Messages, remoteMessage{
			Role:      string(m.SenderRole),
			Timestamp: m.Timestamp,
			Text:      m.AbstractedText,
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("enrich: marshal request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/advisory", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("enrich: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, "advisory"); err != nil {
		return nil, err
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("enrich: decode response: %w", err)
	}
	if out.Provider == "" {
		out.Provider = "remote"
	}
	out.Severity = normalizeSeverity(out.Severity)
	out.Confidence = clampUnit(out.Confidence)
	out.LatencyMs = time.Since(start).Milliseconds()
	return &out, nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
