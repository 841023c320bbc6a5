package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/NineSunsInc/rampart/pkg/risk"
)

const defaultOpenAIModel = "gpt-4o-mini"

const advisoryInstructions = `You are a child-safety advisory reviewer. You receive behaviorally
abstracted conversation records (roles, timestamps, privacy-abstracted text) together with a
deterministic behavioral risk score computed upstream. Give an independent second opinion on
grooming risk. Do not repeat or anchor on the upstream score. Respond only with the requested JSON.`

// advisoryOutput is the structured response the model must produce.
type advisoryOutput struct {
	Severity           string   `json:"severity" jsonschema:"enum=low,enum=moderate,enum=high,enum=critical"`
	Confidence         float64  `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	RiskFactors        []string `json:"risk_factors"`
	Explanation        string   `json:"explanation"`
	RecommendedActions []string `json:"recommended_actions"`
}

var advisorySchema = generateSchema[advisoryOutput]()

// OpenAIAnalyzer asks an OpenAI model for an advisory second opinion using
// a strict JSON-schema response format.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnalyzer returns nil when no API key is configured.
func NewOpenAIAnalyzer(apiKey, model string) *OpenAIAnalyzer {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIAnalyzer{client: &client, model: model}
}

// IsAvailable implements Analyzer.
func (a *OpenAIAnalyzer) IsAvailable() bool {
	return a != nil && a.client != nil
}

// Analyze implements Analyzer.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, conv *risk.Conversation, behavioralScore float64) (*Result, error) {
	if !a.IsAvailable() {
		return nil, ErrUnavailable
	}
	if conv == nil {
		return nil, fmt.Errorf("enrich: conversation is required")
	}

	input := buildAdvisoryInput(conv, behavioralScore)
	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "AdvisoryOpinion",
			Schema:      advisorySchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Advisory grooming-risk opinion JSON"),
			Type:        "json_schema",
		},
	}
	params := responses.ResponseNewParams{
		Model:           a.model,
		MaxOutputTokens: openai.Int(1000),
		Instructions:    openai.String(advisoryInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(input, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	start := time.Now()
	resp, err := callWithRetry(ctx, a.client, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out advisoryOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.OutputText())), &out); err != nil {
		return nil, fmt.Errorf("enrich: unmarshal advisory: %w", err)
	}
	return &Result{
		Provider:           "openai",
		Model:              a.model,
		Severity:           normalizeSeverity(out.Severity),
		Confidence:         clampUnit(out.Confidence),
		RiskFactors:        out.RiskFactors,
		Explanation:        strings.TrimSpace(out.Explanation),
		RecommendedActions: out.RecommendedActions,
		LatencyMs:          time.Since(start).Milliseconds(),
	}, nil
}

func buildAdvisoryInput(conv *risk.Conversation, behavioralScore float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation %s (platform: %s, behavioral score %.1f/100)\n\n",
		conv.ID, conv.PlatformType, behavioralScore)
	for _, m := range conv.Messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.UTC().Format(time.RFC3339), m.SenderRole, m.AbstractedText)
	}
	return b.String()
}

// callWithRetry retries rate-limit and server errors with fixed backoff
// schedules before giving up.
func callWithRetry(ctx context.Context, client *openai.Client, params responses.ResponseNewParams) (*responses.Response, error) {
	const maxRetries = 3
	rateLimitWait := []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}
	serverErrorWait := []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := client.Responses.New(ctx, params)
		if err != nil {
			if attempt < maxRetries-1 {
				var wait time.Duration
				switch {
				case isRateLimitError(err):
					wait = rateLimitWait[attempt]
				case isServerError(err):
					wait = serverErrorWait[attempt]
				default:
					return nil, err
				}
				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return nil, err
		}
		return resp, nil
	}
	return nil, fmt.Errorf("enrich: advisory call failed after %d attempts", maxRetries)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

func isServerError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "500") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "server_error")
}

// generateSchema reflects T into a strict-mode JSON schema: no additional
// properties, every property required, recursively.
func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema, err := schemaToMap(reflector.Reflect(v))
	if err != nil {
		panic(err)
	}
	ensureStrictCompliance(schema)
	return schema
}

func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func ensureStrictCompliance(schema map[string]any) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				ensureStrictCompliance(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		ensureStrictCompliance(items)
	}
}
