package enrich

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/philippgille/chromem-go"

	"github.com/NineSunsInc/rampart/pkg/risk"
)

const (
	// localEmbeddingModel is a small sentence-transformer producing
	// 384-dimensional embeddings.
	localEmbeddingModel = "sentence-transformers/all-MiniLM-L6-v2"

	defaultLocalModelPath = "./models/all-MiniLM-L6-v2"

	exemplarCollection = "escalation-exemplars"

	// localMatchFloor is the minimum cosine similarity before an exemplar
	// match counts as a signal at all.
	localMatchFloor = 0.45
)

// exemplar is a known concerning phrasing pattern with its severity.
type exemplar struct {
	text     string
	factor   string
	severity string
}

// Exemplars cover the phrasings the marker tables catch lexically, so the
// embedding space can also surface paraphrases the substring tables miss.
var escalationExemplars = []exemplar{
	{"you are so mature for your age, not like other kids", "emotional_dependency", SeverityHigh},
	{"i am the only one who really understands you", "emotional_dependency", SeverityHigh},
	{"your parents would never get what we have", "isolation", SeverityHigh},
	{"nobody else needs to know about us", "secrecy", SeverityHigh},
	{"keep this conversation just between the two of us", "secrecy", SeverityHigh},
	{"delete these messages after you read them", "secrecy", SeverityCritical},
	{"let's talk somewhere more private, do you have another app", "platform_migration", SeverityHigh},
	{"we should meet in person soon, where do you live", "meeting_arrangement", SeverityCritical},
	{"i could come pick you up when your parents are out", "meeting_arrangement", SeverityCritical},
	{"you can trust me more than your friends or family", "isolation", SeverityHigh},
	{"i will always be here for you no matter what", "emotional_dependency", SeverityModerate},
	{"you seem lonely, i know how that feels", "emotional_dependency", SeverityModerate},
}

// LocalConfig configures the on-box analyzer.
type LocalConfig struct {
	ModelPath       string
	OnnxLibraryPath string
	Timeout         time.Duration
}

// LocalAnalyzer runs nearest-neighbour similarity between adult messages
// and an in-memory exemplar collection, embedded by a local ONNX model.
// No text leaves the process.
type LocalAnalyzer struct {
	session    *hugot.Session
	collection *chromem.Collection
	mu         sync.RWMutex
	ready      bool
}

// NewLocalAnalyzer initializes the embedding pipeline and exemplar
// collection. Returns nil when no model is present; the caller falls back
// to Disabled.
func NewLocalAnalyzer(cfg LocalConfig) *LocalAnalyzer {
	modelPath := cfg.ModelPath
	if modelPath == "" {
		modelPath = defaultLocalModelPath
	}
	if _, err := os.Stat(filepath.Join(modelPath, "model.onnx")); err != nil {
		log.Printf("enrich: no local embedding model at %s, local analyzer disabled", modelPath)
		return nil
	}

	session, err := newLocalSession(cfg.OnnxLibraryPath)
	if err != nil {
		log.Printf("enrich: local analyzer session init failed: %v", err)
		return nil
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "advisory-embedder",
	})
	if err != nil {
		_ = session.Destroy()
		log.Printf("enrich: local analyzer pipeline init failed: %v", err)
		return nil
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		result, err := pipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("enrich: embed: %w", err)
		}
		if len(result.Embeddings) == 0 {
			return nil, fmt.Errorf("enrich: embed: empty result")
		}
		return result.Embeddings[0], nil
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection(exemplarCollection, nil, embed)
	if err != nil {
		_ = session.Destroy()
		log.Printf("enrich: exemplar collection init failed: %v", err)
		return nil
	}

	docs := make([]chromem.Document, 0, len(escalationExemplars))
	for i, ex := range escalationExemplars {
		docs = append(docs, chromem.Document{
			ID:      fmt.Sprintf("exemplar-%d", i),
			Content: ex.text,
			Metadata: map[string]string{
				"factor":   ex.factor,
				"severity": ex.severity,
			},
		})
	}
	if err := collection.AddDocuments(context.Background(), docs, 1); err != nil {
		_ = session.Destroy()
		log.Printf("enrich: exemplar seeding failed: %v", err)
		return nil
	}

	return &LocalAnalyzer{session: session, collection: collection, ready: true}
}

func newLocalSession(onnxLibraryPath string) (*hugot.Session, error) {
	if onnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(onnxLibraryPath))
		if err == nil {
			return session, nil
		}
		log.Printf("enrich: ONNX runtime unavailable, using Go backend: %v", err)
	}
	return hugot.NewGoSession()
}

// IsAvailable implements Analyzer.
func (a *LocalAnalyzer) IsAvailable() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ready
}

// Analyze implements Analyzer. Each adult message is matched against the
// exemplar collection; the strongest match sets severity and confidence.
// The read lock is held for the whole call so Close cannot destroy the
// session under an in-flight query.
func (a *LocalAnalyzer) Analyze(ctx context.Context, conv *risk.Conversation, behavioralScore float64) (*Result, error) {
	if a == nil {
		return nil, ErrUnavailable
	}
	if conv == nil {
		return nil, fmt.Errorf("enrich: conversation is required")
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.ready {
		return nil, ErrUnavailable
	}

	start := time.Now()

	var (
		bestSimilarity float32
		bestSeverity   = SeverityLow
		factors        []string
		seenFactors    = map[string]bool{}
	)
	for _, m := range conv.Messages {
		if m.SenderRole != risk.RoleAdult || m.AbstractedText == "" {
			continue
		}
		matches, err := a.collection.Query(ctx, m.AbstractedText, 1, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("enrich: exemplar query: %w", err)
		}
		if len(matches) == 0 || matches[0].Similarity < localMatchFloor {
			continue
		}
		match := matches[0]
		if match.Similarity > bestSimilarity {
			bestSimilarity = match.Similarity
			bestSeverity = normalizeSeverity(match.Metadata["severity"])
		}
		if factor := match.Metadata["factor"]; factor != "" && !seenFactors[factor] {
			seenFactors[factor] = true
			factors = append(factors, factor)
		}
	}

	explanation := "No adult message resembled a known escalation phrasing pattern."
	if len(factors) > 0 {
		explanation = fmt.Sprintf("Adult messages resemble known escalation phrasings across %d factor(s).", len(factors))
	}

	return &Result{
		Provider:    "local",
		Model:       localEmbeddingModel,
		Severity:    bestSeverity,
		Confidence:  clampUnit(float64(bestSimilarity)),
		RiskFactors: factors,
		Explanation: explanation,
		LatencyMs:   time.Since(start).Milliseconds(),
	}, nil
}

// Close releases the ONNX session.
func (a *LocalAnalyzer) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready = false
	if a.session != nil {
		return a.session.Destroy()
	}
	return nil
}
