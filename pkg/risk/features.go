package risk

import (
	"math"
	"sort"
)

// Normal messaging window and severity band for time irregularity scoring.
const (
	normalHourStart = 9  // 9 AM
	normalHourEnd   = 21 // 9 PM
	lateNightStart  = 23 // 11 PM
	lateNightEnd    = 6  // 6 AM
)

// FeatureExtractor derives the 8 behavioral signals from a conversation.
// It is stateless and safe for concurrent use; marker tables are resolved
// per call so config reloads take effect immediately.
type FeatureExtractor struct{}

// NewFeatureExtractor returns an extractor with the default marker tables.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract computes the full feature vector for a conversation. Conversations
// with fewer than 2 messages yield the zero vector: there is not enough data
// for meaningful temporal analysis, and absence of evidence scores as absence
// of signal. The input is never mutated.
func (e *FeatureExtractor) Extract(conv *Conversation) (*FeatureVector, error) {
	if err := conv.Validate(); err != nil {
		return nil, err
	}
	if len(conv.Messages) < 2 {
		return &FeatureVector{}, nil
	}

	msgs := sortedByTimestamp(withTimestampFallback(conv))
	adult := filterByRole(msgs, RoleAdult)

	fv := &FeatureVector{
		ContactFrequencyScore:       contactFrequency(msgs, adult),
		PersistenceAfterNonresponse: persistence(msgs),
		TimeOfDayIrregularity:       timeIrregularity(adult),
		EmotionalDependency:         markerDensity(adult, GetDependencyMarkers(), 0.30),
		IsolationPressure:           markerDensity(adult, GetIsolationMarkers(), 0.20),
		SecrecyPressure:             markerDensity(adult, GetSecrecyMarkers(), 0.15),
		PlatformMigration:           markerDensity(adult, GetMigrationMarkers(), 0.15),
		ToneShiftScore:              toneShift(adult),
	}
	if err := fv.Validate(); err != nil {
		return nil, err
	}
	return fv, nil
}

// withTimestampFallback copies the messages, substituting the conversation's
// declared start or end time for missing timestamps. The input position picks
// the bound (first half start, second half end), so a message without a
// timestamp keeps roughly its place after sorting instead of collapsing to
// the zero time and registering as a midnight message.
func withTimestampFallback(conv *Conversation) []Message {
	out := make([]Message, len(conv.Messages))
	copy(out, conv.Messages)

	start, end := conv.StartTime, conv.EndTime
	if start.IsZero() {
		start = end
	}
	if end.IsZero() {
		end = start
	}

	for i := range out {
		if !out[i].Timestamp.IsZero() {
			continue
		}
		if i < len(out)/2 {
			out[i].Timestamp = start
		} else {
			out[i].Timestamp = end
		}
	}
	return out
}

// sortedByTimestamp returns a stably sorted copy. Ordering is re-derived here
// so callers cannot skew temporal features with out-of-order input.
func sortedByTimestamp(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func filterByRole(msgs []Message, role SenderRole) []Message {
	var out []Message
	for _, m := range msgs {
		if m.SenderRole == role {
			out = append(out, m)
		}
	}
	return out
}

// contactFrequency measures escalation in adult message density between the
// first and second half of the adult timeline. A density ratio of 3x or more
// saturates the score at 1.0.
func contactFrequency(msgs, adult []Message) float64 {
	if len(msgs) < 3 || len(adult) < 3 {
		return 0
	}

	mid := len(adult) / 2
	first, second := adult[:mid], adult[mid:]

	firstDur := first[len(first)-1].Timestamp.Sub(first[0].Timestamp).Hours()
	secondDur := second[len(second)-1].Timestamp.Sub(second[0].Timestamp).Hours()

	// Sub-6-minute spans produce meaningless density ratios.
	if firstDur < 0.1 || secondDur < 0.1 {
		return 0
	}

	firstDensity := float64(len(first)) / math.Max(firstDur, 0.1)
	secondDensity := float64(len(second)) / math.Max(secondDur, 0.1)

	var escalation float64
	if firstDensity < 0.01 {
		if secondDensity > 0.1 {
			escalation = 1.0
		}
	} else {
		escalation = math.Min(secondDensity/firstDensity, 3.0) / 3.0
	}
	return clamp01(escalation)
}

// persistence scores runs of consecutive adult messages with no minor reply
// in between. Runs of 5+ messages saturate the score. Unknown-role messages
// neither extend nor break a run.
func persistence(msgs []Message) float64 {
	if len(msgs) < 3 {
		return 0
	}

	var runs []int
	current := 0
	for _, m := range msgs {
		switch m.SenderRole {
		case RoleAdult:
			current++
		case RoleMinor:
			if current > 0 {
				runs = append(runs, current)
			}
			current = 0
		}
	}
	if current > 0 {
		runs = append(runs, current)
	}
	if len(runs) == 0 {
		return 0
	}

	maxRun, sum := 0, 0
	for _, r := range runs {
		if r > maxRun {
			maxRun = r
		}
		sum += r
	}
	avgRun := float64(sum) / float64(len(runs))

	return clamp01((float64(maxRun)*0.5 + avgRun*0.5) / 5.0)
}

// timeIrregularity scores the share of adult messages sent outside normal
// hours, with late-night messages (11 PM to 6 AM) double-counted.
func timeIrregularity(adult []Message) float64 {
	if len(adult) == 0 {
		return 0
	}

	irregular, lateNight := 0, 0
	for _, m := range adult {
		hour := m.Timestamp.Hour()
		switch {
		case hour >= lateNightStart || hour < lateNightEnd:
			lateNight++
			irregular++
		case hour < normalHourStart || hour >= normalHourEnd:
			irregular++
		}
	}

	n := float64(len(adult))
	score := (float64(irregular)/n)*0.5 + (float64(lateNight)/n)*0.5
	return clamp01(score)
}

// markerDensity counts adult messages matching at least one marker (once per
// message) and normalizes against an expected base rate. With base 0.15,
// markers in 15% of adult messages already saturate the signal.
func markerDensity(adult []Message, markers []string, base float64) float64 {
	if len(adult) == 0 {
		return 0
	}

	matches := 0
	for _, m := range adult {
		if containsAnyMarker(NormalizeText(m.AbstractedText), markers) {
			matches++
		}
	}

	denom := math.Max(float64(len(adult))*base, 1.0)
	return clamp01(float64(matches) / denom)
}

// toneShift proxies linguistic drift via the relative change in mean adult
// message length between the early and late halves of the adult timeline.
// A 50% shift in either direction saturates the score.
func toneShift(adult []Message) float64 {
	if len(adult) < 4 {
		return 0
	}

	mid := len(adult) / 2
	earlyAvg := meanLength(adult[:mid])
	lateAvg := meanLength(adult[mid:])

	if earlyAvg <= 0 {
		return 0
	}
	shift := math.Abs(lateAvg-earlyAvg) / earlyAvg
	return clamp01(shift / 0.5)
}

func meanLength(msgs []Message) float64 {
	if len(msgs) == 0 {
		return 0
	}
	total := 0
	for _, m := range msgs {
		total += len([]rune(m.AbstractedText))
	}
	return float64(total) / float64(len(msgs))
}
