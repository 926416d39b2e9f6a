package signal

import "time"

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

type Catalyst string

const (
	CatalystEarnings    Catalyst = "earnings"
	CatalystProduct     Catalyst = "product"
	CatalystRegulation  Catalyst = "regulation"
	CatalystGuidance    Catalyst = "guidance"
	CatalystMA          Catalyst = "m&a"
	CatalystPartnership Catalyst = "partnership"
	CatalystOther       Catalyst = "other"
)

func (c Catalyst) Valid() bool {
	switch c {
	case "", CatalystEarnings, CatalystProduct, CatalystRegulation, CatalystGuidance,
		CatalystMA, CatalystPartnership, CatalystOther:
		return true
	}
	return false
}

type Evidence struct {
	Source string `json:"source"`
	Link   string `json:"link"`
}

// Decision is one validated signal for one instrument. It is never mutated after validation.
type Decision struct {
	Symbol      string     `json:"symbol"`
	Sentiment   Sentiment  `json:"sentiment"`
	HypeScore   float64    `json:"hype_score"`
	Catalyst    Catalyst   `json:"catalyst,omitempty"`
	Confidence  float64    `json:"confidence"`
	Evidence    []Evidence `json:"evidence"`
	GeneratedAt time.Time  `json:"generated_at"`
	// Repaired is set when the strict parse failed and the repair pass produced the decision.
	Repaired bool `json:"repaired"`
}

// Request is what the signal source is asked about.
type Request struct {
	Symbol    string
	Headlines []string
	Position  int64
	AsOf      time.Time
}
