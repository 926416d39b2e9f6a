package strategy

import "github.com/camuig/hype-trader/internal/signal"

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign is +1 for long and -1 for short.
func (s Side) Sign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

type DirectionConfig struct {
	HypeLongThreshold  float64
	HypeShortThreshold float64
	MinConfidence      float64
}

// Direction maps a decision that passed the gates to a trade side. ok is false for no trade.
func Direction(d signal.Decision, cfg DirectionConfig) (side Side, ok bool) {
	if d.Confidence < cfg.MinConfidence {
		return "", false
	}
	switch {
	case d.Sentiment == signal.SentimentPositive && d.HypeScore >= cfg.HypeLongThreshold:
		return SideLong, true
	case d.Sentiment == signal.SentimentNegative && d.HypeScore <= cfg.HypeShortThreshold:
		return SideShort, true
	default:
		return "", false
	}
}
