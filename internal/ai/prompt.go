package ai

import (
	"fmt"
	"strings"

	"github.com/camuig/hype-trader/internal/signal"
)

const systemPrompt = `You score news sentiment for one stock traded on the Moscow Exchange (MOEX).
Read the headlines and answer with exactly one JSON object and nothing else:

{
  "symbol": "SBER",
  "sentiment": "positive" | "negative" | "neutral",
  "hype_score": 0.0-1.0,
  "catalyst": "earnings" | "product" | "regulation" | "guidance" | "m&a" | "partnership" | "other",
  "confidence": 0.0-1.0,
  "evidence": [{"source": "headline or outlet", "link": "url or empty"}],
  "generated_at": "RFC3339 timestamp"
}

Rules:
1. hype_score measures how intense and widespread the news flow is, not its direction.
2. confidence is your certainty in the sentiment label, 0 to 1, never a percentage.
3. Omit catalyst when nothing specific drives the news.
4. With no relevant headlines answer neutral with low hype_score.`

func BuildUserPrompt(req signal.Request) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Symbol: %s\n", req.Symbol))
	sb.WriteString(fmt.Sprintf("As of: %s\n", req.AsOf.UTC().Format("2006-01-02T15:04:05Z07:00")))
	switch {
	case req.Position > 0:
		sb.WriteString(fmt.Sprintf("Current position: long %d shares\n", req.Position))
	case req.Position < 0:
		sb.WriteString(fmt.Sprintf("Current position: short %d shares\n", -req.Position))
	default:
		sb.WriteString("Current position: none\n")
	}
	sb.WriteString("\n")

	if len(req.Headlines) == 0 {
		sb.WriteString("## Headlines\nNo relevant headlines found.\n")
	} else {
		sb.WriteString("## Headlines\n")
		for _, h := range req.Headlines {
			sb.WriteString(fmt.Sprintf("- %s\n", h))
		}
	}

	sb.WriteString("\nReturn the JSON object.")
	return sb.String()
}
