package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

type RejectReason string

const (
	ReasonMalformed    RejectReason = "malformed"
	ReasonOutOfRange   RejectReason = "out_of_range"
	ReasonMissingField RejectReason = "missing_field"
)

// Rejection is the schema error for a signal that could not be turned into a Decision.
type Rejection struct {
	Symbol string       `json:"symbol"`
	Reason RejectReason `json:"reason"`
	Field  string       `json:"field,omitempty"`
	Detail string       `json:"detail"`
}

func (r *Rejection) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("signal %s rejected: %s: %s", r.Symbol, r.Reason, r.Detail)
	}
	return fmt.Sprintf("signal %s rejected: %s (%s): %s", r.Symbol, r.Reason, r.Field, r.Detail)
}

// Result holds exactly one of Decision or Rejection.
type Result struct {
	Decision  *Decision
	Rejection *Rejection
}

func (r Result) OK() bool { return r.Decision != nil }

// DefaultTolerance is how far outside [0,1] a score may drift and still be clamped by repair.
const DefaultTolerance = 0.01

type Validator struct {
	tolerance float64
}

func NewValidator(tolerance float64) *Validator {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Validator{tolerance: tolerance}
}

// Validate turns raw signal source output into a Decision for symbol.
// A strict parse is tried first; on failure a single deterministic repair pass runs.
// generated_at defaults to now when the payload omits it.
func (v *Validator) Validate(raw, symbol string, now time.Time) Result {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	payload := ExtractJSON(raw)
	if payload == "" {
		return reject(symbol, ReasonMalformed, "", "empty response")
	}

	if d, rej := v.strict(payload, symbol, now); rej == nil {
		return Result{Decision: d}
	}

	d, rej := v.repair(payload, symbol, now)
	if rej != nil {
		return Result{Rejection: rej}
	}
	d.Repaired = true
	return Result{Decision: d}
}

type strictEvidence struct {
	Source string `json:"source"`
	Link   string `json:"link"`
}

type strictDecision struct {
	Symbol      *string          `json:"symbol"`
	Sentiment   *string          `json:"sentiment"`
	HypeScore   *float64         `json:"hype_score"`
	Catalyst    *string          `json:"catalyst"`
	Confidence  *float64         `json:"confidence"`
	Evidence    []strictEvidence `json:"evidence"`
	GeneratedAt *time.Time       `json:"generated_at"`
}

func (v *Validator) strict(payload, symbol string, now time.Time) (*Decision, *Rejection) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()

	var sd strictDecision
	if err := dec.Decode(&sd); err != nil {
		return nil, rejection(symbol, ReasonMalformed, "", err.Error())
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, rejection(symbol, ReasonMalformed, "", "trailing data after object")
	}

	switch {
	case sd.Symbol == nil:
		return nil, rejection(symbol, ReasonMissingField, "symbol", "required")
	case sd.Sentiment == nil:
		return nil, rejection(symbol, ReasonMissingField, "sentiment", "required")
	case sd.HypeScore == nil:
		return nil, rejection(symbol, ReasonMissingField, "hype_score", "required")
	case sd.Confidence == nil:
		return nil, rejection(symbol, ReasonMissingField, "confidence", "required")
	}
	if *sd.Symbol != symbol {
		return nil, rejection(symbol, ReasonMalformed, "symbol", "symbol mismatch")
	}
	sentiment := Sentiment(*sd.Sentiment)
	if !sentiment.Valid() {
		return nil, rejection(symbol, ReasonMalformed, "sentiment", "unknown value")
	}
	if !inUnit(*sd.HypeScore) {
		return nil, rejection(symbol, ReasonOutOfRange, "hype_score", "outside [0,1]")
	}
	if !inUnit(*sd.Confidence) {
		return nil, rejection(symbol, ReasonOutOfRange, "confidence", "outside [0,1]")
	}

	var catalyst Catalyst
	if sd.Catalyst != nil {
		catalyst = Catalyst(*sd.Catalyst)
		if !catalyst.Valid() {
			return nil, rejection(symbol, ReasonMalformed, "catalyst", "unknown value")
		}
	}

	evidence := make([]Evidence, 0, len(sd.Evidence))
	for _, e := range sd.Evidence {
		if e.Source == "" {
			return nil, rejection(symbol, ReasonMissingField, "evidence.source", "required")
		}
		evidence = append(evidence, Evidence{Source: e.Source, Link: e.Link})
	}

	generated := now
	if sd.GeneratedAt != nil {
		generated = *sd.GeneratedAt
	}

	return &Decision{
		Symbol:      symbol,
		Sentiment:   sentiment,
		HypeScore:   *sd.HypeScore,
		Catalyst:    catalyst,
		Confidence:  *sd.Confidence,
		Evidence:    evidence,
		GeneratedAt: generated.UTC(),
	}, nil
}

// repair accepts what strict refused only for documented, value-preserving fixes:
// unknown fields are dropped, a single-element array is unwrapped, numeric strings are parsed,
// enum casing and whitespace are normalized, and scores within tolerance of [0,1] are clamped.
func (v *Validator) repair(payload, symbol string, now time.Time) (*Decision, *Rejection) {
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, rejection(symbol, ReasonMalformed, "", err.Error())
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, rejection(symbol, ReasonMalformed, "", "trailing data after object")
	}

	if arr, ok := root.([]any); ok {
		if len(arr) != 1 {
			return nil, rejection(symbol, ReasonMalformed, "", fmt.Sprintf("expected one object, got array of %d", len(arr)))
		}
		root = arr[0]
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, rejection(symbol, ReasonMalformed, "", "expected a JSON object")
	}

	sym, rej := requiredString(obj, "symbol", symbol)
	if rej != nil {
		return nil, rej
	}
	if strings.ToUpper(sym) != symbol {
		return nil, rejection(symbol, ReasonMalformed, "symbol", "symbol mismatch")
	}

	sent, rej := requiredString(obj, "sentiment", symbol)
	if rej != nil {
		return nil, rej
	}
	sentiment := Sentiment(strings.ToLower(sent))
	if !sentiment.Valid() {
		return nil, rejection(symbol, ReasonMalformed, "sentiment", "unknown value")
	}

	hype, rej := v.score(obj, "hype_score", symbol)
	if rej != nil {
		return nil, rej
	}
	confidence, rej := v.score(obj, "confidence", symbol)
	if rej != nil {
		return nil, rej
	}

	var catalyst Catalyst
	if raw, present := obj["catalyst"]; present && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return nil, rejection(symbol, ReasonMalformed, "catalyst", "not a string")
		}
		catalyst = Catalyst(strings.ToLower(strings.TrimSpace(s)))
		if !catalyst.Valid() {
			return nil, rejection(symbol, ReasonMalformed, "catalyst", "unknown value")
		}
	}

	evidence, rej := repairEvidence(obj["evidence"], symbol)
	if rej != nil {
		return nil, rej
	}

	generated := now
	if raw, present := obj["generated_at"]; present && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return nil, rejection(symbol, ReasonMalformed, "generated_at", "not a string")
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return nil, rejection(symbol, ReasonMalformed, "generated_at", err.Error())
		}
		generated = t
	}

	return &Decision{
		Symbol:      symbol,
		Sentiment:   sentiment,
		HypeScore:   hype,
		Catalyst:    catalyst,
		Confidence:  confidence,
		Evidence:    evidence,
		GeneratedAt: generated.UTC(),
	}, nil
}

func (v *Validator) score(obj map[string]any, field, symbol string) (float64, *Rejection) {
	raw, present := obj[field]
	if !present || raw == nil {
		return 0, rejection(symbol, ReasonMissingField, field, "required")
	}

	var f float64
	switch n := raw.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, rejection(symbol, ReasonMalformed, field, err.Error())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, rejection(symbol, ReasonMalformed, field, "not numeric")
		}
		f = parsed
	default:
		return 0, rejection(symbol, ReasonMalformed, field, "not numeric")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, rejection(symbol, ReasonMalformed, field, "not finite")
	}

	switch {
	case inUnit(f):
		return f, nil
	case f < 0 && f >= -v.tolerance:
		return 0, nil
	case f > 1 && f <= 1+v.tolerance:
		return 1, nil
	default:
		return 0, rejection(symbol, ReasonOutOfRange, field, fmt.Sprintf("%v outside [0,1]", f))
	}
}

func requiredString(obj map[string]any, field, symbol string) (string, *Rejection) {
	raw, present := obj[field]
	if !present || raw == nil {
		return "", rejection(symbol, ReasonMissingField, field, "required")
	}
	s, ok := raw.(string)
	if !ok {
		return "", rejection(symbol, ReasonMalformed, field, "not a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", rejection(symbol, ReasonMissingField, field, "empty")
	}
	return s, nil
}

func repairEvidence(raw any, symbol string) ([]Evidence, *Rejection) {
	if raw == nil {
		return []Evidence{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, rejection(symbol, ReasonMalformed, "evidence", "not an array")
	}

	out := make([]Evidence, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, rejection(symbol, ReasonMalformed, "evidence", "item is not an object")
		}
		source, rej := requiredString(m, "source", symbol)
		if rej != nil {
			rej.Field = "evidence.source"
			return nil, rej
		}
		var link string
		if l, present := m["link"]; present && l != nil {
			s, ok := l.(string)
			if !ok {
				return nil, rejection(symbol, ReasonMalformed, "evidence.link", "not a string")
			}
			link = strings.TrimSpace(s)
		}
		out = append(out, Evidence{Source: source, Link: link})
	}
	return out, nil
}

func inUnit(f float64) bool {
	return f >= 0 && f <= 1
}

func rejection(symbol string, reason RejectReason, field, detail string) *Rejection {
	return &Rejection{Symbol: symbol, Reason: reason, Field: field, Detail: detail}
}

func reject(symbol string, reason RejectReason, field, detail string) Result {
	return Result{Rejection: rejection(symbol, reason, field, detail)}
}
