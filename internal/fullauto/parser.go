package fullauto

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// confidenceEpsilon is the tolerance for clamping slightly out-of-range
// confidence values to the nearest bound. Anything further out falls back
// to zero confidence.
const confidenceEpsilon = 0.05

// ParseDecision converts a raw, untrusted decision payload into a typed
// Decision. It is total: any input yields a usable Decision, with the
// diagnostics recording every field that needed a fallback. The payload is
// expected to be a JSON object (or a Go map from an earlier decode step);
// anything else degrades to the fail-safe pause decision.
func ParseDecision(raw any) (Decision, ParseDiagnostics) {
	diags := ParseDiagnostics{}
	if data, err := json.Marshal(raw); err == nil {
		diags.RawPayload = data
	}

	payload := asObject(raw)
	if payload == nil {
		diags.ActionFallback = true
		diags.ConfidenceFallback = true
		diags.ParseErrors = append(diags.ParseErrors, "payload is not an object")
		return Decision{Action: ActionPause, Confidence: 0}, diags
	}

	decision := Decision{}
	decision.Action = parseAction(payload["action"], &diags)
	decision.Confidence = parseConfidence(payload["confidence"], &diags)
	decision.Reason = stringField(payload["reason"])
	decision.NextInput = stringField(payload["next_input"])
	return decision, diags
}

func asObject(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return v
	case json.RawMessage:
		var payload map[string]any
		if err := json.Unmarshal(v, &payload); err != nil {
			return nil
		}
		return payload
	case []byte:
		var payload map[string]any
		if err := json.Unmarshal(v, &payload); err != nil {
			return nil
		}
		return payload
	case string:
		var payload map[string]any
		if err := json.Unmarshal([]byte(v), &payload); err != nil {
			return nil
		}
		return payload
	default:
		return nil
	}
}

func parseAction(raw any, diags *ParseDiagnostics) Action {
	text, ok := raw.(string)
	if !ok {
		if raw != nil {
			diags.ActionRaw = fmt.Sprintf("%v", raw)
		}
		diags.ActionFallback = true
		diags.ParseErrors = append(diags.ParseErrors, "action missing or not a string")
		return ActionPause
	}
	diags.ActionRaw = text
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "continue":
		return ActionContinue
	case "pause":
		return ActionPause
	case "stop":
		return ActionStop
	default:
		// Unrecognized actions always degrade to pause, never continue.
		diags.ActionFallback = true
		diags.ParseErrors = append(diags.ParseErrors, "action not recognized: "+text)
		return ActionPause
	}
}

func parseConfidence(raw any, diags *ParseDiagnostics) float64 {
	switch v := raw.(type) {
	case nil:
		diags.ConfidenceFallback = true
		diags.ParseErrors = append(diags.ParseErrors, "confidence missing")
		return 0
	case float64:
		diags.ConfidenceRaw = strconv.FormatFloat(v, 'g', -1, 64)
		return clampConfidence(v, diags)
	case int:
		diags.ConfidenceRaw = strconv.Itoa(v)
		return clampConfidence(float64(v), diags)
	case int64:
		diags.ConfidenceRaw = strconv.FormatInt(v, 10)
		return clampConfidence(float64(v), diags)
	case json.Number:
		diags.ConfidenceRaw = v.String()
		parsed, err := v.Float64()
		if err != nil {
			diags.ConfidenceFallback = true
			diags.ParseErrors = append(diags.ParseErrors, "confidence not numeric: "+v.String())
			return 0
		}
		return clampConfidence(parsed, diags)
	case string:
		diags.ConfidenceRaw = v
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			diags.ConfidenceFallback = true
			diags.ParseErrors = append(diags.ParseErrors, "confidence not parseable: "+v)
			return 0
		}
		return clampConfidence(parsed, diags)
	default:
		diags.ConfidenceRaw = fmt.Sprintf("%v", v)
		diags.ConfidenceFallback = true
		diags.ParseErrors = append(diags.ParseErrors, "confidence not numeric")
		return 0
	}
}

func clampConfidence(value float64, diags *ParseDiagnostics) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		diags.ConfidenceFallback = true
		diags.ParseErrors = append(diags.ParseErrors, "confidence not finite")
		return 0
	}
	if value >= 0 && value <= 1 {
		return value
	}
	if value >= -confidenceEpsilon && value < 0 {
		diags.ConfidenceClamped = true
		return 0
	}
	if value > 1 && value <= 1+confidenceEpsilon {
		diags.ConfidenceClamped = true
		return 1
	}
	diags.ConfidenceFallback = true
	diags.ParseErrors = append(diags.ParseErrors, "confidence out of range")
	return 0
}

func stringField(raw any) string {
	text, _ := raw.(string)
	return text
}
