package voicegateway

import (
	"bytes"
	"encoding/json"
	"strings"

	"callflow_backend/internal/calls"
)

// WireToolCall is a lookup the voice agent started during a segment.
type WireToolCall struct {
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name" validate:"required"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// WireToolResult is the answer to a WireToolCall.
type WireToolResult struct {
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	IsError   bool            `json:"is_error"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// WireSegment is one transcript entry as the gateway sends it.
type WireSegment struct {
	Sequence         int              `json:"sequence" validate:"gte=0"`
	Speaker          string           `json:"speaker" validate:"required,oneof=agent user"`
	Message          string           `json:"message"`
	SegmentStartTime float64          `json:"segment_start_time" validate:"gte=0"`
	SegmentEndTime   float64          `json:"segment_end_time" validate:"gte=0"`
	Confidence       float64          `json:"confidence" validate:"gte=0,lte=1"`
	ToolCalls        []WireToolCall   `json:"tool_calls,omitempty" validate:"dive"`
	ToolResults      []WireToolResult `json:"tool_results,omitempty" validate:"dive"`
}

// ToSegments converts wire segments, pairing tool calls with their results,
// and returns them sorted by sequence.
func ToSegments(wire []WireSegment) []calls.TranscriptSegment {
	out := make([]calls.TranscriptSegment, 0, len(wire))
	for _, w := range wire {
		out = append(out, calls.TranscriptSegment{
			Sequence:     w.Sequence,
			Speaker:      w.Speaker,
			Message:      w.Message,
			StartSeconds: w.SegmentStartTime,
			EndSeconds:   w.SegmentEndTime,
			Confidence:   w.Confidence,
			ToolCalls:    PairTools(w.ToolCalls, w.ToolResults),
		})
	}
	calls.SortTranscript(out)
	return out
}

// PairTools attaches results to calls by request id. Results without a usable
// id are matched to the next unpaired call with the same tool name. Results
// that match nothing are kept as invocations of their own.
func PairTools(toolCalls []WireToolCall, results []WireToolResult) []calls.ToolInvocation {
	if len(toolCalls) == 0 && len(results) == 0 {
		return nil
	}

	out := make([]calls.ToolInvocation, len(toolCalls))
	byRequest := make(map[string]int, len(toolCalls))
	for i, tc := range toolCalls {
		out[i] = calls.ToolInvocation{
			RequestID: tc.RequestID,
			Name:      tc.ToolName,
			Params:    compact(tc.Params),
		}
		if tc.RequestID != "" {
			byRequest[tc.RequestID] = i
		}
	}

	var unmatched []WireToolResult
	for _, res := range results {
		if i, ok := byRequest[res.RequestID]; ok && res.RequestID != "" && out[i].Result == nil {
			out[i].Result = toResult(res, out[i].Name)
			continue
		}
		unmatched = append(unmatched, res)
	}

	for _, res := range unmatched {
		paired := false
		for i := range out {
			if out[i].Result != nil || !strings.EqualFold(out[i].Name, res.ToolName) {
				continue
			}
			out[i].Result = toResult(res, out[i].Name)
			paired = true
			break
		}
		if !paired {
			out = append(out, calls.ToolInvocation{
				RequestID: res.RequestID,
				Name:      res.ToolName,
				Result:    toResult(res, res.ToolName),
			})
		}
	}
	return out
}

func toResult(res WireToolResult, name string) *calls.ToolResult {
	if res.ToolName != "" {
		name = res.ToolName
	}
	return &calls.ToolResult{
		RequestID: res.RequestID,
		Name:      name,
		IsError:   res.IsError,
		Payload:   UnwrapPayload(res.Result),
	}
}

// UnwrapPayload decodes a result that arrived as a JSON-encoded string once.
// Strings that do not hold JSON are kept as strings.
func UnwrapPayload(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return compact(raw)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return compact(raw)
	}
	inner := strings.TrimSpace(s)
	if inner != "" && json.Valid([]byte(inner)) {
		return compact(json.RawMessage(inner))
	}
	return compact(raw)
}

func compact(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil
	}
	return buf.Bytes()
}
