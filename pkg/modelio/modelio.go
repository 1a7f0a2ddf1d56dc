// Package modelio implements the Model Output Validator (spec §4.9, C9):
// parses one LLM reply as JSON and dispatches on its "mode" field into one
// of three validated shapes. Malformed individual tool requests become
// corrective fallbacks rather than aborting the whole batch; an unparseable
// or off-schema reply produces a synthetic tool_request that keeps the run
// alive (grounded on the JSON-reply contract in original_source's
// model_io.py and spec §4.9).
package modelio

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/riftlabs/rfsn-controller/pkg/rerr"
	"github.com/riftlabs/rfsn-controller/pkg/shellguard"
)

type Mode string

const (
	ModeToolRequest    Mode = "tool_request"
	ModePatch          Mode = "patch"
	ModeFeatureSummary Mode = "feature_summary"
)

type CompletionStatus string

const (
	StatusComplete   CompletionStatus = "complete"
	StatusPartial    CompletionStatus = "partial"
	StatusBlocked    CompletionStatus = "blocked"
	StatusInProgress CompletionStatus = "in_progress"
)

var validCompletionStatus = map[CompletionStatus]bool{
	StatusComplete: true, StatusPartial: true, StatusBlocked: true, StatusInProgress: true,
}

// ToolRequestItem is one element of a tool_request reply's "requests" list.
type ToolRequestItem struct {
	Tool string
	Args map[string]any
	// Malformed is set when this individual item didn't decode cleanly;
	// Reason carries the corrective message for the model rather than
	// aborting the whole batch (spec §4.9).
	Malformed bool
	Reason    string
}

// Reply is the validated, dispatched result of one model turn.
type Reply struct {
	Mode Mode

	// tool_request
	ToolRequests []ToolRequestItem
	Why          string

	// patch
	Diff string

	// feature_summary
	Summary          string
	CompletionStatus CompletionStatus

	// Synthetic is set when the raw reply was unparseable/off-schema and
	// this Reply is the fallback sandbox.list_tree request spec §4.9
	// mandates to keep the run alive.
	Synthetic bool
}

type rawReply struct {
	Mode             string          `json:"mode"`
	Requests         json.RawMessage `json:"requests"`
	Why              string          `json:"why"`
	Diff             string          `json:"diff"`
	Summary          string          `json:"summary"`
	CompletionStatus string          `json:"completion_status"`
}

type rawToolRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// Parse validates raw as one LLM reply. featureMode gates acceptance of
// "feature_summary" — it is only a legal mode when the run is in feature
// mode (spec §4.9).
func Parse(raw string, featureMode bool) Reply {
	var rr rawReply
	if err := json.Unmarshal([]byte(raw), &rr); err != nil {
		return syntheticFallback("reply was not valid JSON: " + err.Error())
	}

	switch Mode(rr.Mode) {
	case ModeToolRequest:
		return parseToolRequest(rr)
	case ModePatch:
		if strings.TrimSpace(rr.Diff) == "" {
			return syntheticFallback("patch reply carried an empty diff")
		}
		return Reply{Mode: ModePatch, Diff: rr.Diff, Why: rr.Why}
	case ModeFeatureSummary:
		if !featureMode {
			return syntheticFallback("feature_summary is only valid in feature mode")
		}
		status := CompletionStatus(rr.CompletionStatus)
		if !validCompletionStatus[status] {
			return syntheticFallback("feature_summary carried an unrecognized completion_status: " + rr.CompletionStatus)
		}
		return Reply{Mode: ModeFeatureSummary, Summary: rr.Summary, CompletionStatus: status}
	default:
		return syntheticFallback("unrecognized mode: " + rr.Mode)
	}
}

func parseToolRequest(rr rawReply) Reply {
	if len(rr.Requests) == 0 {
		return syntheticFallback("tool_request reply carried no requests")
	}

	var items []rawToolRequest
	if err := json.Unmarshal(rr.Requests, &items); err != nil {
		return syntheticFallback("tool_request.requests did not decode: " + err.Error())
	}

	out := make([]ToolRequestItem, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Tool) == "" {
			out = append(out, ToolRequestItem{
				Malformed: true,
				Reason:    "tool request missing a tool name",
			})
			continue
		}
		args := it.Args
		if args == nil {
			args = map[string]any{}
		}
		if it.Tool == "sandbox.run" {
			if reason := validateSandboxRunArgs(args); reason != "" {
				out = append(out, ToolRequestItem{Tool: it.Tool, Malformed: true, Reason: reason})
				continue
			}
		}
		out = append(out, ToolRequestItem{Tool: it.Tool, Args: args})
	}

	return Reply{Mode: ModeToolRequest, ToolRequests: out, Why: rr.Why}
}

// validateSandboxRunArgs enforces spec §4.7/§4.3's "each tool request must
// pass" contract at the validator layer, not downstream in Sandbox.Run:
// sandbox.run carries a single command string (cmd), never an argv list,
// and must contain no shell idioms. Returns "" if args are acceptable, or
// a corrective reason for the model otherwise.
func validateSandboxRunArgs(args map[string]any) string {
	raw, ok := args["cmd"]
	if !ok {
		return "sandbox.run requires a 'cmd' string argument"
	}
	cmd, ok := raw.(string)
	if !ok {
		return "sandbox.run's 'cmd' must be a single command string, not a list"
	}
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return "sandbox.run's 'cmd' must not be empty"
	}
	if err := shellguard.Check(cmd); err != nil {
		return err.Error()
	}
	return ""
}

// syntheticFallback is spec §4.9's contract-violation recovery: a
// tool_request for sandbox.list_tree carrying why as an explanation of
// what went wrong, so the step still advances the run instead of aborting.
func syntheticFallback(why string) Reply {
	return Reply{
		Mode: ModeToolRequest,
		ToolRequests: []ToolRequestItem{
			{Tool: "sandbox.list_tree", Args: map[string]any{"max": 2000}},
		},
		Why:       fmt.Sprintf("synthetic fallback: %s", why),
		Synthetic: true,
	}
}

// Validate wraps Parse's result into a *rerr.Error for logging when the
// reply was synthetic, distinguishing "model followed the contract" from
// "model output was rejected" at the call site.
func Validate(raw string, featureMode bool) (Reply, error) {
	reply := Parse(raw, featureMode)
	if reply.Synthetic {
		return reply, rerr.New(rerr.CodeModelMalformed, reply.Why).WithContext("raw_reply", raw)
	}
	return reply, nil
}
