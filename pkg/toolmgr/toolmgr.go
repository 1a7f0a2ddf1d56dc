// Package toolmgr implements the Tool Manager (spec §4.8, C8): MD5-signature
// deduplication and per-response/per-run quota enforcement over incoming
// tool requests, grounded on
// original_source/rfsn_controller/tool_manager.py's ToolRequestManager.
package toolmgr

import (
	"crypto/md5" //nolint:gosec // signature only, not a security boundary
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

const (
	MaxRequestsPerResponse = 6
	MaxRequestsPerRun      = 20
)

// Request is spec §3's ToolRequest: tool name plus argument map.
type Request struct {
	Tool string
	Args map[string]any
}

// Signature canonicalizes the request (sorted keys, normalized whitespace)
// and returns its MD5 hex digest.
func (r Request) Signature() string {
	var b strings.Builder
	b.WriteString(r.Tool)

	keys := make([]string, 0, len(r.Args))
	for k := range r.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(strings.TrimSpace(k))
		b.WriteByte(':')
		b.WriteString(canonicalValue(r.Args[k]))
	}

	sum := md5.Sum([]byte(b.String())) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func canonicalValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any, []any:
		enc, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(enc)
	default:
		enc, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(enc)
	}
}

// Outcome describes what happened to one request after filtering.
type Outcome struct {
	Request Request
	Allowed bool
	Reason  string // "duplicate_request" | "quota_exceeded" | ""
}

// Manager tracks signatures seen and requests issued across one run.
type Manager struct {
	seen         map[string]bool
	totalThisRun int
	countsByTool map[string]int
}

func New() *Manager {
	return &Manager{
		seen:         make(map[string]bool),
		countsByTool: make(map[string]int),
	}
}

// Filter applies the per-response cap, then per-request deduplication and
// the per-run cap, to a single model response's batch of requests. Requests
// past the per-response cap are dropped outright and never consume quota;
// every request, allowed or not, that passes the per-response cap still
// counts toward the per-run quota per the original's register-then-report
// ordering.
func (m *Manager) Filter(requests []Request) []Outcome {
	out := make([]Outcome, 0, len(requests))

	batch := requests
	truncated := false
	if len(batch) > MaxRequestsPerResponse {
		batch = batch[:MaxRequestsPerResponse]
		truncated = true
	}

	for _, req := range batch {
		if m.totalThisRun >= MaxRequestsPerRun {
			out = append(out, Outcome{Request: req, Allowed: false, Reason: "quota_exceeded"})
			continue
		}

		sig := req.Signature()
		if m.seen[sig] {
			m.totalThisRun++
			m.countsByTool[req.Tool]++
			out = append(out, Outcome{Request: req, Allowed: false, Reason: "duplicate_request"})
			continue
		}

		m.seen[sig] = true
		m.totalThisRun++
		m.countsByTool[req.Tool]++
		out = append(out, Outcome{Request: req, Allowed: true})
	}

	if truncated {
		for _, req := range requests[len(batch):] {
			out = append(out, Outcome{Request: req, Allowed: false, Reason: "quota_exceeded"})
		}
	}

	return out
}

// TotalRequests is the run-lifetime count of requests that consumed quota.
func (m *Manager) TotalRequests() int { return m.totalThisRun }

// QuotaRemaining is the per-run requests still available.
func (m *Manager) QuotaRemaining() int {
	remaining := MaxRequestsPerRun - m.totalThisRun
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RunQuotaExhausted reports whether the per-run cap (spec §4.8: 20) has
// been reached, the Controller's signal to force GENERATE_PATCHES/BAILOUT.
func (m *Manager) RunQuotaExhausted() bool {
	return m.totalThisRun >= MaxRequestsPerRun
}
