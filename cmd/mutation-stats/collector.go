package main

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	mutationEventName   = "mutation"
	mutationEventDomain = "verdantdo.gateway"

	attrOp          = "mutation.op"
	attrKind        = "mutation.kind"
	attrTotalMillis = "mutation.total_ms"
	attrUser        = "enduser.id"
)

// logRecord is one JSON line written by the server with LOG_FORMAT=json.
type logRecord struct {
	EventName      string         `json:"event.name"`
	EventDomain    string         `json:"event.domain"`
	SeverityText   string         `json:"severity_text"`
	SeverityNumber int            `json:"severity_number"`
	Attributes     map[string]any `json:"attributes"`
}

type collector struct {
	eventName   string
	eventDomain string
	skipped     int

	count    int
	severity map[string]int
	ops      map[string]*opStats
	users    map[string]struct{}
}

type opStats struct {
	calls    int
	failures map[string]int
	duration *numericStats
}

type numericStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

type durationSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
}

type opSummary struct {
	Calls      int             `json:"calls"`
	Failures   map[string]int  `json:"failures,omitempty"`
	DurationMs durationSummary `json:"duration_ms"`
}

type summaryOutput struct {
	EventName      string               `json:"event_name"`
	EventDomain    string               `json:"event_domain"`
	TotalEvents    int                  `json:"total_events"`
	DistinctUsers  int                  `json:"distinct_users"`
	SeverityCounts map[string]int       `json:"severity_counts"`
	Ops            map[string]opSummary `json:"ops"`
	SkippedLines   int                  `json:"skipped_lines"`
}

func newCollector(eventName, eventDomain string) *collector {
	return &collector{
		eventName:   eventName,
		eventDomain: eventDomain,
		severity:    make(map[string]int),
		ops:         make(map[string]*opStats),
		users:       make(map[string]struct{}),
	}
}

func (c *collector) ingest(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	// docker compose prefixes lines with "service | ".
	if pipe := strings.Index(trimmed, "|"); pipe >= 0 && !strings.HasPrefix(trimmed, "{") {
		trimmed = strings.TrimSpace(trimmed[pipe+1:])
	}

	rec, err := decodeRecord(trimmed)
	if err != nil {
		c.skipped++
		return
	}
	if rec.EventName != c.eventName {
		return
	}
	if c.eventDomain != "" && rec.EventDomain != c.eventDomain {
		return
	}
	c.addRecord(rec)
}

func decodeRecord(raw string) (logRecord, error) {
	var rec logRecord
	dec := sonic.ConfigStd.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return logRecord{}, err
	}
	return rec, nil
}

func (c *collector) addRecord(rec logRecord) {
	c.count++

	severity := strings.ToUpper(strings.TrimSpace(rec.SeverityText))
	if severity == "" {
		severity = "UNSPECIFIED"
	}
	c.severity[severity]++

	op, _ := asString(rec.Attributes[attrOp])
	if op == "" {
		op = "unknown"
	}
	stats, ok := c.ops[op]
	if !ok {
		stats = &opStats{failures: make(map[string]int), duration: newNumericStats()}
		c.ops[op] = stats
	}
	stats.calls++
	if kind, ok := asString(rec.Attributes[attrKind]); ok && kind != "" {
		stats.failures[kind]++
	}
	if v, ok := asFloat(rec.Attributes[attrTotalMillis]); ok {
		stats.duration.add(v)
	}
	if user, ok := asString(rec.Attributes[attrUser]); ok && user != "" {
		c.users[user] = struct{}{}
	}
}

func newNumericStats() *numericStats {
	return &numericStats{Min: math.MaxFloat64}
}

func (n *numericStats) add(value float64) {
	n.Count++
	n.Sum += value
	if value < n.Min {
		n.Min = value
	}
	if value > n.Max {
		n.Max = value
	}
}

func (n *numericStats) toDurationSummary() durationSummary {
	if n == nil || n.Count == 0 {
		return durationSummary{}
	}
	return durationSummary{
		Count: n.Count,
		Min:   n.Min,
		Max:   n.Max,
		Avg:   n.Sum / float64(n.Count),
	}
}

func (c *collector) summary() summaryOutput {
	ops := make(map[string]opSummary, len(c.ops))
	for name, s := range c.ops {
		var failures map[string]int
		if len(s.failures) > 0 {
			failures = make(map[string]int, len(s.failures))
			for k, v := range s.failures {
				failures[k] = v
			}
		}
		ops[name] = opSummary{
			Calls:      s.calls,
			Failures:   failures,
			DurationMs: s.duration.toDurationSummary(),
		}
	}
	severity := make(map[string]int, len(c.severity))
	for k, v := range c.severity {
		severity[k] = v
	}
	return summaryOutput{
		EventName:      c.eventName,
		EventDomain:    c.eventDomain,
		TotalEvents:    c.count,
		DistinctUsers:  len(c.users),
		SeverityCounts: severity,
		Ops:            ops,
		SkippedLines:   c.skipped,
	}
}

func (s summaryOutput) ShortString() string {
	names := make([]string, 0, len(s.Ops))
	for name := range s.Ops {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := []string{
		"event=" + s.EventName,
		"total=" + strconv.Itoa(s.TotalEvents),
		"users=" + strconv.Itoa(s.DistinctUsers),
		"warn=" + strconv.Itoa(s.SeverityCounts["WARN"]),
		"error=" + strconv.Itoa(s.SeverityCounts["ERROR"]),
	}
	for _, name := range names {
		op := s.Ops[name]
		failed := 0
		for _, n := range op.Failures {
			failed += n
		}
		parts = append(parts, name+"="+strconv.Itoa(op.Calls)+"/"+strconv.Itoa(failed)+"@"+formatFloat(op.DurationMs.Avg)+"ms")
	}
	return strings.Join(parts, " ")
}

func formatFloat(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}
