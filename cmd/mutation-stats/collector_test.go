package main

import "testing"

func TestCollectorAggregatesMutationEvents(t *testing.T) {
	c := newCollector(mutationEventName, mutationEventDomain)

	lines := []string{
		`{"event.name":"mutation","event.domain":"verdantdo.gateway","severity_text":"INFO","severity_number":9,"attributes":{"mutation.op":"create_task","enduser.id":"u1","mutation.total_ms":4.5}}`,
		`not json`,
		`api | {"event.name":"mutation","event.domain":"verdantdo.gateway","severity_text":"WARN","severity_number":13,"attributes":{"mutation.op":"create_task","enduser.id":"u2","mutation.total_ms":1.5,"mutation.kind":"invalid"}}`,
		`{"event.name":"mutation","event.domain":"verdantdo.gateway","severity_text":"ERROR","severity_number":17,"attributes":{"mutation.op":"delete_task","enduser.id":"u1","mutation.total_ms":20,"mutation.kind":"unavailable"}}`,
		`{"event.name":"other","event.domain":"verdantdo.gateway","severity_text":"INFO"}`,
	}
	for _, line := range lines {
		c.ingest(line)
	}

	summary := c.summary()
	if summary.TotalEvents != 3 {
		t.Fatalf("expected 3 events, got %d", summary.TotalEvents)
	}
	if summary.SkippedLines != 1 {
		t.Fatalf("expected 1 skipped line, got %d", summary.SkippedLines)
	}
	if summary.DistinctUsers != 2 {
		t.Fatalf("expected 2 users, got %d", summary.DistinctUsers)
	}
	if summary.SeverityCounts["WARN"] != 1 || summary.SeverityCounts["ERROR"] != 1 {
		t.Fatalf("unexpected severity counts: %#v", summary.SeverityCounts)
	}

	create, ok := summary.Ops["create_task"]
	if !ok || create.Calls != 2 {
		t.Fatalf("expected 2 create_task calls, got %#v", create)
	}
	if create.Failures["invalid"] != 1 {
		t.Fatalf("expected one invalid failure, got %#v", create.Failures)
	}
	if create.DurationMs.Avg != 3 || create.DurationMs.Min != 1.5 || create.DurationMs.Max != 4.5 {
		t.Fatalf("unexpected durations: %#v", create.DurationMs)
	}
	if summary.Ops["delete_task"].Failures["unavailable"] != 1 {
		t.Fatalf("expected unavailable delete, got %#v", summary.Ops["delete_task"])
	}
	if summary.ShortString() == "" {
		t.Fatal("expected short summary to be non-empty")
	}
}
