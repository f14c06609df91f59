package clock

import (
	"context"
	"testing"
	"time"
)

func TestNewTool(t *testing.T) {
	fixed := time.Date(2025, time.March, 14, 9, 26, 53, 0, time.FixedZone("CET", 3600))
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	tool := NewTool()
	if tool.Definition.Name != "get_current_datetime" {
		t.Fatalf("Name = %q, want get_current_datetime", tool.Definition.Name)
	}

	got, err := tool.Handler(context.Background(), "{}")
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	// 09:26:53 CET is 08:26:53 UTC.
	if got != "2025-03-14T08:26:53Z" {
		t.Errorf("Handler() = %q, want 2025-03-14T08:26:53Z", got)
	}
}
