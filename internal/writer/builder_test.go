package writer

import (
	"testing"

	cfg "github.com/tamzrod/opcua-capture/internal/config"
)

func TestBuildStatusPlan_Disabled(t *testing.T) {
	if p := BuildStatusPlan(cfg.StatusBlockConfig{}); p != nil {
		t.Fatalf("expected nil plan, got %+v", p)
	}

	sw, closeFn, err := BuildStatusWriter(cfg.StatusBlockConfig{})
	if err != nil || sw != nil {
		t.Fatalf("expected disabled writer, got sw=%v err=%v", sw, err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("no-op closer returned %v", err)
	}
}

func TestBuildStatusWriter_Ingest(t *testing.T) {
	sw, closeFn, err := BuildStatusWriter(cfg.StatusBlockConfig{
		Kind:       "ingest",
		Endpoint:   "127.0.0.1:9",
		UnitID:     2,
		BaseSlot:   1,
		DeviceName: "LINE-3",
		TimeoutMs:  100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()

	if sw == nil {
		t.Fatalf("expected a status writer")
	}
}

func TestBuildStatusWriter_ModbusDoesNotDial(t *testing.T) {
	sw, closeFn, err := BuildStatusWriter(cfg.StatusBlockConfig{
		Kind:      "modbus",
		Endpoint:  "127.0.0.1:1",
		UnitID:    1,
		TimeoutMs: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()

	if sw == nil {
		t.Fatalf("expected a status writer")
	}
}

func TestBuildStatusWriter_UnknownKind(t *testing.T) {
	if _, _, err := BuildStatusWriter(cfg.StatusBlockConfig{Kind: "bacnet", Endpoint: "x"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
