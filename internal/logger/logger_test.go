package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestModuleAddsField(t *testing.T) {
	var buf bytes.Buffer
	Init("debug", &buf)
	t.Cleanup(func() { Init("info", nil) })

	log := Module("gateway")
	log.Info().Str("method", "getUser").Msg("call")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["module"] != "gateway" {
		t.Errorf("module = %v, want gateway", line["module"])
	}
	if line["message"] != "call" {
		t.Errorf("message = %v, want call", line["message"])
	}
}

func TestGRPCLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	Init("info", &buf)
	t.Cleanup(func() { Init("info", nil) })

	l := NewGRPCLogger("grpc", 0)
	l.Infof("subchannel %d ready", 1)
	if buf.Len() != 0 {
		t.Errorf("grpc info should be demoted below info level, got %q", buf.String())
	}
	l.Warningf("transport closing")
	if buf.Len() == 0 {
		t.Error("grpc warning was not logged")
	}
	if l.V(1) {
		t.Error("V(1) should be false at verbosity 0")
	}
}
