package obslog

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceRestores(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	L().Info("session_join", zap.String("game_id", "G1"))
	restore()
	L().Info("after_restore")

	if logs.Len() != 1 {
		t.Fatalf("logs = %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Message != "session_join" || entry.ContextMap()["game_id"] != "G1" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitFromEnvConsoleJSON(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_TO_FILE", "false")
	t.Setenv("LOG_LEVEL", "warn")
	defer Replace(L())()
	if err := InitFromEnv(); err != nil {
		t.Fatalf("InitFromEnv: %v", err)
	}
	if L().Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
}
