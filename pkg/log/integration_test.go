package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

func TestLoggerInterface(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Info("info message", DispatchMethodKey, "fit")
	testLogger.Warn("warning message", "warning_code", "TEST_WARNING")
	testLogger.Error("error message", fmt.Errorf("test error"), ErrorTypeKey, "TEST_ERROR")

	if buffer.Len() == 0 {
		t.Fatal("Expected log output, got empty string")
	}
	for _, msg := range []string{"debug message", "info message", "warning message", "error message"} {
		if !testLogger.ContainsMessage(msg) {
			t.Errorf("%q not found in output", msg)
		}
	}
	if !testLogger.ContainsField("key1", "value1") {
		t.Error("Expected field key1=value1 not found")
	}
	if !testLogger.ContainsField("number", 42.0) {
		t.Error("Expected field number=42 not found")
	}
	// 先頭のerrorはErrAttrKeyに移される
	if !testLogger.ContainsField(ErrAttrKey, "test error") {
		t.Error("Expected leading error to be logged under error key")
	}
	if !testLogger.ContainsField(ErrorTypeKey, "TEST_ERROR") {
		t.Error("Fields after the leading error were lost")
	}
}

func TestLoggerWith(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	contextLogger := testLogger.With(ModelNameKey, "KMeans", ComponentKey, "dispatch")
	contextLogger.Info("KMeans.fit: running accelerated version on host", DispatchBackendKey, "host")

	if !testLogger.ContainsField(ModelNameKey, "KMeans") {
		t.Error("Model name context not found")
	}
	if !testLogger.ContainsField(DispatchBackendKey, "host") {
		t.Error("backend field not found")
	}
}

func TestLoggerEnabled(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelWarn)
	ctx := context.Background()

	if testLogger.Enabled(ctx, LevelDebug) || testLogger.Enabled(ctx, LevelInfo) {
		t.Error("debug/info should be disabled at warn level")
	}
	if !testLogger.Enabled(ctx, LevelError) {
		t.Error("error should be enabled at warn level")
	}

	testLogger.Debug("hidden")
	testLogger.Info("hidden")
	if buffer.Len() != 0 {
		t.Errorf("unexpected output: %s", buffer.String())
	}
}

func TestLoggerProviderIntegration(t *testing.T) {
	provider, _ := NewTestLoggerProvider(LevelInfo)
	named := provider.GetLoggerWithName("device")
	named.Debug("suppressed")
	provider.SetLevel(LevelDebug)
	named.Debug("visible")

	if provider.Logger().ContainsMessage("suppressed") {
		t.Error("debug message logged before SetLevel")
	}
	if !provider.Logger().ContainsField(ComponentKey, "device") {
		t.Error("component field missing")
	}
}

func TestGlobalProvider(t *testing.T) {
	provider, _ := NewTestLoggerProvider(LevelDebug)
	SetProvider(provider)
	defer SetProvider(nil)

	GetLoggerWithName("patch").Info("applied", PatchKey, "KMeans.fit")
	if !provider.Logger().ContainsField(PatchKey, "KMeans.fit") {
		t.Error("global logger did not route to provider")
	}
}

func TestSlogProviderSetLevel(t *testing.T) {
	var buf bytes.Buffer
	handler, err := NewHandler(&buf, LevelDebug, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	p := NewSlogProvider(slog.New(handler), LevelInfo)
	l := p.GetLoggerWithName("dispatch")

	l.Debug("dropped")
	p.SetLevel(LevelDebug)
	l.Debug("kept", ThreadsKey, 4)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("debug record emitted at info level")
	}
	if !strings.Contains(out, `"message":"kept"`) || !strings.Contains(out, `"severity":"DEBUG"`) {
		t.Errorf("unexpected JSON output: %s", out)
	}
}

func TestErrFmtHandlerAddsStacktrace(t *testing.T) {
	var buf bytes.Buffer
	handler, err := NewHandler(&buf, LevelInfo, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	l := NewSlogLogger(slog.New(handler))
	l.Error("dispatch failed", scigoerrors.NewConfigurationError("KMeans.fit", "no backend"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := entry[StacktraceAttrKey]; !ok {
		t.Errorf("stacktrace attribute missing: %v", entry)
	}
}

func TestErrFmtHandlerAddsErrorContext(t *testing.T) {
	var buf bytes.Buffer
	handler, err := NewHandler(&buf, LevelInfo, FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	l := NewSlogLogger(slog.New(handler))

	cause := scigoerrors.WithHint(scigoerrors.NewDispatchInternalError("KMeans", "score"), "check the method name")
	l.Error("dispatch failed", cause)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	want := map[string]string{
		ErrorTypeKey:      "errors.DispatchInternalError",
		SuggestionKey:     "check the method name",
		DispatchScopeKey:  "KMeans",
		DispatchMethodKey: "score",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}

	// 明示したフィールドは上書きしない
	buf.Reset()
	l.Error("config", scigoerrors.NewConfigurationError("patch", "bad key"), ErrorTypeKey, "custom")
	entry = nil
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry[ErrorTypeKey] != "custom" || entry[DispatchScopeKey] != "patch" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if _, ok := entry[SuggestionKey]; ok {
		t.Errorf("suggestion without hints: %v", entry)
	}
}

func TestZerologAndTestLoggerAddErrorContext(t *testing.T) {
	cause := fmt.Errorf("wrapped: %w", scigoerrors.NewDispatchInternalError("PCA", "score"))

	var buf bytes.Buffer
	NewZerologLogger(&buf, LevelDebug, false).Warn("failed", cause)
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v (%s)", err, buf.String())
	}
	if entry[DispatchScopeKey] != "PCA" || entry[ErrorTypeKey] != "errors.DispatchInternalError" {
		t.Errorf("zerolog entry: %v", entry)
	}

	tl, _ := NewTestLogger(LevelDebug)
	tl.Debug("failed", cause)
	if !tl.ContainsField(DispatchMethodKey, "score") || !tl.ContainsField(ErrorTypeKey, "errors.DispatchInternalError") {
		t.Error("test logger did not add the error context")
	}
}

func TestNewHandlerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewHandler(&bytes.Buffer{}, LevelInfo, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(&buf, LevelDebug, false).With(ComponentKey, "dispatch")

	l.Debug("PCA.fit: running accelerated version on device",
		DispatchBackendKey, "device",
		"cause", &scigoerrors.ConfigurationError{Scope: "PCA.fit", Reason: "x"},
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v (%s)", err, buf.String())
	}
	if entry[DispatchBackendKey] != "device" || entry[ComponentKey] != "dispatch" {
		t.Errorf("missing fields: %v", entry)
	}
	cause, ok := entry["cause"].(map[string]interface{})
	if !ok || cause["type"] != "ConfigurationError" {
		t.Errorf("marshaler field not emitted as object: %v", entry["cause"])
	}

	if l.Enabled(context.Background(), LevelDebug) != true {
		t.Error("debug should be enabled")
	}
	quiet := NewZerologLogger(&buf, LevelError, false)
	if quiet.Enabled(context.Background(), LevelWarn) {
		t.Error("warn should be disabled at error level")
	}
}

func TestInstallZerologWarnings(t *testing.T) {
	var buf bytes.Buffer
	InstallZerologWarnings(zerolog.New(&buf))
	defer scigoerrors.SetZerologWarnFunc(nil)

	scigoerrors.Warn(scigoerrors.NewConvergenceWarning("KMeans", 10, "tol not reached"))

	if !strings.Contains(buf.String(), `"type":"ConvergenceWarning"`) {
		t.Errorf("structured warning missing: %s", buf.String())
	}
}

func TestConcurrentLogging(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelDebug)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l := testLogger.With("worker", id)
			for j := 0; j < 25; j++ {
				l.Debug("tick", "j", j)
			}
		}(i)
	}
	wg.Wait()

	if n := testLogger.CountMessages("tick"); n != 200 {
		t.Errorf("expected 200 entries, got %d", n)
	}
}
