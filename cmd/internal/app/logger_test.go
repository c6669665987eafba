package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	cases := []struct {
		format string
		want   string
	}{
		{format: "json", want: `"msg":"auth.login"`},
		{format: "text", want: "msg=auth.login"},
		{format: "pretty", want: "msg=auth.login"},
		{format: "", want: `"msg":"auth.login"`},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		log := newLogger(&buf, "info", tc.format)
		log.Info("auth.login", "user_id", "u1")
		log.Debug("auth.hidden")

		out := buf.String()
		if !strings.Contains(out, tc.want) || !strings.Contains(out, "u1") {
			t.Fatalf("format %q: output %q lacks %q", tc.format, out, tc.want)
		}
		if strings.Contains(out, "auth.hidden") {
			t.Fatalf("format %q: debug record leaked at info level", tc.format)
		}
	}
}
