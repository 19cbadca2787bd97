package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeUnixMillis(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(want.UnixMilli(), 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.Equal(want) {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestTradingDay(t *testing.T) {
	reset := 3*time.Hour + 35*time.Minute
	before := time.Date(2024, 10, 10, 3, 34, 0, 0, time.UTC)
	after := time.Date(2024, 10, 10, 3, 35, 0, 0, time.UTC)

	if got := TradingDay(before, time.UTC, reset); got != "2024-10-09" {
		t.Fatalf("before reset: got %s", got)
	}
	if got := TradingDay(after, time.UTC, reset); got != "2024-10-10" {
		t.Fatalf("after reset: got %s", got)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"eurusd":       "EURUSD",
		" OANDA:XAUUSD": "XAUUSD",
		"GBPJPY":       "GBPJPY",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Fatalf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}
