package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "app.log")
	log := Logger()
	if err := log.Configure("debug", "text", path, 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel().String() != "debug" {
		t.Fatalf("unexpected level %s", log.GetLevel())
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestEntryWarnCountsPerComponent(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	before := atomic.LoadInt64(&componentCounter("warn-test").warns)
	log.WithComponent("warn-test").Warn("careful")
	log.WithComponent("warn-test").Error("broken")

	if got := atomic.LoadInt64(&componentCounter("warn-test").warns); got != before+1 {
		t.Fatalf("expected warn counter %d, got %d", before+1, got)
	}
	if got := atomic.LoadInt64(&componentCounter("warn-test").errors); got < 1 {
		t.Fatalf("expected error counter to move, got %d", got)
	}
}

func TestJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.WithComponent("json").Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"timestamp", "level", "message", "component"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %q in %v", key, line)
		}
	}
}

func TestReportFieldsIncludesCounters(t *testing.T) {
	AddListingsSeen(3)
	IncrementAnnouncement()

	fields := reportFields()
	if fields["listings_seen"].(int64) < 3 {
		t.Fatalf("listings_seen not counted: %v", fields)
	}
	if fields["announcements"].(int64) < 1 {
		t.Fatalf("announcements not counted: %v", fields)
	}
}

func TestLogMetricForwardsToSink(t *testing.T) {
	type call struct {
		component, name, unit string
		value                 float64
		fields                Fields
	}
	var got []call
	SetMetricSink(func(_ context.Context, component, name, unit string, value float64, fields Fields) {
		got = append(got, call{component, name, unit, value, fields})
	})
	t.Cleanup(func() { SetMetricSink(nil) })

	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	entry := log.WithComponent("test")

	entry.LogMetric("monitor", "announced", 2, "", Fields{"driver": "file", "n": 1})
	entry.LogMetric("monitor", "label", "not-a-number", "", nil)

	if len(got) != 1 {
		t.Fatalf("expected one forwarded metric, got %d", len(got))
	}
	c := got[0]
	if c.component != "monitor" || c.name != "announced" || c.value != 2 || c.unit != "count" {
		t.Fatalf("unexpected metric %+v", c)
	}
	if c.fields["driver"] != "file" || c.fields["n"] != nil {
		t.Fatalf("only string fields become dimensions: %v", c.fields)
	}
}

func TestLogMetricWithoutSink(t *testing.T) {
	SetMetricSink(nil)
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	log.WithComponent("test").LogMetric("monitor", "cycles", int64(1), "counter", nil)
	if !bytes.Contains(buf.Bytes(), []byte(`"metric":"cycles"`)) {
		t.Fatalf("metric line not logged: %s", buf.String())
	}
}
