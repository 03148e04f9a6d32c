package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"launchwatch/logger"
)

func TestReportCycleUpdatesCollectors(t *testing.T) {
	Init()

	beforeOK := testutil.ToFloat64(fetchTotal.WithLabelValues("ok"))
	beforeSeen := testutil.ToFloat64(listingsSeen)

	ReportCycle(logger.Logger(), CycleReport{CycleID: "c1", Fetched: 4, Accepted: 3, Announced: 2, Duration: 120 * time.Millisecond})

	if got := testutil.ToFloat64(fetchTotal.WithLabelValues("ok")); got != beforeOK+1 {
		t.Fatalf("expected ok fetch counter %v, got %v", beforeOK+1, got)
	}
	if got := testutil.ToFloat64(listingsSeen); got != beforeSeen+3 {
		t.Fatalf("expected listings seen %v, got %v", beforeSeen+3, got)
	}
}

func TestEmitDropMetricCountsSubscriber(t *testing.T) {
	Init()

	before := testutil.ToFloat64(eventDrops.WithLabelValues("dashboard"))
	EmitDropMetric(nil, "dashboard", "new_token")
	if got := testutil.ToFloat64(eventDrops.WithLabelValues("dashboard")); got != before+1 {
		t.Fatalf("expected drop counter %v, got %v", before+1, got)
	}
}

func TestHandlerServesPipelineMetrics(t *testing.T) {
	Init()
	IncAnnounced()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(string(body), "launchwatch_announcements_total") {
		t.Fatalf("announcement counter missing from output")
	}
}

func TestCommitConflictsCountedSeparately(t *testing.T) {
	Init()

	beforeDup := testutil.ToFloat64(duplicates)
	beforeConflict := testutil.ToFloat64(commitConflicts)
	IncCommitConflict()

	if got := testutil.ToFloat64(commitConflicts); got != beforeConflict+1 {
		t.Fatalf("expected commit conflicts %v, got %v", beforeConflict+1, got)
	}
	if got := testutil.ToFloat64(duplicates); got != beforeDup {
		t.Fatalf("duplicates counter changed to %v", got)
	}
}
