package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestObserveTickByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveTick(10*time.Millisecond, nil)
	c.ObserveTick(10*time.Millisecond, nil)
	c.ObserveTick(time.Millisecond, errors.New("store down"))

	got := map[string]float64{}
	for _, m := range family(t, reg, "shipbot_ticks_total").GetMetric() {
		got[labelValue(m, "result")] = m.GetCounter().GetValue()
	}
	if got["ok"] != 2 || got["error"] != 1 {
		t.Fatalf("ticks = %v", got)
	}
	h := family(t, reg, "shipbot_tick_duration_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 3 {
		t.Fatalf("histogram samples = %d", h.GetSampleCount())
	}
}

func TestSetQueuePartitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.SetQueue(1, 4, 2)

	got := map[string]float64{}
	for _, m := range family(t, reg, "shipbot_queue_items").GetMetric() {
		got[labelValue(m, "partition")] = m.GetGauge().GetValue()
	}
	if got["ready"] != 1 || got["future"] != 4 || got["unscheduled"] != 2 {
		t.Fatalf("queue = %v", got)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordPublish("photo", true)
	c.RecordAssigned(3)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body, _ := io.ReadAll(w.Result().Body)
	for _, want := range []string{`shipbot_publish_total{kind="photo",result="ok"} 1`, "shipbot_slots_assigned_total 3"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("body missing %q", want)
		}
	}
}
