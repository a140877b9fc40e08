package lanchain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/iti/evt/evtm"
)

func TestTaskSchedulerCores(t *testing.T) {
	tests := []struct {
		cores   int
		want    []float64
		maxWait float64
	}{
		// four tasks of 1s handed over at time 0
		{1, []float64{1, 2, 3, 4}, 3},
		{2, []float64{1, 1, 2, 2}, 1},
		{0, []float64{1, 2, 3, 4}, 3},
	}
	for _, tc := range tests {
		evtMgr := evtm.New()
		ts := CreateTaskScheduler(tc.cores)

		done := []float64{}
		complete := func(evtMgr *evtm.EventManager, context any, data any) any {
			done = append(done, evtMgr.CurrentSeconds())
			return nil
		}
		finish := []float64{}
		for idx := 0; idx < 4; idx++ {
			finish = append(finish, ts.Schedule(evtMgr, 1.0, nil, idx, complete))
		}
		evtMgr.Run(10.0)

		if diff := cmp.Diff(tc.want, finish); diff != "" {
			t.Errorf("%d cores: finish times (-want +got):\n%s", tc.cores, diff)
		}
		if diff := cmp.Diff(tc.want, done, cmpFloat); diff != "" {
			t.Errorf("%d cores: completions (-want +got):\n%s", tc.cores, diff)
		}
		if ts.Served() != 4 {
			t.Errorf("served %d", ts.Served())
		}
		if ts.MaxWait() != tc.maxWait {
			t.Errorf("%d cores: longest wait %g, want %g", tc.cores, ts.MaxWait(), tc.maxWait)
		}
	}
}

func TestSamplers(t *testing.T) {
	if got := samplerFor("const")(0.7, []float64{2.0}); got != 0.5 {
		t.Errorf("const: got %g, want 0.5", got)
	}
	if got := samplerFor("")(0.7, []float64{4.0}); got != 0.25 {
		t.Errorf("default: got %g, want 0.25", got)
	}
	// the median of an exponential is ln(2)/rate
	if got := samplerFor("expon")(0.5, []float64{1.0}); got < 0.6931 || got > 0.6932 {
		t.Errorf("expon: got %g", got)
	}
	if !needsRng("exponential") || needsRng("const") {
		t.Error("needsRng")
	}
	if got := roundFloat(0.1+0.2, rdigits); got != 0.3 {
		t.Errorf("roundFloat: got %v", got)
	}
}
