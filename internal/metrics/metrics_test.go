package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserversBeforeInitAreNoops(t *testing.T) {
	if analysisTotal != nil {
		t.Skip("metrics already registered by another test")
	}
	assert.NotPanics(t, func() {
		ObserveAnalysis("done", time.Second)
		IncUpload("recent", ResultOK)
		SetQueueDepth(3)
	})
}

func TestCounters(t *testing.T) {
	Init(nil, nil)
	Init(nil, nil)

	before := testutil.ToFloat64(analysisTotal.WithLabelValues("done"))
	ObserveAnalysis("done", 2*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(analysisTotal.WithLabelValues("done")))

	IncExtractionAttempt("ocr", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(extractionAttempts.WithLabelValues("ocr", ResultError)))

	ObserveHTTP("", 404, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("unmatched", "404")))

	SetQueueDepth(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(queueDepth))

	AddSwept(0)
	AddSwept(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(sweptUploads))
}
