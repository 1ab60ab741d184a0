package metrics

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecordersDoNotPanic(t *testing.T) {
	RecordHTTPRequest("GET", "/v1/messages", 202, time.Millisecond)
	SetDBConnectionsActive(3)
	RecordDBQuery("query", "success")
	RecordMessageEnqueued("email")
	RecordMessageRejected("rate_limit_exceeded")
	RecordDispatchBatch(7, 25*time.Millisecond)
	RecordDeliveryOutcome("email", "delivered")
	RecordDeadLettered("email")
}

func TestHandlerServesScrape(t *testing.T) {
	RecordMessageEnqueued("sms")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200 from metrics handler, got %d", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Fatalf("expected non-empty metrics body")
	}
}
