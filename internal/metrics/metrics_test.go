/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsProvider(t *testing.T) {
	provider := NewMetricsProvider()

	if provider == nil {
		t.Fatal("NewMetricsProvider() returned nil")
	}

	if _, ok := provider.(*Metrics); !ok {
		t.Errorf("NewMetricsProvider() should return *Metrics, got %T", provider)
	}
}

func TestMetricsUsePrivateRegistry(t *testing.T) {
	// Two instances must not collide on the default registry
	first := NewMetrics()
	second := NewMetrics()

	first.RecordOperation("send", ResultSuccess, time.Millisecond)

	if got := testutil.ToFloat64(first.OperationsTotal.WithLabelValues("send", ResultSuccess)); got != 1 {
		t.Errorf("Expected 1 send on first registry, got %v", got)
	}
	if got := testutil.ToFloat64(second.OperationsTotal.WithLabelValues("send", ResultSuccess)); got != 0 {
		t.Errorf("Expected 0 sends on second registry, got %v", got)
	}
}

func TestRecordOperation(t *testing.T) {
	m := NewMetrics()

	m.RecordOperation("send", ResultSuccess, time.Millisecond)
	m.RecordOperation("send", ResultSuccess, time.Millisecond)
	m.RecordOperation("send", ResultError, time.Millisecond)

	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("send", ResultSuccess)); got != 2 {
		t.Errorf("Expected 2 successful sends, got %v", got)
	}
	if got := testutil.ToFloat64(m.OperationsTotal.WithLabelValues("send", ResultError)); got != 1 {
		t.Errorf("Expected 1 failed send, got %v", got)
	}
}

func TestRecordPersistenceAndDecodeErrors(t *testing.T) {
	m := NewMetrics()

	m.RecordPersistence("mailbox", ResultSuccess, time.Millisecond)
	m.RecordPersistence("registry", ResultError, time.Millisecond)
	m.RecordDecodeError("mailbox")

	if got := testutil.ToFloat64(m.PersistenceWritesTotal.WithLabelValues("mailbox", ResultSuccess)); got != 1 {
		t.Errorf("Expected 1 mailbox write, got %v", got)
	}
	if got := testutil.ToFloat64(m.PersistenceWritesTotal.WithLabelValues("registry", ResultError)); got != 1 {
		t.Errorf("Expected 1 failed registry write, got %v", got)
	}
	if got := testutil.ToFloat64(m.DecodeErrorsTotal.WithLabelValues("mailbox")); got != 1 {
		t.Errorf("Expected 1 decode error, got %v", got)
	}
}

func TestGauges(t *testing.T) {
	m := NewMetrics()

	m.SetAgents(7)
	m.SetMailboxesLoaded(3)
	m.IncHTTPRequestsInFlight()
	m.IncHTTPRequestsInFlight()
	m.DecHTTPRequestsInFlight()

	if got := testutil.ToFloat64(m.AgentsKnown); got != 7 {
		t.Errorf("Expected 7 agents, got %v", got)
	}
	if got := testutil.ToFloat64(m.MailboxesLoaded); got != 3 {
		t.Errorf("Expected 3 loaded mailboxes, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsInFlight); got != 1 {
		t.Errorf("Expected 1 in-flight request, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest("POST", "/api/mailbox/send", 200, 5*time.Millisecond)
	m.RecordError("service", "PERSISTENCE_FAILED")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		`mailbox_http_requests_total{method="POST",path="/api/mailbox/send",status_code="200"} 1`,
		`mailbox_errors_total{component="service",error_code="PERSISTENCE_FAILED"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}
