package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

func webhookTestJob() domain.NotificationJob {
	link := "https://fleet.example.com/jobs/flag-extension-dispensation/10"
	return domain.NotificationJob{
		ID:           uuid.New(),
		Recipients:   []string{"aurora@seatraders.com"},
		CCRecipients: []string{"alerts@prominencemaritime.com", "ops@seatraders.com"},
		Rows: []domain.EventRow{
			{
				VesselID:         "1",
				EventID:          "10",
				Title:            "Load line dispensation",
				Category:         "extension",
				Department:       "Deck",
				DueDate:          "2026-04-01",
				RequestedOn:      "2026-03-05",
				CreatedAtDisplay: "2026-03-09 08:15:30",
				LinkURL:          &link,
			},
		},
		Metadata: domain.JobMetadata{
			VesselID:       "1",
			VesselName:     "AURORA",
			AlertTitle:     "Flag Dispensations",
			CompanyName:    "Sea Traders S.A.",
			DisplayColumns: []string{"title", "dispensation_type", "department", "requested_on", "due_date", "created_at"},
			Subject:        "AlertDev | AURORA Flag Extensions-Dispensations",
		},
		TrackingKeys: []string{"vessel_id_1__job_id_10"},
	}
}

func TestWebhookSendPostsSignedPayload(t *testing.T) {
	secret := "shh"

	var gotBody []byte
	var gotHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPWebhookSender(server.URL, secret)
	job := webhookTestJob()

	result := sender.Send(context.Background(), Request{
		Job:       job,
		Timeout:   5 * time.Second,
		AttemptID: "attempt-1",
	})

	if !result.IsSuccess() {
		t.Fatalf("send failed: status=%d err=%v", result.StatusCode, result.Error)
	}

	if gotHeaders.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", gotHeaders.Get("Content-Type"))
	}
	if gotHeaders.Get("X-FlagAlerts-Attempt-ID") != "attempt-1" {
		t.Errorf("attempt header = %q", gotHeaders.Get("X-FlagAlerts-Attempt-ID"))
	}
	if gotHeaders.Get("X-FlagAlerts-Job-ID") != job.ID.String() {
		t.Errorf("job header = %q", gotHeaders.Get("X-FlagAlerts-Job-ID"))
	}

	signature := gotHeaders.Get("X-FlagAlerts-Signature")
	if !VerifySignature(secret, gotBody, signature) {
		t.Error("signature does not verify against the body")
	}
	if VerifySignature("wrong", gotBody, signature) {
		t.Error("signature verifies with the wrong secret")
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Subject != job.Metadata.Subject {
		t.Errorf("subject = %q", payload.Subject)
	}
	if len(payload.Rows) != 1 {
		t.Fatalf("rows = %d", len(payload.Rows))
	}
	row := payload.Rows[0]
	if row["title"] != "Load line dispensation" {
		t.Errorf("row title = %q", row["title"])
	}
	if row["dispensation_type"] != "extension" {
		t.Errorf("row dispensation_type = %q", row["dispensation_type"])
	}
	if row["url"] != "https://fleet.example.com/jobs/flag-extension-dispensation/10" {
		t.Errorf("row url = %q", row["url"])
	}
}

func TestWebhookRowOmitsURLWhenLinksDisabled(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	job := webhookTestJob()
	job.Rows[0].LinkURL = nil

	sender := NewHTTPWebhookSender(server.URL, "shh")
	result := sender.Send(context.Background(), Request{Job: job, Timeout: 5 * time.Second})
	if !result.IsSuccess() {
		t.Fatalf("send failed: %v", result.Error)
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if _, ok := payload.Rows[0]["url"]; ok {
		t.Error("url present in row with links disabled")
	}
}

func TestWebhookSendReportsStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sender := NewHTTPWebhookSender(server.URL, "shh")
	result := sender.Send(context.Background(), Request{Job: webhookTestJob(), Timeout: 5 * time.Second})

	if result.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", result.StatusCode)
	}
	if result.IsSuccess() {
		t.Error("503 reported as success")
	}
	if !result.IsRetryable() {
		t.Error("503 not retryable")
	}
}

func TestWebhookSendConnectionError(t *testing.T) {
	// Point at a server that is already closed.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sender := NewHTTPWebhookSender(url, "shh")
	result := sender.Send(context.Background(), Request{Job: webhookTestJob(), Timeout: time.Second})

	if result.Error == nil {
		t.Fatal("expected transport error")
	}
	if !result.IsRetryable() {
		t.Error("transport error not retryable")
	}
}

func TestWebhookDestinationIsURL(t *testing.T) {
	sender := NewHTTPWebhookSender("https://gateway.example.com/notify", "shh")
	if got := sender.Destination(webhookTestJob()); got != "https://gateway.example.com/notify" {
		t.Errorf("Destination = %q", got)
	}
}
