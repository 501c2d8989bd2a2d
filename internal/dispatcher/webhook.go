package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prominencemaritime/flag-dispensations/internal/domain"
)

// HTTPWebhookSender hands jobs to a notification gateway as an
// HMAC-signed JSON POST. The gateway owns actual mail transport.
type HTTPWebhookSender struct {
	url    string
	secret string
	client *http.Client
}

func NewHTTPWebhookSender(url, secret string) *HTTPWebhookSender {
	return &HTTPWebhookSender{
		url:    url,
		secret: secret,
		client: &http.Client{},
	}
}

type webhookPayload struct {
	JobID        string              `json:"job_id"`
	AlertTitle   string              `json:"alert_title"`
	Subject      string              `json:"subject"`
	Recipients   []string            `json:"recipients"`
	CCRecipients []string            `json:"cc_recipients"`
	VesselID     string              `json:"vessel_id"`
	VesselName   string              `json:"vessel_name"`
	CompanyName  string              `json:"company_name"`
	Columns      []string            `json:"display_columns"`
	Rows         []map[string]string `json:"rows"`
}

// Send posts the job payload with HMAC signature.
// Headers: X-FlagAlerts-Attempt-ID, X-FlagAlerts-Job-ID, X-FlagAlerts-Signature
func (s *HTTPWebhookSender) Send(ctx context.Context, req Request) Result {
	start := time.Now()

	payload := webhookPayload{
		JobID:        req.Job.ID.String(),
		AlertTitle:   req.Job.Metadata.AlertTitle,
		Subject:      req.Job.Metadata.Subject,
		Recipients:   req.Job.Recipients,
		CCRecipients: req.Job.CCRecipients,
		VesselID:     req.Job.Metadata.VesselID,
		VesselName:   req.Job.Metadata.VesselName,
		CompanyName:  req.Job.Metadata.CompanyName,
		Columns:      req.Job.Metadata.DisplayColumns,
		Rows:         make([]map[string]string, 0, len(req.Job.Rows)),
	}
	for _, row := range req.Job.Rows {
		payload.Rows = append(payload.Rows, rowValues(row, req.Job.Metadata.DisplayColumns))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	signature := computeSignature(s.secret, body)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-FlagAlerts-Attempt-ID", req.AttemptID)
	httpReq.Header.Set("X-FlagAlerts-Job-ID", payload.JobID)
	httpReq.Header.Set("X-FlagAlerts-Signature", signature)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Result{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func (s *HTTPWebhookSender) Destination(job domain.NotificationJob) string {
	return s.url
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for gateway implementers to verify incoming posts.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ Sender = (*HTTPWebhookSender)(nil)
