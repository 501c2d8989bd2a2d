// webhook-receiver is a local stand-in for the notification gateway.
// It accepts signed POSTs from flagalerts, verifies the HMAC signature
// when WEBHOOK_SECRET is set, and keeps recent deliveries queryable
// for manual inspection.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type delivery struct {
	Timestamp  string `json:"timestamp"`
	AttemptID  string `json:"attempt_id"`
	JobID      string `json:"job_id"`
	Signature  string `json:"signature"`
	SigValid   *bool  `json:"signature_valid,omitempty"`
	Subject    string `json:"subject"`
	VesselName string `json:"vessel_name"`
	RowCount   int    `json:"row_count"`
	Body       string `json:"body"`
}

type stats struct {
	Count          int64      `json:"count"`
	InvalidSigs    int64      `json:"invalid_signatures"`
	LastDeliveries []delivery `json:"last_deliveries"`
	Since          string     `json:"since"`
}

var (
	mu             sync.Mutex
	count          int64
	invalidSigs    int64
	lastDeliveries []delivery
	since          time.Time
	maxStored      = 50
)

func main() {
	since = time.Now().UTC()

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		log.Print("WEBHOOK_SECRET not set, signature verification disabled")
	}

	http.HandleFunc("/notify", notifyHandler(secret))
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		invalidSigs = 0
		lastDeliveries = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("webhook-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func notifyHandler(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		defer r.Body.Close()

		d := delivery{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			AttemptID: r.Header.Get("X-FlagAlerts-Attempt-ID"),
			JobID:     r.Header.Get("X-FlagAlerts-Job-ID"),
			Signature: r.Header.Get("X-FlagAlerts-Signature"),
			Body:      string(body),
		}

		var payload struct {
			Subject    string              `json:"subject"`
			VesselName string              `json:"vessel_name"`
			Rows       []map[string]string `json:"rows"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			d.Subject = payload.Subject
			d.VesselName = payload.VesselName
			d.RowCount = len(payload.Rows)
		}

		if secret != "" {
			valid := verifySignature(secret, body, d.Signature)
			d.SigValid = &valid
			if !valid {
				mu.Lock()
				invalidSigs++
				mu.Unlock()
				log.Printf("delivery job=%s: INVALID SIGNATURE", d.JobID)
			}
		}

		mu.Lock()
		count++
		lastDeliveries = append(lastDeliveries, d)
		if len(lastDeliveries) > maxStored {
			lastDeliveries = lastDeliveries[len(lastDeliveries)-maxStored:]
		}
		current := count
		mu.Unlock()

		log.Printf("delivery #%d job=%s attempt=%s vessel=%q rows=%d",
			current, d.JobID, d.AttemptID, d.VesselName, d.RowCount)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"received":%d}`, current)
	}
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:          count,
		InvalidSigs:    invalidSigs,
		LastDeliveries: lastDeliveries,
		Since:          since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
