// Package inspect renders the lifecycle of one receipt: how the inbound
// request was handled and every outbound delivery it spawned.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/hookline/internal/queue"
	"github.com/mattjoyce/hookline/internal/storage"
)

// ReceiptReader loads receipts.
type ReceiptReader interface {
	Get(ctx context.Context, id string) (*storage.Receipt, error)
}

// DeliveryReader loads deliveries and their attempt history.
type DeliveryReader interface {
	ByReceipt(ctx context.Context, receiptID string) ([]*queue.Delivery, error)
	History(ctx context.Context, id string) ([]queue.Attempt, error)
}

// Report is the structured JSON representation of a receipt report.
type Report struct {
	Receipt    *storage.Receipt `json:"receipt"`
	Deliveries []Delivery       `json:"deliveries"`
}

// Delivery is one outbound delivery with its attempt log.
type Delivery struct {
	*queue.Delivery
	History []queue.Attempt `json:"history"`
}

// BuildReport renders a terminal-friendly report for a receipt.
func BuildReport(ctx context.Context, receipts ReceiptReader, deliveries DeliveryReader, receiptID string) (string, error) {
	report, err := gatherReportData(ctx, receipts, deliveries, receiptID)
	if err != nil {
		return "", err
	}

	r := report.Receipt
	var out strings.Builder
	fmt.Fprintf(&out, "Receipt Report\n")
	fmt.Fprintf(&out, "Receipt ID  : %s\n", r.ID)
	fmt.Fprintf(&out, "Request ID  : %s\n", renderUnset(r.RequestID, "<none>"))
	fmt.Fprintf(&out, "Receiver    : %s\n", renderReceiver(r))
	fmt.Fprintf(&out, "Method      : %s\n", r.Method)
	fmt.Fprintf(&out, "Events      : %s\n", renderUnset(strings.Join(r.Events, ", "), "<none>"))
	fmt.Fprintf(&out, "Outcome     : %s (%d) at %s\n", r.Outcome, r.Status, r.Stage)
	if r.Reason != "" {
		fmt.Fprintf(&out, "Reason      : %s\n", r.Reason)
	}
	fmt.Fprintf(&out, "Body        : %d bytes, blake3 %s\n", r.BodySize, r.BodyDigest)
	fmt.Fprintf(&out, "Remote      : %s\n", renderUnset(r.RemoteAddr, "<unknown>"))
	fmt.Fprintf(&out, "Received    : %s\n", r.ReceivedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&out, "Deliveries  : %d\n", len(report.Deliveries))
	fmt.Fprintf(&out, "\n")

	for i, d := range report.Deliveries {
		fmt.Fprintf(&out, "[%d] %s -> %s\n", i+1, d.ID, d.Target)
		fmt.Fprintf(&out, "    status   : %s (attempt %d/%d)\n", d.Status, d.Attempt, d.MaxAttempts)
		if !d.Status.Terminal() {
			fmt.Fprintf(&out, "    next_at  : %s\n", d.NextAt.UTC().Format(time.RFC3339))
		}
		if d.LastError != "" {
			fmt.Fprintf(&out, "    error    : %s\n", d.LastError)
		}
		if len(d.History) == 0 {
			fmt.Fprintf(&out, "    history  : <none>\n")
		} else {
			fmt.Fprintf(&out, "    history  :\n")
			for _, a := range d.History {
				line := fmt.Sprintf("      #%d %s", a.Attempt, a.Status)
				if a.HTTPStatus != 0 {
					line += fmt.Sprintf(" HTTP %d", a.HTTPStatus)
				}
				if a.Error != "" {
					line += " " + a.Error
				}
				fmt.Fprintf(&out, "%s\n", line)
			}
		}
		fmt.Fprintf(&out, "    payload  :\n")
		for _, line := range strings.Split(strings.TrimSpace(prettyJSON(d.Payload)), "\n") {
			fmt.Fprintf(&out, "      %s\n", line)
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, receipts ReceiptReader, deliveries DeliveryReader, receiptID string) (string, error) {
	report, err := gatherReportData(ctx, receipts, deliveries, receiptID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, receipts ReceiptReader, deliveries DeliveryReader, receiptID string) (*Report, error) {
	if strings.TrimSpace(receiptID) == "" {
		return nil, fmt.Errorf("receipt_id is required")
	}

	r, err := receipts.Get(ctx, receiptID)
	if err != nil {
		return nil, fmt.Errorf("receipt %q: %w", receiptID, err)
	}

	ds, err := deliveries.ByReceipt(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	report := &Report{Receipt: r, Deliveries: make([]Delivery, 0, len(ds))}
	for _, d := range ds {
		history, err := deliveries.History(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("load history for %s: %w", d.ID, err)
		}
		if history == nil {
			history = []queue.Attempt{}
		}
		report.Deliveries = append(report.Deliveries, Delivery{Delivery: d, History: history})
	}
	return report, nil
}

func renderReceiver(r *storage.Receipt) string {
	if r.ReceiverID == "" {
		return r.Receiver
	}
	return r.Receiver + "/" + r.ReceiverID
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
