package webhook

import (
	"strconv"
	"strings"
	"time"

	"leadrelay/internal/delivery"
	"leadrelay/internal/relay"
)

// Batch is the work found in one webhook delivery, in payload order.
type Batch struct {
	LeadgenIDs []string
	Messages   []relay.InboundMessage
	Statuses   []delivery.StatusReport
}

// Empty reports whether the delivery carried nothing to process.
func (b Batch) Empty() bool {
	return len(b.LeadgenIDs) == 0 && len(b.Messages) == 0 && len(b.Statuses) == 0
}

// Extract flattens every entry and change of p into units of work.
func Extract(p Payload) Batch {
	var b Batch
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			if id := strings.TrimSpace(string(v.LeadgenID)); id != "" {
				b.LeadgenIDs = append(b.LeadgenIDs, id)
			}

			names := profileNames(v.Contacts)
			for _, m := range v.Messages {
				b.Messages = append(b.Messages, toInbound(m, names))
			}
			for _, s := range v.Statuses {
				b.Statuses = append(b.Statuses, toStatusReport(s))
			}
		}
	}
	return b
}

func profileNames(contacts []Contact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.WaID != "" && c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}

func toInbound(m Message, names map[string]string) relay.InboundMessage {
	msg := relay.InboundMessage{
		ID:          strings.TrimSpace(m.ID),
		From:        strings.TrimSpace(m.From),
		Type:        strings.ToLower(strings.TrimSpace(m.Type)),
		ProfileName: names[m.From],
		Timestamp:   parseUnix(m.Timestamp),
	}
	if m.Text != nil {
		msg.Text = m.Text.Body
	}
	if m.Context != nil {
		msg.ContextID = strings.TrimSpace(m.Context.ID)
	}
	return msg
}

func toStatusReport(s Status) delivery.StatusReport {
	report := delivery.StatusReport{
		MessageID:   strings.TrimSpace(s.ID),
		Status:      strings.ToLower(strings.TrimSpace(s.Status)),
		RecipientID: strings.TrimSpace(s.RecipientID),
		Timestamp:   parseUnix(s.Timestamp),
	}
	for _, e := range s.Errors {
		report.Errors = append(report.Errors, delivery.StatusError{
			Code:    e.Code,
			Title:   e.Title,
			Message: e.Message,
			Details: e.ErrorData.Details,
		})
	}
	return report
}

// parseUnix reads the seconds-since-epoch strings the API uses for timestamps.
func parseUnix(raw string) time.Time {
	sec, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
