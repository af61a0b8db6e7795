package email

import (
	"fmt"
	"strings"
)

const (
	subjectNewLead          = "New lead"
	subjectNewLeadFmt       = "New lead: %s"
	subjectDeliveryAlertFmt = "WhatsApp delivery problem: %s"
)

// subjectFor prefers the contact name and falls back to the phone.
func subjectFor(format, name, phone string) string {
	who := strings.TrimSpace(name)
	if who == "" {
		who = phone
	}
	return fmt.Sprintf(format, who)
}
