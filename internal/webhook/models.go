package webhook

import "encoding/json"

// Payload is the envelope of every Graph webhook delivery.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Time    int64    `json:"time,omitempty"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries either a lead-ads change or a WhatsApp messages change.
type ChangeValue struct {
	// lead ads
	LeadgenID   FlexibleID `json:"leadgen_id,omitempty"`
	FormID      FlexibleID `json:"form_id,omitempty"`
	PageID      FlexibleID `json:"page_id,omitempty"`
	CreatedTime int64      `json:"created_time,omitempty"`

	// whatsapp
	MessagingProduct string    `json:"messaging_product,omitempty"`
	Metadata         *Metadata `json:"metadata,omitempty"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type Message struct {
	From      string          `json:"from"`
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Text      *TextBody       `json:"text,omitempty"`
	Context   *MessageContext `json:"context,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

// MessageContext is set when the message quotes (replies to) an earlier message.
type MessageContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

type Status struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Timestamp   string        `json:"timestamp"`
	RecipientID string        `json:"recipient_id"`
	Errors      []StatusError `json:"errors,omitempty"`
}

type StatusError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	ErrorData struct {
		Details string `json:"details"`
	} `json:"error_data"`
}

// FlexibleID accepts ids sent either as JSON strings or as numbers.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}
