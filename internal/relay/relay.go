// Package relay bridges WhatsApp conversations between the owner and leads.
// User messages reach the owner as notifications; owner replies quoting a
// notification are forwarded to the user it was about.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"leadrelay/internal/relay/repository"
	"leadrelay/platform/config"
	"leadrelay/platform/logger"
	"leadrelay/platform/metrics"
	"leadrelay/platform/phone"
)

// MessageTypeText is the only inbound type that is relayed.
const MessageTypeText = "text"

const defaultExcerptRunes = 200

// Route is the outcome of HandleMessage.
type Route string

const (
	RouteDuplicate  Route = "duplicate"
	RouteIgnored    Route = "ignored"
	RouteToOwner    Route = "user_to_owner"
	RouteToUser     Route = "owner_to_user"
	RouteNoContext  Route = "owner_no_context"
	RouteNoMapping  Route = "owner_unknown_context"
	RouteBadSender  Route = "invalid_sender"
	RouteSendFailed Route = "send_failed"
)

// InboundMessage is one message received from the messaging webhook.
type InboundMessage struct {
	ID          string
	From        string
	Type        string
	Text        string
	ContextID   string
	ProfileName string
	Timestamp   time.Time
}

// Messenger sends outbound WhatsApp messages and returns their ids.
type Messenger interface {
	SendTemplate(ctx context.Context, to string, spec config.TemplateSpec, params ...string) (string, error)
	SendText(ctx context.Context, to, body string) (string, error)
}

// Mappings persists notification-to-user links and inbound dedup markers.
type Mappings interface {
	SaveMapping(ctx context.Context, outboundID, userPhone string) error
	LookupMapping(ctx context.Context, outboundID string) (string, error)
	MarkSeen(ctx context.Context, inboundID string) (bool, error)
}

// Contacts exposes the per-phone records shared with the lead lifecycle.
type Contacts interface {
	TouchAnswered(ctx context.Context, phone string, at time.Time) error
	LastContact(ctx context.Context, phone string) (time.Time, bool, error)
	ContactName(ctx context.Context, phone string) (string, error)
}

// Engine routes inbound messages. It keeps no state between calls.
type Engine struct {
	messenger  Messenger
	mappings   Mappings
	contacts   Contacts
	cfg        config.RelayConfig
	metrics    *metrics.Metrics
	log        *logger.Logger
	now        func() time.Time
	normalizer phone.Normalizer
	owner      string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records route counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(messenger Messenger, mappings Mappings, contacts Contacts, cfg config.RelayConfig, log *logger.Logger, opts ...Option) *Engine {
	normalizer := phone.NewNormalizer(cfg.GetDefaultCountryCode(), cfg.GetMobilePrefixes())
	e := &Engine{
		messenger:  messenger,
		mappings:   mappings,
		contacts:   contacts,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		normalizer: normalizer,
		owner:      normalizer.Normalize(cfg.GetOwnerPhone()),
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage deduplicates msg and forwards it in the right direction.
// Errors are returned only for store failures; dropped messages yield a Route.
func (e *Engine) HandleMessage(ctx context.Context, msg InboundMessage) (Route, error) {
	route, err := e.handle(ctx, msg)
	e.metrics.RelayRoute(string(route))
	return route, err
}

func (e *Engine) handle(ctx context.Context, msg InboundMessage) (Route, error) {
	log := e.log.WithContext(ctx).With("message_id", msg.ID)

	if msg.ID != "" {
		fresh, err := e.mappings.MarkSeen(ctx, msg.ID)
		if err != nil {
			return "", fmt.Errorf("mark inbound seen: %w", err)
		}
		if !fresh {
			log.Debug("duplicate inbound message")
			return RouteDuplicate, nil
		}
	}

	if msg.Type != MessageTypeText || strings.TrimSpace(msg.Text) == "" {
		log.Info("non-text message ignored", "type", msg.Type)
		return RouteIgnored, nil
	}

	from := e.normalizer.Normalize(senderPhone(msg.From))
	if from == "" {
		log.Warn("inbound message from invalid sender", "from", msg.From)
		return RouteBadSender, nil
	}

	if from == e.owner {
		return e.forwardToUser(ctx, msg)
	}
	return e.forwardToOwner(ctx, from, msg)
}

// forwardToOwner notifies the owner and links the notification to the sender.
func (e *Engine) forwardToOwner(ctx context.Context, from string, msg InboundMessage) (Route, error) {
	log := e.log.WithContext(context.WithValue(ctx, logger.PhoneKey, from))
	now := e.now()

	// the user wrote first: this counts as engagement even if the owner never answers
	if err := e.contacts.TouchAnswered(ctx, from, now); err != nil {
		return "", fmt.Errorf("touch answered: %w", err)
	}

	name := e.displayName(ctx, from, msg.ProfileName)
	id, err := e.messenger.SendTemplate(ctx, e.owner, e.cfg.Template(config.TemplateOwnerMessage),
		name, from, Excerpt(msg.Text, e.excerptRunes()))
	e.metrics.MessageSent(config.TemplateOwnerMessage, err)
	if err != nil {
		log.Error("owner notification failed", "error", err)
		return RouteSendFailed, nil
	}

	if err := e.mappings.SaveMapping(ctx, id, from); err != nil {
		return "", fmt.Errorf("save relay mapping: %w", err)
	}
	log.Info("message relayed to owner", "inbound_id", msg.ID, "notification_id", id)
	return RouteToOwner, nil
}

// forwardToUser relays an owner reply to the user behind the quoted notification.
func (e *Engine) forwardToUser(ctx context.Context, msg InboundMessage) (Route, error) {
	log := e.log.WithContext(ctx)
	if msg.ContextID == "" {
		log.Info("owner message without reply context dropped", "message_id", msg.ID)
		return RouteNoContext, nil
	}

	to, err := e.mappings.LookupMapping(ctx, msg.ContextID)
	if errors.Is(err, repository.ErrMappingNotFound) {
		log.Info("owner reply to unknown notification dropped", "context_id", msg.ContextID)
		return RouteNoMapping, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup relay mapping: %w", err)
	}
	if to = e.normalizer.Normalize(to); to == "" {
		log.Warn("relay mapping holds invalid phone", "context_id", msg.ContextID)
		return RouteNoMapping, nil
	}
	log = e.log.WithContext(context.WithValue(ctx, logger.PhoneKey, to))
	now := e.now()

	reopen, err := e.sessionClosed(ctx, to, now)
	if err != nil {
		return "", err
	}
	if reopen {
		_, err := e.messenger.SendTemplate(ctx, to, e.cfg.Template(config.TemplateSessionReopen))
		e.metrics.MessageSent(config.TemplateSessionReopen, err)
		if err != nil {
			log.Error("session reopen template failed", "error", err)
			return RouteSendFailed, nil
		}
		log.Info("session reopened")
	}

	id, err := e.messenger.SendText(ctx, to, msg.Text)
	e.metrics.MessageSent("owner_reply", err)
	if err != nil {
		log.Error("owner reply not delivered", "error", err)
		return RouteSendFailed, nil
	}

	if err := e.contacts.TouchAnswered(ctx, to, now); err != nil {
		return "", fmt.Errorf("touch answered: %w", err)
	}
	log.Info("owner reply relayed", "context_id", msg.ContextID, "message_id", id, "reopened", reopen)
	return RouteToUser, nil
}

// sessionClosed reports whether free text to phone needs a template first.
// A phone with no recorded contact has no open session.
func (e *Engine) sessionClosed(ctx context.Context, phone string, now time.Time) (bool, error) {
	last, ok, err := e.contacts.LastContact(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("load last contact: %w", err)
	}
	if !ok {
		return true, nil
	}
	return now.Sub(last) > e.cfg.GetSessionWindow(), nil
}

func (e *Engine) displayName(ctx context.Context, phone, profileName string) string {
	name, err := e.contacts.ContactName(ctx, phone)
	if err != nil {
		e.log.Debug("contact name lookup failed", "error", err)
	}
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if profileName = strings.TrimSpace(profileName); profileName != "" {
		return profileName
	}
	return phone
}

func (e *Engine) excerptRunes() int {
	if n := e.cfg.GetExcerptMaxRunes(); n > 0 {
		return n
	}
	return defaultExcerptRunes
}

// senderPhone restores the + the webhook omits from wa_id values.
func senderPhone(from string) string {
	from = strings.TrimSpace(from)
	if from == "" || strings.HasPrefix(from, "+") {
		return from
	}
	return "+" + from
}

// Excerpt shortens text to at most max runes, marking the cut with an ellipsis.
// Line breaks are flattened because template parameters reject them.
func Excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	if max == 1 {
		return "…"
	}
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}
