// Package ingest normalizes webhook deliveries from the WhatsApp
// gateway and routes each inbound message through deduplication,
// persistence, agenda interception, and the bot intent gate.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is a normalized inbound message ready for processing.
type Event struct {
	ExternalID  string
	PeerID      string
	DisplayName string
	Content     string
	Kind        string
	FromMe      bool
}

// Message kinds. Anything the bot cannot read becomes KindOther with a
// placeholder body so operators still see that something arrived.
const (
	KindText     = "TEXT"
	KindLocation = "LOCATION"
	KindOther    = "OTHER"
)

// Placeholder stored for non-text message bodies.
const mediaPlaceholder = "[Multimedia/Otros]"

// Normalization outcomes for deliveries that carry no processable message.
var (
	ErrIgnoredEvent = fmt.Errorf("event type not handled")
	ErrIgnoredPeer  = fmt.Errorf("group or broadcast peer")
	ErrNoMessage    = fmt.Errorf("delivery carries no message")
)

// envelope covers both delivery shapes the gateway produces: the event
// at the top level, or wrapped under "webhook" with an event list.
type envelope struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Webhook *struct {
		Events []string        `json:"events"`
		Data   json.RawMessage `json:"data"`
	} `json:"webhook"`
}

type upsertData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  *struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		LocationMessage *struct {
			DegreesLatitude  float64 `json:"degreesLatitude"`
			DegreesLongitude float64 `json:"degreesLongitude"`
		} `json:"locationMessage"`
	} `json:"message"`
}

// Normalize parses a raw webhook body into an Event. It returns one of
// the Err* sentinels for deliveries that are valid but not processable.
func Normalize(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse webhook body: %w", err)
	}

	event, data := env.Event, env.Data
	if env.Webhook != nil && len(env.Webhook.Events) > 0 {
		event, data = env.Webhook.Events[0], env.Webhook.Data
	}
	event = strings.ReplaceAll(strings.ToUpper(event), ".", "_")

	if event != "MESSAGES_UPSERT" {
		return nil, ErrIgnoredEvent
	}
	if len(data) == 0 {
		return nil, ErrNoMessage
	}

	var d upsertData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse message data: %w", err)
	}

	jid := d.Key.RemoteJID
	if strings.HasSuffix(jid, "@g.us") || strings.HasPrefix(jid, "status@broadcast") {
		return nil, ErrIgnoredPeer
	}
	if jid == "" || d.Key.ID == "" {
		return nil, ErrNoMessage
	}

	ev := &Event{
		ExternalID:  d.Key.ID,
		PeerID:      strings.TrimSuffix(jid, "@s.whatsapp.net"),
		DisplayName: d.PushName,
		FromMe:      d.Key.FromMe,
	}
	if ev.DisplayName == "" {
		if ev.FromMe {
			ev.DisplayName = "Agente"
		} else {
			ev.DisplayName = "Cliente"
		}
	}

	switch {
	case d.Message == nil:
		return nil, ErrNoMessage
	case d.Message.Conversation != "":
		ev.Kind = KindText
		ev.Content = d.Message.Conversation
	case d.Message.ExtendedTextMessage != nil && d.Message.ExtendedTextMessage.Text != "":
		ev.Kind = KindText
		ev.Content = d.Message.ExtendedTextMessage.Text
	case d.Message.LocationMessage != nil:
		ev.Kind = KindLocation
		ev.Content = fmt.Sprintf("@%f,%f", d.Message.LocationMessage.DegreesLatitude, d.Message.LocationMessage.DegreesLongitude)
	default:
		ev.Kind = KindOther
		ev.Content = mediaPlaceholder
	}

	return ev, nil
}
