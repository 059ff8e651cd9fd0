package agenda

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/tesivil/crmbot/internal/config"
	"github.com/tesivil/crmbot/internal/gemini"
	"github.com/tesivil/crmbot/internal/geocode"
	"github.com/tesivil/crmbot/internal/whatsapp"
)

// Forwarded WhatsApp chats carry bracketed timestamps like "[12/5".
var forwardTimestampPattern = regexp.MustCompile(`\[\d{1,2}/\d{1,2}`)

const locationKind = "LOCATION"

// Protocol drives appointment negotiation with the operator. All
// replies go back into the chat the operator is working in; typing
// simulation is skipped, this is a console, not a client.
type Protocol struct {
	oracle    gemini.Client
	geocoder  geocode.Geocoder
	sender    whatsapp.Sender
	submitter *Submitter
	drafts    *Drafts
	log       *slog.Logger
	cfg       config.AgendaConfig
	loc       *time.Location
}

// NewProtocol wires the agenda protocol.
func NewProtocol(oracle gemini.Client, geocoder geocode.Geocoder, sender whatsapp.Sender, submitter *Submitter, cfg config.AgendaConfig, loc *time.Location, log *slog.Logger) *Protocol {
	return &Protocol{
		oracle:    oracle,
		geocoder:  geocoder,
		sender:    sender,
		submitter: submitter,
		drafts:    NewDrafts(),
		log:       log.With("component", "agenda"),
		cfg:       cfg,
		loc:       loc,
	}
}

// Drafts exposes the registry, used by tests and diagnostics.
func (p *Protocol) Drafts() *Drafts { return p.drafts }

// HandleMessage runs one operator message through the protocol and
// reports whether it was consumed. Unconsumed messages are ordinary
// chat traffic.
func (p *Protocol) HandleMessage(ctx context.Context, peerID, kind, text string) bool {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if draft := p.drafts.Get(peerID); draft != nil {
		if handled := p.handleCorrection(ctx, peerID, draft, kind, trimmed, lower); handled {
			return true
		}

		if strings.ToUpper(trimmed) == p.cfg.SubmitKeyword && draft.Step == StepReadyToSubmit {
			p.submit(ctx, peerID, draft)
			return true
		}
	}

	if p.isStartTrigger(trimmed, lower) {
		p.startDraft(ctx, peerID, trimmed)
		return true
	}

	return false
}

func (p *Protocol) isStartTrigger(trimmed, lower string) bool {
	if strings.HasPrefix(lower, p.cfg.CommandPrefix) {
		return true
	}
	if forwardTimestampPattern.MatchString(trimmed) {
		return true
	}
	for _, marker := range p.cfg.ForwardMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	return false
}

// handleCorrection applies one correction to an existing draft. It
// reports whether the message was consumed.
func (p *Protocol) handleCorrection(ctx context.Context, peerID string, draft *Draft, kind, trimmed, lower string) bool {
	for _, kw := range p.cfg.CancelKeywords {
		if lower == strings.ToLower(kw) {
			p.drafts.Delete(peerID)
			p.reply(ctx, peerID, "🗑️ Borrador eliminado.")
			return true
		}
	}

	if strings.HasPrefix(lower, "/fecha ") {
		parts := strings.Fields(trimmed)
		if len(parts) >= 3 {
			draft.Date, draft.Time = parts[1], parts[2]
			p.drafts.Put(peerID, draft)
			p.reply(ctx, peerID, fmt.Sprintf("📅 *Fecha Actualizada* a: %s %s.\n¿Todo correcto? Responde *SI*.", draft.Date, draft.Time))
			return true
		}
		p.reply(ctx, peerID, "⚠️ Formato incorrecto. Usa: /fecha YYYY-MM-DD HH:mm")
		return true
	}

	if strings.HasPrefix(lower, "/tecnico ") {
		name := strings.TrimSpace(trimmed[len("/tecnico "):])
		if name != "" {
			draft.TechName = name
			p.drafts.Put(peerID, draft)
			p.reply(ctx, peerID, fmt.Sprintf("👷 *Técnico Actualizado* a: *%s*.\n¿Todo correcto? Responde *SI*.", name))
			return true
		}
		p.reply(ctx, peerID, "⚠️ Debes escribir el nombre. Ejemplo: /tecnico Juan Pérez")
		return true
	}

	// Location corrections: a shared pin, a maps link, or a retyped
	// street address.
	switch {
	case kind == locationKind:
		if lat, lng, ok := ExtractCoords(trimmed); ok {
			p.applyCoords(ctx, peerID, draft, lat, lng, labelSharedLocation, false)
			return true
		}

	case strings.Contains(lower, "http") && strings.Contains(lower, "maps"):
		if lat, lng, ok := ExtractCoords(trimmed); ok {
			// The operator's own link goes to the technician verbatim.
			draft.MapLink = trimmed
			p.applyCoords(ctx, peerID, draft, lat, lng, labelLinkLocation, true)
			return true
		}

	case len(trimmed) > 5 && lower != p.cfg.ConfirmKeyword && !strings.HasPrefix(trimmed, "/"):
		res, err := p.geocoder.Geocode(ctx, trimmed)
		if err != nil {
			p.log.ErrorContext(ctx, "Geocoding failed during correction", "error", err)
		}
		if res != nil {
			draft.AddressComplement = ""
			p.applyCoords(ctx, peerID, draft, res.Lat, res.Lng, res.FormattedAddress, false)
			return true
		}
		draft.Address = trimmed
		p.drafts.Put(peerID, draft)
		p.reply(ctx, peerID, fmt.Sprintf("⚠️ Sigo sin encontrar %q en el mapa.\nPor favor envía la *UBICACIÓN* (el clip 📎) para ser exactos.", trimmed))
		return true
	}

	if lower == p.cfg.ConfirmKeyword && draft.Step == StepAwaitingConfirmation {
		draft.Step = StepReadyToSubmit
		p.drafts.Put(peerID, draft)
		p.submit(ctx, peerID, draft)
		return true
	}

	return false
}

func (p *Protocol) applyCoords(ctx context.Context, peerID string, draft *Draft, lat, lng float64, address string, keepLink bool) {
	draft.Lat, draft.Lng = lat, lng
	draft.HasCoords = true
	if address != "" {
		draft.Address = address
	}
	if !keepLink {
		draft.MapLink = NavigationLink(lat, lng, address)
	}
	p.drafts.Put(peerID, draft)
	p.reply(ctx, peerID, fmt.Sprintf("✅ Ubicación GPS detectada (%f, %f).\nResponde *SI* para finalizar.", lat, lng))
}

func (p *Protocol) startDraft(ctx context.Context, peerID, chatText string) {
	extraction, err := p.oracle.ExtractAgendaDraft(ctx, chatText, time.Now().In(p.loc))
	if err != nil {
		p.log.ErrorContext(ctx, "Draft extraction failed", "peer", peerID, "error", err)
		p.reply(ctx, peerID, "❌ No pude entender los datos del cliente. Intenta ser más claro.")
		return
	}

	draft := &Draft{
		ClientName:        extraction.ClientName,
		ClientPhone:       extraction.ClientPhone,
		Address:           extraction.SearchableAddress,
		AddressComplement: extraction.AddressComplement,
		Date:              extraction.Date,
		Time:              extraction.Time,
		TechName:          extraction.TechName,
		Cost:              extraction.Cost,
		Notes:             extraction.Notes,
		Step:              StepAwaitingConfirmation,
	}
	if draft.TechName == "" {
		draft.TechName = p.cfg.DefaultTechName
	}

	geoNote := "⚠️ No pude localizar las coordenadas. Intenta enviar la ubicación (clip)."
	if res, geoErr := p.geocoder.Geocode(ctx, extraction.SearchableAddress); geoErr != nil {
		p.log.ErrorContext(ctx, "Geocoding failed during draft start", "error", geoErr)
	} else if res != nil {
		draft.Lat, draft.Lng = res.Lat, res.Lng
		draft.HasCoords = true
		draft.Address = res.FormattedAddress
		geoNote = "✅ Coordenadas GPS localizadas."
	}

	fullAddress := strings.TrimSpace(draft.Address + ". " + draft.AddressComplement)
	draft.Address = fullAddress
	draft.MapLink = NavigationLink(draft.Lat, draft.Lng, fullAddress)
	p.drafts.Put(peerID, draft)

	p.reply(ctx, peerID,
		"📍 *Verificación de Agenda*\n\n"+
			fmt.Sprintf("👤 Cliente: %s\n", draft.ClientName)+
			fmt.Sprintf("👷 Técnico: *%s*\n", draft.TechName)+
			fmt.Sprintf("📅 Fecha: %s a las %s\n", draft.Date, draft.Time)+
			fmt.Sprintf("🏠 Dirección: %q\n", fullAddress)+
			fmt.Sprintf("🌐 GPS: %s\n", geoNote)+
			fmt.Sprintf("🗺️ Mapa: %s\n\n", draft.MapLink)+
			"👉 *ACCIONES:*\n"+
			"1. Responde *SI* para confirmar.\n"+
			"2. Corregir fecha: */fecha YYYY-MM-DD HH:mm*\n"+
			"3. Corregir Técnico: */tecnico Nombre*\n"+
			"4. Corregir Dir: Envía *Ubicación* (clip) o escribe calle.\n"+
			"5. Cancelar: *RESET*")
}

func (p *Protocol) submit(ctx context.Context, peerID string, draft *Draft) {
	p.reply(ctx, peerID, "🚀 Enviando datos al sistema de agenda...")

	if err := p.submitter.Submit(ctx, draft); err != nil {
		// The draft survives a failed submit so the operator can retry.
		p.log.ErrorContext(ctx, "Appointment submit failed", "peer", peerID, "error", err)
		p.reply(ctx, peerID, fmt.Sprintf("❌ Error técnico al guardar: %v", err))
		return
	}

	name := draft.ClientName
	if name == "" {
		name = "Cliente"
	}
	p.reply(ctx, peerID, fmt.Sprintf("✅ ¡PROCESO COMPLETADO!\nDatos enviados y agendados para: %s", name))
	p.drafts.Delete(peerID)
}

func (p *Protocol) reply(ctx context.Context, peerID, text string) {
	p.sender.SendText(ctx, peerID, text, -1)
}
