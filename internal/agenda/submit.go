package agenda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tesivil/crmbot/internal/config"
)

// Submitter posts confirmed appointments to the scheduling back-end.
type Submitter struct {
	httpClient *http.Client
	log        *slog.Logger
	cfg        config.AgendaConfig
}

// NewSubmitter creates a scheduling back-end client.
func NewSubmitter(cfg config.AgendaConfig, log *slog.Logger) *Submitter {
	return &Submitter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With("component", "agenda_submit"),
		cfg:        cfg,
	}
}

type submitPayload struct {
	Cliente struct {
		Nombre         string   `json:"nombre"`
		Telefono       string   `json:"telefono"`
		Direccion      string   `json:"direccion"`
		GoogleMapsLink string   `json:"google_maps_link"`
		Latitud        *float64 `json:"latitud"`
		Longitud       *float64 `json:"longitud"`
	} `json:"cliente"`
	Caso struct {
		Tipo        string `json:"tipo"`
		Comentarios string `json:"comentarios"`
	} `json:"caso"`
	Cita struct {
		Fecha            string `json:"fecha"`
		Hora             string `json:"hora"`
		Duracion         string `json:"duracion"`
		TecnicoIDEA      int    `json:"tecnico_id_ea"`
		TecnicoIDExterno string `json:"tecnico_id_supabase"`
		NotasAdicionales string `json:"notas_adicionales"`
	} `json:"cita"`
}

// resolveTech maps the negotiated technician name to the id pair the
// back-end expects, by case-insensitive substring match.
func (s *Submitter) resolveTech(name string) config.Tech {
	lower := strings.ToLower(name)
	for _, t := range s.cfg.Technicians {
		if t.Match != "" && strings.Contains(lower, strings.ToLower(t.Match)) {
			return t
		}
	}
	return s.cfg.DefaultTech
}

// Submit posts one confirmed draft. The caller keeps the draft on error.
func (s *Submitter) Submit(ctx context.Context, draft *Draft) error {
	tech := s.resolveTech(draft.TechName)

	notes := draft.Notes
	if notes == "" {
		notes = "Sin notas"
	}
	if draft.Cost != nil {
		notes = fmt.Sprintf("%s | Costo acordado: $%.2f", notes, *draft.Cost)
	}

	var payload submitPayload
	payload.Cliente.Nombre = draft.ClientName
	payload.Cliente.Telefono = draft.ClientPhone
	payload.Cliente.Direccion = draft.Address
	payload.Cliente.GoogleMapsLink = draft.MapLink
	if draft.HasCoords {
		payload.Cliente.Latitud = &draft.Lat
		payload.Cliente.Longitud = &draft.Lng
	}
	payload.Caso.Tipo = "alto_consumo"
	payload.Caso.Comentarios = "Creado vía WhatsApp Bot.\nDetalles: " + notes
	payload.Cita.Fecha = draft.Date
	payload.Cita.Hora = draft.Time
	payload.Cita.Duracion = "1"
	payload.Cita.TecnicoIDEA = tech.EAID
	payload.Cita.TecnicoIDExterno = tech.ExternalID
	payload.Cita.NotasAdicionales = notes

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode appointment payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.SubmitURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-app-key", s.cfg.SubmitAppKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.log.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scheduling back-end returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	s.log.InfoContext(ctx, "Appointment submitted", "client", draft.ClientName, "date", draft.Date, "tech_ea_id", tech.EAID)
	return nil
}
