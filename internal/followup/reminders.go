package followup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tesivil/crmbot/internal/database"
)

// Reminder and follow-up scripts, per intent.
const (
	reminderTomorrowMsg = "Hola! 👋 Te recordamos que el día de *mañana* tenemos agendada tu revisión técnica."
	reminderTodayMsg    = "Buen día! ☀️ Te recordamos que tu visita es el día de *hoy a las %s*."

	followUpNoReplyMsg = "Hola, buen día. 👋 Notamos que quedó pendiente tu reporte. ¿Aún tienes problemas con tu instalación o prefieres que cerremos tu expediente por ahora? Quedamos atentos."
	followUpSoftMsg    = "Hola! Solo para dar seguimiento a lo que platicamos previamente. ¿Pudiste revisarlo o tienes alguna duda adicional en la que te pueda apoyar?"
	followUpFutureMsg  = "Hola! ⚡ Como acordamos, te contacto para retomar el tema de tu revisión eléctrica. ¿Te gustaría que agendemos una visita para esta semana?"
)

// newRemindersTask creates the reminder dispatcher: appointment
// reminders for tomorrow and today, then the due dynamic follow-ups.
func newRemindersTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", TaskReminders)

	return func(ctx context.Context) error {
		now := time.Now().UTC()

		if err := sendAppointmentReminders(ctx, deps, log, now); err != nil {
			log.ErrorContext(ctx, "Appointment reminders failed", "error", err)
		}
		if err := sendDueFollowUps(ctx, deps, log, now); err != nil {
			log.ErrorContext(ctx, "Due follow-ups failed", "error", err)
		}
		return nil
	}
}

func sendAppointmentReminders(ctx context.Context, deps TaskDeps, log *slog.Logger, now time.Time) error {
	tomorrow, err := deps.Store.ListAppointmentsOnDay(ctx, now.AddDate(0, 0, 1), deps.Location,
		[]string{database.AppointmentPending})
	if err != nil {
		return fmt.Errorf("failed to list tomorrow's appointments: %w", err)
	}
	for _, conv := range tomorrow {
		sentID := deps.Sender.SendText(ctx, conv.PeerID, reminderTomorrowMsg, 0)
		if sentID == "" {
			continue
		}
		if err := deps.Store.MarkAppointmentReminded(ctx, conv.ID, database.AppointmentRemindedTomorrow, sentID, false); err != nil {
			log.ErrorContext(ctx, "Failed to mark reminder", "conversation_id", conv.ID, "error", err)
		}
		log.InfoContext(ctx, "Tomorrow reminder sent", "conversation_id", conv.ID)
	}

	today, err := deps.Store.ListAppointmentsOnDay(ctx, now, deps.Location,
		[]string{database.AppointmentPending, database.AppointmentRemindedTomorrow})
	if err != nil {
		return fmt.Errorf("failed to list today's appointments: %w", err)
	}
	for _, conv := range today {
		if !conv.AppointmentDate.Valid {
			continue
		}
		timeStr := conv.AppointmentDate.Time.In(deps.Location).Format("03:04 PM")
		sentID := deps.Sender.SendText(ctx, conv.PeerID, fmt.Sprintf(reminderTodayMsg, timeStr), 0)
		if sentID == "" {
			continue
		}
		// The visit is today, the technician takes over the chat.
		if err := deps.Store.MarkAppointmentReminded(ctx, conv.ID, database.AppointmentRemindedToday, sentID, true); err != nil {
			log.ErrorContext(ctx, "Failed to mark reminder", "conversation_id", conv.ID, "error", err)
		}
		log.InfoContext(ctx, "Today reminder sent", "conversation_id", conv.ID)
	}
	return nil
}

func sendDueFollowUps(ctx context.Context, deps TaskDeps, log *slog.Logger, now time.Time) error {
	due, err := deps.Store.ListDueFollowUps(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due follow-ups: %w", err)
	}

	for _, conv := range due {
		// Just-in-time guard: the world may have moved on since the
		// nightly analysis scheduled this send.
		last, err := deps.Store.LastMessage(ctx, conv.ID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to load last message", "conversation_id", conv.ID, "error", err)
			continue
		}
		if last != nil {
			if last.SenderType != database.SenderClient {
				// Someone on our side already wrote, a nudge now would
				// talk over them.
				log.InfoContext(ctx, "Cancelling follow-up, human already intervened", "conversation_id", conv.ID)
				if err := deps.Store.CancelFollowUp(ctx, conv.ID); err != nil {
					log.ErrorContext(ctx, "Failed to cancel follow-up", "conversation_id", conv.ID, "error", err)
				}
				continue
			}

			// The client spoke after the nudge was scheduled, or spoke so
			// recently the conversation is still live. Either way the
			// scheduled nudge is stale and must never fire.
			reEngaged := conv.FollowUpDate.Valid && last.CreatedAt.After(conv.FollowUpDate.Time)
			withinGrace := deps.Config.FollowUpMinAge > 0 && now.Sub(last.CreatedAt) < deps.Config.FollowUpMinAge
			if reEngaged || withinGrace {
				log.InfoContext(ctx, "Cancelling follow-up, peer re-engaged", "conversation_id", conv.ID)
				if err := deps.Store.CancelFollowUp(ctx, conv.ID); err != nil {
					log.ErrorContext(ctx, "Failed to cancel follow-up", "conversation_id", conv.ID, "error", err)
				}
				continue
			}
		}

		var message string
		switch conv.Intent {
		case database.IntentNoReply:
			message = followUpNoReplyMsg
		case database.IntentSoftFollowUp:
			message = followUpSoftMsg
		case database.IntentFutureContact:
			message = followUpFutureMsg
		default:
			continue
		}

		sentID := deps.Sender.SendText(ctx, conv.PeerID, message, 0)
		if sentID == "" {
			continue
		}
		if err := deps.Store.MarkFollowUpSent(ctx, conv.ID, sentID); err != nil {
			log.ErrorContext(ctx, "Failed to mark follow-up sent", "conversation_id", conv.ID, "error", err)
		}
		log.InfoContext(ctx, "Follow-up sent", "conversation_id", conv.ID, "intent", conv.Intent)
	}
	return nil
}
