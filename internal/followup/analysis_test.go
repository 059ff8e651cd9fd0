package followup

import (
	"testing"
	"time"

	"github.com/tesivil/crmbot/internal/database"
	"github.com/tesivil/crmbot/internal/gemini"
)

func TestComputeFollowUpDate(t *testing.T) {
	t.Parallel()

	// A Thursday.
	now := time.Date(2026, 9, 3, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		analysis *gemini.FollowUpAnalysis
		want     *time.Time
	}{
		{
			name:     "none schedules nothing",
			analysis: &gemini.FollowUpAnalysis{Intent: database.IntentNone},
			want:     nil,
		},
		{
			name:     "soft follow-up has no scheduled send",
			analysis: &gemini.FollowUpAnalysis{Intent: database.IntentSoftFollowUp},
			want:     nil,
		},
		{
			name: "future appointment date kept as-is",
			analysis: &gemini.FollowUpAnalysis{
				Intent:             database.IntentAppointment,
				AppointmentDateISO: "2026-09-10T16:00:00Z",
			},
			want: timePtr(time.Date(2026, 9, 10, 16, 0, 0, 0, time.UTC)),
		},
		{
			name: "past appointment date pushed to tomorrow evening",
			analysis: &gemini.FollowUpAnalysis{
				Intent:             database.IntentAppointment,
				AppointmentDateISO: "2026-08-30T16:00:00Z",
			},
			want: timePtr(time.Date(2026, 9, 4, 17, 0, 0, 0, time.UTC)),
		},
		{
			name: "future contact falls back to follow-up field",
			analysis: &gemini.FollowUpAnalysis{
				Intent:          database.IntentFutureContact,
				FollowUpDateISO: "2026-09-15T17:00:00Z",
			},
			want: timePtr(time.Date(2026, 9, 15, 17, 0, 0, 0, time.UTC)),
		},
		{
			name:     "appointment without a date schedules nothing",
			analysis: &gemini.FollowUpAnalysis{Intent: database.IntentAppointment},
			want:     nil,
		},
		{
			name: "unparseable date schedules nothing",
			analysis: &gemini.FollowUpAnalysis{
				Intent:             database.IntentAppointment,
				AppointmentDateISO: "mañana a las 4",
			},
			want: nil,
		},
		{
			name:     "no reply lands tomorrow morning",
			analysis: &gemini.FollowUpAnalysis{Intent: database.IntentNoReply},
			want:     timePtr(time.Date(2026, 9, 4, 15, 0, 0, 0, time.UTC)),
		},
		{
			// Three days after Thursday is Sunday, pushed to Monday.
			name:     "quote follow-up skips Sunday",
			analysis: &gemini.FollowUpAnalysis{Intent: database.IntentQuoteFollowUp},
			want:     timePtr(time.Date(2026, 9, 7, 17, 0, 0, 0, time.UTC)),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ComputeFollowUpDate(tc.analysis, now)
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("ComputeFollowUpDate() = %v, want %v", got, tc.want)
			}
			if got != nil && !got.Equal(*tc.want) {
				t.Errorf("ComputeFollowUpDate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestComputeFollowUpDateQuotePlainWeekday(t *testing.T) {
	t.Parallel()

	// A Monday; three days out is Thursday, no skip applies.
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)

	got := ComputeFollowUpDate(&gemini.FollowUpAnalysis{Intent: database.IntentQuoteFollowUp}, now)
	if got == nil {
		t.Fatal("ComputeFollowUpDate() = nil, want a date")
	}
	want := time.Date(2026, 9, 10, 17, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ComputeFollowUpDate() = %v, want %v", got, want)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
