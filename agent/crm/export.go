package crm

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "name", "email", "company", "interest", "lead_score", "status",
	"qualification_notes", "meeting_id", "meeting_time", "meeting_link",
	"source", "created_at", "updated_at",
}

// ExportCSV streams every lead to w, highest scores first.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	leads, err := s.List(ctx, "", 10000, 0)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, lead := range leads {
		record := []string{
			strconv.FormatInt(lead.ID, 10),
			lead.Name,
			lead.Email,
			lead.Company,
			lead.Interest,
			strconv.FormatFloat(lead.LeadScore, 'f', 1, 64),
			lead.Status,
			lead.QualificationNotes,
			lead.MeetingID,
			lead.MeetingTime,
			lead.MeetingLink,
			lead.Source,
			lead.CreatedAt.UTC().Format(time.RFC3339),
			lead.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(leads), nil
}
