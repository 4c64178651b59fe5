package store

import (
	"database/sql"
	"fmt"

	"github.com/Smoke-IT/NurseTalk/internal/models"
)

// scanConversationLog scans one conversation log row.
func scanConversationLog(rows *sql.Rows) (models.ConversationLogEntry, error) {
	var entry models.ConversationLogEntry
	var responseTime sql.NullFloat64
	err := rows.Scan(
		&entry.ID, &entry.PhoneNumber, &entry.Timestamp,
		&entry.UserInput, &entry.BotResponse, &responseTime, &entry.Status,
	)
	if err != nil {
		return entry, fmt.Errorf("scan conversation log failed: %w", err)
	}
	if responseTime.Valid {
		entry.ResponseTime = &responseTime.Float64
	}
	return entry, nil
}
