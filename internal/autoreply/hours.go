package autoreply

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"helpdesk/backend/internal/models"

	"github.com/rs/zerolog/log"
)

// WithinBusinessHours reports whether t's wall-clock time falls inside any of the
// windows, bounds included. A window ending before it starts spans midnight.
func WithinBusinessHours(hours []models.BusinessHour, t time.Time) bool {
	now := secondsOfDay(t)
	for _, h := range hours {
		if !h.IsActive {
			continue
		}
		start, err := parseClock(h.StartTime)
		if err != nil {
			log.Warn().Err(err).Uint("business_hour_id", h.ID).Msg("invalid business hour start")
			continue
		}
		end, err := parseClock(h.EndTime)
		if err != nil {
			log.Warn().Err(err).Uint("business_hour_id", h.ID).Msg("invalid business hour end")
			continue
		}
		if start <= end {
			if now >= start && now <= end {
				return true
			}
		} else if now >= start || now <= end {
			return true
		}
	}
	return false
}

func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// parseClock reads "HH:MM" or "HH:MM:SS".
func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	limits := []int{23, 59, 59}
	total := 0
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return 0, fmt.Errorf("invalid clock %q", s)
		}
		total = total*60 + v
	}
	if len(parts) == 2 {
		total *= 60
	}
	return total, nil
}
