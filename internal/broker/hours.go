package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/camuig/hype-trader/internal/config"
)

// SessionHours is the main trading session on weekdays, in exchange local time.
type SessionHours struct {
	loc   *time.Location
	open  int
	close int
}

func NewSessionHours(loc *time.Location, open, close string) (SessionHours, error) {
	o, err := config.ParseClock(open)
	if err != nil {
		return SessionHours{}, fmt.Errorf("session open: %w", err)
	}
	c, err := config.ParseClock(close)
	if err != nil {
		return SessionHours{}, fmt.Errorf("session close: %w", err)
	}
	return SessionHours{loc: loc, open: o, close: c}, nil
}

func (h SessionHours) Open(now time.Time) bool {
	local := now.In(h.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= h.open && minute < h.close
}

// MarketOpen reports whether the session is trading at now.
func (c *Client) MarketOpen(_ context.Context, now time.Time) (bool, error) {
	return c.hours.Open(now), nil
}
