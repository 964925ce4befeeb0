package domain

import "time"

// TicketComment is a note posted on a ticket thread.
type TicketComment struct {
	ID        string
	TicketID  string
	UserID    string
	Body      string
	CreatedAt time.Time
}
