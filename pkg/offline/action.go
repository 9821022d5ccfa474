package offline

import (
	"time"

	"github.com/expeditehq/expedite/pkg/enums/ticketstatus"
)

// Action is a pending status-change intent captured while the server was
// unreachable. Only forward kitchen statuses may be deferred; anything else
// needs a live round trip.
type Action struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	NewStatus string    `json:"new_status"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

func deferrableStatus(status string) bool {
	return status == ticketstatus.Statuses.Ready.Code() ||
		status == ticketstatus.Statuses.Completed.Code()
}
