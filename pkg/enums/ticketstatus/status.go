package ticketstatus

import (
	"strings"
)

type Status struct {
	Name string
}

func (s Status) Code() string {
	return s.Name
}

func (s Status) Label() string {
	parts := strings.Split(s.Name, "-")
	for i := range parts {
		if len(parts[i]) > 0 {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, " ")
}

type Enum struct {
	Placed    Status
	Preparing Status
	Ready     Status
	Completed Status
	Canceled  Status
}

var Statuses = Enum{
	Placed:    Status{Name: "placed"},
	Preparing: Status{Name: "preparing"},
	Ready:     Status{Name: "ready"},
	Completed: Status{Name: "completed"},
	Canceled:  Status{Name: "canceled"},
}

var All = []Status{
	Statuses.Placed,
	Statuses.Preparing,
	Statuses.Ready,
	Statuses.Completed,
	Statuses.Canceled,
}

// ByName returns the status for a given name, or nil if not found
func ByName(name string) *Status {
	for _, s := range All {
		if s.Name == name {
			return &s
		}
	}
	return nil
}

// IsTerminal reports whether a status code is a terminal state.
func IsTerminal(code string) bool {
	return code == Statuses.Completed.Code() || code == Statuses.Canceled.Code()
}
