// Package fueltrim turns a fuel trim reading into a qualitative status label.
//
// Fuel trim is the percentage correction the engine control unit applies to the
// air/fuel mixture. A rich or lean deviation of the same magnitude is equally
// severe, so only the absolute value is graded.
package fueltrim

// Status is the human-readable grade of a fuel trim reading.
type Status string

const (
	Unknown     Status = "Unknown"
	Perfect     Status = "Perfect"
	Excellent   Status = "Excellent"
	Good        Status = "Good"
	Monitor     Status = "Monitor"
	CheckEngine Status = "Check Engine"
)

// band is an inclusive upper bound on |trim| and the status it maps to.
type band struct {
	max    float64
	status Status
}

// bands is evaluated in order; the first band whose max is >= |trim| wins.
// Anything above the last band is CheckEngine.
var bands = []band{
	{max: 2, status: Perfect},
	{max: 5, status: Excellent},
	{max: 10, status: Good},
	{max: 15, status: Monitor},
}

// Statuses returns every label in severity order, Unknown first.
func Statuses() []Status {
	return []Status{Unknown, Perfect, Excellent, Good, Monitor, CheckEngine}
}

func (s Status) String() string { return string(s) }

// Known reports whether s is a graded status rather than the Unknown fallback.
func (s Status) Known() bool {
	switch s {
	case Perfect, Excellent, Good, Monitor, CheckEngine:
		return true
	}
	return false
}
