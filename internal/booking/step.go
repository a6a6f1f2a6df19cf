// Package booking drives the multi-step booking wizard.
package booking

import "fmt"

// Step is one screen of the wizard.
type Step int

const (
	StepService Step = iota
	StepDetails
	StepSchedule
	StepContact
	StepSubmitted
)

var stepNames = map[Step]string{
	StepService:   "service",
	StepDetails:   "details",
	StepSchedule:  "schedule",
	StepContact:   "contact",
	StepSubmitted: "submitted",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Action is an input to the step machine.
type Action int

const (
	ActionNext Action = iota
	ActionBack
	ActionSubmitted
)

type transition struct {
	from   Step
	action Action
}

// transitions is the complete table. Any pair not listed is illegal.
// Contact only advances through a successful submission.
var transitions = map[transition]Step{
	{StepService, ActionNext}:      StepDetails,
	{StepDetails, ActionNext}:      StepSchedule,
	{StepSchedule, ActionNext}:     StepContact,
	{StepDetails, ActionBack}:      StepService,
	{StepSchedule, ActionBack}:     StepDetails,
	{StepContact, ActionBack}:      StepSchedule,
	{StepContact, ActionSubmitted}: StepSubmitted,
}

// next returns the step reached from s by a, or false when the move is illegal.
func next(s Step, a Action) (Step, bool) {
	to, ok := transitions[transition{s, a}]
	return to, ok
}

// stepFields lists the draft fields each step is responsible for.
var stepFields = map[Step][]string{
	StepService:  {"ServiceID"},
	StepDetails:  {"JobSize", "Suburb", "Postcode", "Description"},
	StepSchedule: {"PreferredDate", "TimeSlot"},
	StepContact:  {"CustomerName", "CustomerEmail", "CustomerPhone"},
}
