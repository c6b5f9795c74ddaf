package event

import (
	"fmt"
	"strings"
)

// Action is the closed set of side effects an outbox record can request.
// The zero value is not a valid action.
type Action uint8

const (
	actionInvalid Action = iota

	// ActionSMSSend sends a text message to a lead.
	ActionSMSSend

	// ActionCallInitiate asks the voice-AI provider to dial a lead.
	ActionCallInitiate

	// ActionAttributionPurchase reports a won deal to the ad platforms.
	ActionAttributionPurchase

	// ActionInternalNotification emails the internal team.
	ActionInternalNotification

	actionCount
)

var actionNames = [actionCount]string{
	actionInvalid:              "",
	ActionSMSSend:              "sms.send",
	ActionCallInitiate:         "call.initiate",
	ActionAttributionPurchase:  "attribution.purchase_event",
	ActionInternalNotification: "internal.notification",
}

// actionAliases maps the provider-qualified names sent by the CRM workflow
// builder onto their canonical actions.
var actionAliases = map[string]Action{
	"openphone.sms.send":     ActionSMSSend,
	"bland_ai.call.initiate": ActionCallInitiate,
}

// Actions returns every valid action in declaration order.
func Actions() []Action {
	out := make([]Action, 0, actionCount-1)
	for a := ActionSMSSend; a < actionCount; a++ {
		out = append(out, a)
	}
	return out
}

// UnknownActionError is returned when an action string does not name a
// supported action. It only surfaces where strings are decoded.
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("outbox: unknown action %q", e.Name)
}

// ParseAction decodes a canonical or aliased action name.
func ParseAction(s string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for a := ActionSMSSend; a < actionCount; a++ {
		if actionNames[a] == name {
			return a, nil
		}
	}
	if a, ok := actionAliases[name]; ok {
		return a, nil
	}
	return actionInvalid, &UnknownActionError{Name: s}
}

// Valid reports whether a is one of the supported actions.
func (a Action) Valid() bool {
	return a > actionInvalid && a < actionCount
}

// String returns the canonical action name.
func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("action(%d)", uint8(a))
	}
	return actionNames[a]
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, &UnknownActionError{Name: a.String()}
	}
	return []byte(actionNames[a]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(data []byte) error {
	parsed, err := ParseAction(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
