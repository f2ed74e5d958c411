package policy

import "strings"

// Outcome is the terminal state of a policy decision.
type Outcome string

const (
	// Allow permits the request to proceed.
	Allow Outcome = "allow"
	// Deny rejects the request with a reason.
	Deny Outcome = "deny"
	// Undecided defers to the next rule in the chain.
	Undecided Outcome = "undecided"
)

// Decision is the tagged verdict produced by the decision engine.
type Decision struct {
	Outcome Outcome
	Reason  string
}

// Terminal reports whether the decision ends rule evaluation.
func (d Decision) Terminal() bool {
	return d.Outcome == Allow || d.Outcome == Deny
}

// AdaptVerdict translates the loose verdict encodings permitted at the module
// boundary into a tagged Decision:
//
//	true / "allow"            -> Allow
//	false / "deny"            -> Deny
//	[verdict, message]        -> as above; message becomes the Deny reason
//	nil / anything else       -> Undecided
//
// String verdicts are case-insensitive. Novel strings are treated
// conservatively as Undecided.
func AdaptVerdict(result any) Decision {
	verdict := result
	reason := ""
	if tuple, ok := result.([]any); ok {
		if len(tuple) == 0 {
			return Decision{Outcome: Undecided}
		}
		verdict = tuple[0]
		if len(tuple) > 1 {
			reason, _ = tuple[1].(string)
		}
	}

	switch v := verdict.(type) {
	case nil:
		return Decision{Outcome: Undecided}
	case bool:
		if v {
			return Decision{Outcome: Allow}
		}
		return Decision{Outcome: Deny, Reason: reason}
	case string:
		switch strings.ToLower(v) {
		case "allow":
			return Decision{Outcome: Allow}
		case "deny":
			return Decision{Outcome: Deny, Reason: reason}
		default:
			return Decision{Outcome: Undecided}
		}
	default:
		return Decision{Outcome: Undecided}
	}
}
