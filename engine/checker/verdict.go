package checker

import "strings"

// Verdict is the closed set of outcomes the checker can hand back for a
// single flag. Anything outside the known vocabulary collapses to
// VerdictError so a flag is never silently dropped or accepted.
type Verdict int

const (
	VerdictAccepted Verdict = iota
	VerdictDenied
	VerdictResubmit
	VerdictError
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "ACCEPTED"
	case VerdictDenied:
		return "DENIED"
	case VerdictResubmit:
		return "RESUBMIT"
	default:
		return "ERROR"
	}
}

var verdictKeys = map[string]Verdict{
	"accepted": VerdictAccepted,
	"denied":   VerdictDenied,
	"resubmit": VerdictResubmit,
	"error":    VerdictError,
}

// message fragments from the checker's human-readable vocabulary, used when a
// response carries no recognizable status key
var verdictMessages = []struct {
	fragment string
	verdict  Verdict
}{
	{"flag claimed", VerdictAccepted},
	{"invalid flag", VerdictDenied},
	{"flag from nop team", VerdictDenied},
	{"flag is your own", VerdictDenied},
	{"flag too old", VerdictDenied},
	{"flag already claimed", VerdictDenied},
	{"didn't terminate", VerdictDenied},
	{"not active yet", VerdictResubmit},
	{"wait for next round", VerdictResubmit},
	{"retry later", VerdictError},
}

// ParseVerdict maps a checker status key and message onto the verdict
// vocabulary, case-insensitively. Unrecognized responses are treated as
// transient errors so the flag gets retried.
func ParseVerdict(status string, msg string) Verdict {
	if v, ok := verdictKeys[strings.ToLower(strings.TrimSpace(status))]; ok {
		return v
	}

	lowered := strings.ToLower(msg)
	for _, m := range verdictMessages {
		if strings.Contains(lowered, m.fragment) {
			return m.verdict
		}
	}

	return VerdictError
}
