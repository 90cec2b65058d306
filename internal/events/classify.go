package events

import "strings"

// Route says how an event must be handled.
type Route int

const (
	// RouteDiagnostic events are forwarded to the caller without special treatment.
	RouteDiagnostic Route = iota
	// RouteError events are surfaced loudly.
	RouteError
	// RouteWarning events are surfaced distinctly.
	RouteWarning
	// RouteProgress events overwrite the current terminal line until one is finished.
	RouteProgress
	// RouteResult events carry the outcome of the operation.
	RouteResult
	// RouteSuppressed events are protocol noise and never reach the caller.
	RouteSuppressed
)

func (r Route) String() string {
	switch r {
	case RouteDiagnostic:
		return "diagnostic"
	case RouteError:
		return "error"
	case RouteWarning:
		return "warning"
	case RouteProgress:
		return "progress"
	case RouteResult:
		return "result"
	case RouteSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// msgid of the error borg logs when init runs against an existing repository.
const msgRepositoryExists = "Repository.AlreadyExists"

// Classify returns the route of an event. Every event has exactly one route.
func Classify(e Event) Route {
	switch ev := e.(type) {
	case LogMessage:
		switch strings.ToUpper(ev.Level) {
		case "ERROR", "CRITICAL":
			if IsBenign(ev) {
				return RouteDiagnostic
			}
			return RouteError
		case "WARNING":
			return RouteWarning
		default:
			return RouteDiagnostic
		}
	case ProgressPercent, ProgressMessage, ArchiveProgress:
		return RouteProgress
	case QuestionPrompt, QuestionEnvAnswer:
		return RouteSuppressed
	case Stats, ArchiveList:
		return RouteResult
	default:
		return RouteDiagnostic
	}
}

// IsBenign reports whether an error log message describes an expected condition. Only the repository
// initialization that finds an existing repository qualifies.
func IsBenign(m LogMessage) bool {
	return m.MsgID == msgRepositoryExists
}

// Finished reports whether a progress event ends its burst. Other events are always finished.
func Finished(e Event) bool {
	switch ev := e.(type) {
	case ProgressPercent:
		return ev.Finished
	case ProgressMessage:
		return ev.Finished
	case ArchiveProgress:
		return ev.Finished
	default:
		return true
	}
}
