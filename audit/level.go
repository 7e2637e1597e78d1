package audit

type level int

const (
	levelDrop level = iota
	levelInfo
	levelNotice
	levelWarning
	levelErr
)

// syslogLevel picks the severity for an event given the configured log level.
// Failures always pass; with "error" only failures carrying an error pass.
func syslogLevel(event Event, logLevel string) level {
	switch {
	case !event.Success && event.Error != "":
		return levelErr
	case !event.Success:
		return levelWarning
	case logLevel == "error":
		return levelDrop
	case isSecurityCriticalAction(event.Action):
		return levelNotice
	case logLevel == "warn":
		return levelDrop
	default:
		return levelInfo
	}
}
