package tether

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// Environment supplies the read-only attributes the fingerprint is computed
// from. Implementations return the zero value for anything they cannot observe.
type Environment interface {
	// UserAgent identifies the client platform, e.g. a browser user agent.
	UserAgent() string

	// Language is a BCP 47 language tag such as "en-US".
	Language() string

	// ColorDepth is the display colour depth in bits.
	ColorDepth() int

	// ScreenSize is the display geometry in pixels.
	ScreenSize() (width, height int)

	// TimezoneOffset is UTC minus local time in minutes, so UTC+2 is -120.
	TimezoneOffset() int
}

// StaticEnvironment returns fixed values. Embedding applications use it to pass
// browser-observed attributes through; tests use it for determinism.
type StaticEnvironment struct {
	Agent    string
	Lang     string
	Depth    int
	Width    int
	Height   int
	TZOffset int // minutes, UTC minus local
}

var _ Environment = StaticEnvironment{}

func (e StaticEnvironment) UserAgent() string      { return e.Agent }
func (e StaticEnvironment) Language() string       { return e.Lang }
func (e StaticEnvironment) ColorDepth() int        { return e.Depth }
func (e StaticEnvironment) ScreenSize() (int, int) { return e.Width, e.Height }
func (e StaticEnvironment) TimezoneOffset() int    { return e.TZOffset }

// HostEnvironment derives the attributes from the running process: platform
// and hostname, locale variables, terminal colour support and the local zone.
// Screen geometry is not reported; terminal size changes with every resize
// and would rotate the key.
type HostEnvironment struct {
	getenv   func(string) string
	hostname func() (string, error)
	location *time.Location
	now      func() time.Time
}

var _ Environment = (*HostEnvironment)(nil)

func NewHostEnvironment() *HostEnvironment {
	return &HostEnvironment{
		getenv:   os.Getenv,
		hostname: os.Hostname,
		location: time.Local,
		now:      time.Now,
	}
}

func (h *HostEnvironment) UserAgent() string {
	host, err := h.hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("tether/%s/%s/%s", runtime.GOOS, runtime.GOARCH, host)
}

// Language reads LC_ALL, LC_MESSAGES then LANG and turns a POSIX locale such
// as "en_US.UTF-8" into "en-US". The C and POSIX locales carry no language.
func (h *HostEnvironment) Language() string {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if value := h.getenv(name); value != "" {
			return normaliseLocale(value)
		}
	}
	return ""
}

func normaliseLocale(locale string) string {
	if i := strings.IndexAny(locale, ".@"); i >= 0 {
		locale = locale[:i]
	}
	if locale == "C" || locale == "POSIX" {
		return ""
	}
	return strings.ReplaceAll(locale, "_", "-")
}

func (h *HostEnvironment) ColorDepth() int {
	switch strings.ToLower(h.getenv("COLORTERM")) {
	case "truecolor", "24bit":
		return 24
	}

	term := h.getenv("TERM")
	switch {
	case term == "" || term == "dumb":
		return 0
	case strings.Contains(term, "256color"):
		return 8
	default:
		return 4
	}
}

func (h *HostEnvironment) ScreenSize() (int, int) {
	return 0, 0
}

// TimezoneOffset reports the standard-time offset of the local zone so the
// fingerprint does not change when daylight saving starts or ends
func (h *HostEnvironment) TimezoneOffset() int {
	year := h.now().Year()
	_, january := time.Date(year, time.January, 1, 12, 0, 0, 0, h.location).Zone()
	_, july := time.Date(year, time.July, 1, 12, 0, 0, 0, h.location).Zone()

	// daylight saving moves the clock forward, so standard time is the smaller offset east
	standard := january
	if july < standard {
		standard = july
	}
	return -standard / 60
}
