package tether

import (
	"errors"
	"runtime"
	"testing"
	"time"
)

var testEnvironment = StaticEnvironment{
	Agent:    "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/128.0",
	Lang:     "en-US",
	Depth:    24,
	Width:    1920,
	Height:   1080,
	TZOffset: -60,
}

func TestFingerprintInput(t *testing.T) {
	got := fingerprintInput(testEnvironment)
	want := "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/128.0|en-US|24|1920x1080|-60"
	if got != want {
		t.Errorf("fingerprintInput() = %q, want %q", got, want)
	}

	got = fingerprintInput(StaticEnvironment{})
	want = "unknown|unknown|0|unknown|0"
	if got != want {
		t.Errorf("fingerprintInput(empty) = %q, want %q", got, want)
	}
}

func TestFingerprintInputIsUnescaped(t *testing.T) {
	missing := StaticEnvironment{Agent: "agent", Depth: 24, Width: 1920, Height: 1080}
	literal := missing
	literal.Lang = "unknown"
	if Fingerprint(missing) != Fingerprint(literal) {
		t.Error("A missing language should hash like the literal \"unknown\"")
	}

	split := StaticEnvironment{Agent: "a|b", Lang: "c", Depth: 24, Width: 1920, Height: 1080}
	joined := StaticEnvironment{Agent: "a", Lang: "b|c", Depth: 24, Width: 1920, Height: 1080}
	if fingerprintInput(split) != fingerprintInput(joined) {
		t.Errorf("fingerprintInput(%q) != fingerprintInput(%q)", fingerprintInput(split), fingerprintInput(joined))
	}
}

func TestFingerprintStability(t *testing.T) {
	first := Fingerprint(testEnvironment)
	second := Fingerprint(testEnvironment)
	if first != second {
		t.Fatal("Fingerprint is not deterministic")
	}

	var zero [32]byte
	if first == zero {
		t.Error("Fingerprint is all zeros")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint(testEnvironment)

	variants := map[string]func(e *StaticEnvironment){
		"UserAgent":      func(e *StaticEnvironment) { e.Agent += " Edg/128.0" },
		"Language":       func(e *StaticEnvironment) { e.Lang = "en-GB" },
		"ColorDepth":     func(e *StaticEnvironment) { e.Depth = 30 },
		"Width":          func(e *StaticEnvironment) { e.Width = 2560 },
		"Height":         func(e *StaticEnvironment) { e.Height = 1440 },
		"TimezoneOffset": func(e *StaticEnvironment) { e.TZOffset = 300 },
	}

	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			env := testEnvironment
			mutate(&env)
			if Fingerprint(env) == base {
				t.Errorf("Changing %s did not change the fingerprint", name)
			}
		})
	}
}

func TestNormaliseLocale(t *testing.T) {
	tests := map[string]string{
		"en_US.UTF-8":       "en-US",
		"de_DE@euro":        "de-DE",
		"pt_BR.utf8@collat": "pt-BR",
		"fr":                "fr",
		"C":                 "",
		"C.UTF-8":           "",
		"POSIX":             "",
	}
	for in, want := range tests {
		if got := normaliseLocale(in); got != want {
			t.Errorf("normaliseLocale(%q) = %q, want %q", in, got, want)
		}
	}
}

func newTestHostEnvironment(env map[string]string, loc *time.Location) *HostEnvironment {
	return &HostEnvironment{
		getenv:   func(name string) string { return env[name] },
		hostname: func() (string, error) { return "workstation", nil },
		location: loc,
		now:      func() time.Time { return time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC) },
	}
}

func TestHostEnvironment(t *testing.T) {
	t.Run("UserAgent", func(t *testing.T) {
		h := newTestHostEnvironment(nil, time.UTC)
		want := "tether/" + runtime.GOOS + "/" + runtime.GOARCH + "/workstation"
		if got := h.UserAgent(); got != want {
			t.Errorf("UserAgent() = %q, want %q", got, want)
		}

		h.hostname = func() (string, error) { return "", errors.New("no hostname") }
		want = "tether/" + runtime.GOOS + "/" + runtime.GOARCH + "/unknown"
		if got := h.UserAgent(); got != want {
			t.Errorf("UserAgent() without hostname = %q, want %q", got, want)
		}
	})

	t.Run("LanguagePrecedence", func(t *testing.T) {
		h := newTestHostEnvironment(map[string]string{
			"LANG":        "en_US.UTF-8",
			"LC_MESSAGES": "de_DE.UTF-8",
		}, time.UTC)
		if got := h.Language(); got != "de-DE" {
			t.Errorf("Language() = %q, want de-DE", got)
		}

		h = newTestHostEnvironment(map[string]string{
			"LANG":   "en_US.UTF-8",
			"LC_ALL": "fr_FR.UTF-8",
		}, time.UTC)
		if got := h.Language(); got != "fr-FR" {
			t.Errorf("Language() = %q, want fr-FR", got)
		}

		h = newTestHostEnvironment(nil, time.UTC)
		if got := h.Language(); got != "" {
			t.Errorf("Language() with no locale = %q, want empty", got)
		}
	})

	t.Run("ColorDepth", func(t *testing.T) {
		tests := []struct {
			env  map[string]string
			want int
		}{
			{map[string]string{"COLORTERM": "truecolor", "TERM": "xterm"}, 24},
			{map[string]string{"COLORTERM": "24bit"}, 24},
			{map[string]string{"TERM": "xterm-256color"}, 8},
			{map[string]string{"TERM": "vt100"}, 4},
			{map[string]string{"TERM": "dumb"}, 0},
			{nil, 0},
		}
		for _, tt := range tests {
			if got := newTestHostEnvironment(tt.env, time.UTC).ColorDepth(); got != tt.want {
				t.Errorf("ColorDepth(%v) = %d, want %d", tt.env, got, tt.want)
			}
		}
	})

	t.Run("ScreenSize", func(t *testing.T) {
		w, h := newTestHostEnvironment(nil, time.UTC).ScreenSize()
		if w != 0 || h != 0 {
			t.Errorf("ScreenSize() = %dx%d, want 0x0", w, h)
		}
	})

	t.Run("TimezoneOffsetFixedZone", func(t *testing.T) {
		tests := []struct {
			loc  *time.Location
			want int
		}{
			{time.UTC, 0},
			{time.FixedZone("CET", 3600), -60},
			{time.FixedZone("EST", -5*3600), 300},
			{time.FixedZone("IST", 5*3600+1800), -330},
		}
		for _, tt := range tests {
			if got := newTestHostEnvironment(nil, tt.loc).TimezoneOffset(); got != tt.want {
				t.Errorf("TimezoneOffset(%s) = %d, want %d", tt.loc, got, tt.want)
			}
		}
	})

	t.Run("TimezoneOffsetIgnoresDaylightSaving", func(t *testing.T) {
		tests := map[string]int{
			"Europe/Berlin":       -60,
			"America/New_York":    300,
			"Australia/Melbourne": -600,
		}
		for name, want := range tests {
			loc, err := time.LoadLocation(name)
			if err != nil {
				t.Skipf("zoneinfo unavailable: %v", err)
			}
			if got := newTestHostEnvironment(nil, loc).TimezoneOffset(); got != want {
				t.Errorf("TimezoneOffset(%s) = %d, want %d", name, got, want)
			}
		}
	})

	t.Run("Fingerprint", func(t *testing.T) {
		env := map[string]string{"LANG": "en_US.UTF-8", "TERM": "xterm-256color"}
		h := newTestHostEnvironment(env, time.FixedZone("CET", 3600))
		want := "tether/" + runtime.GOOS + "/" + runtime.GOARCH + "/workstation|en-US|8|unknown|-60"
		if got := fingerprintInput(h); got != want {
			t.Errorf("fingerprintInput(host) = %q, want %q", got, want)
		}
	})
}
