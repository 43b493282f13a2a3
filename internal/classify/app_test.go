package classify

import "testing"

func TestFromNameOrderingBeforeParentCompany(t *testing.T) {
	cases := map[string]App{
		"www.youtube.com":         YouTube,
		"i.ytimg.com":             YouTube,
		"yt3.ggpht.com":           YouTube,
		"www.instagram.com":       Instagram,
		"scontent.cdninstagram.com": Instagram,
		"web.whatsapp.com":        WhatsApp,
		"www.google.com":          Google,
		"fonts.gstatic.com":       Google,
		"www.facebook.com":        Facebook,
		"static.fbcdn.net":        Facebook,
	}
	for host, want := range cases {
		if got := FromName(host); got != want {
			t.Errorf("FromName(%q) = %s, want %s", host, got, want)
		}
	}
}

func TestFromNameUnknownSubstringFallsBackToHTTPS(t *testing.T) {
	if got := FromName("some-random-site.example"); got != HTTPS {
		t.Errorf("FromName(unmatched) = %s, want HTTPS", got)
	}
}

func TestFromNameEmptyIsUnknown(t *testing.T) {
	if got := FromName(""); got != Unknown {
		t.Errorf("FromName(\"\") = %s, want Unknown", got)
	}
}

func TestByNameRoundTripsWithString(t *testing.T) {
	for app := range names {
		app2, ok := ByName(app.String())
		if !ok {
			t.Errorf("ByName(%q): not found", app.String())
			continue
		}
		if app2 != app {
			t.Errorf("ByName(%q) = %v, want %v", app.String(), app2, app)
		}
	}
}

func TestByNameUnknownString(t *testing.T) {
	if _, ok := ByName("not-a-real-app"); ok {
		t.Error("ByName(garbage): expected ok=false")
	}
}

func TestByNameCaseInsensitive(t *testing.T) {
	app, ok := ByName("youtube")
	if !ok || app != YouTube {
		t.Errorf("ByName(\"youtube\") = %v, %v, want YouTube, true", app, ok)
	}
}

func TestUnrecognisedAppStringIsUnknown(t *testing.T) {
	var weird App = 250
	if got := weird.String(); got != "Unknown" {
		t.Errorf("String() for unmapped App = %q, want %q", got, "Unknown")
	}
}
