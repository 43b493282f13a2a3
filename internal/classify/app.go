// Package classify maps a hostname (from SNI, HTTP Host, or a DNS query
// name) to an application tag drawn from a closed enumeration.
package classify

import "strings"

// App is one of a closed set of application/protocol identities.
type App uint8

const (
	Unknown App = iota
	HTTP
	HTTPS
	DNS
	TLS
	QUIC
	Google
	Facebook
	YouTube
	Twitter
	Instagram
	Netflix
	Amazon
	Microsoft
	Apple
	WhatsApp
	Telegram
	TikTok
	Spotify
	Zoom
	Discord
	GitHub
	Cloudflare
)

var names = map[App]string{
	Unknown:    "Unknown",
	HTTP:       "HTTP",
	HTTPS:      "HTTPS",
	DNS:        "DNS",
	TLS:        "TLS",
	QUIC:       "QUIC",
	Google:     "Google",
	Facebook:   "Facebook",
	YouTube:    "YouTube",
	Twitter:    "Twitter",
	Instagram:  "Instagram",
	Netflix:    "Netflix",
	Amazon:     "Amazon",
	Microsoft:  "Microsoft",
	Apple:      "Apple",
	WhatsApp:   "WhatsApp",
	Telegram:   "Telegram",
	TikTok:     "TikTok",
	Spotify:    "Spotify",
	Zoom:       "Zoom",
	Discord:    "Discord",
	GitHub:     "GitHub",
	Cloudflare: "Cloudflare",
}

// String returns the display name of a, or "Unknown" for an
// unrecognised value.
func (a App) String() string {
	if s, ok := names[a]; ok {
		return s
	}
	return "Unknown"
}

// ByName looks up an App by its display name, case-insensitively. Used
// when parsing --block-app and rule files.
func ByName(s string) (App, bool) {
	target := strings.ToLower(s)
	for app, name := range names {
		if strings.ToLower(name) == target {
			return app, true
		}
	}
	return Unknown, false
}

type pattern struct {
	substrings []string
	app        App
}

// table is evaluated top to bottom, first match wins. YouTube, Instagram
// and WhatsApp are checked before Google/Facebook: their domains often
// contain "google"/"fb"-adjacent substrings (yt3.ggpht.com, Meta-owned
// CDNs) and would otherwise be misclassified as the parent company.
var table = []pattern{
	{[]string{"youtube", "ytimg", "youtu.be", "yt3.ggpht"}, YouTube},
	{[]string{"instagram", "cdninstagram"}, Instagram},
	{[]string{"whatsapp", "wa.me"}, WhatsApp},
	{[]string{"google", "gstatic", "googleapis", "ggpht", "gvt1"}, Google},
	{[]string{"facebook", "fbcdn", "fb.com", "fbsbx", "meta.com"}, Facebook},
	{[]string{"twitter", "twimg", "x.com", "t.co"}, Twitter},
	{[]string{"netflix", "nflxvideo", "nflximg"}, Netflix},
	{[]string{"amazon", "amazonaws", "cloudfront", "aws"}, Amazon},
	{[]string{"microsoft", "msn.com", "office", "azure", "live.com", "outlook", "bing"}, Microsoft},
	{[]string{"apple", "icloud", "mzstatic", "itunes"}, Apple},
	{[]string{"telegram", "t.me"}, Telegram},
	{[]string{"tiktok", "tiktokcdn", "musical.ly", "bytedance"}, TikTok},
	{[]string{"spotify", "scdn.co"}, Spotify},
	{[]string{"zoom"}, Zoom},
	{[]string{"discord", "discordapp"}, Discord},
	{[]string{"github", "githubusercontent"}, GitHub},
	{[]string{"cloudflare", "cf-"}, Cloudflare},
}

// FromName maps a hostname to an application tag. An empty name yields
// Unknown; a non-empty name matching no pattern yields HTTPS (the name
// came from a successful sniff, so the session is at least known to be
// TLS-or-equivalent).
func FromName(name string) App {
	if name == "" {
		return Unknown
	}
	lower := strings.ToLower(name)
	for _, p := range table {
		for _, sub := range p.substrings {
			if strings.Contains(lower, sub) {
				return p.app
			}
		}
	}
	return HTTPS
}
