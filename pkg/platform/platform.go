// Package platform adapts inbound and outbound text to the capabilities of a delivery surface.
package platform

import (
	"maps"
	"regexp"
	"strings"

	"github.com/rivo/uniseg"

	"taskpilot/pkg/config"
)

// Baseline is the profile used when no platform, or an unknown one, is named.
const Baseline = "baseline"

// Profile declares what a surface can show.
type Profile struct {
	Name           string `json:"name"`
	MaxInputLength int    `json:"max_input_length"` // In user-perceived characters
	RichText       bool   `json:"rich_text"`
	Graphics       bool   `json:"graphics"`
	Audio          bool   `json:"audio"`
	mrkdwn         bool   // Single-asterisk bold
}

//nolint:gochecknoglobals // Static capability table
var builtin = map[string]Profile{
	Baseline: {Name: Baseline, MaxInputLength: 4000},
	"web":    {Name: "web", MaxInputLength: 4000, RichText: true, Graphics: true},
	"slack":  {Name: "slack", MaxInputLength: 4000, RichText: true, Graphics: true, mrkdwn: true},
	"teams":  {Name: "teams", MaxInputLength: 4000, RichText: true, Graphics: true},
	"sms":    {Name: "sms", MaxInputLength: 480},
	"voice":  {Name: "voice", MaxInputLength: 1000, Audio: true},
}

// Adapter holds an immutable capability table and is safe for concurrent use.
type Adapter struct {
	profiles map[string]Profile
}

// NewAdapter creates an adapter over the built-in profiles plus extra, which may override them.
func NewAdapter(extra map[string]config.PlatformProfile) *Adapter {
	profiles := maps.Clone(builtin)
	for name, p := range extra {
		name = strings.ToLower(strings.TrimSpace(name))
		profiles[name] = Profile{
			Name:           name,
			MaxInputLength: p.MaxInputLength,
			RichText:       p.RichText,
			Graphics:       p.Graphics,
			Audio:          p.Audio,
		}
	}
	return &Adapter{profiles: profiles}
}

// Profile resolves a platform name, falling back to the baseline profile.
func (a *Adapter) Profile(name string) Profile {
	if p, ok := a.profiles[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return a.profiles[Baseline]
}

// Names lists the known platforms.
func (a *Adapter) Names() []string {
	names := make([]string, 0, len(a.profiles))
	for name := range a.profiles {
		names = append(names, name)
	}
	return names
}

// AdaptInbound trims raw input and truncates it to the platform maximum without splitting
// grapheme clusters.
func (a *Adapter) AdaptInbound(platform, raw string) string {
	text := strings.TrimSpace(raw)
	limit := a.Profile(platform).MaxInputLength
	if limit <= 0 || uniseg.GraphemeClusterCount(text) <= limit {
		return text
	}

	var b strings.Builder
	g := uniseg.NewGraphemes(text)
	for n := 0; n < limit && g.Next(); n++ {
		b.WriteString(g.Str())
	}
	return strings.TrimSpace(b.String())
}

var boldRE = regexp.MustCompile(`\*\*([^*\n]+)\*\*`)

// AdaptOutbound strips or converts what the platform cannot render.
func (a *Adapter) AdaptOutbound(platform, text string) string {
	p := a.Profile(platform)
	if !p.RichText {
		text = plainText(text)
	} else if p.mrkdwn {
		text = boldRE.ReplaceAllString(text, "*$1*")
	}
	if !p.Graphics {
		text = stripGraphics(text)
	}
	if p.Audio {
		text = flatten(text)
	}
	return text
}
