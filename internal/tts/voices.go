package tts

import "github.com/chadiek/checkin-demo/internal/speech"

// DefaultVoices is the catalog of aura models the check-in assistant can
// speak with. Order matters: the first entry is the fallback voice when no
// locale matches.
func DefaultVoices() []speech.Voice {
	return []speech.Voice{
		{Name: "aura-2-thalia-en", Locale: "en-US"},
		{Name: "aura-2-helena-en", Locale: "en-GB"},
		{Name: "aura-2-viktoria-de", Locale: "de-DE"},
		{Name: "aura-2-camille-fr", Locale: "fr-FR"},
		{Name: "aura-2-lucia-es", Locale: "es-ES"},
	}
}
