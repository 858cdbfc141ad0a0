package tts

import "strings"

// VoiceEnv maps voice keywords to the environment variables holding their
// ElevenLabs voice IDs. Personalities refer to voices by keyword so IDs
// stay out of config files.
var VoiceEnv = map[string]string{
	"robot_cold": "COLDVOICE_ID",
	"robot_warm": "WARMVOICE_ID",
	"malak":      "MALAKVOICE_ID",
}

// DefaultVoice is the keyword used when none is configured.
const DefaultVoice = "robot_warm"

// ResolveVoice returns the voice ID for keyword using lookup (usually
// os.Getenv). Unknown keywords are assumed to be raw voice IDs. A known
// keyword whose variable is unset resolves to "".
func ResolveVoice(keyword string, lookup func(string) string) string {
	key := strings.ToLower(strings.TrimSpace(keyword))
	if env, ok := VoiceEnv[key]; ok {
		return lookup(env)
	}
	return strings.TrimSpace(keyword)
}
