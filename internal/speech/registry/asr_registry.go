package registry

import "github.com/voicetyped/transcriber/internal/speech/asr"

// ASR is the global speech-to-text client registry. Backends register
// themselves from init.
var ASR = New[asr.Client]()
