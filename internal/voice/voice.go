package voice

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

const (
	PurposeTranscription = "transcription"
	PurposeSpeech        = "speech"
)

// Voices are the speech voices offered by the provider.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

func ValidVoice(name string) bool {
	return slices.Contains(Voices, strings.ToLower(strings.TrimSpace(name)))
}

type Audio struct {
	Data     []byte
	Format   string
	Filename string
}

// Transcriber turns recorded audio into question text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// Speaker renders answer text to audio/mpeg bytes.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) ([]byte, error)
}

func normalizeFormat(format string) (string, error) {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if format == "" {
		format = "webm"
	}
	switch format {
	case "webm", "wav", "mp3", "mp4", "m4a", "mpeg", "mpga", "ogg", "flac":
		return format, nil
	default:
		return "", fmt.Errorf("unsupported audio format %q", format)
	}
}
