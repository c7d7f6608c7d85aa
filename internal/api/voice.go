package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/clinquery/clinquery/internal/completion"
	"github.com/clinquery/clinquery/internal/nl2sql"
	"github.com/clinquery/clinquery/internal/voice"
)

const defaultMaxAudioBytes = 25 << 20

type voiceTurnResponse struct {
	turnResponse
	Transcript string `json:"transcript"`
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func handleVoiceTurn(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Transcriber == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "VOICE_NOT_CONFIGURED", "voice input is not configured", false, nil)
		return
	}
	s, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}

	limit := deps.MaxAudioBytes
	if limit <= 0 {
		limit = defaultMaxAudioBytes
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "AUDIO_TOO_LARGE", "audio body exceeds the configured limit", false, map[string]any{"limit_bytes": limit})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_AUDIO", "failed to read audio body", false, map[string]any{"details": err.Error()})
		return
	}
	if len(data) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "AUDIO_REQUIRED", "audio body is required", false, nil)
		return
	}

	text, err := deps.Transcriber.Transcribe(r.Context(), voice.Audio{Data: data, Format: audioFormat(r)})
	if err != nil {
		var serviceErr *completion.ServiceError
		if errors.As(err, &serviceErr) {
			writeError(r.Context(), w, http.StatusBadGateway, "TRANSCRIPTION_FAILED", "audio could not be transcribed", true, map[string]any{"kind": serviceErr.Kind})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_AUDIO", err.Error(), false, nil)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "TRANSCRIPT_EMPTY", "no speech was recognised in the audio", false, nil)
		return
	}

	extra := map[string]any{"transcript": text}
	entry, ok := runTurn(deps, w, r, s, nl2sql.NewQuestion(text, nl2sql.ModalityVoice, deps.Clock()), extra)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, voiceTurnResponse{turnResponse: newTurnResponse(entry), Transcript: text})
}

func handleSpeech(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Speaker == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "VOICE_NOT_CONFIGURED", "speech output is not configured", false, nil)
		return
	}
	var request speechRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid speech request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Text) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TEXT_REQUIRED", "text is required", false, nil)
		return
	}
	voiceName := strings.TrimSpace(request.Voice)
	if voiceName == "" {
		voiceName = deps.DefaultVoice
	}
	if voiceName != "" && !voice.ValidVoice(voiceName) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_VOICE", "unknown voice", false, map[string]any{"voices": voice.Voices})
		return
	}

	audio, err := deps.Speaker.Speak(r.Context(), request.Text, voiceName)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "SPEECH_FAILED", "speech could not be generated", true, map[string]any{"details": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func audioFormat(r *http.Request) string {
	if format := strings.TrimSpace(r.URL.Query().Get("format")); format != "" {
		return format
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "audio/") {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(mediaType, "audio/"), "x-")
}
