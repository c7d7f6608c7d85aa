package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clinquery/clinquery/internal/completion"
	"github.com/clinquery/clinquery/internal/config"
	"github.com/clinquery/clinquery/internal/ledger"
	"github.com/clinquery/clinquery/internal/nl2sql"
	"github.com/clinquery/clinquery/internal/voice"
)

type fakeTranscriber struct {
	text   string
	err    error
	audios []voice.Audio
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio voice.Audio) (string, error) {
	f.audios = append(f.audios, audio)
	return f.text, f.err
}

type fakeSpeaker struct {
	voices []string
	err    error
}

func (f *fakeSpeaker) Speak(_ context.Context, text, voiceName string) ([]byte, error) {
	f.voices = append(f.voices, voiceName)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("ID3" + text), nil
}

func voiceHandler(t *testing.T, env *testEnv, transcriber voice.Transcriber, speaker voice.Speaker) http.Handler {
	t.Helper()
	cfg, err := config.Load("clinquery-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	deps := Dependencies{
		Transcriber:   transcriber,
		Speaker:       speaker,
		DefaultVoice:  "nova",
		MaxAudioBytes: 64,
	}
	if env != nil {
		deps.Sessions = env.manager
		deps.Turns = env.pipeline
	}
	return NewHandler(cfg, deps)
}

func TestVoiceTurnTranscribesAndAsks(t *testing.T) {
	env := newTestEnv(t)
	transcriber := &fakeTranscriber{text: " What is the average QoL score for patient P001? "}
	h := voiceHandler(t, env, transcriber, nil)
	id := createSession(t, h)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/voice", bytes.NewReader([]byte("RIFFaudio")))
	req.Header.Set("Content-Type", "audio/x-wav")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	var body voiceTurnResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.Transcript != "What is the average QoL score for patient P001?" {
		t.Fatalf("transcript = %q", body.Transcript)
	}
	if body.Entry.Question.Modality != nl2sql.ModalityVoice || body.Entry.Outcome != ledger.OutcomeAnswered {
		t.Fatalf("entry = %+v", body.Entry)
	}
	if len(transcriber.audios) != 1 || transcriber.audios[0].Format != "wav" {
		t.Fatalf("audios = %+v", transcriber.audios)
	}
}

func TestVoiceTurnErrors(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name        string
		transcriber *fakeTranscriber
		body        []byte
		wantStatus  int
		wantCode    string
	}{
		{name: "empty body", transcriber: &fakeTranscriber{text: "x"}, body: nil, wantStatus: http.StatusBadRequest, wantCode: "AUDIO_REQUIRED"},
		{name: "too large", transcriber: &fakeTranscriber{text: "x"}, body: bytes.Repeat([]byte("a"), 65), wantStatus: http.StatusRequestEntityTooLarge, wantCode: "AUDIO_TOO_LARGE"},
		{name: "silence", transcriber: &fakeTranscriber{text: "  "}, body: []byte("audio"), wantStatus: http.StatusUnprocessableEntity, wantCode: "TRANSCRIPT_EMPTY"},
		{
			name:        "provider down",
			transcriber: &fakeTranscriber{err: &completion.ServiceError{Provider: "openai", Kind: completion.KindUnavailable, Err: errors.New("503")}},
			body:        []byte("audio"),
			wantStatus:  http.StatusBadGateway,
			wantCode:    "TRANSCRIPTION_FAILED",
		},
	}
	for _, tc := range cases {
		h := voiceHandler(t, env, tc.transcriber, nil)
		id := createSession(t, h)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/voice", bytes.NewReader(tc.body)))
		if rr.Code != tc.wantStatus {
			t.Fatalf("%s: status = %d, want %d body=%s", tc.name, rr.Code, tc.wantStatus, rr.Body.String())
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: json decode failed: %v", tc.name, err)
		}
		if body["error_code"] != tc.wantCode {
			t.Fatalf("%s: error_code = %v", tc.name, body["error_code"])
		}
		s, err := env.manager.Get(id)
		if err != nil {
			t.Fatalf("%s: session lookup: %v", tc.name, err)
		}
		if s.Ledger.Len() != 0 {
			t.Fatalf("%s: ledger has %d entries", tc.name, s.Ledger.Len())
		}
		if _, err := env.manager.Close(context.Background(), id); err != nil {
			t.Fatalf("%s: close: %v", tc.name, err)
		}
	}
}

func TestVoiceRoutesNotConfigured(t *testing.T) {
	h := voiceHandler(t, nil, nil, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/speech", strings.NewReader(`{"text":"hi"}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("speech status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions/x/voice", strings.NewReader("audio")))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("voice status = %d", rr.Code)
	}
}

func TestSpeechEndpoint(t *testing.T) {
	speaker := &fakeSpeaker{}
	h := voiceHandler(t, nil, nil, speaker)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/speech", strings.NewReader(`{"text":"The average is 70."}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("content type = %q", rr.Header().Get("Content-Type"))
	}
	if rr.Body.String() != "ID3The average is 70." {
		t.Fatalf("body = %q", rr.Body.String())
	}
	if len(speaker.voices) != 1 || speaker.voices[0] != "nova" {
		t.Fatalf("voices = %v", speaker.voices)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/speech", strings.NewReader(`{"text":"x","voice":"robot"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid voice status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/speech", strings.NewReader(`{"text":" "}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty text status = %d", rr.Code)
	}

	speaker.err = errors.New("boom")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/speech", strings.NewReader(`{"text":"x","voice":"echo"}`)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("speaker failure status = %d", rr.Code)
	}
}
