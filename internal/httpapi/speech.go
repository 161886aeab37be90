package httpapi

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parleyhq/parley/pkg/provider/stt"
	"github.com/parleyhq/parley/pkg/provider/tts"
)

// maxAudioBody caps the /api/stt request body at 20 MiB, roughly ten minutes
// of 16 kHz mono PCM.
const maxAudioBody = 20 << 20

// ttsRequest is the body of POST /api/tts.
type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// handleTTS synthesises the given text and returns the raw audio bytes with
// the provider's MIME type.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		writeError(w, http.StatusServiceUnavailable, "no TTS provider configured")
		return
	}

	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	start := time.Now()
	audio, err := s.tts.Synthesize(r.Context(), req.Text, tts.Voice{ID: req.Voice})
	s.metrics.TTSDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderRequest(r.Context(), s.ttsName, "tts", "error")
		s.metrics.RecordProviderError(r.Context(), s.ttsName, "tts")
		s.log.Error("tts synthesis failed", "err", err)
		writeError(w, http.StatusBadGateway, "synthesis failed")
		return
	}
	s.metrics.RecordProviderRequest(r.Context(), s.ttsName, "tts", "ok")

	w.Header().Set("Content-Type", audio.MIMEType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio.Data); err != nil {
		s.log.Warn("tts response write failed", "err", err)
	}
}

// handleSTT transcribes a WAV request body and returns the text.
func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	if s.stt == nil {
		writeError(w, http.StatusServiceUnavailable, "no STT provider configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "audio body is required")
		return
	}

	pcm, cfg, err := decodeWAV(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	transcript, err := s.stt.Transcribe(r.Context(), pcm, cfg)
	s.metrics.STTDuration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderRequest(r.Context(), s.sttName, "stt", "error")
		s.metrics.RecordProviderError(r.Context(), s.sttName, "stt")
		s.log.Error("stt transcription failed", "err", err)
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	s.metrics.RecordProviderRequest(r.Context(), s.sttName, "stt", "ok")
	text := ""
	if transcript != nil {
		text = transcript.Text
	}

	writeJSON(w, http.StatusOK, map[string]string{"transcription": text})
}

// decodeWAV extracts the 16-bit PCM payload and audio format from a RIFF/WAV
// container. Only uncompressed PCM is accepted.
func decodeWAV(data []byte) ([]byte, stt.AudioConfig, error) {
	var cfg stt.AudioConfig

	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, cfg, errors.New("audio body is not a RIFF/WAV file")
	}

	var pcm []byte
	haveFmt := false

	// Walk the chunk list: each chunk is a 4-byte id, a little-endian
	// 4-byte size, then the payload (padded to an even length).
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, cfg, errors.New("truncated WAV chunk")
		}
		chunk := data[off : off+size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, cfg, errors.New("malformed WAV fmt chunk")
			}
			format := binary.LittleEndian.Uint16(chunk[0:2])
			if format != 1 {
				return nil, cfg, fmt.Errorf("unsupported WAV audio format %d, want PCM", format)
			}
			if bits := binary.LittleEndian.Uint16(chunk[14:16]); bits != 16 {
				return nil, cfg, fmt.Errorf("unsupported WAV bit depth %d, want 16", bits)
			}
			cfg.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			cfg.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			haveFmt = true
		case "data":
			pcm = chunk
		}

		off += size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt {
		return nil, cfg, errors.New("WAV fmt chunk missing")
	}
	if len(pcm) == 0 {
		return nil, cfg, errors.New("WAV data chunk missing or empty")
	}
	return pcm, cfg, nil
}
