package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"squire/internal/delivery"
	"squire/internal/dispatch"
	"squire/internal/secrets"
	logx "squire/pkg/logx"
)

type offlineReq struct {
	Command       string  `json:"command"`
	NativeAudio   bool    `json:"native_audio"`
	SpeechTimeout float64 `json:"speech_timeout"` // seconds
}

type detailResp struct {
	Detail string `json:"detail"`
}

const maxBody = 64 << 10

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeDetail(w, http.StatusOK, "Healthy")
}

func (s *Server) offlineCommunicator(w http.ResponseWriter, r *http.Request) {
	var req offlineReq
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.SpeechTimeout < 0 {
		writeDetail(w, http.StatusBadRequest, "speech_timeout must be >= 0.")
		return
	}

	reply := s.disp.Handle(r.Context(), dispatch.Request{
		Text:          req.Command,
		NativeAudio:   req.NativeAudio,
		SpeechTimeout: time.Duration(req.SpeechTimeout * float64(time.Second)),
		Source:        "http",
		Actor:         r.RemoteAddr,
	})

	switch reply.Status {
	case dispatch.StatusNoContent:
		w.WriteHeader(http.StatusNoContent)
		return
	case dispatch.StatusRejected:
		writeDetail(w, http.StatusUnprocessableEntity, reply.Text)
		return
	}

	d := reply.Delivery
	switch d.Kind {
	case delivery.KindAudio:
		ct := d.ContentType
		if ct == "" {
			ct = "audio/wav"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Length", strconv.Itoa(len(d.Audio)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(d.Audio)
	case delivery.KindFile:
		s.serveFile(w, r, d, reply.Text)
	default:
		text := d.Text
		if text == "" {
			text = reply.Text
		}
		writeDetail(w, http.StatusOK, text)
	}
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, d delivery.Delivery, fallback string) {
	f, err := os.Open(d.Path)
	if err != nil {
		// the file may be gone already, answer with the text instead
		s.log.Warn("reply file unavailable", logx.String("path", d.Path), logx.Err(err))
		writeDetail(w, http.StatusOK, fallback)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		writeDetail(w, http.StatusOK, fallback)
		return
	}
	if d.ContentType != "" {
		w.Header().Set("Content-Type", d.ContentType)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(d.Path)+`"`)
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func (s *Server) secureSend(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Access-Token")
	if token == "" {
		if r.Header.Get("Access_Token") != "" {
			writeDetail(w, http.StatusBadRequest, "Headers should have '-' instead of '_'")
			return
		}
		writeDetail(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}
	if s.vault == nil {
		writeDetail(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return
	}

	sec, err := s.vault.Take(token)
	switch {
	case err == nil:
		s.log.Info("secret redeemed", logx.String("name", sec.Name), logx.String("remote", r.RemoteAddr))
		writeDetail(w, http.StatusOK, sec.Value)
	case errors.Is(err, secrets.ErrTokenExpired):
		writeDetail(w, http.StatusGone, "Token expired.")
	default:
		s.log.Info("secret access denied", logx.String("remote", r.RemoteAddr))
		writeDetail(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(detailResp{Detail: detail})
}
