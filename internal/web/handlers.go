package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cjeanneret/MountGo/internal/logic/geometry"
	"github.com/cjeanneret/MountGo/internal/logic/motion"
)

// StatusSource supplies mount snapshots. *motion.Controller implements it.
type StatusSource interface {
	Status() motion.Status
}

// AxisView is the JSON form of one axis, in degrees.
type AxisView struct {
	Name          string  `json:"name"`
	Enabled       bool    `json:"enabled"`
	InstrumentDeg float64 `json:"instrument_deg"`
	TargetDeg     float64 `json:"target_deg"`
	RateArcsecS   float64 `json:"rate_arcsec_s"`
	NearTarget    bool    `json:"near_target"`
	Slewing       bool    `json:"slewing"`
	LostTicks     uint64  `json:"lost_ticks"`
}

// StatusView is the JSON form of motion.Status.
type StatusView struct {
	Mount        string     `json:"mount"`
	Tracking     bool       `json:"tracking"`
	Guiding      bool       `json:"guiding"`
	RateHz       float64    `json:"rate_hz"`
	ClockHz      float64    `json:"clock_hz"`
	Compensation string     `json:"compensation"`
	Axes         []AxisView `json:"axes"`
}

// NewStatusView converts a controller snapshot to its JSON form.
func NewStatusView(s motion.Status) StatusView {
	v := StatusView{
		Mount:        s.Mount.String(),
		Tracking:     s.Tracking,
		Guiding:      s.Guiding,
		RateHz:       s.RateHz,
		ClockHz:      s.ClockHz,
		Compensation: s.Compensation.String(),
	}
	for _, a := range s.Axes {
		v.Axes = append(v.Axes, AxisView{
			Name:          a.Name,
			Enabled:       a.Enabled,
			InstrumentDeg: geometry.RadToDeg(a.Instrument),
			TargetDeg:     geometry.RadToDeg(a.Target),
			RateArcsecS:   geometry.RadToArcsec(a.Frequency),
			NearTarget:    a.NearTarget,
			Slewing:       a.Slewing,
			LostTicks:     a.CoalescedTicks,
		})
	}
	return v
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Hub       *Hub
	Source    StatusSource
	heartbeat time.Duration
}

// NewHandlers creates handlers with the given dependencies.
// If source is nil, GET /status returns 503 Service Unavailable.
func NewHandlers(hub *Hub, source StatusSource) *Handlers {
	return &Handlers{
		Hub:       hub,
		Source:    source,
		heartbeat: 30 * time.Second,
	}
}

// HandleStatus returns the current mount snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Source == nil {
		http.Error(w, "mount not running", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(NewStatusView(h.Source.Status()))
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Hub.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
