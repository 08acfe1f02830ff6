// Package admin exposes the gateway's state on the tsweb debug mux.
package admin

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/canfd.gateway/internal/diag"
	"github.com/banshee-data/canfd.gateway/internal/httputil"
	"github.com/banshee-data/canfd.gateway/internal/monitoring"
	"github.com/banshee-data/canfd.gateway/internal/router"
	"github.com/banshee-data/canfd.gateway/internal/sensor"
)

//go:embed templates/*
var templateFS embed.FS

var sensorsTemplate = template.Must(template.ParseFS(templateFS, "templates/sensors.html.tmpl"))

// Gateway is what the debug pages read from and act on.
type Gateway interface {
	State() router.State
	Stats() router.Stats
	Err() error
	AttachSensor(id string, receiverID uint32) error
	DetachSensor(id string) error
	Sensors() []*sensor.Subscription
}

// Deps wires the debug routes. BusLoad and Tap may be nil.
type Deps struct {
	Gateway Gateway
	BusLoad *diag.BusLoad
	Tap     *diag.Tap
}

// SensorInfo is one row of the sensors listing.
type SensorInfo struct {
	ID         string `json:"id"`
	ReceiverID uint32 `json:"receiver_id"`
	sensor.Stats
}

// Status is the body of the stats endpoint.
type Status struct {
	State   string       `json:"state"`
	Router  router.Stats `json:"router"`
	BusLoad *BusLoadInfo `json:"bus_load,omitempty"`
	Sensors int          `json:"sensors"`
	Tailing int          `json:"tail_listeners"`
	LastErr string       `json:"last_error,omitempty"`
}

// BusLoadInfo reports the bus load meter.
type BusLoadInfo struct {
	Interface  string  `json:"interface"`
	RateKBps   float64 `json:"rate_kbps"`
	TotalBytes uint64  `json:"total_bytes"`
}

func sensorInfos(g Gateway) []SensorInfo {
	subs := g.Sensors()
	out := make([]SensorInfo, 0, len(subs))
	for _, s := range subs {
		out = append(out, SensorInfo{ID: s.ID, ReceiverID: s.ReceiverID, Stats: s.Stats()})
	}
	return out
}

// ActionResult is the reply to a successful attach or detach.
type ActionResult struct {
	Action     string `json:"action"`
	ID         string `json:"id"`
	ReceiverID uint32 `json:"receiver_id,omitempty"`
}

// Attach registers the gateway debug routes on mux.
func Attach(mux *http.ServeMux, deps Deps) {
	debug := tsweb.Debugger(mux)
	g := deps.Gateway

	debug.Handle("sensors", "attached sensors and their queues", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		data := struct {
			State   router.State
			Stats   router.Stats
			Sensors []SensorInfo
		}{g.State(), g.Stats(), sensorInfos(g)}
		if err := sensorsTemplate.Execute(buf, data); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	}))

	debug.Handle("stats", "router counters and bus load (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := Status{
			State:   g.State().String(),
			Router:  g.Stats(),
			Sensors: len(g.Sensors()),
		}
		if err := g.Err(); err != nil {
			st.LastErr = err.Error()
		}
		if deps.BusLoad != nil {
			st.BusLoad = &BusLoadInfo{
				Interface:  deps.BusLoad.Interface(),
				RateKBps:   deps.BusLoad.Rate(),
				TotalBytes: deps.BusLoad.Total(),
			}
		}
		if deps.Tap != nil {
			st.Tailing = deps.Tap.Listeners()
		}
		httputil.WriteJSONOK(w, st)
	}))

	// JSON listing (GET) and attach/detach (POST) of sensors.
	debug.HandleSilent("sensors-api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httputil.WriteJSONOK(w, sensorInfos(g))
		case http.MethodPost:
			handleSensorAction(w, r, g)
		default:
			httputil.MethodNotAllowed(w)
		}
	}))

	if deps.Tap != nil {
		debug.HandleSilent("canfd-tail", tailHandler(deps.Tap))
	}
}

func handleSensorAction(w http.ResponseWriter, r *http.Request, g Gateway) {
	id := strings.TrimSpace(r.FormValue("id"))
	if id == "" {
		httputil.BadRequest(w, "missing id")
		return
	}

	switch action := r.FormValue("action"); action {
	case "attach":
		rid, err := strconv.ParseUint(strings.TrimSpace(r.FormValue("receiver_id")), 0, 4)
		if err != nil {
			httputil.BadRequest(w, "invalid receiver_id: must be 0-15")
			return
		}
		if err := g.AttachSensor(id, uint32(rid)); err != nil {
			httputil.WriteJSONError(w, actionStatus(err), err.Error())
			return
		}
		monitoring.Logf("admin: attached sensor %s on receiver %d", id, rid)
		httputil.WriteJSONOK(w, ActionResult{Action: action, ID: id, ReceiverID: uint32(rid)})
	case "detach":
		if err := g.DetachSensor(id); err != nil {
			httputil.WriteJSONError(w, actionStatus(err), err.Error())
			return
		}
		monitoring.Logf("admin: detached sensor %s", id)
		httputil.WriteJSONOK(w, ActionResult{Action: action, ID: id})
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown action %q", action))
	}
}

func actionStatus(err error) int {
	switch {
	case errors.Is(err, sensor.ErrSubscriberExists):
		return http.StatusConflict
	case errors.Is(err, sensor.ErrSubscriberNotFound):
		return http.StatusNotFound
	case errors.Is(err, sensor.ErrInvalidSubscriberID):
		return http.StatusBadRequest
	case errors.Is(err, sensor.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// tailHandler streams raw frame dumps as server-sent events.
func tailHandler(tap *diag.Tap) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := tap.Subscribe()
		defer tap.Unsubscribe(id)

		io.WriteString(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}
