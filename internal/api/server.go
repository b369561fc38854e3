// Package api exposes the console over a JSON HTTP control surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/satindergrewal/twindeck/internal/analysis"
	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/autodj"
	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/mixer"
	"github.com/satindergrewal/twindeck/internal/queue"
)

// Console is everything the API drives.
type Console struct {
	Decks    map[deck.ID]*deck.Deck
	Engine   *mixer.Engine
	Queue    *queue.Queue
	AutoDJ   *autodj.Machine
	Analyzer *analysis.Analyzer

	// Listeners reports connected stream clients by transport. Optional.
	Listeners func() map[string]int
}

// Server serves the /api routes.
type Server struct {
	c   Console
	mux *http.ServeMux
}

// Status is the GET /api/status body.
type Status struct {
	Decks      map[deck.ID]deck.Snapshot `json:"decks"`
	Crossfader mixer.State               `json:"crossfader"`
	Queue      []queue.Item              `json:"queue"`
	AutoDJ     autodj.Status             `json:"autodj"`
	Engine     mixer.Stats               `json:"engine"`
	Listeners  map[string]int            `json:"listeners,omitempty"`
}

// New builds the API routes.
func New(c Console) *Server {
	s := &Server{c: c, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	s.mux.HandleFunc("POST /api/deck/{id}/load", s.handleLoad(true))
	s.mux.HandleFunc("POST /api/deck/{id}/cue", s.handleLoad(false))
	s.mux.HandleFunc("POST /api/deck/{id}/play", s.handleTransport((*deck.Deck).Play))
	s.mux.HandleFunc("POST /api/deck/{id}/pause", s.handleTransport((*deck.Deck).Pause))
	s.mux.HandleFunc("POST /api/deck/{id}/eject", s.handleEject)
	s.mux.HandleFunc("POST /api/deck/{id}/seek", s.handleSeek)
	s.mux.HandleFunc("POST /api/deck/{id}/rate", s.handleRate)
	s.mux.HandleFunc("POST /api/deck/{id}/eq", s.handleEQ)
	s.mux.HandleFunc("POST /api/deck/{id}/effect", s.handleEffect)

	s.mux.HandleFunc("POST /api/crossfader", s.handleCrossfader)

	s.mux.HandleFunc("GET /api/queue", s.handleQueueList)
	s.mux.HandleFunc("POST /api/queue", s.handleQueuePush)
	s.mux.HandleFunc("DELETE /api/queue", s.handleQueueClear)
	s.mux.HandleFunc("DELETE /api/queue/{id}", s.handleQueueRemove)

	s.mux.HandleFunc("GET /api/autodj", s.handleAutoDJStatus)
	s.mux.HandleFunc("POST /api/autodj", s.handleAutoDJ)

	s.mux.HandleFunc("POST /api/analyze/{id}", s.handleAnalyze)
	s.mux.HandleFunc("GET /api/analysis/{sourceID}", s.handleAnalysis)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var loadErr *audio.LoadError
	switch {
	case errors.Is(err, deck.ErrUnknownDeck),
		errors.Is(err, queue.ErrNotFound),
		errors.Is(err, analysis.ErrNotFound),
		errors.Is(err, autodj.ErrStaleTransaction):
		code = http.StatusNotFound
	case errors.Is(err, deck.ErrDeckNotReady),
		errors.Is(err, autodj.ErrTransactionActive),
		errors.Is(err, autodj.ErrQueueEmpty),
		errors.Is(err, autodj.ErrInvalidTransition),
		errors.Is(err, analysis.ErrNoAudio):
		code = http.StatusConflict
	case errors.Is(err, deck.ErrUnknownEffect),
		errors.Is(err, deck.ErrEmptyLocator),
		errors.Is(err, queue.ErrEmptyLocator),
		errors.Is(err, mixer.ErrUnknownCurve):
		code = http.StatusBadRequest
	case errors.Is(err, analysis.ErrBusy), errors.Is(err, analysis.ErrAnalyzerClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, autodj.ErrPreloadFailed), errors.As(err, &loadErr):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, map[string]any{"ok": false, "error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) deck(w http.ResponseWriter, r *http.Request) (*deck.Deck, bool) {
	id, err := deck.ParseID(r.PathValue("id"))
	if err == nil {
		if d, ok := s.c.Decks[id]; ok {
			return d, true
		}
		err = deck.ErrUnknownDeck
	}
	writeError(w, err)
	return nil, false
}

// Status collects the console state.
func (s *Server) Status() Status {
	st := Status{
		Decks:      make(map[deck.ID]deck.Snapshot, len(s.c.Decks)),
		Crossfader: s.c.Engine.State(),
		Queue:      s.c.Queue.Items(),
		AutoDJ:     s.c.AutoDJ.Status(),
		Engine:     s.c.Engine.Stats(),
	}
	for id, d := range s.c.Decks {
		st.Decks[id] = d.Snapshot()
	}
	if s.c.Listeners != nil {
		st.Listeners = s.c.Listeners()
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

type loadRequest struct {
	Locator  string           `json:"locator"`
	Kind     audio.SourceKind `json:"kind"`
	SourceID string           `json:"source_id"`
	Title    string           `json:"title"`
	Author   string           `json:"author"`
	// QueueID loads a queued item instead, removing it from the queue.
	QueueID string `json:"queue_id"`
}

func (s *Server) handleLoad(autoPlay bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := s.deck(w, r)
		if !ok {
			return
		}
		var req loadRequest
		if !decode(w, r, &req) {
			return
		}

		meta := deck.Metadata{SourceID: req.SourceID, Title: req.Title, Author: req.Author}
		if req.QueueID != "" {
			it, err := s.takeQueued(req.QueueID)
			if err != nil {
				writeError(w, err)
				return
			}
			req.Locator, req.Kind = it.Locator, it.Kind
			meta = deck.Metadata{SourceID: it.Key(), Title: it.Title, Author: it.Author}
		}
		if meta.SourceID == "" {
			meta.SourceID = req.Locator
		}

		cancelled := s.c.AutoDJ.NotifyManualLoad(d.ID())
		load := d.CueSource
		if autoPlay {
			load = d.LoadSource
		}
		if err := load(context.WithoutCancel(r.Context()), req.Locator, req.Kind, meta); err != nil {
			writeError(w, err)
			return
		}
		log.Printf("Deck %s: manual load %s", d.ID(), req.Locator)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"ok":               true,
			"deck":             d.Snapshot(),
			"autodj_cancelled": cancelled,
		})
	}
}

func (s *Server) takeQueued(id string) (queue.Item, error) {
	it, ok := queue.Item{}, false
	for _, q := range s.c.Queue.Items() {
		if q.ID == id {
			it, ok = q, true
			break
		}
	}
	if !ok {
		return queue.Item{}, queue.ErrNotFound
	}
	if err := s.c.Queue.Remove(id); err != nil {
		return queue.Item{}, err
	}
	return it, nil
}

func (s *Server) handleTransport(op func(*deck.Deck) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, ok := s.deck(w, r)
		if !ok {
			return
		}
		if err := op(d); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deck": d.Snapshot()})
	}
}

func (s *Server) handleEject(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	s.c.AutoDJ.NotifyManualLoad(d.ID())
	if s.c.Analyzer != nil {
		s.c.Analyzer.Cancel(d.ID())
	}
	d.Eject()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deck": d.Snapshot()})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	var req struct {
		Position float64 `json:"position"` // seconds
	}
	if !decode(w, r, &req) {
		return
	}
	if err := d.Seek(time.Duration(req.Position * float64(time.Second))); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deck": d.Snapshot()})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	var req struct {
		Rate float64 `json:"rate"`
	}
	if !decode(w, r, &req) {
		return
	}
	applied := d.SetPlaybackRate(req.Rate)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rate": applied})
}

// handleEQ merges the request over the current settings so clients may send
// a single knob.
func (s *Server) handleEQ(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	eq := d.Snapshot().EQ
	if !decode(w, r, &eq) {
		return
	}
	d.SetEQ(eq)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "eq": d.Snapshot().EQ})
}

func (s *Server) handleEffect(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	cur := d.Snapshot().Effect
	req := struct {
		Kind      string  `json:"kind"`
		Intensity float64 `json:"intensity"`
		Wet       float64 `json:"wet"`
	}{string(cur.Kind), cur.Intensity, cur.Wet}
	if !decode(w, r, &req) {
		return
	}
	if err := d.SetEffect(req.Kind, req.Intensity, req.Wet); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "effect": d.Snapshot().Effect})
}

func (s *Server) handleCrossfader(w http.ResponseWriter, r *http.Request) {
	st := s.c.Engine.State()
	var req struct {
		Position     *float64 `json:"position"`
		Curve        *string  `json:"curve"`
		MasterVolume *float64 `json:"master_volume"`
		VolumeA      *float64 `json:"volume_a"`
		VolumeB      *float64 `json:"volume_b"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Curve != nil {
		c, err := mixer.ParseCurve(*req.Curve)
		if err != nil {
			writeError(w, err)
			return
		}
		st.Curve = c
	}
	if req.Position != nil {
		st.Position = *req.Position
	}
	if req.MasterVolume != nil {
		st.MasterVolume = *req.MasterVolume
	}
	if req.VolumeA != nil {
		st.VolumeA = *req.VolumeA
	}
	if req.VolumeB != nil {
		st.VolumeB = *req.VolumeB
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "crossfader": s.c.Engine.SetState(st)})
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.c.Queue.Items()})
}

func (s *Server) handleQueuePush(w http.ResponseWriter, r *http.Request) {
	var it queue.Item
	if !decode(w, r, &it) {
		return
	}
	it.ID, it.AddedAt = "", time.Time{}
	it, err := s.c.Queue.Push(it)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "item": it})
}

// handleQueueRemove removes a queued item. Removing the item an Auto DJ
// transaction has already taken off the queue cancels the transaction
// unless it is playing or mixing.
func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.c.Queue.Remove(id)
	cancelled := s.c.AutoDJ.NotifyQueueChange(queue.Change{Removed: []string{id}})
	if err != nil && !cancelled {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "autodj_cancelled": cancelled})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	removed := make([]string, 0, s.c.Queue.Len()+1)
	for _, it := range s.c.Queue.Items() {
		removed = append(removed, it.ID)
	}
	if tx := s.c.AutoDJ.Transaction(); tx != nil {
		removed = append(removed, tx.Item.ID)
	}
	s.c.Queue.Clear()
	cancelled := s.c.AutoDJ.NotifyQueueChange(queue.Change{Removed: removed})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "autodj_cancelled": cancelled})
}

func (s *Server) handleAutoDJStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.c.AutoDJ.Status())
}

type autoDJRequest struct {
	Enabled     *bool    `json:"enabled"`
	LeadTime    *float64 `json:"lead_time"`    // seconds
	MixDuration *float64 `json:"mix_duration"` // seconds
	Easing      *string  `json:"easing"`
	AutoStart   *bool    `json:"auto_start"`
	MixNow      bool     `json:"mix_now"`
	Cancel      string   `json:"cancel"` // transaction id
}

func (s *Server) handleAutoDJ(w http.ResponseWriter, r *http.Request) {
	var req autoDJRequest
	if !decode(w, r, &req) {
		return
	}

	cfg := s.c.AutoDJ.Config()
	if req.LeadTime != nil {
		if *req.LeadTime < 1 || *req.LeadTime > 120 {
			http.Error(w, "lead_time must be 1-120", http.StatusBadRequest)
			return
		}
		cfg.LeadTime = seconds(*req.LeadTime)
	}
	if req.MixDuration != nil {
		if *req.MixDuration < 0.5 || *req.MixDuration > 60 {
			http.Error(w, "mix_duration must be 0.5-60", http.StatusBadRequest)
			return
		}
		cfg.MixDuration = seconds(*req.MixDuration)
	}
	if req.Easing != nil {
		switch e := autodj.Easing(*req.Easing); e {
		case autodj.EaseSmoothstep, autodj.EaseLinear:
			cfg.Easing = e
		default:
			http.Error(w, "unknown easing", http.StatusBadRequest)
			return
		}
	}
	if req.AutoStart != nil {
		cfg.AutoStart = *req.AutoStart
	}
	s.c.AutoDJ.SetConfig(cfg)

	if req.Enabled != nil {
		s.c.AutoDJ.SetEnabled(*req.Enabled)
	}
	if req.Cancel != "" {
		if err := s.c.AutoDJ.Cancel(req.Cancel); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.MixNow {
		if _, err := s.c.AutoDJ.MixNow(context.WithoutCancel(r.Context())); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.c.AutoDJ.Status())
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deck(w, r)
	if !ok {
		return
	}
	if s.c.Analyzer == nil {
		writeError(w, analysis.ErrAnalyzerClosed)
		return
	}
	buf := d.Buffer()
	if buf == nil {
		writeError(w, deck.ErrDeckNotReady)
		return
	}
	snap := d.Snapshot()
	if err := s.c.Analyzer.Submit(d.ID(), snap.SourceID, buf); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "deck": d.ID(), "source_id": snap.SourceID})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.c.Analyzer == nil {
		writeError(w, analysis.ErrAnalyzerClosed)
		return
	}
	id := r.PathValue("sourceID")
	est, err := s.c.Analyzer.Lookup(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_id": id, "estimate": est})
}
