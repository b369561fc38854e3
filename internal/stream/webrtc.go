package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/satindergrewal/twindeck/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

// WebRTCOptions configures the Opus monitor stream.
type WebRTCOptions struct {
	StreamID   string
	Bitrate    int // bits per second
	ICEServers []string
}

// WebRTCHandler serves WebRTC SDP negotiation for a low-latency Opus
// monitor of the master bus.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	opts        WebRTCOptions
	mu          sync.Mutex
	peers       map[*webrtc.PeerConnection]struct{}
}

// NewWebRTCHandler creates a WebRTC stream handler.
func NewWebRTCHandler(b *Broadcaster, opts WebRTCOptions) *WebRTCHandler {
	if opts.StreamID == "" {
		opts.StreamID = "twindeck"
	}
	if opts.Bitrate <= 0 {
		opts.Bitrate = 128000
	}
	return &WebRTCHandler{
		broadcaster: b,
		opts:        opts,
		peers:       make(map[*webrtc.PeerConnection]struct{}),
	}
}

func (h *WebRTCHandler) configuration() webrtc.Configuration {
	var cfg webrtc.Configuration
	if len(h.opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: h.opts.ICEServers}}
	}
	return cfg
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := h.negotiate(offer)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, errBadOffer) {
			code = http.StatusBadRequest
		}
		log.Printf("WebRTC: %v", err)
		http.Error(w, err.Error(), code)
		return
	}

	log.Printf("WebRTC peer %s connected (total: %d)", r.RemoteAddr, h.addPeer(pc))

	hangup := make(chan struct{})
	var once sync.Once
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			once.Do(func() { close(hangup) })
			if h.removePeer(pc) {
				pc.Close()
				log.Printf("WebRTC peer disconnected (remaining: %d)", h.PeerCount())
			}
		}
	})
	go h.streamToPeer(track, hangup)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

var errBadOffer = errors.New("bad SDP offer")

// negotiate answers offer with a peer carrying one Opus track. ICE
// gathering completes before it returns so the answer needs no trickle.
func (h *WebRTCHandler) negotiate(offer webrtc.SessionDescription) (pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticSample, err error) {
	pc, err = webrtc.NewPeerConnection(h.configuration())
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}
	defer func() {
		if err != nil {
			pc.Close()
		}
	}()

	track, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"master",
		h.opts.StreamID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create audio track: %w", err)
	}
	if _, err = pc.AddTrack(track); err != nil {
		return nil, nil, fmt.Errorf("add track: %w", err)
	}
	if err = pc.SetRemoteDescription(offer); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBadOffer, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err = pc.SetLocalDescription(answer); err != nil {
		return nil, nil, fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return pc, track, nil
}

func (h *WebRTCHandler) streamToPeer(track *webrtc.TrackLocalStaticSample, hangup <-chan struct{}) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		log.Printf("WebRTC: opus encoder error: %v", err)
		return
	}
	enc.SetBitrate(h.opts.Bitrate)

	opusBuf := make([]byte, 4000)
	for {
		select {
		case <-hangup:
			return
		case <-listener.Done():
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, opusBuf)
			if err != nil {
				log.Printf("WebRTC: opus encode error: %v", err)
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     opusBuf[:n],
				Duration: audio.FrameDuration,
			}); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) addPeer(pc *webrtc.PeerConnection) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[pc] = struct{}{}
	return len(h.peers)
}

// removePeer reports whether pc was still registered.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.peers[pc]
	delete(h.peers, pc)
	return ok
}

// CloseAll hangs up every peer.
func (h *WebRTCHandler) CloseAll() {
	h.mu.Lock()
	peers := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		peers = append(peers, pc)
	}
	clear(h.peers)
	h.mu.Unlock()

	for _, pc := range peers {
		pc.Close()
	}
	if len(peers) > 0 {
		log.Printf("WebRTC: closed %d peers", len(peers))
	}
}
