package rtc

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/chadiek/checkin-demo/internal/barge"
	"github.com/chadiek/checkin-demo/internal/speech"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Ports are the speech endpoints of one check-in session that a peer
// connection binds to.
type Ports struct {
	Input  *speech.InputPort
	Output *speech.OutputPort
	Audio  *speech.SwitchSink
}

// Handler answers WebRTC offers and bridges peer audio to session speech ports.
type Handler struct{}

func NewHandler() *Handler { return &Handler{} }

// HandleOffer accepts an SDP offer for one session and returns an SDP answer.
// Inbound Opus becomes 16kHz PCM fed to the input port; the output port's
// audio is paced onto the outbound track for as long as the peer lives.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription, ports Ports) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}
	if ports.Input == nil || ports.Output == nil || ports.Audio == nil {
		return SessionDescription{}, errors.New("session has no speech ports")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}})
	if err != nil {
		return SessionDescription{}, err
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1}, "assistant-audio", "assistant")
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	if _, err := peerConnection.AddTrack(outTrack); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}

	sink, err := NewOpusTrackSink(outTrack)
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	ports.Audio.Attach(sink)

	connID := time.Now().Format("0102150405.000")

	detector := barge.NewEngine(barge.Default(), barge.Events{
		OnBargeIn: func(_ time.Time, _ []byte) {
			log.Printf("[%s] barge-in: canceling speech output", connID)
			ports.Output.Stop()
			sink.Reset()
		},
	})
	done := make(chan struct{})
	closeDone := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", connID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			closeDone()
			ports.Input.Stop()
			ports.Output.Stop()
			ports.Audio.Detach()
			time.AfterFunc(400*time.Millisecond, sink.Close)
			_ = peerConnection.Close()
		}
	})

	// sample the speaking flag so the detector only votes while audible
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				detector.SetSpeaking(ports.Output.Speaking())
			}
		}
	}()

	// The control channel carries push-to-talk and barge-in commands.
	peerConnection.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		log.Printf("[%s] Control channel opened", connID)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			cmd := strings.TrimSpace(strings.ToLower(string(msg.Data)))
			switch cmd {
			case "capture-start":
				if err := ports.Input.Start(); err != nil {
					log.Printf("[%s] capture start: %v", connID, err)
				}
			case "capture-stop":
				ports.Input.Finish()
			case "capture-cancel":
				ports.Input.Stop()
			case "stop", "stop-speaking", "barge-in":
				ports.Output.Stop()
				sink.Reset()
			}
		})
	})
	peerConnection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) { log.Printf("[%s] ICE state: %s", connID, state.String()) })

	peerConnection.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] Remote audio track received: codec=%s", connID, remote.Codec().MimeType)

		dec, derr := opus.NewDecoder(16000, 1)
		if derr != nil {
			log.Printf("[%s] Opus decoder error: %v", connID, derr)
			return
		}
		go h.readMic(connID, remote, dec, ports.Input, detector)
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := peerConnection.SetRemoteDescription(remoteOffer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = peerConnection.Close()
		return SessionDescription{}, ctx.Err()
	}
	local := peerConnection.LocalDescription()
	if local == nil {
		_ = peerConnection.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// readMic decodes inbound Opus to 16kHz PCM and feeds the input port in
// fixed-size chunks.
func (h *Handler) readMic(connID string, remote *webrtc.TrackRemote, dec *opus.Decoder, input *speech.InputPort, detector *barge.Engine) {
	const pcm16kChunkBytes = 3200
	pcmSamples := make([]int16, 1920)
	pcm16kBuf := make([]byte, 0, pcm16kChunkBytes*4)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			log.Printf("[%s] RTP read error: %v", connID, readErr)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, pcmSamples)
		if decErr != nil {
			log.Printf("[%s] Opus decode error: %v", connID, decErr)
			continue
		}
		startLen := len(pcm16kBuf)
		need := n * 2
		if cap(pcm16kBuf)-len(pcm16kBuf) < need {
			newCap := len(pcm16kBuf) + need + pcm16kChunkBytes
			tmp := make([]byte, len(pcm16kBuf), newCap)
			copy(tmp, pcm16kBuf)
			pcm16kBuf = tmp
		}
		pcm16kBuf = pcm16kBuf[:len(pcm16kBuf)+need]
		o := pcm16kBuf[startLen:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(o[i*2:(i+1)*2], uint16(pcmSamples[i]))
		}
		for len(pcm16kBuf) >= pcm16kChunkBytes {
			detector.FeedMic(pcm16kBuf[:pcm16kChunkBytes])
			input.Feed(pcm16kBuf[:pcm16kChunkBytes])
			copy(pcm16kBuf, pcm16kBuf[pcm16kChunkBytes:])
			pcm16kBuf = pcm16kBuf[:len(pcm16kBuf)-pcm16kChunkBytes]
		}
	}
}
