package stt

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AssemblyAIRecognizer is one live speech capture over the AssemblyAI v3
// streaming API. A new instance is created per capture; formatted turn
// transcripts are emitted as segments in arrival order and the done channel
// signals the end of the capture.
type AssemblyAIRecognizer struct {
	apiKey     string
	sampleRate int

	conn      *websocket.Conn
	segments  chan string
	done      chan error
	audioData chan []byte
	stopCh    chan struct{}

	mu        sync.RWMutex
	connected bool
	doneOnce  sync.Once
}

// AssemblyAI message types
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
	EndOfTurn     bool   `json:"end_of_turn"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewAssemblyAIRecognizer(apiKey string) *AssemblyAIRecognizer {
	return &AssemblyAIRecognizer{
		apiKey:     apiKey,
		sampleRate: 16000,
		segments:   make(chan string, 100),
		done:       make(chan error, 1),
		audioData:  make(chan []byte, 1000),
		stopCh:     make(chan struct{}),
	}
}

func (r *AssemblyAIRecognizer) Segments() <-chan string { return r.segments }
func (r *AssemblyAIRecognizer) Done() <-chan error      { return r.done }

// Connect establishes the streaming WebSocket session.
func (r *AssemblyAIRecognizer) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		return nil
	}
	if r.apiKey == "" {
		return fmt.Errorf("assemblyai api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", fmt.Sprintf("%d", r.sampleRate))
	params.Set("format_turns", "true")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	headers := map[string][]string{"Authorization": {r.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai connection failed with status: %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to connect to assemblyai: %w", err)
	}

	r.conn = conn
	r.connected = true
	go r.handleMessages()
	go r.sendAudioData()
	return nil
}

// SendPCM16KLE queues 16kHz little-endian mono PCM for transcription.
func (r *AssemblyAIRecognizer) SendPCM16KLE(pcm []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.connected {
		return fmt.Errorf("not connected to assemblyai")
	}
	select {
	case r.audioData <- pcm:
		return nil
	default:
		log.Println("assemblyai audio buffer full, dropping packet")
		return nil
	}
}

// Close terminates the session. Done is signalled so the capture resolves.
func (r *AssemblyAIRecognizer) Close() error {
	r.mu.Lock()
	if !r.connected {
		r.mu.Unlock()
		r.signalDone(nil)
		return nil
	}
	r.connected = false
	close(r.stopCh)
	if r.conn != nil {
		terminateMsg := map[string]string{"type": "Terminate"}
		_ = r.conn.WriteJSON(terminateMsg)
		_ = r.conn.Close()
	}
	r.conn = nil
	r.mu.Unlock()
	r.signalDone(nil)
	return nil
}

func (r *AssemblyAIRecognizer) signalDone(err error) {
	r.doneOnce.Do(func() {
		r.done <- err
	})
}

func (r *AssemblyAIRecognizer) handleMessages() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("recovered from panic in assemblyai handleMessages: %v", rec)
		}
	}()
	for {
		select {
		case <-r.stopCh:
			return
		default:
			r.mu.RLock()
			conn := r.conn
			r.mu.RUnlock()
			if conn == nil {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-r.stopCh:
					// closed locally; Close already signalled done
				default:
					log.Printf("assemblyai read error: %v", err)
					r.signalDone(err)
				}
				return
			}
			r.processMessage(message)
		}
	}
}

func (r *AssemblyAIRecognizer) processMessage(message []byte) {
	var baseMsg map[string]interface{}
	if err := json.Unmarshal(message, &baseMsg); err != nil {
		log.Printf("assemblyai unmarshal error: %v", err)
		return
	}
	msgType, ok := baseMsg["type"].(string)
	if !ok {
		log.Printf("assemblyai message missing type field")
		return
	}
	switch msgType {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		expires := time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339)
		log.Printf("assemblyai session began: id=%s expires=%s", msg.ID, expires)
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		// only formatted end-of-turn transcripts count as segments
		if msg.Transcript != "" && msg.TurnFormatted {
			select {
			case r.segments <- msg.Transcript:
			default:
				log.Println("assemblyai segment buffer full, dropping segment")
			}
		}
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("assemblyai session terminated: audio=%.2fs session=%.2fs", msg.AudioDurationSeconds, msg.SessionDurationSeconds)
		r.signalDone(nil)
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("assemblyai error: %s", msg.Error)
		r.signalDone(fmt.Errorf("assemblyai: %s", msg.Error))
	default:
		log.Printf("assemblyai unknown message type: %s", msgType)
	}
}

func (r *AssemblyAIRecognizer) sendAudioData() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("recovered from panic in assemblyai sendAudioData: %v", rec)
		}
	}()
	for {
		select {
		case <-r.stopCh:
			return
		case audioData := <-r.audioData:
			r.mu.RLock()
			conn := r.conn
			r.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, audioData); err != nil {
				log.Printf("assemblyai send error: %v", err)
				return
			}
		}
	}
}
