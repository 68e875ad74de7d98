// Package host lets a remote client (a browser or kiosk) serve as the
// capability host of an assessment session.
//
// The host owns the microphone, speaker and camera; the server drives them
// over a single websocket carrying JSON [Message] values. A [Conn]
// implements the stt, tts, detect and capture ports on top of that
// connection and surfaces host-initiated events (visibility changes, start
// and quit requests) through [Conn.Events].
//
// Requests carry an ID and the host answers with the same ID:
//
//	server → host                       host → server
//	speak{id,text}                      spoke{id}
//	listen{id,lang}                     transcript{id,text,final}, listen_end{id}, listen_error{id,error}
//	stop_listening{id}
//	detect{id,seq}                      detections{id,items}
//	camera{id,on}                       camera{id,ok,error}
//	                                    visibility{hidden,reload}, start, quit
package host

import "github.com/MrWong99/vivavoce/pkg/provider/detect"

// Message types.
const (
	TypeSpeak         = "speak"
	TypeSpoke         = "spoke"
	TypeListen        = "listen"
	TypeStopListening = "stop_listening"
	TypeTranscript    = "transcript"
	TypeListenEnd     = "listen_end"
	TypeListenError   = "listen_error"
	TypeDetect        = "detect"
	TypeDetections    = "detections"
	TypeCamera        = "camera"
	TypeVisibility    = "visibility"
	TypeStart         = "start"
	TypeQuit          = "quit"

	// TypeSession is sent once after the connection is accepted, carrying
	// the session ID in Text.
	TypeSession = "session"

	// TypeError reports a request the server could not handle.
	TypeError = "error"
)

// Message is the envelope for every frame in either direction. Fields that
// do not apply to a type are omitted.
type Message struct {
	Type   string             `json:"type"`
	ID     string             `json:"id,omitempty"`
	Text   string             `json:"text,omitempty"`
	Lang   string             `json:"lang,omitempty"`
	Final  bool               `json:"final,omitempty"`
	Seq    uint64             `json:"seq,omitempty"`
	On     *bool              `json:"on,omitempty"`
	OK     bool               `json:"ok,omitempty"`
	Error  string             `json:"error,omitempty"`
	Hidden bool               `json:"hidden,omitempty"`
	Reload bool               `json:"reload,omitempty"`
	Items  []detect.Detection `json:"items,omitempty"`
}

// EventType classifies a host-initiated [Event].
type EventType string

const (
	EventVisibility EventType = TypeVisibility
	EventStart      EventType = TypeStart
	EventQuit       EventType = TypeQuit
)

// Event is a notification initiated by the host.
type Event struct {
	Type   EventType
	Hidden bool
	Reload bool
}
