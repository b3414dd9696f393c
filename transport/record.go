package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m4xw311/cadlink/errors"
)

// entry is one line of a recording.
type entry struct {
	At    time.Time `json:"at"`
	Event Event     `json:"event"`
}

// Recorder appends received events to a JSON-lines file, one file per
// session.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	path    string
}

// NewRecorder creates dir if needed and opens a fresh recording named after
// a new session id.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create recording directory")
	}
	path := filepath.Join(dir, uuid.NewString()+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open recording %s", path)
	}
	return &Recorder{file: f, encoder: json.NewEncoder(f), path: path}, nil
}

func (r *Recorder) Record(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.encoder.Encode(entry{At: time.Now().UTC(), Event: ev})
}

func (r *Recorder) Path() string {
	return r.path
}

func (r *Recorder) Close() error {
	return r.file.Close()
}

// recording is a Channel that records every event it receives.
type recording struct {
	Channel
	recorder *Recorder
}

// Record wraps ch so every event received through it is appended to r.
func Record(ch Channel, r *Recorder) Channel {
	return &recording{Channel: ch, recorder: r}
}

func (c *recording) Receive(ctx context.Context) (Event, error) {
	ev, err := c.Channel.Receive(ctx)
	if err == nil {
		if rerr := c.recorder.Record(ev); rerr != nil {
			return ev, errors.Wrapf(rerr, "recording event")
		}
	}
	return ev, err
}

func (c *recording) Close() error {
	return errors.Join(c.Channel.Close(), c.recorder.Close())
}

// Replayer is a Channel that re-emits a recording in order and accepts any
// sends. After the last event Receive returns io.EOF.
type Replayer struct {
	mu     sync.Mutex
	events []Event
	next   int
	sent   []Message
}

// NewReplayer loads a recording written by Recorder.
func NewReplayer(path string) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open replay file")
	}
	defer f.Close()
	return ReadReplay(f)
}

// ReadReplay loads a recording from r.
func ReadReplay(r io.Reader) (*Replayer, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxFrameSize)
	rp := &Replayer{}
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, errors.Wrapf(err, "replay line %d", line)
		}
		rp.events = append(rp.events, e.Event)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading replay")
	}
	return rp, nil
}

// NewReplayerFromEvents replays events given directly.
func NewReplayerFromEvents(events ...Event) *Replayer {
	return &Replayer{events: events}
}

func (r *Replayer) Send(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

func (r *Replayer) Receive(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.events) {
		return Event{}, io.EOF
	}
	ev := r.events[r.next]
	r.next++
	return ev, nil
}

func (r *Replayer) Reset() {}

func (r *Replayer) Close() error { return nil }

// Sent returns the messages sent so far.
func (r *Replayer) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// Remaining reports how many events have not been replayed yet.
func (r *Replayer) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events) - r.next
}
