package session

import (
	"context"
	"sync"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/chunkengine"
	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
	"github.com/philipp3923/rdrop-sub000/internal/settings"
	"github.com/philipp3923/rdrop-sub000/internal/wire"
)

// activeSend is a file the writer task is actively streaming Data frames
// for, one dedicated smux stream per send (spec §3 "ActiveFile (sender
// side): (file-meta, start, stop, current)").
type activeSend struct {
	splitter *chunkengine.Splitter
	fileHash string
	hashAlg  wire.HashAlgorithm
	start    uint64
	stop     uint64
	current  uint64
	paused   bool
	stream   *frameStream
}

// activeReceive is a file the reader task is accumulating Data frames for
// (spec §3 "ActiveFile (receiver side): (file-meta, target-path, stop,
// current)").
type activeReceive struct {
	merger    *chunkengine.Merger
	fileHash  string
	hashAlg   wire.HashAlgorithm
	chunkSize uint64
	stop      uint64
	current   uint64
	paused    bool
}

// Controller is the session controller: one control stream for Offer/
// Order/Stop frames plus one dedicated smux stream per in-flight file
// transfer for Data frames (see SPEC_FULL.md REDESIGN FLAGS #1).
type Controller struct {
	mux      Mux
	control  *frameStream
	settings *settings.Settings

	events    chan Event
	commandCh chan command

	ctx    context.Context
	cancel context.CancelCauseFunc
	doneCh chan struct{}
	wg     sync.WaitGroup

	offersMu      sync.Mutex
	pendingOffers map[string]*wire.OfferFrame // reader-populated, writer-consumed on Accept/Deny

	// shared under activeReceivesMu: the reader task's handleData updates and
	// removes entries, the writer task's Accept/Pause/Resume/Stop handlers
	// add, update and remove them
	activeReceivesMu sync.Mutex
	activeReceives   map[string]*activeReceive

	// writer-task-owned (only writeLoop touches these)
	peerCh            chan *wire.Frame // Order/Stop frames forwarded by the reader task
	offersOutstanding map[string]*outstandingOffer
	activeSends       map[string]*activeSend
	sendOrder         []string
}

// outstandingOffer remembers the local path behind an Offer this side sent,
// so an incoming Order naming that file's hash can open a Splitter on it.
type outstandingOffer struct {
	offer *wire.OfferFrame
	path  string
}

// Role tells New which side of the control stream to play — the Client
// always opens it first, the Server accepts it, mirroring the teacher's
// own smux.Client/smux.Server split in client/main.go and server/main.go.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// New builds a Controller over mux, opening (Client role) or accepting
// (Server role) the dedicated control stream, then starts the reader
// task, the writer task, and the file-stream acceptor loop. events, if
// non-nil, is used as the Controller's event channel instead of a freshly
// allocated one — letting a caller that already emitted pre-connect events
// (EventConnectProgress/EventConnectError/EventBindPort, spec §9) onto it
// keep using the same channel for the file-transfer events this Controller
// produces afterward.
func New(mux Mux, role Role, s *settings.Settings, events chan Event) (*Controller, error) {
	var control *frameStream
	if role == RoleClient {
		rw, err := mux.Open()
		if err != nil {
			return nil, rerrors.Wrap(rerrors.ChannelFailed, err, "open control stream")
		}
		control = newFrameStream(rw)
	} else {
		rw, err := mux.Accept()
		if err != nil {
			return nil, rerrors.Wrap(rerrors.ChannelFailed, err, "accept control stream")
		}
		control = newFrameStream(rw)
	}

	if events == nil {
		events = make(chan Event, 64)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	c := &Controller{
		mux:               mux,
		control:           control,
		settings:          s,
		events:            events,
		commandCh:         make(chan command, 64),
		peerCh:            make(chan *wire.Frame, 64),
		ctx:               ctx,
		cancel:            cancel,
		doneCh:            make(chan struct{}),
		pendingOffers:     make(map[string]*wire.OfferFrame),
		activeReceives:    make(map[string]*activeReceive),
		offersOutstanding: make(map[string]*outstandingOffer),
		activeSends:       make(map[string]*activeSend),
	}

	c.wg.Add(3)
	go c.readControlLoop()
	go c.acceptFileStreamsLoop()
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		close(c.doneCh)
	}()

	return c, nil
}

// Events delivers the five UI events spec §9 names.
func (c *Controller) Events() <-chan Event { return c.events }

// Close stops both tasks and the file-stream acceptor, then closes mux.
// The control stream and mux are closed before waiting for the tasks to
// exit: both readControlLoop and acceptFileStreamsLoop block in a plain
// (non-context-aware) Read/Accept call, so cancelling ctx alone would
// never unblock them.
func (c *Controller) Close() error {
	c.cancel(rerrors.New(rerrors.ChannelFailed, "session closed by caller"))
	c.control.Close()
	err := c.mux.Close()
	<-c.doneCh
	return err
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	default:
		// events channel is an external collaborator's inbox; spec treats
		// the UI as best-effort, so a full buffer drops the oldest signal
		// rather than blocking the controller's own tasks.
		select {
		case <-c.events:
		default:
		}
		select {
		case c.events <- ev:
		default:
		}
	}
}

func (c *Controller) disconnect(err error) {
	c.emit(Event{Kind: EventDisconnect, Err: err})
	c.cancel(err)
}

func (c *Controller) idleTick() time.Duration {
	if c.settings.SendInterval > 0 {
		return c.settings.SendInterval
	}
	return 50 * time.Millisecond
}
