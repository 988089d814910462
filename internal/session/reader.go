package session

import (
	"encoding/hex"

	"github.com/philipp3923/rdrop-sub000/internal/chunkengine"
	"github.com/philipp3923/rdrop-sub000/internal/wire"
)

// readControlLoop is the reader task's half that spec §4.G describes:
// it dispatches each decoded control frame (Offer/Order/Stop — Data rides
// its own per-file stream in this redesign, handled by handleFileStream).
func (c *Controller) readControlLoop() {
	defer c.wg.Done()
	for {
		msg, err := c.control.readMessage()
		if err != nil {
			c.disconnect(err)
			return
		}
		frame, err := wire.Decode(msg)
		if err != nil {
			continue // malformed control frame: transient, drop and keep reading
		}
		switch frame.Tag {
		case wire.TagOffer:
			c.offersMu.Lock()
			c.pendingOffers[frame.Offer.FileHash] = frame.Offer
			c.offersMu.Unlock()
			c.emit(Event{Kind: EventFileState, FileHash: frame.Offer.FileHash, State: FilePending})
		case wire.TagOrder, wire.TagStop:
			select {
			case c.peerCh <- frame:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// acceptFileStreamsLoop accepts the per-file smux streams the peer opens
// for each Order it honors, and spawns one handler goroutine per stream.
func (c *Controller) acceptFileStreamsLoop() {
	defer c.wg.Done()
	for {
		rw, err := c.mux.Accept()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.disconnect(err)
			return
		}
		go c.handleFileStream(newFrameStream(rw))
	}
}

// handleFileStream reads Data frames off one dedicated file stream until
// it closes, dispatching each to the matching active receive.
func (c *Controller) handleFileStream(fs *frameStream) {
	defer fs.Close()
	for {
		msg, err := fs.readMessage()
		if err != nil {
			return
		}
		frame, err := wire.Decode(msg)
		if err != nil || frame.Tag != wire.TagData {
			continue
		}
		c.handleData(frame.Data)
	}
}

func (c *Controller) handleData(d *wire.DataFrame) {
	hashHex := hex.EncodeToString(d.FileHash)

	c.activeReceivesMu.Lock()
	recv, ok := c.activeReceives[hashHex]
	c.activeReceivesMu.Unlock()
	if !ok {
		return // no active receive expects this file; drop
	}

	if err := recv.merger.Write(d, recv.chunkSize); err != nil {
		c.emit(Event{Kind: EventFileState, FileHash: hashHex, State: FileCorrupted, Err: err})
		return
	}

	c.activeReceivesMu.Lock()
	if d.ChunkIndex > recv.current {
		recv.current = d.ChunkIndex
	}
	done := recv.stop > 0 && recv.current >= recv.stop
	c.activeReceivesMu.Unlock()

	c.emit(Event{Kind: EventFileState, FileHash: hashHex, State: FileTransferring})

	if !done {
		return
	}

	first, last, err := chunkengine.Validate(recv.merger.LogPath(), d.ChunkMax)
	c.activeReceivesMu.Lock()
	delete(c.activeReceives, hashHex)
	c.activeReceivesMu.Unlock()
	if err != nil || first != 0 || last != 0 {
		c.emit(Event{Kind: EventFileState, FileHash: hashHex, State: FileCorrupted, Err: err})
		return
	}
	c.emit(Event{Kind: EventFileState, FileHash: hashHex, State: FileCompleted})
}
