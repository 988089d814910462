package session

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/chunkengine"
	"github.com/philipp3923/rdrop-sub000/internal/wire"
)

// writeLoop is the writer task spec §4.G describes: drain one command (or
// one peer-forwarded Order/Stop) per iteration, then give every active,
// unpaused send its next chunk in round-robin order, falling back to a
// short idle sleep when there was nothing to do either way.
func (c *Controller) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.commandCh:
			c.handleCommand(cmd)
		case frame := <-c.peerCh:
			c.handlePeerFrame(frame)
		default:
		}

		if c.sendRoundRobinTick() {
			continue
		}

		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.commandCh:
			c.handleCommand(cmd)
		case frame := <-c.peerCh:
			c.handlePeerFrame(frame)
		case <-time.After(c.idleTick()):
		}
	}
}

// chunkHashAlg returns the configured per-chunk hash algorithm, or nil if
// chunk hashing is disabled.
func (c *Controller) chunkHashAlg() *wire.HashAlgorithm {
	if c.settings.ChunkHashAlgorithm == "" {
		return nil
	}
	alg, err := wire.ParseHashAlgorithm(c.settings.ChunkHashAlgorithm)
	if err != nil {
		return nil
	}
	return &alg
}

func (c *Controller) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdOffer:
		c.handleOffer(cmd)
	case cmdAccept:
		c.handleAccept(cmd)
	case cmdDeny:
		c.handleDeny(cmd)
	case cmdPause:
		c.handlePause(cmd)
	case cmdResume:
		c.handleResume(cmd)
	case cmdStop:
		c.handleStop(cmd)
	}
}

func (c *Controller) handleOffer(cmd command) {
	fileAlg, err := wire.ParseHashAlgorithm(c.settings.FileHashAlgorithm)
	if err != nil {
		c.emit(Event{Kind: EventFileState, Err: err, State: FileCorrupted})
		return
	}
	hash, err := chunkengine.HashFile(cmd.path, fileAlg)
	if err != nil {
		c.emit(Event{Kind: EventFileState, Err: err, State: FileCorrupted})
		return
	}
	info, err := os.Stat(cmd.path)
	if err != nil {
		c.emit(Event{Kind: EventFileState, Err: err, FileHash: hash, State: FileCorrupted})
		return
	}
	offer := &wire.OfferFrame{
		FileName: filepath.Base(cmd.path),
		Size:     uint64(info.Size()),
		HashAlg:  fileAlg,
		FileHash: hash,
	}
	if err := c.sendControlFrame(&wire.Frame{Tag: wire.TagOffer, Offer: offer}); err != nil {
		c.disconnect(err)
		return
	}
	c.offersOutstanding[hash] = &outstandingOffer{offer: offer, path: cmd.path}
	c.emit(Event{Kind: EventFileState, FileHash: hash, State: FilePending})
}

func (c *Controller) handleAccept(cmd command) {
	c.offersMu.Lock()
	offer, ok := c.pendingOffers[cmd.hash]
	if ok {
		delete(c.pendingOffers, cmd.hash)
	}
	c.offersMu.Unlock()
	if !ok {
		return
	}

	numChunks := chunkengine.NumChunks(offer.Size, uint64(c.settings.ChunkSize))
	order := &wire.OrderFrame{
		ChunkSize: uint64(c.settings.ChunkSize),
		HashAlg:   offer.HashAlg,
		FileHash:  offer.FileHash,
		FileName:  offer.FileName,
	}
	if numChunks > 0 {
		order.Start, order.End = 1, numChunks
	}
	if err := c.sendControlFrame(&wire.Frame{Tag: wire.TagOrder, Order: order}); err != nil {
		c.disconnect(err)
		return
	}

	outputDir := cmd.path
	if outputDir == "" {
		outputDir = c.settings.OutputDir
	}
	merger := chunkengine.NewMerger(outputDir, offer.FileName, offer.FileHash, offer.HashAlg, c.settings.UserHash, c.settings.Compression)

	if numChunks == 0 {
		// Zero-byte file: no Data frame will ever arrive to drive
		// handleData's completion check, so finalize immediately rather
		// than registering an activeReceive that would wait forever.
		if err := merger.Finalize(); err != nil {
			c.emit(Event{Kind: EventFileState, FileHash: offer.FileHash, Err: err, State: FileCorrupted})
			return
		}
		c.emit(Event{Kind: EventFileState, FileHash: offer.FileHash, State: FileCompleted})
		return
	}

	recv := &activeReceive{
		merger:    merger,
		fileHash:  offer.FileHash,
		hashAlg:   offer.HashAlg,
		chunkSize: uint64(c.settings.ChunkSize),
		stop:      numChunks,
	}
	c.activeReceivesMu.Lock()
	c.activeReceives[offer.FileHash] = recv
	c.activeReceivesMu.Unlock()
	c.emit(Event{Kind: EventFileState, FileHash: offer.FileHash, State: FileTransferring})
}

func (c *Controller) handleDeny(cmd command) {
	c.offersMu.Lock()
	offer, ok := c.pendingOffers[cmd.hash]
	if ok {
		delete(c.pendingOffers, cmd.hash)
	}
	c.offersMu.Unlock()
	if !ok {
		return
	}
	order := &wire.OrderFrame{ChunkSize: uint64(c.settings.ChunkSize), HashAlg: offer.HashAlg, FileHash: offer.FileHash, FileName: offer.FileName}
	if err := c.sendControlFrame(&wire.Frame{Tag: wire.TagOrder, Order: order}); err != nil {
		c.disconnect(err)
		return
	}
	c.emit(Event{Kind: EventFileState, FileHash: cmd.hash, State: FileStopped})
}

func (c *Controller) handlePause(cmd command) {
	c.activeReceivesMu.Lock()
	recv, ok := c.activeReceives[cmd.hash]
	if ok {
		recv.paused = true
	}
	c.activeReceivesMu.Unlock()
	if ok {
		if err := c.sendControlFrame(&wire.Frame{Tag: wire.TagStop, Stop: &wire.StopFrame{FileHash: cmd.hash}}); err != nil {
			c.disconnect(err)
			return
		}
		c.emit(Event{Kind: EventFileState, FileHash: cmd.hash, State: FilePaused})
		return
	}
	if send, ok := c.activeSends[cmd.hash]; ok {
		send.paused = true
		c.emit(Event{Kind: EventFileState, FileHash: cmd.hash, State: FilePaused})
	}
}

func (c *Controller) handleResume(cmd command) {
	c.activeReceivesMu.Lock()
	recv, ok := c.activeReceives[cmd.hash]
	if ok && recv.paused {
		recv.paused = false
	}
	var order *wire.OrderFrame
	if ok {
		order = &wire.OrderFrame{
			ChunkSize: recv.chunkSize,
			HashAlg:   recv.hashAlg,
			FileHash:  recv.fileHash,
			Start:     recv.current + 1,
			End:       recv.stop,
		}
	}
	c.activeReceivesMu.Unlock()
	if ok {
		if err := c.sendControlFrame(&wire.Frame{Tag: wire.TagOrder, Order: order}); err != nil {
			c.disconnect(err)
			return
		}
		c.emit(Event{Kind: EventFileState, FileHash: cmd.hash, State: FileTransferring})
		return
	}
	if send, ok := c.activeSends[cmd.hash]; ok && send.paused {
		send.paused = false
		c.emit(Event{Kind: EventFileState, FileHash: cmd.hash, State: FileTransferring})
	}
}

func (c *Controller) handleStop(cmd command) {
	c.activeReceivesMu.Lock()
	_, wasReceiving := c.activeReceives[cmd.hash]
	if wasReceiving {
		delete(c.activeReceives, cmd.hash)
	}
	c.activeReceivesMu.Unlock()
	if wasReceiving {
		if err := c.sendControlFrame(&wire.Frame{Tag: wire.TagStop, Stop: &wire.StopFrame{FileHash: cmd.hash}}); err != nil {
			c.disconnect(err)
			return
		}
		c.emit(Event{Kind: EventFileState, FileHash: cmd.hash, State: FileStopped})
		return
	}

	if send, ok := c.activeSends[cmd.hash]; ok {
		send.stream.Close()
		send.splitter.Close()
		c.removeActiveSend(cmd.hash)
		c.emit(Event{Kind: EventFileState, FileHash: cmd.hash, State: FileStopped})
		return
	}
	delete(c.offersOutstanding, cmd.hash)
}

// handlePeerFrame processes an Order or Stop the peer sent on the control
// stream, forwarded here by the reader task.
func (c *Controller) handlePeerFrame(frame *wire.Frame) {
	switch frame.Tag {
	case wire.TagOrder:
		c.handlePeerOrder(frame.Order)
	case wire.TagStop:
		c.handlePeerStop(frame.Stop)
	}
}

func (c *Controller) handlePeerOrder(order *wire.OrderFrame) {
	if order.Empty() {
		outstanding, hadOffer := c.offersOutstanding[order.FileHash]
		delete(c.offersOutstanding, order.FileHash)
		c.removeActiveSend(order.FileHash)
		if hadOffer && outstanding.offer.Size == 0 {
			// Accept of a zero-byte offer also orders start=end=0 (there
			// are no chunks to request), which is indistinguishable on
			// the wire from a deny — offersOutstanding still carries the
			// offer's size, so use that to tell them apart (spec §8:
			// a 0-byte file "validates as complete", not as stopped).
			c.emit(Event{Kind: EventFileState, FileHash: order.FileHash, State: FileCompleted})
			return
		}
		c.emit(Event{Kind: EventFileState, FileHash: order.FileHash, State: FileStopped})
		return
	}

	outstanding, ok := c.offersOutstanding[order.FileHash]
	if !ok {
		return // an order for a file we never offered, or already withdrawn
	}

	splitter, err := chunkengine.NewSplitter(outstanding.path, order.ChunkSize, c.chunkHashAlg(), c.settings.Compression)
	if err != nil {
		c.emit(Event{Kind: EventFileState, FileHash: order.FileHash, Err: err, State: FileCorrupted})
		return
	}
	rw, err := c.mux.Open()
	if err != nil {
		splitter.Close()
		c.disconnect(err)
		return
	}
	c.activeSends[order.FileHash] = &activeSend{
		splitter: splitter,
		fileHash: order.FileHash,
		hashAlg:  order.HashAlg,
		start:    order.Start,
		stop:     order.End,
		current:  order.Start - 1,
		stream:   newFrameStream(rw),
	}
	c.sendOrder = append(c.sendOrder, order.FileHash)
	c.emit(Event{Kind: EventFileState, FileHash: order.FileHash, State: FileTransferring})
}

func (c *Controller) handlePeerStop(stop *wire.StopFrame) {
	send, ok := c.activeSends[stop.FileHash]
	if !ok {
		return
	}
	send.stream.Close()
	send.splitter.Close()
	c.removeActiveSend(stop.FileHash)
	c.emit(Event{Kind: EventFileState, FileHash: stop.FileHash, State: FilePaused})
}

// sendRoundRobinTick gives every active, unpaused send its next chunk, in
// sendOrder order, and reports whether any chunk was actually sent.
func (c *Controller) sendRoundRobinTick() bool {
	sentAny := false
	for _, hash := range append([]string(nil), c.sendOrder...) {
		send, ok := c.activeSends[hash]
		if !ok || send.paused || send.current >= send.stop {
			continue
		}
		next := send.current + 1
		df, err := send.splitter.ReadChunk(next)
		if err != nil {
			c.emit(Event{Kind: EventFileState, FileHash: hash, Err: err, State: FileCorrupted})
			send.stream.Close()
			send.splitter.Close()
			c.removeActiveSend(hash)
			continue
		}
		df.FileHash, _ = hex.DecodeString(hash)
		df.UserHash = c.settings.UserHash

		encoded, err := wire.Encode(&wire.Frame{Tag: wire.TagData, Data: df})
		if err != nil {
			c.emit(Event{Kind: EventFileState, FileHash: hash, Err: err, State: FileCorrupted})
			send.stream.Close()
			send.splitter.Close()
			c.removeActiveSend(hash)
			continue
		}
		if err := send.stream.writeMessage(encoded); err != nil {
			c.emit(Event{Kind: EventFileState, FileHash: hash, Err: err, State: FileCorrupted})
			send.splitter.Close()
			c.removeActiveSend(hash)
			continue
		}

		send.current = next
		sentAny = true
		if send.current >= send.stop {
			send.stream.Close()
			send.splitter.Close()
			c.removeActiveSend(hash)
			c.emit(Event{Kind: EventFileState, FileHash: hash, State: FileCompleted})
		} else {
			c.emit(Event{Kind: EventFileState, FileHash: hash, State: FileTransferring})
		}
	}
	return sentAny
}

func (c *Controller) removeActiveSend(hash string) {
	delete(c.activeSends, hash)
	for i, h := range c.sendOrder {
		if h == hash {
			c.sendOrder = append(c.sendOrder[:i], c.sendOrder[i+1:]...)
			break
		}
	}
}

func (c *Controller) sendControlFrame(f *wire.Frame) error {
	encoded, err := wire.Encode(f)
	if err != nil {
		return err
	}
	return c.control.writeMessage(encoded)
}
