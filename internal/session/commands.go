package session

import "github.com/philipp3923/rdrop-sub000/internal/rerrors"

type commandKind int

const (
	cmdOffer commandKind = iota
	cmdAccept
	cmdDeny
	cmdPause
	cmdResume
	cmdStop
)

// command is one entry in the writer task's bounded command queue (spec
// §4.G: "Commands accepted from the surrounding application (a bounded
// queue): Offer(path), Accept(hash, path), Deny(hash), Pause(hash),
// Resume(hash), Stop(hash)").
type command struct {
	kind commandKind
	path string
	hash string
}

// Offer advertises a local file to the peer.
func (c *Controller) Offer(path string) error { return c.enqueue(command{kind: cmdOffer, path: path}) }

// Accept orders every chunk (1 through the chunk count) of a pending
// offer; chunks already on disk from an earlier transfer are ordered
// again. targetPath is the output directory: the file is written to
// <targetPath>/<file-hash>/<file-name>, with Settings.OutputDir used when
// targetPath is empty.
func (c *Controller) Accept(hash, targetPath string) error {
	return c.enqueue(command{kind: cmdAccept, hash: hash, path: targetPath})
}

// Deny declines a pending offer (an Order with start=end=0).
func (c *Controller) Deny(hash string) error { return c.enqueue(command{kind: cmdDeny, hash: hash}) }

// Pause halts an active receive by telling its sender to stop, or halts
// an active send locally, without discarding progress.
func (c *Controller) Pause(hash string) error { return c.enqueue(command{kind: cmdPause, hash: hash}) }

// Resume continues a paused receive (re-Order from current+1) or a
// paused send.
func (c *Controller) Resume(hash string) error { return c.enqueue(command{kind: cmdResume, hash: hash}) }

// Stop cancels a file transfer outright, in either direction.
func (c *Controller) Stop(hash string) error { return c.enqueue(command{kind: cmdStop, hash: hash}) }

func (c *Controller) enqueue(cmd command) error {
	select {
	case c.commandCh <- cmd:
		return nil
	case <-c.ctx.Done():
		return rerrors.New(rerrors.ChannelFailed, "session is closed")
	}
}
