// Package timesync implements spec component A: estimating one-way delay
// and clock skew between two peers already sharing an encrypted channel,
// plus an optional SNTP-assisted variant.
package timesync

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// Transport is the minimal shape the sampler needs — satisfied directly by
// *cipherstream.Stream or *cipherstream.Conn wrapped in an adapter, kept
// decoupled from cipherstream so this package has no import on it.
type Transport interface {
	Write(msg []byte) error
	Read(timeout time.Duration) ([]byte, error)
}

const (
	tagProbe      byte = 0x01
	tagTerminator byte = 0x00
)

var probeMsg = []byte{tagProbe}
var terminatorMsg = []byte{tagTerminator}

// SampleServer runs the Server side of spec §4.A's algorithm: N
// request/response round trips, each yielding one sample
// (t_recv−t_peer)−(t_recv−t_send)/2, followed by a terminator. Returns the
// median sample as Delta and the largest observed round trip as D.
func SampleServer(t Transport, n int, probeTimeout time.Duration) (delta time.Duration, d time.Duration, err error) {
	if n <= 0 {
		return 0, 0, rerrors.New(rerrors.ConversionError, "sample count must be positive")
	}
	samples := make([]int64, 0, n)
	var maxRTT time.Duration

	for i := 0; i < n; i++ {
		tSend := time.Now()
		if err := t.Write(probeMsg); err != nil {
			return 0, 0, rerrors.Wrap(rerrors.CommunicationFailed, err, "send clock-sync probe")
		}
		reply, err := t.Read(probeTimeout)
		if err != nil {
			return 0, 0, rerrors.Wrap(rerrors.CommunicationFailed, err, "read clock-sync reply")
		}
		tRecv := time.Now()
		if len(reply) != 8 {
			return 0, 0, rerrors.New(rerrors.ReadHeaderError, "clock-sync reply has wrong length")
		}
		tPeer := int64(binary.BigEndian.Uint64(reply))

		rtt := tRecv.Sub(tSend)
		if rtt > maxRTT {
			maxRTT = rtt
		}
		sample := (tRecv.UnixNano() - tPeer) - rtt.Nanoseconds()/2
		samples = append(samples, sample)
	}

	if err := t.Write(terminatorMsg); err != nil {
		return 0, 0, rerrors.Wrap(rerrors.CommunicationFailed, err, "send clock-sync terminator")
	}

	return time.Duration(median(samples)), maxRTT, nil
}

// SampleClient runs the Client side: answer every probe with the current
// wall clock in nanoseconds, until the Server's terminator arrives.
func SampleClient(t Transport, probeTimeout time.Duration) error {
	for {
		msg, err := t.Read(probeTimeout)
		if err != nil {
			return rerrors.Wrap(rerrors.CommunicationFailed, err, "read clock-sync probe")
		}
		if len(msg) != 1 {
			return rerrors.New(rerrors.ReadHeaderError, "clock-sync message has wrong length")
		}
		switch msg[0] {
		case tagTerminator:
			return nil
		case tagProbe:
			reply := make([]byte, 8)
			binary.BigEndian.PutUint64(reply, uint64(time.Now().UnixNano()))
			if err := t.Write(reply); err != nil {
				return rerrors.Wrap(rerrors.CommunicationFailed, err, "send clock-sync reply")
			}
		default:
			return rerrors.New(rerrors.ReadHeaderError, "unexpected clock-sync tag")
		}
	}
}

func median(samples []int64) int64 {
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
