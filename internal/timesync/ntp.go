package timesync

import (
	"time"

	"github.com/beevik/ntp"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// DefaultSNTPPool is used when Settings carries no override.
const DefaultSNTPPool = "pool.ntp.org"

// SNTPOffset queries pool for this host's clock offset against UTC. Its
// failure must never be fatal to a rendezvous (spec §4.A: "This is
// optional; absence must not be fatal") — callers fall back to the
// sample-based Delta/D on error.
func SNTPOffset(pool string) (time.Duration, error) {
	if pool == "" {
		pool = DefaultSNTPPool
	}
	resp, err := ntp.Query(pool)
	if err != nil {
		return 0, rerrors.Wrap(rerrors.CommunicationFailed, err, "query SNTP pool "+pool)
	}
	if err := resp.Validate(); err != nil {
		return 0, rerrors.Wrap(rerrors.CommunicationFailed, err, "validate SNTP response from "+pool)
	}
	return resp.ClockOffset, nil
}

// TargetUTC computes the shared target instant T = now + 10*d + slack in
// UTC, as the Server side of spec §4.D does once clocks are synced. offset
// is the Server's own SNTP offset (zero if SNTP was unavailable, per
// spec's "absence must not be fatal" — the sample-based Delta is used
// instead in that case and this function is not called).
func TargetUTC(offset, d, slack time.Duration) time.Time {
	return time.Now().Add(offset).Add(10*d + slack)
}

// UTCToLocal translates a shared UTC instant (as sent by the Server) into
// this peer's own wall clock, via its own SNTP offset. beevik/ntp reports
// ClockOffset such that the corrected (true) time equals local time plus
// the offset, so the inverse translation subtracts it.
func UTCToLocal(utc time.Time, offset time.Duration) time.Time {
	return utc.Add(-offset)
}
