package session

import (
	"io"
	"net"

	"github.com/xtaci/smux"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
	"github.com/philipp3923/rdrop-sub000/internal/settings"
)

// Mux is the per-session stream multiplexer shape the controller needs,
// matching generic.Mux's interface (the teacher's own Mux/Stream
// abstraction in generic/mux.go) so either a real smux session or a test
// fake can stand in.
type Mux interface {
	Open() (io.ReadWriteCloser, error)
	Accept() (io.ReadWriteCloser, error)
	IsClosed() bool
	NumStreams() int
	RemoteAddr() net.Addr
	Close() error
}

// smuxMux adapts *smux.Session to Mux, grounded on client/main.go's
// createConn()/server/main.go's handleMux, which drive the same
// smux.Client/smux.Server + OpenStream/AcceptStream calls.
type smuxMux struct {
	sess *smux.Session
}

// SmuxConfig builds a smux.Config from s's tuning fields and verifies it,
// grounded on std/smuxcfg.go's BuildSmuxConfig (there built from CLI flags;
// here from Settings, this module's single source of tuning knobs).
func SmuxConfig(s *settings.Settings) (*smux.Config, error) {
	cfg := smux.DefaultConfig()
	cfg.Version = s.SmuxVersion
	cfg.MaxReceiveBuffer = s.SmuxMaxReceiveBuffer
	cfg.MaxStreamBuffer = s.SmuxMaxStreamBuffer
	cfg.MaxFrameSize = s.SmuxMaxFrameSize
	cfg.KeepAliveInterval = s.SmuxKeepAliveInterval
	if err := smux.VerifyConfig(cfg); err != nil {
		return nil, rerrors.Wrap(rerrors.ChannelFailed, err, "invalid smux config")
	}
	return cfg, nil
}

// NewClientMux opens a smux.Client session, the side the teacher's
// client/main.go always plays (smux.Client(kcpconn, smuxConfig)). The
// rendezvous role negotiated as cipherstream.RoleClient should use this.
func NewClientMux(conn io.ReadWriteCloser, cfg *smux.Config) (Mux, error) {
	sess, err := smux.Client(conn, cfg)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ChannelFailed, err, "start smux client session")
	}
	return &smuxMux{sess: sess}, nil
}

// NewServerMux opens a smux.Server session, the side server/main.go plays
// (smux.Server(conn, smuxConfig)).
func NewServerMux(conn io.ReadWriteCloser, cfg *smux.Config) (Mux, error) {
	sess, err := smux.Server(conn, cfg)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ChannelFailed, err, "start smux server session")
	}
	return &smuxMux{sess: sess}, nil
}

func (m *smuxMux) Open() (io.ReadWriteCloser, error) {
	s, err := m.sess.OpenStream()
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ChannelFailed, err, "open smux stream")
	}
	return s, nil
}

func (m *smuxMux) Accept() (io.ReadWriteCloser, error) {
	s, err := m.sess.AcceptStream()
	if err != nil {
		return nil, rerrors.Wrap(rerrors.ChannelFailed, err, "accept smux stream")
	}
	return s, nil
}

func (m *smuxMux) IsClosed() bool        { return m.sess.IsClosed() }
func (m *smuxMux) NumStreams() int       { return m.sess.NumStreams() }
func (m *smuxMux) RemoteAddr() net.Addr  { return m.sess.RemoteAddr() }
func (m *smuxMux) Close() error          { return m.sess.Close() }
