package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/kapu/chess-arena-server/internal/domain"
	"github.com/kapu/chess-arena-server/internal/identity"
	"github.com/kapu/chess-arena-server/internal/obslog"
	"github.com/kapu/chess-arena-server/internal/queue"
	"github.com/kapu/chess-arena-server/internal/session"
	"github.com/kapu/chess-arena-server/internal/wager"
	"github.com/kapu/chess-arena-server/pkg/arenadto"
)

// Server accepts websocket connections, verifies identity at the handshake,
// and routes wire events into the managers. It is also the Notifier every
// manager emits through.
type Server struct {
	sessions *session.Manager
	pool     *queue.Queue
	wagers   *wager.Manager
	idc      *identity.Client

	mu      sync.Mutex
	conns   map[string]*wsConn
	byUser  map[string]string
}

func NewServer(sessions *session.Manager, pool *queue.Queue, wagers *wager.Manager, idc *identity.Client) *Server {
	s := &Server{
		sessions: sessions,
		pool:     pool,
		wagers:   wagers,
		idc:      idc,
		conns:    make(map[string]*wsConn),
		byUser:   make(map[string]string),
	}
	if pool != nil {
		pool.Alive = s.Alive
	}
	return s
}

// Handler exposes the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Notify delivers a server event to one socket. Implements the managers'
// notifier interfaces; send failures drop the message, the read loop owns
// connection teardown.
func (s *Server) Notify(connID, event string, payload any) {
	s.mu.Lock()
	c := s.conns[connID]
	s.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.Send(event, payload); err != nil {
		obslog.L().Debug("ws_send_error", zap.String("conn_id", connID), zap.Error(err))
	}
}

// NotifyUser routes by durable identity, for events that may outlive the
// socket that triggered them.
func (s *Server) NotifyUser(userID, event string, payload any) {
	s.mu.Lock()
	connID := s.byUser[userID]
	s.mu.Unlock()
	if connID == "" {
		return
	}
	s.Notify(connID, event, payload)
}

// Alive reports whether a connection is still registered.
func (s *Server) Alive(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[connID]
	return ok
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	c := &wsConn{id: uuid.NewString(), conn: ws}
	if v := s.verify(r); v != nil {
		c.user = v.UserID
		c.name = v.DisplayName
		c.rating = v.Rating
	} else {
		c.name = "guest-" + c.id[:8]
	}

	s.register(c)
	obslog.L().Info("ws_connect",
		zap.String("conn_id", c.id),
		zap.String("user_id", c.user),
	)

	// An identified player returning mid-game or mid-queue picks up where
	// they left off.
	if c.user != "" {
		if _, err := s.sessions.Reconnect(c.user, c.id); err == nil {
			obslog.L().Info("ws_session_resume", zap.String("user_id", c.user))
		}
		s.pool.Resume(c.user, c.id)
	}

	s.readLoop(r.Context(), c)

	s.unregister(c)
	s.pool.Leave(c.id, true)
	s.sessions.Disconnect(c.id)
	c.close(websocket.StatusNormalClosure, "")
	obslog.L().Info("ws_disconnect", zap.String("conn_id", c.id))
}

func (s *Server) verify(r *http.Request) *identity.Verified {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	if token == "" || s.idc == nil {
		return nil
	}
	v, err := s.idc.Verify(r.Context(), token)
	if err != nil {
		obslog.L().Warn("identity_verify_error", zap.Error(err))
		return nil
	}
	return v
}

func (s *Server) register(c *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
	if c.user != "" {
		s.byUser[c.user] = c.id
	}
}

func (s *Server) unregister(c *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.id)
	if c.user != "" && s.byUser[c.user] == c.id {
		delete(s.byUser, c.user)
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	for {
		var env Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			return
		}
		s.dispatch(ctx, c, env)
	}
}

func (s *Server) dispatch(ctx context.Context, c *wsConn, env Envelope) {
	var err error
	switch env.Event {
	case arenadto.EvJoinQueue:
		err = s.onJoinQueue(c, env.Data)
	case arenadto.EvLeaveQueue:
		s.pool.Leave(c.id, false)
	case arenadto.EvMakeMove:
		err = s.onMove(ctx, c, env.Data)
	case arenadto.EvResign:
		err = s.onGameSignal(ctx, c, env.Data, s.resign)
	case arenadto.EvOfferDraw:
		err = s.onGameSignal(ctx, c, env.Data, s.offerDraw)
	case arenadto.EvAcceptDraw:
		err = s.onGameSignal(ctx, c, env.Data, s.acceptDraw)
	case arenadto.EvFlagTimeout:
		err = s.onFlag(ctx, c, env.Data)
	case arenadto.EvCreateChallenge:
		err = s.onCreateChallenge(ctx, c, env.Data)
	case arenadto.EvRespondChallenge:
		err = s.onRespondChallenge(ctx, c, env.Data)
	case arenadto.EvCancelChallenge:
		err = s.onCancelChallenge(ctx, c, env.Data)
	default:
		err = arenadto.Validation("unknown event: " + env.Event)
	}
	if err != nil {
		s.sendError(c, err)
	}
}

func (s *Server) sendError(c *wsConn, err error) {
	notice := arenadto.ErrorNotice{Code: arenadto.CodeOf(err), Message: err.Error()}
	if serr := c.Send(arenadto.EvError, notice); serr != nil {
		obslog.L().Debug("ws_send_error", zap.String("conn_id", c.id), zap.Error(serr))
	}
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return arenadto.Validation("missing payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return arenadto.Validation("malformed payload")
	}
	return nil
}

func (s *Server) onJoinQueue(c *wsConn, raw json.RawMessage) error {
	var req arenadto.JoinQueueReq
	if err := decode(raw, &req); err != nil {
		return err
	}
	if _, busy := s.sessions.SessionFor(c.id); busy {
		return arenadto.StateConflict("finish your current game first")
	}
	return s.pool.Join(queue.Entry{
		ConnID:      c.id,
		UserID:      c.user,
		Name:        c.name,
		Rating:      ratingOf(c),
		Mode:        req.Mode,
		TimeControl: req.TimeControl,
		Rated:       req.Rated,
		Side:        req.Side,
	})
}

func ratingOf(c *wsConn) int {
	if c.user == "" || c.rating == 0 {
		return 1200
	}
	return c.rating
}

func (s *Server) onMove(ctx context.Context, c *wsConn, raw json.RawMessage) error {
	var req arenadto.GameReq
	if err := decode(raw, &req); err != nil {
		return err
	}
	_, err := s.sessions.Move(ctx, req.SessionID, c.id, c.user, req.Move)
	return err
}

func (s *Server) onGameSignal(ctx context.Context, c *wsConn, raw json.RawMessage, f func(context.Context, *wsConn, arenadto.GameReq) error) error {
	var req arenadto.GameReq
	if err := decode(raw, &req); err != nil {
		return err
	}
	return f(ctx, c, req)
}

func (s *Server) resign(ctx context.Context, c *wsConn, req arenadto.GameReq) error {
	_, err := s.sessions.Resign(ctx, req.SessionID, c.id, c.user)
	return err
}

func (s *Server) offerDraw(ctx context.Context, c *wsConn, req arenadto.GameReq) error {
	return s.sessions.OfferDraw(req.SessionID, c.id, c.user)
}

func (s *Server) acceptDraw(ctx context.Context, c *wsConn, req arenadto.GameReq) error {
	_, err := s.sessions.AcceptDraw(ctx, req.SessionID, c.id, c.user)
	return err
}

func (s *Server) onFlag(ctx context.Context, c *wsConn, raw json.RawMessage) error {
	var req arenadto.GameReq
	if err := decode(raw, &req); err != nil {
		return err
	}
	var color domain.Color
	switch req.Color {
	case string(domain.White):
		color = domain.White
	case string(domain.Black):
		color = domain.Black
	default:
		return arenadto.Validation("color must be white or black")
	}
	_, err := s.sessions.RegisterTimeout(ctx, req.SessionID, color)
	return err
}

func (s *Server) onCreateChallenge(ctx context.Context, c *wsConn, raw json.RawMessage) error {
	if c.user == "" {
		return arenadto.Validation("guests cannot create wagers")
	}
	var req arenadto.CreateChallengeReq
	if err := decode(raw, &req); err != nil {
		return err
	}
	_, err := s.wagers.CreateChallenge(ctx, wager.CreateParams{
		ChallengerID:     c.user,
		ChallengerConn:   c.id,
		ChallengerName:   c.name,
		ChallengerRating: ratingOf(c),
		OpponentID:       req.OpponentID,
		Kind:             wager.Kind(req.Kind),
		Stake:            req.Stake,
		Mode:             req.Mode,
		TimeControl:      req.TimeControl,
		Side:             req.Side,
	})
	return err
}

func (s *Server) onRespondChallenge(ctx context.Context, c *wsConn, raw json.RawMessage) error {
	if c.user == "" {
		return arenadto.Validation("guests cannot respond to wagers")
	}
	var req arenadto.RespondChallengeReq
	if err := decode(raw, &req); err != nil {
		return err
	}
	return s.wagers.Respond(ctx, req.ChallengeID, wager.Responder{
		UserID: c.user,
		ConnID: c.id,
		Name:   c.name,
		Rating: ratingOf(c),
	}, req.Accepted)
}

func (s *Server) onCancelChallenge(ctx context.Context, c *wsConn, raw json.RawMessage) error {
	var req arenadto.CancelChallengeReq
	if err := decode(raw, &req); err != nil {
		return err
	}
	return s.wagers.Cancel(ctx, req.ChallengeID, c.user)
}

var errServerClosed = errors.New("server closed")

// Serve runs the HTTP listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return errServerClosed
	case err := <-errCh:
		return err
	}
}
