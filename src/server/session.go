package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/models"

	"github.com/google/uuid"
)

var (
	ErrSessionClosed  = errors.New("session is not open")
	ErrSendBufferFull = errors.New("session send buffer full")
)

var _ interfaces.ISession = (*ClientSession)(nil)

// -----------------------------------------------------------------------------
// ClientSession
// -----------------------------------------------------------------------------

// ClientSession is one websocket connection. It starts CLOSED, becomes OPEN
// on Initialize and never reopens.
type ClientSession struct {
	Logger *logger.Logger

	id       string
	category models.Category
	upstream interfaces.IUpstream
	registry interfaces.IClientRegistry

	// ctx bounds the poll loops this session starts. Loops outlive the
	// session when other sessions share them.
	ctx context.Context

	stateMu sync.RWMutex
	state   models.ConnectionState
	conn    socket
	send    chan []byte
	done    chan struct{}
	once    sync.Once

	subsMu sync.Mutex
	subs   map[models.DataKind]map[string]struct{}
}

func NewClientSession(
	ctx context.Context,
	category models.Category,
	upstream interfaces.IUpstream,
	registry interfaces.IClientRegistry,
	sendBuffer int,
	log *logger.Logger,
) *ClientSession {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	id := uuid.NewString()
	return &ClientSession{
		Logger:   log.Named("Session"),
		id:       id,
		category: category,
		upstream: upstream,
		registry: registry,
		ctx:      ctx,
		state:    models.StateClosed,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		subs:     newSubscriptionSets(),
	}
}

func newSubscriptionSets() map[models.DataKind]map[string]struct{} {
	sets := make(map[models.DataKind]map[string]struct{}, len(models.TradeKinds))
	for _, kind := range models.TradeKinds {
		sets[kind] = make(map[string]struct{})
	}
	return sets
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

func (s *ClientSession) ID() string                { return s.id }
func (s *ClientSession) Category() models.Category { return s.category }

func (s *ClientSession) IsOpen() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state == models.StateOpen
}

func (s *ClientSession) State() models.ConnectionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Initialize attaches the socket and opens the session. A nil socket is ignored.
func (s *ClientSession) Initialize(conn socket) {
	if conn == nil {
		return
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.conn = conn
	s.state = models.StateOpen
}

// -----------------------------------------------------------------------------
// Subscriptions
// -----------------------------------------------------------------------------

func (s *ClientSession) Subscriptions(kind models.DataKind) []string {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	set := s.subs[kind]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *ClientSession) addSubscription(kind models.DataKind, identifier string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[kind][identifier] = struct{}{}
}

func (s *ClientSession) removeSubscription(kind models.DataKind, identifier string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs[kind], identifier)
}

// -----------------------------------------------------------------------------
// Control messages
// -----------------------------------------------------------------------------

func (s *ClientSession) HandleMessage(raw []byte) {
	msg, err := decodeControl(raw)
	if err != nil {
		s.Logger.Warning("Session %s: %v", s.id, err)
		s.reply(errorAck("invalid message"))
		return
	}

	switch s.category {
	case models.CategoryTrade:
		s.handleTradeMessage(msg)
	case models.CategoryTickers:
		s.handleTickersMessage(msg)
	}
}

func (s *ClientSession) handleTradeMessage(msg models.MControlMessage) {
	p := msg.Params
	if p == nil {
		s.Logger.Warning("Session %s: %s without params", s.id, msg.Method)
		return
	}
	kind, ok := models.ParseKind(p.Type)
	if !ok {
		s.Logger.Warning("Session %s: %v %q", s.id, models.ErrInvalidKind, p.Type)
		return
	}
	if p.Symbol == "" {
		s.reply(errorAck("symbol is required"))
		return
	}
	identifier := kind.Identifier(p.Symbol, p.Interval)

	switch msg.Method {
	case models.MethodSubscribe:
		s.addSubscription(kind, identifier)
		// Registered before the next control message is read, so a following
		// UNSUBSCRIBE always finds the entry.
		if err := s.upstream.StartWatch(s.ctx, p.Symbol, kind, p.Interval, p.Limit, p.Param); err != nil {
			s.Logger.Error("Session %s: watch %s %s failed: %v", s.id, p.Symbol, kind, err)
			s.reply(errorAck(err.Error()))
		}
		s.reply(subscribedAck(p))

	case models.MethodUnsubscribe:
		s.removeSubscription(kind, identifier)
		// Sessions still sharing the subscription keep it alive and the
		// unsubscribing client gets no acknowledgement.
		if !s.registry.IsSymbolSubscribedByOtherClients(s.id, identifier, kind) {
			s.upstream.RemoveSubscription(identifier, kind)
			s.reply(unsubscribedAck(p))
		}

	default:
		s.Logger.Warning("Session %s: unknown method %q", s.id, msg.Method)
	}
}

func (s *ClientSession) handleTickersMessage(msg models.MControlMessage) {
	switch msg.Method {
	case models.MethodSubscribe:
		s.registry.AddClientOfType(models.CategoryTickers, s)
		s.reply(models.MAck{Status: models.StatusSubscribed, Type: string(models.CategoryTickers)})
	case models.MethodUnsubscribe:
		s.registry.RemoveClientOfType(models.CategoryTickers, s)
		s.reply(models.MAck{Status: models.StatusUnsubscribed, Type: string(models.CategoryTickers)})
	default:
		s.Logger.Warning("Session %s: unknown method %q", s.id, msg.Method)
	}
}

func (s *ClientSession) reply(ack models.MAck) {
	if err := s.Send(ack); err != nil {
		s.Logger.Debug("Session %s: reply dropped: %v", s.id, err)
	}
}

// -----------------------------------------------------------------------------
// Disconnect
// -----------------------------------------------------------------------------

// HandleDisconnection tears down upstream subscriptions nobody else holds and
// deregisters the session.
func (s *ClientSession) HandleDisconnection() {
	s.releaseSubscriptions()
	s.registry.RemoveClientOfType(models.CategoryTickers, s)
	s.registry.RemoveClient(s.id)
	s.Close()
}

// releaseSubscriptions empties the subscription sets and removes every
// upstream subscription no other session holds. The sets are swapped out
// under the lock, so whichever of disconnect or close runs first does the
// teardown and the other finds nothing left.
func (s *ClientSession) releaseSubscriptions() {
	s.subsMu.Lock()
	held := s.subs
	s.subs = newSubscriptionSets()
	s.subsMu.Unlock()

	for _, kind := range models.TradeKinds {
		for identifier := range held[kind] {
			if !s.registry.IsSymbolSubscribedByOtherClients(s.id, identifier, kind) {
				s.upstream.RemoveSubscription(identifier, kind)
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

// Send serializes payload and queues it for the write pump. A closed session
// or a full queue deregisters the session.
func (s *ClientSession) Send(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.stateMu.RLock()
	err = ErrSessionClosed
	if s.conn != nil && s.state == models.StateOpen {
		select {
		case s.send <- data:
			err = nil
		default:
			err = ErrSendBufferFull
		}
	}
	s.stateMu.RUnlock()

	if err != nil {
		s.registry.RemoveClient(s.id)
	}
	return err
}

// Close releases the session's upstream subscriptions, then shuts the socket.
// Safe to call twice.
func (s *ClientSession) Close() {
	s.releaseSubscriptions()

	s.once.Do(func() {
		s.stateMu.Lock()
		s.state = models.StateClosed
		conn := s.conn
		close(s.done)
		s.stateMu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
	})
}
