package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"carestream.org/internal/authz"
	"carestream.org/internal/desk"
	"carestream.org/internal/records"
	"carestream.org/internal/subscription"
)

// Client message types.
const (
	msgSignIn  = "signin"
	msgSignOut = "signout"
	msgOpen    = "open"
	msgRelease = "release"
)

// Server message types.
const (
	msgAck      = "ack"
	msgSnapshot = "snapshot"
	msgError    = "error"
)

// Named live collections a client may open.
const (
	queryPatients         = "patients"
	queryPatientsByName   = "patientsByName"
	queryAppointments     = "appointments"
	queryOwnAppointments  = "ownAppointments"
	queryHistory          = "history"
	queryOwnPrescriptions = "ownPrescriptions"
	queryUsers            = "users"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
	maxMessage = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type clientMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Token     string `json:"token,omitempty"`
	Query     string `json:"query,omitempty"`
	PatientID string `json:"patientId,omitempty"`
}

type serverMessage struct {
	Type    string           `json:"type"`
	ID      string           `json:"id,omitempty"`
	Session *sessionResponse `json:"session,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// snapshotMessage always carries the full record list, even when empty.
type snapshotMessage struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Seq     uint64            `json:"seq"`
	Kind    records.Kind      `json:"kind"`
	Records []records.Record  `json:"records"`
	Diff    subscription.Diff `json:"diff"`
}

func specFor(msg clientMessage) (subscription.Spec, error) {
	switch msg.Query {
	case queryPatients:
		return subscription.Patients(), nil
	case queryPatientsByName:
		return subscription.PatientsByName(), nil
	case queryAppointments:
		return subscription.Appointments(), nil
	case queryOwnAppointments:
		return subscription.OwnAppointments(), nil
	case queryHistory:
		return subscription.PrescriptionHistory(msg.PatientID), nil
	case queryOwnPrescriptions:
		return subscription.OwnPrescriptions(), nil
	case queryUsers:
		return subscription.Users(), nil
	}
	return subscription.Spec{}, fmt.Errorf("%w: unknown query %q", subscription.ErrInvalidSpec, msg.Query)
}

// liveClient is one websocket connection: one desk, one view.
type liveClient struct {
	api  *API
	id   string
	desk *desk.Desk
	log  zerolog.Logger
	send chan []byte
	done chan struct{}

	mu   sync.Mutex
	view *subscription.View
	subs map[string]*subscription.Subscription
}

// Live upgrades to a websocket carrying live views.
func (a *API) Live(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	d := desk.New(a.deps)
	lc := &liveClient{
		api:  a,
		id:   id,
		desk: d,
		log:  a.log.With().Str("client", id).Logger(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		view: d.NewView("live:" + id),
		subs: make(map[string]*subscription.Subscription),
	}
	lc.log.Debug().Msg("live client connected")

	go lc.writePump(ws)
	lc.readPump(c.Request().Context(), ws)
	return nil
}

func (lc *liveClient) readPump(ctx context.Context, ws *websocket.Conn) {
	defer func() {
		close(lc.done)
		lc.desk.SignOut()
		_ = ws.Close()
		lc.log.Debug().Msg("live client disconnected")
	}()
	// Echo may cancel the request context once the connection is hijacked.
	ctx = context.WithoutCancel(ctx)

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			lc.reply(serverMessage{Type: msgError, Error: "malformed message"})
			continue
		}
		lc.handle(ctx, msg)
	}
}

func (lc *liveClient) writePump(ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case <-lc.done:
			return
		case payload := <-lc.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (lc *liveClient) reply(msg any) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		lc.log.Error().Err(err).Msg("encode live message")
		return false
	}
	select {
	case lc.send <- payload:
		return true
	case <-lc.done:
		return false
	}
}

func (lc *liveClient) fail(id string, err error) {
	lc.reply(serverMessage{Type: msgError, ID: id, Error: err.Error()})
}

func (lc *liveClient) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case msgSignIn:
		lc.signIn(ctx, msg)
	case msgSignOut:
		lc.signOut()
		lc.reply(serverMessage{Type: msgAck, ID: msg.ID})
	case msgOpen:
		lc.open(ctx, msg)
	case msgRelease:
		lc.release(msg)
	default:
		lc.fail(msg.ID, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (lc *liveClient) signIn(ctx context.Context, msg clientMessage) {
	claims, err := lc.api.verify(msg.Token)
	if err != nil {
		lc.fail(msg.ID, err)
		return
	}
	// A new identity replaces the old one together with everything it had open.
	lc.signOut()
	s, err := lc.desk.SignIn(ctx, claims.Subject)
	if err != nil {
		lc.fail(msg.ID, err)
		return
	}
	lc.reply(serverMessage{Type: msgAck, ID: msg.ID, Session: &sessionResponse{
		IdentityID: s.IdentityID,
		Name:       s.DisplayName(),
		Role:       s.Role,
		Degraded:   s.Degraded(),
		Sections:   authz.Sections(s.Role),
	}})
}

func (lc *liveClient) signOut() {
	lc.desk.SignOut()
	lc.mu.Lock()
	lc.subs = make(map[string]*subscription.Subscription)
	lc.view = lc.desk.NewView("live:" + lc.id)
	lc.mu.Unlock()
}

func (lc *liveClient) open(ctx context.Context, msg clientMessage) {
	if msg.ID == "" {
		lc.fail("", errors.New("open requires an id"))
		return
	}
	spec, err := specFor(msg)
	if err != nil {
		lc.fail(msg.ID, err)
		return
	}
	lc.mu.Lock()
	view := lc.view
	for id, s := range lc.subs {
		if s.Spec.Kind == spec.Kind && s.Spec.Scope == spec.Scope && s.Err() == nil {
			lc.mu.Unlock()
			lc.reply(serverMessage{Type: msgAck, ID: id})
			return
		}
	}
	lc.mu.Unlock()

	sub, err := view.Open(ctx, spec)
	if err != nil {
		lc.fail(msg.ID, err)
		return
	}
	lc.mu.Lock()
	lc.subs[msg.ID] = sub
	lc.mu.Unlock()
	lc.reply(serverMessage{Type: msgAck, ID: msg.ID})
	go lc.forward(msg.ID, sub)
}

// forward relays snapshots until the subscription ends.
func (lc *liveClient) forward(id string, sub *subscription.Subscription) {
	defer func() {
		lc.mu.Lock()
		if lc.subs[id] == sub {
			delete(lc.subs, id)
		}
		lc.mu.Unlock()
	}()
	for snap := range sub.C {
		if snap.Err != nil {
			lc.fail(id, snap.Err)
			return
		}
		recs := snap.Records
		if recs == nil {
			recs = []records.Record{}
		}
		if !lc.reply(snapshotMessage{
			Type:    msgSnapshot,
			ID:      id,
			Seq:     snap.Seq,
			Kind:    snap.Kind,
			Records: recs,
			Diff:    snap.Diff,
		}) {
			return
		}
	}
}

func (lc *liveClient) release(msg clientMessage) {
	lc.mu.Lock()
	sub, ok := lc.subs[msg.ID]
	delete(lc.subs, msg.ID)
	lc.mu.Unlock()
	if !ok {
		lc.fail(msg.ID, fmt.Errorf("no open subscription %q", msg.ID))
		return
	}
	sub.Release()
	lc.reply(serverMessage{Type: msgAck, ID: msg.ID})
}
