package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"netzwaechter/internal/dashboard"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	maxMessage   = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// sessionMessage is a client command. Type is one of timeRange, panel, tab,
// loaded, failed, reload or refresh.
type sessionMessage struct {
	Type    string `json:"type"`
	Value   string `json:"value,omitempty"`
	Panel   int    `json:"panel,omitempty"`
	Tab     int    `json:"tab,omitempty"`
	PanelID string `json:"panelId,omitempty"`
}

type sessionReply struct {
	Type    string           `json:"type"`
	Session string           `json:"session"`
	State   *dashboard.State `json:"state,omitempty"`
	PanelID string           `json:"panelId,omitempty"`
	Sources []string         `json:"sources,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// session drives one dashboard.View over a websocket. All view access
// happens on the read loop goroutine.
type session struct {
	id       string
	objectID int64
	conn     *websocket.Conn
	view     *dashboard.View
	refresh  func(ctx context.Context) error
	logger   *log.Entry
}

func (s *Server) dashboardSocketHandler(c *gin.Context) {
	objectID, ok := objectIDParam(c)
	if !ok {
		return
	}
	panelID, ok := intQuery(c, "panelId", 0)
	if !ok {
		return
	}

	view, err := s.openView(c.Request.Context(), objectID, panelID, c.Query("timeRange"))
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	sess := &session{
		id:       uuid.NewString(),
		objectID: objectID,
		conn:     conn,
		view:     view,
	}
	sess.logger = log.WithFields(log.Fields{"session": sess.id, "object": objectID})
	sess.refresh = func(ctx context.Context) error {
		m, err := s.objects.ObjectMeters(ctx, objectID)
		if err != nil {
			return err
		}
		sess.view.SetObject(objectID, m)
		return nil
	}

	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	sess.logger.Info("Dashboard session opened")
	sess.run(c.Request.Context())
	sess.logger.Info("Dashboard session closed")
}

func (sess *session) run(ctx context.Context) {
	defer sess.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sess.keepAlive(ctx)

	sess.conn.SetReadLimit(maxMessage)
	sess.conn.SetReadDeadline(time.Now().Add(readTimeout))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	if err := sess.write(sess.stateReply()); err != nil {
		return
	}

	for {
		var msg sessionMessage
		if err := sess.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.WithError(err).Warn("Websocket read failed")
			}
			return
		}
		sess.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if err := sess.write(sess.handle(ctx, msg)); err != nil {
			return
		}
	}
}

func (sess *session) handle(ctx context.Context, msg sessionMessage) sessionReply {
	var err error
	switch msg.Type {
	case "timeRange":
		sess.view.SetTimeRange(msg.Value)
	case "panel":
		sess.view.SelectPanel(msg.Panel)
	case "tab":
		err = sess.view.SelectTab(msg.Tab)
	case "loaded":
		err = sess.view.MarkLoaded(msg.PanelID)
	case "failed":
		err = sess.view.MarkFailed(msg.PanelID)
		if err == nil {
			sess.logger.WithField("panel", msg.PanelID).Warn("Panel failed to load")
		}
	case "reload":
		sources, rerr := sess.view.Reload(msg.PanelID)
		if rerr != nil {
			return sess.errorReply(rerr)
		}
		return sessionReply{Type: "reload", Session: sess.id, PanelID: msg.PanelID, Sources: sources}
	case "refresh":
		err = sess.refresh(ctx)
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}
	if err != nil {
		return sess.errorReply(err)
	}
	return sess.stateReply()
}

func (sess *session) stateReply() sessionReply {
	state := sess.view.State()
	return sessionReply{Type: "state", Session: sess.id, State: &state}
}

func (sess *session) errorReply(err error) sessionReply {
	return sessionReply{Type: "error", Session: sess.id, Error: err.Error()}
}

func (sess *session) write(reply sessionReply) error {
	sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := sess.conn.WriteJSON(reply); err != nil {
		sess.logger.WithError(err).Debug("Websocket write failed")
		return err
	}
	return nil
}

// keepAlive pings the client until ctx ends. WriteControl may run
// concurrently with the read loop's writes.
func (sess *session) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				sess.logger.WithError(err).Debug("Websocket ping failed")
				return
			}
		}
	}
}
