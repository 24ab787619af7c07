package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"event-radar/scanner"
	"event-radar/store"
)

var validate = validator.New()

// Server holds API dependencies
type Server struct {
	Store   *store.FileStore
	Scanner *scanner.Scanner
	log     *zap.Logger
	webDir  string

	wsClients map[*websocket.Conn]bool
	wsMutex   sync.RWMutex
	upgrader  websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(st *store.FileStore, sc *scanner.Scanner, webDir string, log *zap.Logger) *Server {
	return &Server{
		Store:     st,
		Scanner:   sc,
		log:       log,
		webDir:    webDir,
		wsClients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetupRoutes configures all API routes
func (s *Server) SetupRoutes(r *gin.Engine) {
	r.GET("/health", s.Health)

	r.GET("/api/events", s.ListEvents)
	r.GET("/api/events/:id", s.GetEvent)
	r.POST("/api/events", s.CreateEvent)
	r.PUT("/api/events/:id", s.UpdateEvent)
	r.DELETE("/api/events/:id", s.DeleteEvent)

	r.GET("/api/scan/status", s.ScanStatus)
	r.POST("/api/scan", s.TriggerScan)
	r.GET("/ws/scan", s.WebSocketHandler)

	if s.webDir != "" {
		r.StaticFile("/", filepath.Join(s.webDir, "index.html"))
	}
}

// Health returns service health status
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// eventPayload is the manual create/update body. The same enum coercion the
// scan pipeline applies happens on the way into the store.
type eventPayload struct {
	Name    string   `json:"name" validate:"required"`
	Type    string   `json:"type"`
	Org     string   `json:"org"`
	Venue   string   `json:"venue"`
	URL     string   `json:"url" validate:"omitempty,url"`
	Desc    string   `json:"desc"`
	Date    string   `json:"date" validate:"required,datetime=2006-01-02"`
	EndDate string   `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	Mode    string   `json:"mode"`
	Reg     string   `json:"reg"`
	Tags    []string `json:"tags"`
}

func (p eventPayload) toEvent() store.Event {
	return store.Event{
		Name:    p.Name,
		Type:    p.Type,
		Org:     p.Org,
		Venue:   p.Venue,
		URL:     p.URL,
		Desc:    p.Desc,
		Date:    p.Date,
		EndDate: p.EndDate,
		Mode:    p.Mode,
		Reg:     p.Reg,
		Tags:    p.Tags,
	}
}

// ListEvents returns the whole collection, optionally filtered by type.
func (s *Server) ListEvents(c *gin.Context) {
	events, err := s.Store.List()
	if err != nil {
		s.log.Error("list events failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read events"})
		return
	}

	if t := c.Query("type"); t != "" {
		filtered := make([]store.Event, 0, len(events))
		for _, e := range events {
			if e.Type == t {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

func (s *Server) GetEvent(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := s.Store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		s.log.Error("get event failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read events"})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (s *Server) CreateEvent(c *gin.Context) {
	var p eventPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if err := validate.Struct(p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := s.Store.Create(p.toEvent())
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "event with same name and date already exists"})
		return
	}
	if err != nil {
		s.log.Error("create event failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save event"})
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (s *Server) UpdateEvent(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var p eventPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if err := validate.Struct(p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := s.Store.Update(id, p.toEvent())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "event with same name and date already exists"})
		return
	}
	if err != nil {
		s.log.Error("update event failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save event"})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (s *Server) DeleteEvent(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	err = s.Store.Delete(id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		s.log.Error("delete event failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save events"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ScanStatus reports whether a scan is running plus the stored metadata.
func (s *Server) ScanStatus(c *gin.Context) {
	meta, err := s.Store.Meta()
	if err != nil {
		s.log.Error("read scan meta failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read scan metadata"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scanning":   s.Scanner.InProgress(),
		"lastScan":   meta.LastScan,
		"totalScans": meta.TotalScans,
		"lastAdded":  meta.LastAdded,
	})
}

// TriggerScan starts a scan and streams its progress as Server-Sent Events,
// one event per message, ending with a "done" sentinel. Disconnecting does
// not cancel the scan; it runs to completion in the background.
func (s *Server) TriggerScan(c *gin.Context) {
	msgs := make(chan scanner.Message, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		s.Scanner.Run(context.Background(), time.Now(), func(m scanner.Message) {
			select {
			case msgs <- m:
			default:
				// slow client, drop rather than stall the pipeline
			}
			s.BroadcastProgress(m)
		})
	}()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case m := <-msgs:
			c.SSEvent(sseName(m.Tag), m.Text)
			return true
		case <-done:
			for {
				select {
				case m := <-msgs:
					c.SSEvent(sseName(m.Tag), m.Text)
				default:
					c.SSEvent("done", "scan finished")
					return false
				}
			}
		}
	})
}

func sseName(tag string) string {
	if tag == "" {
		return "message"
	}
	return tag
}

// WebSocketHandler handles WebSocket connections for live scan progress
func (s *Server) WebSocketHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// greet before registering: once the conn is in the client map a
	// broadcast may write to it, and the websocket forbids concurrent writers
	conn.WriteJSON(gin.H{"type": "connected", "message": "subscribed to scan progress"})

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	total := len(s.wsClients)
	s.wsMutex.Unlock()

	s.log.Info("websocket client connected", zap.Int("total", total))

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// BroadcastProgress sends a scan progress message to all WebSocket clients.
func (s *Server) BroadcastProgress(m scanner.Message) {
	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for client := range s.wsClients {
		if err := client.WriteJSON(gin.H{"type": "progress", "tag": m.Tag, "text": m.Text}); err != nil {
			s.log.Warn("websocket write failed", zap.Error(err))
		}
	}
}

// ProgressSink adapts the broadcast hub into a scanner sink so clients
// watching the websocket feed still see timer-triggered runs.
func (s *Server) ProgressSink() scanner.Sink {
	return func(m scanner.Message) {
		s.BroadcastProgress(m)
	}
}
