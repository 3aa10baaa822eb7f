package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"calling-agent/internal/audit"
	"calling-agent/internal/contacts"
	"calling-agent/internal/outcome"
	"calling-agent/internal/reporting"
	"calling-agent/internal/stream"
	"calling-agent/internal/transcript"
	"calling-agent/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ContactService interface {
	Add(ctx context.Context, name, phone string) (contacts.Contact, error)
	UpdateContact(ctx context.Context, id int64, name, phone string) (contacts.Contact, error)
	Get(ctx context.Context, id int64) (contacts.Contact, error)
	Stats(ctx context.Context) (contacts.Stats, error)
}

type HistorySource interface {
	History(ctx context.Context, contactID int64) ([]audit.Event, error)
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, room string, ev transcript.Event) error
}

type ToolRunner interface {
	Apply(ctx context.Context, room string, action outcome.Action, args outcome.Args) (contacts.Contact, error)
}

// StreamReader is satisfied by *stream.Publisher.
type StreamReader interface {
	Tail(ctx context.Context, room string, n int64) ([]stream.Record, error)
	ReadArchive(ctx context.Context, room string) ([]byte, error)
}

type Reports interface {
	CallsSummary(ctx context.Context, r reporting.TimeRange) (reporting.CallsSummary, error)
	OutcomeMetrics(ctx context.Context, r reporting.TimeRange) (reporting.OutcomeMetrics, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
// A nil dependency answers 503.
type Handlers struct {
	Contacts ContactService
	History  HistorySource
	Rooms    EventDispatcher
	Tools    ToolRunner
	Stream   StreamReader
	Reports  Reports

	Now func() time.Time
}

const defaultTail = 50

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func unavailable(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}

// writeError maps domain errors to status codes. Unknown errors are logged and hidden.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, contacts.ErrNotFound),
		errors.Is(err, transcript.ErrUnknownRoom),
		errors.Is(err, stream.ErrNoArchive):
		status = http.StatusNotFound
	case errors.Is(err, contacts.ErrInvalidArgument),
		errors.Is(err, stream.ErrNoRoom),
		errors.Is(err, transcript.ErrInvalidEvent),
		errors.Is(err, outcome.ErrUnknownAction),
		errors.Is(err, reporting.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, contacts.ErrAlreadyExists),
		errors.Is(err, contacts.ErrInvalidTransition),
		errors.Is(err, outcome.ErrNoContact):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// --- Contacts ---

type contactRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

func (h Handlers) AddContact(c *gin.Context) {
	if h.Contacts == nil {
		unavailable(c, "contacts")
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ct, err := h.Contacts.Add(c.Request.Context(), req.Name, req.PhoneNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ct)
}

func (h Handlers) UpdateContact(c *gin.Context) {
	if h.Contacts == nil {
		unavailable(c, "contacts")
		return
	}
	id, ok := contactID(c)
	if !ok {
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ct, err := h.Contacts.UpdateContact(c.Request.Context(), id, req.Name, req.PhoneNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ct)
}

func (h Handlers) GetContact(c *gin.Context) {
	if h.Contacts == nil {
		unavailable(c, "contacts")
		return
	}
	id, ok := contactID(c)
	if !ok {
		return
	}
	ct, err := h.Contacts.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ct)
}

func (h Handlers) ContactHistory(c *gin.Context) {
	if h.History == nil {
		unavailable(c, "audit")
		return
	}
	id, ok := contactID(c)
	if !ok {
		return
	}
	evs, err := h.History.History(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contact_id": id, "events": evs})
}

func (h Handlers) ContactStats(c *gin.Context) {
	if h.Contacts == nil {
		unavailable(c, "contacts")
		return
	}
	st, err := h.Contacts.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func contactID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid contact id"})
		return 0, false
	}
	return id, true
}

// --- Rooms (conversation runtime) ---

// PostRoomEvent accepts one runtime event for an open room.
func (h Handlers) PostRoomEvent(c *gin.Context) {
	if h.Rooms == nil {
		unavailable(c, "rooms")
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	ev, err := transcript.DecodeEvent(body)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Rooms.Dispatch(c.Request.Context(), c.Param("room"), ev); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// PostRoomTool runs an agent tool against the contact bound to the room.
func (h Handlers) PostRoomTool(c *gin.Context) {
	if h.Tools == nil {
		unavailable(c, "tools")
		return
	}
	var args outcome.Args
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	ct, err := h.Tools.Apply(c.Request.Context(), c.Param("room"), outcome.Action(c.Param("action")), args)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "contact": ct})
}

// TailRoom returns the most recent live transcript records, oldest first.
func (h Handlers) TailRoom(c *gin.Context) {
	if h.Stream == nil {
		unavailable(c, "stream")
		return
	}
	n := int64(defaultTail)
	if v := c.Query("n"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 || parsed > stream.DefaultMaxLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "n must be between 1 and 1000"})
			return
		}
		n = parsed
	}
	recs, err := h.Stream.Tail(c.Request.Context(), c.Param("room"), n)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": c.Param("room"), "records": recs})
}

// RoomArchive returns the archived conversation log written when the room closed.
func (h Handlers) RoomArchive(c *gin.Context) {
	if h.Stream == nil {
		unavailable(c, "stream")
		return
	}
	doc, err := h.Stream.ReadArchive(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

// --- Reports ---

func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		unavailable(c, "reporting")
		return
	}
	r, ok := h.timeRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) OutcomesReport(c *gin.Context) {
	if h.Reports == nil {
		unavailable(c, "reporting")
		return
	}
	r, ok := h.timeRange(c)
	if !ok {
		return
	}
	out, err := h.Reports.OutcomeMetrics(c.Request.Context(), r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// timeRange reads from/to as RFC3339; the default is the last 24 hours.
func (h Handlers) timeRange(c *gin.Context) (reporting.TimeRange, bool) {
	to := h.now().UTC()
	from := to.Add(-24 * time.Hour)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return reporting.TimeRange{}, false
		}
		to = t
	}
	return reporting.TimeRange{From: from, To: to}, true
}
