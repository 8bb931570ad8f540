package chat

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"insurance-bot/internal/dedupe"
	"insurance-bot/internal/flow"
	"insurance-bot/internal/shared/server/respond"
	"insurance-bot/internal/shared/telemetry"
	"insurance-bot/internal/shared/util"
)

const maxUploadSize = 10 << 20 // 10MB

// Flow runs one chat trigger.
type Flow interface {
	Handle(ctx context.Context, chatID int64, t flow.Trigger) (flow.Response, error)
}

// Update is one inbound chat event delivered to the webhook.
type Update struct {
	UpdateID int64  `json:"update_id"`
	ChatID   int64  `json:"chat_id"`
	Name     string `json:"name"`
	Text     string `json:"text"`
	Photo    string `json:"photo"`
	FileName string `json:"file_name"`
}

// Handler wires the chat webhook to the flow.
type Handler struct {
	Flow  Flow
	Guard dedupe.Guard
}

// NewHandler constructs a Handler.
func NewHandler(f Flow, guard dedupe.Guard) *Handler {
	return &Handler{Flow: f, Guard: guard}
}

// RegisterRoutes attaches chat routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/chat/updates", h.update)
	rg.POST("/chat/:chatId/documents", h.upload)
}

func (h *Handler) update(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize*2)

	var u Update
	if err := c.ShouldBindJSON(&u); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid update body", nil)
		return
	}
	if u.ChatID == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "chat_id is required", nil)
		return
	}

	if u.UpdateID > 0 && h.Guard != nil {
		first, err := h.Guard.FirstSeen(c.Request.Context(), u.UpdateID)
		if err != nil {
			telemetry.Warn("chat.dedupe_unavailable", map[string]any{"update_id": u.UpdateID, "error": err})
		} else if !first {
			respond.OK(c, gin.H{"duplicate": true})
			return
		}
	}

	trigger, err := triggerFor(u)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	if err := h.run(c, u.ChatID, trigger); err != nil && u.UpdateID > 0 && h.Guard != nil {
		if relErr := h.Guard.Release(context.WithoutCancel(c.Request.Context()), u.UpdateID); relErr != nil {
			telemetry.Warn("chat.dedupe_release_failed", map[string]any{"update_id": u.UpdateID, "error": relErr})
		}
	}
}

func (h *Handler) upload(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chatId"), 10, 64)
	if err != nil || chatID == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid chat id", nil)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	if len(data) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is empty", nil)
		return
	}
	name, _ := util.SanitizeFileName(fileHeader.Filename)
	_ = h.run(c, chatID, flow.Upload{Data: data, FileName: name})
}

// run always answers 200 once the trigger was handled: failures were already
// recorded and answered in the chat.
// run answers 200 with the flow response. A failed trigger committed nothing
// and its error is returned so the update can be released for redelivery.
func (h *Handler) run(c *gin.Context, chatID int64, t flow.Trigger) error {
	resp, err := h.Flow.Handle(c.Request.Context(), chatID, t)
	if err != nil {
		c.Set("flowError", err.Error())
	}
	respond.OK(c, resp)
	return err
}

func triggerFor(u Update) (flow.Trigger, error) {
	if photo := strings.TrimSpace(u.Photo); photo != "" {
		data, err := base64.StdEncoding.DecodeString(photo)
		if err != nil {
			return nil, errInvalidPhoto
		}
		if len(data) == 0 {
			return nil, errInvalidPhoto
		}
		name, _ := util.SanitizeFileName(u.FileName)
		return flow.Upload{Data: data, FileName: name}, nil
	}
	if strings.TrimSpace(u.Text) == "" {
		return nil, errEmptyUpdate
	}
	return flow.ParseText(u.Text, u.Name), nil
}
