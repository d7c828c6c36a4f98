package http

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-hub/internal/core"
)

// FileHandlers accepts uploads and posts them as file messages.
type FileHandlers struct {
	chat     *core.Chat
	dir      string
	maxBytes int64
	log      *zerolog.Logger
}

// NewFileHandlers creates a file handler storing uploads under dir.
func NewFileHandlers(chat *core.Chat, dir string, maxBytes int64, logger *zerolog.Logger) *FileHandlers {
	return &FileHandlers{chat: chat, dir: dir, maxBytes: maxBytes, log: logger}
}

// Upload stores the multipart "file" field and broadcasts it to the room as
// a file-only message.
// POST /api/rooms/:key/files
func (h *FileHandlers) Upload(c *gin.Context) {
	user, ok := currentUser(c, h.log)
	if !ok {
		return
	}

	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}
	header, err := c.FormFile("file")
	if err != nil {
		h.log.Debug().Err(err).Msg("invalid upload")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is required and must not exceed the upload limit"})
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot read file"})
		return
	}
	defer src.Close()

	mime, err := mimetype.DetectReader(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot detect file type"})
		return
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		h.log.Error().Err(err).Msg("rewind upload")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	stored := uuid.NewString() + mime.Extension()
	if err := h.save(src, stored); err != nil {
		h.log.Error().Err(err).Str("file", stored).Msg("failed to store upload")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	mimeType := strings.SplitN(mime.String(), ";", 2)[0]
	ref := core.FileRef{
		Path:    stored,
		Name:    filepath.Base(header.Filename),
		MIME:    mimeType,
		IsImage: core.IsImageMIME(mimeType),
	}
	msg, err := h.chat.PostFile(c.Request.Context(), user, c.Param("key"), ref)
	if err != nil {
		_ = os.Remove(filepath.Join(h.dir, stored))
		respondError(c, h.log, err, "failed to post file")
		return
	}

	h.log.Info().Str("room", msg.Room).Str("file", stored).Str("mime", mimeType).Msg("file uploaded")
	c.JSON(http.StatusCreated, messageData(msg))
}

func (h *FileHandlers) save(src io.Reader, name string) error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return err
	}
	dst, err := os.Create(filepath.Join(h.dir, name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
