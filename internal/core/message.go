package core

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxBodyLength is the longest accepted message body, in runes.
const MaxBodyLength = 300

var validate = validator.New()

// User is the identity of a chat participant.
type User struct {
	ID   int64
	Name string
}

// FileRef points at an uploaded file attached to a message.
type FileRef struct {
	Path    string
	Name    string
	MIME    string
	IsImage bool
}

// Message is the domain model for a persisted chat message.
// Exactly one of Body or File carries content.
type Message struct {
	ID        int64
	Room      string
	Author    User
	Body      string
	File      *FileRef
	CreatedAt time.Time
}

// Submission is an unpersisted message as sent by a client.
type Submission struct {
	Body string   `json:"body"`
	File *FileRef `json:"-"`
}

type bodyRule struct {
	Body string `validate:"max=300"`
}

// Normalize trims the body and checks the submission, returning
// ErrInvalidMessage when there is nothing to send, the body is too long, or
// a body accompanies a file.
func (s Submission) Normalize() (Submission, error) {
	s.Body = strings.TrimSpace(s.Body)
	if s.Body == "" && s.File == nil {
		return s, coreError(ErrInvalidMessage, "message is empty")
	}
	if s.Body != "" && s.File != nil {
		return s, coreError(ErrInvalidMessage, "file messages carry no text")
	}
	if !utf8.ValidString(s.Body) {
		return s, coreError(ErrInvalidMessage, "message is not valid UTF-8")
	}
	if err := validate.Struct(bodyRule{Body: s.Body}); err != nil {
		return s, coreError(ErrInvalidMessage, "message exceeds 300 characters")
	}
	return s, nil
}

// IsImageMIME reports whether a MIME type is rendered inline as an image.
func IsImageMIME(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}
