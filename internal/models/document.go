package models

import (
	"time"

	"github.com/tmc/langchaingo/schema"
)

// Page is one text fragment extracted from an uploaded document.
type Page struct {
	Number  int
	Content string
}

// ProcessedDocument is a document that went through chunking.
type ProcessedDocument struct {
	Filename string
	Pages    []Page
	FullText string
	Chunks   []string
}

// Session links an opaque identifier to one ingested document.
type Session struct {
	ID        string
	Retriever schema.Retriever
	FullText  string
	Filename  string
	Pages     int
	Chunks    int
	CreatedAt time.Time
}

// SessionInfo is the serializable view of a Session.
type SessionInfo struct {
	ID        string    `json:"session_id"`
	Filename  string    `json:"filename"`
	Pages     int       `json:"pages"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Filename:  s.Filename,
		Pages:     s.Pages,
		Chunks:    s.Chunks,
		CreatedAt: s.CreatedAt,
	}
}

// Turn is one prior exchange in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
