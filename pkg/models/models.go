package models

import "encoding/json"

// AdminIdentity is the reserved subscriber identity for the admin inbox.
// Every other identity is a user phone number.
const AdminIdentity = "admin"

// Envelope is the uniform JSON envelope the backend wraps every REST
// response in.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ChatMessage is one message inside a chat session. ID is assigned by the
// backend; an optimistic local echo may carry ID 0 until the delivered copy
// arrives (see chat.Store).
type ChatMessage struct {
	ID          int64  `json:"id"`
	APIKey      string `json:"apiKey"`
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	IsRead      bool   `json:"isRead"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// ChatSession is the unit of conversation between one user (scoped by
// apiKey) and the admin inbox.
type ChatSession struct {
	ID            int64  `json:"id"`
	APIKey        string `json:"apiKey"`
	UserPhone     string `json:"userPhone"`
	Status        string `json:"status"`
	LastMessageAt string `json:"lastMessageAt"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

// UserInfo is the authenticated user view returned by /auth/me. Points is
// authoritative only when it comes from this endpoint or a points_update
// event.
type UserInfo struct {
	Token    string `json:"token,omitempty"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
	APIKey   string `json:"apiKey"`
	Points   int    `json:"points"`
}

// PointsUpdate is the payload of a points_update event.
type PointsUpdate struct {
	Message   string `json:"message"`
	NewPoints int    `json:"newPoints"`
}
