package database

import "time"

type User struct {
	Id           int
	FullName     string
	EmailAddress string
	Role         string
	ProfileImage string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	Id           int
	ExternalId   string
	Participants []User
	LastMessage  *Message
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	Id                     string
	ConversationId         int
	ConversationExternalId string
	SenderId               int
	SenderName             string
	SenderRole             string
	SenderImage            string
	Content                string
	Read                   bool
	Delivered              bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type CreateAccountParams struct {
	FullName     string
	EmailAddress string
	Role         string
	ProfileImage string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	FullName     string
	ProfileImage string
	PasswordHash string
}

type CreateMessageParams struct {
	Id                     string
	ConversationExternalId string
	SenderId               int
	Content                string
}
