package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/develoFavour/MediCare-sub000/internal/database"
	"github.com/develoFavour/MediCare-sub000/internal/server"
	"github.com/develoFavour/MediCare-sub000/internal/transport"
	"github.com/develoFavour/MediCare-sub000/internal/types"
	"github.com/gorilla/websocket"
)

type CreateConversationRequest struct {
	ParticipantId int `json:"participant_id"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

func (s *MessengerApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func toUserSummary(u database.User) types.UserSummary {
	return types.UserSummary{
		Id:           u.Id,
		FullName:     u.FullName,
		Role:         u.Role,
		ProfileImage: u.ProfileImage,
	}
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		Id:             m.Id,
		ConversationId: m.ConversationExternalId,
		Sender: types.UserSummary{
			Id:           m.SenderId,
			FullName:     m.SenderName,
			Role:         m.SenderRole,
			ProfileImage: m.SenderImage,
		},
		Content:   m.Content,
		Read:      m.Read,
		Delivered: m.Delivered,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toConversation(c database.Conversation, unread int) types.Conversation {
	conv := types.Conversation{
		Id:          c.ExternalId,
		UnreadCount: unread,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}

	for _, p := range c.Participants {
		conv.Participants = append(conv.Participants, toUserSummary(p))
	}

	if c.LastMessage != nil {
		conv.LastMessage = &types.MessagePreview{
			Id:        c.LastMessage.Id,
			Content:   c.LastMessage.Content,
			Read:      c.LastMessage.Read,
			CreatedAt: c.LastMessage.CreatedAt,
		}
	}

	return conv
}

func (s *MessengerApp) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbConvs, err := s.db.ListConversations(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	counts, err := s.db.UnreadCounts(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convs := make([]types.Conversation, 0, len(dbConvs))
	for _, c := range dbConvs {
		convs = append(convs, toConversation(c, counts[c.ExternalId]))
	}

	s.writeJson(w, http.StatusOK, convs)
}

func (s *MessengerApp) unreadCounts(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	counts, err := s.db.UnreadCounts(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, counts)
}

// createConversation is idempotent: starting a conversation with a user
// you already share one with returns the existing conversation.
func (s *MessengerApp) createConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.ParticipantId == 0 || req.ParticipantId == userId {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.GetAccountById(req.ParticipantId); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateConversationId()
	if err != nil {
		s.log.Print("generateConversationId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, created, err := s.db.GetOrCreateConversation(userId, req.ParticipantId, sid)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	counts, err := s.db.UnreadCounts(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	s.writeJson(w, status, toConversation(conv, counts[conv.ExternalId]))
}

func (s *MessengerApp) listMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId := r.PathValue("id")
	if !s.db.IsParticipant(conversationId, userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMsgs, err := s.db.ListMessages(conversationId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgs := make([]types.Message, 0, len(dbMsgs))
	for _, m := range dbMsgs {
		msgs = append(msgs, toMessage(m))
	}

	s.writeJson(w, http.StatusOK, msgs)
}

// sendMessage durably appends the message, then fans it out: the full
// message on the conversation channel for whoever has it open, and a
// notification on each other participant's user channel. Recipients with a
// live session flip the delivered flag immediately.
func (s *MessengerApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId := r.PathValue("id")
	if !s.db.IsParticipant(conversationId, userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMsg, err := s.db.CreateMessage(database.CreateMessageParams{
		Id:                     s.generateMessageId(),
		ConversationExternalId: conversationId,
		SenderId:               userId,
		Content:                req.Content,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.db.GetConversationByExternalId(conversationId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg := toMessage(dbMsg)
	msg.Delivered = s.deliverToRecipients(conv, msg, userId)
	s.stats.Incr(metricNumMessagesSent)

	s.writeJson(w, http.StatusCreated, msg)
}

// deliverToRecipients emits the new-message event and delivery receipts.
// Reports whether any recipient held a live session.
func (s *MessengerApp) deliverToRecipients(conv database.Conversation, msg types.Message, senderId int) bool {
	event := types.NewMessageEvent{ConversationId: msg.ConversationId, Message: msg}
	s.hub.Emit(transport.ConversationChannel(msg.ConversationId), transport.EventNewMessage, event)

	var delivered bool
	for _, p := range conv.Participants {
		if p.Id == senderId {
			continue
		}

		s.hub.Emit(transport.UserChannel(p.Id), transport.EventNewMessage, event)

		if !s.hub.IsOnline(p.Id) {
			continue
		}

		if err := s.db.MarkMessageDelivered(msg.Id); err != nil {
			s.log.Println("MarkMessageDelivered:", err)
			continue
		}
		delivered = true

		s.hub.Emit(transport.UserChannel(senderId), transport.EventMessageDelivered, types.ReceiptEvent{
			ConversationId: msg.ConversationId,
			MessageId:      msg.Id,
		})
	}

	return delivered
}

// markConversationRead flips every unread message addressed to the viewer
// and tells the senders on their user channels.
func (s *MessengerApp) markConversationRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId := r.PathValue("id")
	if !s.db.IsParticipant(conversationId, userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ids, err := s.db.MarkConversationRead(conversationId, userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.db.GetConversationByExternalId(conversationId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	for _, p := range conv.Participants {
		if p.Id == userId {
			continue
		}

		for _, id := range ids {
			s.hub.Emit(transport.UserChannel(p.Id), transport.EventMessageRead, types.ReceiptEvent{
				ConversationId: conversationId,
				MessageId:      id,
			})
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *MessengerApp) markMessageRead(w http.ResponseWriter, r *http.Request) {
	s.markMessage(w, r, transport.EventMessageRead, s.db.MarkMessageRead)
}

func (s *MessengerApp) markMessageDelivered(w http.ResponseWriter, r *http.Request) {
	s.markMessage(w, r, transport.EventMessageDelivered, s.db.MarkMessageDelivered)
}

// markMessage flips one receipt flag and notifies the message's sender.
// Only the recipient side of a message may acknowledge it.
func (s *MessengerApp) markMessage(w http.ResponseWriter, r *http.Request, event string, mark func(string) error) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.GetMessageById(r.PathValue("id"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if msg.SenderId == userId || !s.db.IsParticipant(msg.ConversationExternalId, userId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := mark(msg.Id); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.hub.Emit(transport.UserChannel(msg.SenderId), event, types.ReceiptEvent{
		ConversationId: msg.ConversationExternalId,
		MessageId:      msg.Id,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *MessengerApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(toUserSummary(user), conn, s.hub, s.log)
	s.hub.RegisterChan <- client

	go client.Write()
	go client.Read()
}
