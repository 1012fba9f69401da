package database

type MessengerRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	GetOrCreateConversation(accountId, otherId int, externalId string) (Conversation, bool, error)
	GetConversationByExternalId(externalId string) (Conversation, error)
	ListConversations(accountId int) ([]Conversation, error)
	IsParticipant(externalId string, accountId int) bool
	CreateMessage(params CreateMessageParams) (Message, error)
	ListMessages(externalId string) ([]Message, error)
	GetMessageById(messageId string) (Message, error)
	MarkConversationRead(externalId string, accountId int) ([]string, error)
	MarkMessageRead(messageId string) error
	MarkMessageDelivered(messageId string) error
	UnreadCounts(accountId int) (map[string]int, error)
}
