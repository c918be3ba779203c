package handlers

import (
	"context"
	"strings"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"go.uber.org/zap"

	"github.com/aidly-labs/aidly-go-sdk/models"
	"github.com/aidly-labs/aidly-go-sdk/utils"
)

// ChatResponder produces an assistant reply for a question given the prior
// turn history and optional reference snippets.
type ChatResponder interface {
	ChatReply(ctx context.Context, question string, history []models.ChatTurn, knowledge []string) (string, error)
}

const chatErrorReply = "Sorry, I could not fetch a response right now. For anything urgent, call 112 (national emergency) or 108 (ambulance)."

// ChatHandler owns the append-only conversation history for one session.
// It is orthogonal to the triage pipeline: available in every pipeline
// state and untouched by pipeline resets.
type ChatHandler struct {
	logger    *zap.Logger
	responder ChatResponder
	knowledge *pinecone.IndexConnection
	embedder  utils.TextEmbedder

	mu      sync.Mutex
	history []models.ChatTurn
}

// NewChatHandler wires a chat session. knowledge and embedder may be nil;
// the chat then runs without reference context.
func NewChatHandler(logger *zap.Logger, responder ChatResponder, knowledge *pinecone.IndexConnection, embedder utils.TextEmbedder) *ChatHandler {
	return &ChatHandler{
		logger:    logger,
		responder: responder,
		knowledge: knowledge,
		embedder:  embedder,
	}
}

// Submit appends the user turn, obtains the assistant reply, and emits it
// as ordered fragments through emit, ending with one terminal call where
// done is true and fragment holds the complete reply. The user turn is
// never rolled back; on failure an error turn is appended after whatever
// partial output the consumer already rendered.
func (h *ChatHandler) Submit(ctx context.Context, text string, emit func(fragment string, done bool)) error {
	h.appendTurn(models.ChatTurn{Role: models.RoleUser, Content: text})

	var snippets []string
	if h.knowledge != nil && h.embedder != nil {
		found, err := utils.FetchFirstAidContext(ctx, h.knowledge, h.embedder, text)
		if err != nil {
			// Best effort: the chat works without reference context.
			h.logger.Warn("Knowledge lookup failed", zap.Error(err))
		} else {
			snippets = found
		}
	}

	history := h.History()
	reply, err := h.responder.ChatReply(ctx, text, history[:len(history)-1], snippets)
	if err != nil {
		h.logger.Error("Chat response failed", zap.Error(err))
		h.appendTurn(models.ChatTurn{Role: models.RoleAssistant, Content: chatErrorReply})
		emit(chatErrorReply, true)
		return err
	}

	for _, word := range strings.Fields(reply) {
		emit(word, false)
	}
	emit(reply, true)

	h.appendTurn(models.ChatTurn{Role: models.RoleAssistant, Content: reply})
	h.logger.Debug("Chat turn completed", zap.Int("history_len", len(history)+1))
	return nil
}

func (h *ChatHandler) appendTurn(turn models.ChatTurn) {
	h.mu.Lock()
	h.history = append(h.history, turn)
	h.mu.Unlock()
}

// History returns a copy of the ordered turn sequence.
func (h *ChatHandler) History() []models.ChatTurn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.ChatTurn, len(h.history))
	copy(out, h.history)
	return out
}
