package broker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"codedrop/internal/storage"
	"codedrop/internal/telegram"
)

// Outcome is how a retrieval request ended.
type Outcome string

const (
	OutcomeDelivered  Outcome = "delivered"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeDenied     Outcome = "denied"
	OutcomeFailed     Outcome = "failed"
	OutcomeSendFailed Outcome = "send_failed"
)

// Retrieve resolves code and re-delivers the media to chatID. Views are
// counted before the delivery is attempted and regardless of its result.
func (s *Service) Retrieve(ctx context.Context, chatID, userID int64, code string) (Outcome, error) {
	outcome, err := s.retrieve(ctx, chatID, userID, code)
	retrievalsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (s *Service) retrieve(ctx context.Context, chatID, userID int64, code string) (Outcome, error) {
	rec, err := s.store.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return OutcomeNotFound, s.reply(ctx, chatID, notFoundText, nil)
		}
		s.replyFailure(ctx, chatID)
		return OutcomeFailed, fmt.Errorf("lookup code %s: %w", code, err)
	}

	if !s.gate.IsAuthorized(ctx, userID) {
		var rows [][]telegram.InlineKeyboardButton
		if join := s.gate.JoinURL(); join != "" {
			rows = append(rows, []telegram.InlineKeyboardButton{{Text: "📢 Join Channel", URL: join}})
		}
		rows = append(rows, []telegram.InlineKeyboardButton{{Text: "🔄 Try Again", URL: s.DeepLink(rec.Code)}})
		markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
		return OutcomeDenied, s.reply(ctx, chatID, deniedText, markup)
	}

	if err := s.store.IncrementViews(ctx, rec.Code); err != nil {
		s.replyFailure(ctx, chatID)
		return OutcomeFailed, fmt.Errorf("count view for %s: %w", rec.Code, err)
	}

	caption := rec.Caption
	if caption == "" {
		caption = s.defaultCaption()
	}
	payload := map[string]any{
		"chat_id":         chatID,
		string(rec.Kind):  rec.FileRef,
		"caption":         caption,
		"protect_content": true,
	}
	if _, err := s.sender.Send(ctx, telegram.SendMethod(rec.Kind), payload); err != nil {
		return OutcomeSendFailed, fmt.Errorf("deliver %s to chat %d: %w", rec.Code, chatID, err)
	}
	return OutcomeDelivered, nil
}

func (s *Service) replyFailure(ctx context.Context, chatID int64) {
	if err := s.reply(ctx, chatID, failedText, nil); err != nil {
		log.Printf("failure reply to chat %d failed: %v", chatID, err)
	}
}
