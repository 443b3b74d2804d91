package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"

	"codedrop/internal/models"
	"codedrop/internal/storage"
	"codedrop/internal/telegram"
)

// MaxCodeAttempts bounds regeneration after a code collision.
const MaxCodeAttempts = 5

// ErrCodeSpaceExhausted is returned when every generated code collided.
var ErrCodeSpaceExhausted = errors.New("could not allocate a unique code")

// Upload stores att under a fresh code and replies with its deep link. The
// record is written before any success reply is sent.
func (s *Service) Upload(ctx context.Context, chatID int64, att telegram.Attachment) (*models.FileRecord, error) {
	rec, err := s.insertRecord(ctx, att)
	if err != nil {
		uploadsTotal.WithLabelValues("failed").Inc()
		if replyErr := s.reply(ctx, chatID, storeFailed, nil); replyErr != nil {
			log.Printf("upload failure reply to chat %d failed: %v", chatID, replyErr)
		}
		return nil, err
	}
	uploadsTotal.WithLabelValues("stored").Inc()

	link := s.DeepLink(rec.Code)
	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{{Text: "✖️ Share", URL: "https://t.me/share/url?url=" + url.QueryEscape(link)}},
		},
	}
	if err := s.reply(ctx, chatID, uploadedText(link), markup); err != nil {
		return rec, fmt.Errorf("send upload reply: %w", err)
	}
	return rec, nil
}

// insertRecord inserts a record, regenerating the code on collision.
func (s *Service) insertRecord(ctx context.Context, att telegram.Attachment) (*models.FileRecord, error) {
	if _, err := models.ParseFileKind(string(att.Kind)); err != nil || att.FileRef == "" {
		return nil, fmt.Errorf("invalid attachment: kind %q", att.Kind)
	}
	for attempt := 1; attempt <= MaxCodeAttempts; attempt++ {
		rec := &models.FileRecord{
			Code:      s.newCode(),
			FileRef:   att.FileRef,
			Kind:      att.Kind,
			Caption:   att.Caption,
			CreatedAt: s.now().UnixMilli(),
		}
		err := s.store.Insert(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("store file: %w", err)
		}
		uploadsTotal.WithLabelValues("code_collision").Inc()
		log.Printf("code %s collided (attempt %d/%d), regenerating", rec.Code, attempt, MaxCodeAttempts)
	}
	return nil, ErrCodeSpaceExhausted
}
