// Package broker implements the code-for-file workflow: storing uploaded
// media under a short code and re-delivering it to whoever presents the code.
package broker

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"codedrop/internal/code"
	"codedrop/internal/models"
	"codedrop/internal/telegram"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codedrop_uploads_total",
		Help: "Uploads handled, by result.",
	}, []string{"result"})
	retrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codedrop_retrievals_total",
		Help: "Retrieval requests handled, by outcome.",
	}, []string{"outcome"})
)

// FileStore is the persistence the broker needs.
type FileStore interface {
	Insert(ctx context.Context, rec *models.FileRecord) error
	FindByCode(ctx context.Context, code string) (*models.FileRecord, error)
	IncrementViews(ctx context.Context, code string) error
	Count(ctx context.Context) (int64, error)
	SumViews(ctx context.Context) (int64, error)
	Recent(ctx context.Context, limit int) ([]*models.FileRecord, error)
}

// Authorizer is the access gate consulted before delivery.
type Authorizer interface {
	IsAuthorized(ctx context.Context, userID int64) bool
	JoinURL() string
}

// Sender issues outbound platform calls.
type Sender interface {
	Send(ctx context.Context, method string, payload any) (*telegram.Response, error)
}

// Service handles inbound messages.
type Service struct {
	store       FileStore
	gate        Authorizer
	sender      Sender
	botUsername string

	newCode func() string
	now     func() time.Time
}

// NewService wires the broker. botUsername is used for deep links and the
// default caption.
func NewService(store FileStore, gate Authorizer, sender Sender, botUsername string) *Service {
	return &Service{
		store:       store,
		gate:        gate,
		sender:      sender,
		botUsername: strings.TrimPrefix(botUsername, "@"),
		newCode:     code.Generate,
		now:         time.Now,
	}
}

// HandleUpdate processes one webhook update. Updates without a message are
// ignored.
func (s *Service) HandleUpdate(ctx context.Context, update *telegram.Update) error {
	if update == nil || update.Message == nil {
		return nil
	}
	return s.HandleMessage(ctx, update.Message)
}

// HandleMessage routes a message to retrieval, the welcome reply, or upload.
// Messages that are neither a known command nor carry media are ignored.
func (s *Service) HandleMessage(ctx context.Context, msg *telegram.Message) error {
	cmd, arg := s.parseCommand(msg.Text)
	if cmd == "/start" {
		if arg != "" {
			var userID int64
			if msg.From != nil {
				userID = msg.From.ID
			}
			_, err := s.Retrieve(ctx, msg.Chat.ID, userID, arg)
			return err
		}
		return s.reply(ctx, msg.Chat.ID, welcomeText, nil)
	}

	att, ok := msg.Attachment()
	if !ok {
		return nil
	}
	_, err := s.Upload(ctx, msg.Chat.ID, att)
	return err
}

// DeepLink is the shareable link that retrieves code.
func (s *Service) DeepLink(code string) string {
	return "https://t.me/" + s.botUsername + "?start=" + url.QueryEscape(code)
}

// parseCommand splits "/cmd[@bot] arg ..." into the command and first
// argument. Commands addressed to another bot are dropped.
func (s *Service) parseCommand(text string) (string, string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", ""
	}
	cmd := fields[0]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		if !strings.EqualFold(cmd[at+1:], s.botUsername) {
			return "", ""
		}
		cmd = cmd[:at]
	}
	var arg string
	if len(fields) > 1 {
		arg = fields[1]
	}
	return cmd, arg
}

func (s *Service) reply(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error {
	_, err := s.sender.Send(ctx, "sendMessage", telegram.SendMessage{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	})
	return err
}
