package bot

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"subwatch/internal/model"
)

// Telegram message length limits.
const (
	maxCaptionLen = 1024
	maxTextLen    = 4096
)

// mediaConfig builds the send request for media of the given kind.
func mediaConfig(kind model.MediaKind, chatID int64, file tgbotapi.RequestFileData, caption string) tgbotapi.Chattable {
	caption = shorten(caption, maxCaptionLen)
	switch kind {
	case model.MediaPhoto:
		c := tgbotapi.NewPhoto(chatID, file)
		c.Caption = caption
		return c
	case model.MediaAnimation:
		c := tgbotapi.NewAnimation(chatID, file)
		c.Caption = caption
		return c
	case model.MediaAudio:
		c := tgbotapi.NewAudio(chatID, file)
		c.Caption = caption
		return c
	default:
		c := tgbotapi.NewDocument(chatID, file)
		c.Caption = caption
		return c
	}
}

// Transport delivers submissions to destination chats.
type Transport struct {
	api API
	log *slog.Logger
}

// NewTransport creates a Transport sending through api.
func NewTransport(api API, log *slog.Logger) *Transport {
	return &Transport{api: api, log: log.With("component", "transport")}
}

// Send delivers caption to dest, attaching media by its file id when present.
// Without media a text message with link preview disabled is sent.
func (t *Transport) Send(ctx context.Context, dest int64, media *model.MediaHandle, _ model.SendSettings, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var c tgbotapi.Chattable
	if media == nil {
		msg := tgbotapi.NewMessage(dest, shorten(caption, maxTextLen))
		msg.DisableWebPagePreview = true
		c = msg
	} else {
		c = mediaConfig(media.Kind, dest, tgbotapi.FileID(media.FileID), caption)
	}

	if _, err := t.api.Send(c); err != nil {
		return fmt.Errorf("send to %d: %w", dest, classifyError(err))
	}
	return nil
}

// ResendCached sends the media of a cache entry to dest. An entry without
// media reports ErrMediaGone.
func (t *Transport) ResendCached(ctx context.Context, dest int64, entry model.CacheEntry, caption string) error {
	if entry.MediaID == "" {
		return fmt.Errorf("cache entry %s: %w", entry.ID, model.ErrMediaGone)
	}
	h := entry.Handle()
	if err := t.Send(ctx, dest, &h, model.SendSettings{FullResolution: entry.IsFullResolution}, caption); err != nil {
		t.log.Debug("resend cached media failed",
			"submission_id", entry.ID.String(),
			"destination", dest,
			"error", err,
		)
		return err
	}
	return nil
}
