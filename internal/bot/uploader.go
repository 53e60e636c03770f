package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"subwatch/internal/fetcher"
	"subwatch/internal/model"
)

const (
	userAgent = "subwatch/1.0"
	// Telegram rejects photo uploads above 10 MB and bot uploads above 50 MB.
	maxPhotoSize = 10 * 1024 * 1024
	maxMediaSize = 50 * 1024 * 1024
)

// mediaKind picks how a file is sent from its extension and size. The second
// result reports whether the original file is sent untouched as a document.
func mediaKind(name string, size int) (model.MediaKind, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		if size > maxPhotoSize {
			return model.MediaDocument, true
		}
		return model.MediaPhoto, false
	case ".gif":
		return model.MediaAnimation, false
	case ".mp3", ".wav", ".ogg":
		return model.MediaAudio, false
	}
	return model.MediaDocument, true
}

// handleFrom extracts the uploaded file from the response to an upload.
func handleFrom(kind model.MediaKind, msg tgbotapi.Message) (model.MediaHandle, bool) {
	h := model.MediaHandle{Kind: kind}
	switch {
	case kind == model.MediaPhoto && len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		h.FileID, h.FileUniqueID = largest.FileID, largest.FileUniqueID
	case kind == model.MediaAnimation && msg.Animation != nil:
		h.FileID, h.FileUniqueID = msg.Animation.FileID, msg.Animation.FileUniqueID
	case kind == model.MediaAudio && msg.Audio != nil:
		h.FileID, h.FileUniqueID = msg.Audio.FileID, msg.Audio.FileUniqueID
	case msg.Document != nil:
		h.FileID, h.FileUniqueID = msg.Document.FileID, msg.Document.FileUniqueID
	default:
		return model.MediaHandle{}, false
	}
	return h, true
}

// Uploader downloads submission media and uploads it once to a private chat
// so deliveries can reuse the Telegram file id.
type Uploader struct {
	api    API
	client fetcher.HTTPClient
	chatID int64
	log    *slog.Logger
}

// NewUploader creates an Uploader that stores media in chatID.
func NewUploader(api API, client fetcher.HTTPClient, chatID int64, log *slog.Logger) *Uploader {
	return &Uploader{
		api:    api,
		client: client,
		chatID: chatID,
		log:    log.With("component", "uploader"),
	}
}

// Upload sends the media of s to the upload chat and returns its handle.
func (u *Uploader) Upload(ctx context.Context, s *model.Submission) (model.MediaHandle, model.SendSettings, error) {
	if s.DownloadURL == "" {
		return model.MediaHandle{}, model.SendSettings{}, fmt.Errorf("submission %s has no download url: %w", s.ID, model.ErrMediaGone)
	}

	data, err := u.download(ctx, s.DownloadURL)
	if err != nil {
		return model.MediaHandle{}, model.SendSettings{}, fmt.Errorf("download %s: %w", s.ID, err)
	}

	name := fileName(s.DownloadURL)
	kind, full := mediaKind(name, len(data))
	handle, err := u.send(kind, name, data)
	if kind == model.MediaPhoto && isBadRequest(err) {
		// Telegram refuses some images as photos, e.g. extreme aspect ratios.
		u.log.Debug("photo rejected, uploading as document", "submission_id", s.ID.String(), "error", err)
		kind, full = model.MediaDocument, true
		handle, err = u.send(kind, name, data)
	}
	if err != nil {
		return model.MediaHandle{}, model.SendSettings{}, fmt.Errorf("upload %s: %w", s.ID, err)
	}

	u.log.Debug("media uploaded", "submission_id", s.ID.String(), "kind", string(kind), "size", len(data))
	return handle, model.SendSettings{FullResolution: full}, nil
}

func (u *Uploader) send(kind model.MediaKind, name string, data []byte) (model.MediaHandle, error) {
	msg, err := u.api.Send(mediaConfig(kind, u.chatID, tgbotapi.FileBytes{Name: name, Bytes: data}, ""))
	if err != nil {
		return model.MediaHandle{}, classifyError(err)
	}
	handle, ok := handleFrom(kind, msg)
	if !ok {
		return model.MediaHandle{}, errors.New("upload response has no file")
	}
	return handle, nil
}

func (u *Uploader) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", model.ErrTransportRecoverable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch code := resp.StatusCode; {
	case code == http.StatusOK:
	case code == http.StatusNotFound, code == http.StatusGone, code == http.StatusForbidden:
		return nil, fmt.Errorf("status %d: %w", code, model.ErrMediaGone)
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return nil, fmt.Errorf("status %d: %w", code, model.ErrTransportRecoverable)
	default:
		return nil, fmt.Errorf("unexpected status %d", code)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", model.ErrTransportRecoverable, err)
	}
	if len(data) > maxMediaSize {
		return nil, fmt.Errorf("media larger than %d bytes: %w", maxMediaSize, model.ErrMediaGone)
	}
	return data, nil
}

func fileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && path.Base(u.Path) != "/" && path.Base(u.Path) != "." {
		return path.Base(u.Path)
	}
	return "file"
}
