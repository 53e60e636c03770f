package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"subwatch/internal/model"
)

type mockHTTPClient struct {
	body       string
	statusCode int
	err        error
	urls       []string
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.urls = append(m.urls, req.URL.String())
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

var uploadReply = tgbotapi.Message{
	Photo: []tgbotapi.PhotoSize{
		{FileID: "photo-small", FileUniqueID: "u-small"},
		{FileID: "photo-large", FileUniqueID: "u-large"},
	},
	Document:  &tgbotapi.Document{FileID: "doc", FileUniqueID: "u-doc"},
	Animation: &tgbotapi.Animation{FileID: "anim", FileUniqueID: "u-anim"},
	Audio:     &tgbotapi.Audio{FileID: "audio", FileUniqueID: "u-audio"},
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "bot blocked by user",
			err:  &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"},
			want: model.ErrDestinationBlocked,
		},
		{
			name: "chat not found",
			err:  &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"},
			want: model.ErrDestinationBlocked,
		},
		{
			name: "not enough rights",
			err:  tgbotapi.Error{Code: 400, Message: "Bad Request: not enough rights to send photos to the chat"},
			want: model.ErrDestinationBlocked,
		},
		{
			name: "flood wait",
			err:  &tgbotapi.Error{Code: 429, Message: "Too Many Requests: retry after 5"},
			want: model.ErrTransportRecoverable,
		},
		{
			name: "server error",
			err:  &tgbotapi.Error{Code: 502, Message: "Bad Gateway"},
			want: model.ErrTransportRecoverable,
		},
		{
			name: "network",
			err:  io.ErrUnexpectedEOF,
			want: model.ErrTransportRecoverable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classifyError() = %v, want %v", got, tt.want)
			}
		})
	}

	other := &tgbotapi.Error{Code: 400, Message: "Bad Request: wrong file identifier"}
	got := classifyError(other)
	if errors.Is(got, model.ErrDestinationBlocked) || errors.Is(got, model.ErrTransportRecoverable) {
		t.Errorf("classifyError(bad request) = %v, want unclassified", got)
	}
	if classifyError(nil) != nil {
		t.Error("classifyError(nil) != nil")
	}
}

func TestTransportSend(t *testing.T) {
	ctx := context.Background()

	t.Run("text without media", func(t *testing.T) {
		api := &mockAPI{}
		tr := NewTransport(api, discardLogger())
		if err := tr.Send(ctx, 42, nil, model.SendSettings{}, "caption"); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
		msg := api.lastMessage(t)
		if msg.ChatID != 42 || msg.Text != "caption" || !msg.DisableWebPagePreview {
			t.Errorf("message = %+v, want text to 42 without preview", msg)
		}
	})

	t.Run("media by file id", func(t *testing.T) {
		tests := []struct {
			kind model.MediaKind
			want string
		}{
			{model.MediaPhoto, "tgbotapi.PhotoConfig"},
			{model.MediaDocument, "tgbotapi.DocumentConfig"},
			{model.MediaAnimation, "tgbotapi.AnimationConfig"},
			{model.MediaAudio, "tgbotapi.AudioConfig"},
		}
		for _, tt := range tests {
			api := &mockAPI{}
			tr := NewTransport(api, discardLogger())
			media := &model.MediaHandle{Kind: tt.kind, FileID: "file-1"}
			if err := tr.Send(ctx, 42, media, model.SendSettings{}, "caption"); err != nil {
				t.Fatalf("Send(%s) error: %v", tt.kind, err)
			}
			if got := fmt.Sprintf("%T", api.sent[0]); got != tt.want {
				t.Errorf("Send(%s) sent %s, want %s", tt.kind, got, tt.want)
			}
		}
	})

	t.Run("blocked destination", func(t *testing.T) {
		api := &mockAPI{sendErrs: []error{&tgbotapi.Error{Code: 403, Message: "Forbidden: user is deactivated"}}}
		tr := NewTransport(api, discardLogger())
		err := tr.Send(ctx, 42, nil, model.SendSettings{}, "caption")
		if !errors.Is(err, model.ErrDestinationBlocked) {
			t.Errorf("Send() error = %v, want ErrDestinationBlocked", err)
		}
	})

	t.Run("long caption is cut", func(t *testing.T) {
		api := &mockAPI{}
		tr := NewTransport(api, discardLogger())
		media := &model.MediaHandle{Kind: model.MediaPhoto, FileID: "file-1"}
		if err := tr.Send(ctx, 42, media, model.SendSettings{}, strings.Repeat("a", 2000)); err != nil {
			t.Fatal(err)
		}
		photo := api.sent[0].(tgbotapi.PhotoConfig)
		if n := len([]rune(photo.Caption)); n != maxCaptionLen {
			t.Errorf("caption length = %d, want %d", n, maxCaptionLen)
		}
	})
}

func TestTransportResendCached(t *testing.T) {
	ctx := context.Background()
	entry := model.CacheEntry{
		ID:        model.SubmissionID{Site: "fa", ID: 1},
		MediaKind: model.MediaPhoto,
		MediaID:   "cached-file",
	}

	api := &mockAPI{}
	tr := NewTransport(api, discardLogger())
	if err := tr.ResendCached(ctx, 42, entry, "caption"); err != nil {
		t.Fatalf("ResendCached() error: %v", err)
	}
	photo := api.sent[0].(tgbotapi.PhotoConfig)
	if diff := cmp.Diff(tgbotapi.RequestFileData(tgbotapi.FileID("cached-file")), photo.File); diff != "" {
		t.Errorf("file mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name      string
		entry     model.CacheEntry
		sendErr   error
		want      error
		wantClass bool
	}{
		{
			name:    "stale file id",
			entry:   entry,
			sendErr: &tgbotapi.Error{Code: 400, Message: "Bad Request: wrong file identifier"},
		},
		{
			name:      "blocked destination",
			entry:     entry,
			sendErr:   &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"},
			want:      model.ErrDestinationBlocked,
			wantClass: true,
		},
		{
			name:      "flood wait",
			entry:     entry,
			sendErr:   &tgbotapi.Error{Code: 429, Message: "Too Many Requests: retry after 5"},
			want:      model.ErrTransportRecoverable,
			wantClass: true,
		},
		{
			name:  "entry without media",
			entry: model.CacheEntry{ID: entry.ID},
			want:  model.ErrMediaGone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{sendErrs: []error{tt.sendErr}}
			err := NewTransport(api, discardLogger()).ResendCached(ctx, 42, tt.entry, "caption")
			if err == nil {
				t.Fatal("ResendCached() error = nil")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("ResendCached() error = %v, want %v", err, tt.want)
			}
			classified := errors.Is(err, model.ErrDestinationBlocked) || errors.Is(err, model.ErrTransportRecoverable)
			if classified != tt.wantClass {
				t.Errorf("ResendCached() error %v classified = %v, want %v", err, classified, tt.wantClass)
			}
		})
	}
}

func TestMediaKind(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		wantKind model.MediaKind
		wantFull bool
	}{
		{"art.png", 1024, model.MediaPhoto, false},
		{"art.JPG", 1024, model.MediaPhoto, false},
		{"huge.png", maxPhotoSize + 1, model.MediaDocument, true},
		{"loop.gif", 1024, model.MediaAnimation, false},
		{"song.mp3", 1024, model.MediaAudio, false},
		{"story.pdf", 1024, model.MediaDocument, true},
		{"noext", 1024, model.MediaDocument, true},
	}
	for _, tt := range tests {
		kind, full := mediaKind(tt.name, tt.size)
		if kind != tt.wantKind || full != tt.wantFull {
			t.Errorf("mediaKind(%q, %d) = %s, %v, want %s, %v", tt.name, tt.size, kind, full, tt.wantKind, tt.wantFull)
		}
	}
}

func TestUploaderUpload(t *testing.T) {
	ctx := context.Background()
	sub := &model.Submission{
		ID:          model.SubmissionID{Site: "fa", ID: 7},
		DownloadURL: "https://d.example.com/art/user/7.png",
	}

	t.Run("photo", func(t *testing.T) {
		api := &mockAPI{reply: uploadReply}
		client := &mockHTTPClient{body: "png-bytes", statusCode: 200}
		u := NewUploader(api, client, -100, discardLogger())

		handle, settings, err := u.Upload(ctx, sub)
		if err != nil {
			t.Fatalf("Upload() error: %v", err)
		}
		want := model.MediaHandle{Kind: model.MediaPhoto, FileID: "photo-large", FileUniqueID: "u-large"}
		if diff := cmp.Diff(want, handle); diff != "" {
			t.Errorf("handle mismatch (-want +got):\n%s", diff)
		}
		if settings.FullResolution {
			t.Error("FullResolution = true for a photo")
		}
		photo := api.sent[0].(tgbotapi.PhotoConfig)
		if photo.ChatID != -100 {
			t.Errorf("uploaded to %d, want -100", photo.ChatID)
		}
		if diff := cmp.Diff(tgbotapi.RequestFileData(tgbotapi.FileBytes{Name: "7.png", Bytes: []byte("png-bytes")}), photo.File); diff != "" {
			t.Errorf("file mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("rejected photo falls back to document", func(t *testing.T) {
		api := &mockAPI{
			reply:    uploadReply,
			sendErrs: []error{&tgbotapi.Error{Code: 400, Message: "Bad Request: PHOTO_INVALID_DIMENSIONS"}},
		}
		u := NewUploader(api, &mockHTTPClient{body: "png", statusCode: 200}, -100, discardLogger())

		handle, settings, err := u.Upload(ctx, sub)
		if err != nil {
			t.Fatalf("Upload() error: %v", err)
		}
		if handle.Kind != model.MediaDocument || handle.FileID != "doc" || !settings.FullResolution {
			t.Errorf("Upload() = %+v, %+v, want full resolution document", handle, settings)
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name    string
			sub     *model.Submission
			client  *mockHTTPClient
			sendErr error
			want    error
		}{
			{
				name:   "no download url",
				sub:    &model.Submission{ID: sub.ID},
				client: &mockHTTPClient{},
				want:   model.ErrMediaGone,
			},
			{
				name:   "deleted file",
				sub:    sub,
				client: &mockHTTPClient{statusCode: 404},
				want:   model.ErrMediaGone,
			},
			{
				name:   "cdn error",
				sub:    sub,
				client: &mockHTTPClient{statusCode: 503},
				want:   model.ErrTransportRecoverable,
			},
			{
				name:   "network",
				sub:    sub,
				client: &mockHTTPClient{err: io.ErrUnexpectedEOF},
				want:   model.ErrTransportRecoverable,
			},
			{
				name:    "telegram flood",
				sub:     sub,
				client:  &mockHTTPClient{body: "png", statusCode: 200},
				sendErr: &tgbotapi.Error{Code: 429, Message: "Too Many Requests"},
				want:    model.ErrTransportRecoverable,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				api := &mockAPI{reply: uploadReply, sendErrs: []error{tt.sendErr}}
				u := NewUploader(api, tt.client, -100, discardLogger())
				if _, _, err := u.Upload(ctx, tt.sub); !errors.Is(err, tt.want) {
					t.Errorf("Upload() error = %v, want %v", err, tt.want)
				}
			})
		}
	})
}
