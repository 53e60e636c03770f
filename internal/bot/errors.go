package bot

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"subwatch/internal/model"
)

// blockedReasons are Bad Request descriptions meaning the chat is unusable.
var blockedReasons = []string{
	"chat not found",
	"deactivated",
	"kicked",
	"blocked",
	"not enough rights",
}

func apiError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

// classifyError maps a Telegram API error to the transport error taxonomy.
// Errors that are neither blocked destinations nor retryable are returned
// unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := apiError(err)
	if !ok {
		// No API response: the request never completed.
		return fmt.Errorf("%w: %w", model.ErrTransportRecoverable, err)
	}

	switch {
	case apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", model.ErrDestinationBlocked, err)
	case apiErr.Code == http.StatusBadRequest && isBlockedReason(apiErr.Message):
		return fmt.Errorf("%w: %w", model.ErrDestinationBlocked, err)
	case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", model.ErrTransportRecoverable, err)
	}
	return err
}

func isBlockedReason(msg string) bool {
	msg = strings.ToLower(msg)
	for _, reason := range blockedReasons {
		if strings.Contains(msg, reason) {
			return true
		}
	}
	return false
}

func isBadRequest(err error) bool {
	apiErr, ok := apiError(err)
	return ok && apiErr.Code == http.StatusBadRequest && !isBlockedReason(apiErr.Message)
}
