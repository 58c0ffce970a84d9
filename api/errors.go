package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-donations/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/labstack/echo/v4"
)

// errorHandler renders every failure as {error:{text_code,message,step,metadata}}.
// Errors from the service already carry a go-errors envelope; anything else
// is classified here.
func (s *Server) errorHandler(err error, c echo.Context) {
	status, detail := describeError(err)
	detail.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)

	fields := []any{
		"method", c.Request().Method,
		"uri", c.Request().RequestURI,
		"status", status,
		"text_code", detail.TextCode,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("donation request failed", fields...)
	} else {
		s.logger.Warn("donation request rejected", fields...)
	}

	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorBody{Error: detail})
	}
	if err != nil {
		s.logger.Error("unable to write error response", "error", err.Error())
	}
}

func describeError(err error) (int, errorDetail) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		textCode := core.DonationErrorBadInput
		if httpErr.Code >= http.StatusInternalServerError {
			textCode = core.DonationErrorInternal
		}
		return httpErr.Code, errorDetail{
			TextCode: textCode,
			Message:  fmt.Sprint(httpErr.Message),
		}
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		rich = goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	}
	if rich == nil {
		return http.StatusInternalServerError, errorDetail{
			TextCode: core.DonationErrorInternal,
			Message:  "An unexpected error occurred",
		}
	}
	status := rich.Code
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}
	textCode := strings.TrimSpace(rich.TextCode)
	if textCode == "" {
		textCode = core.DonationErrorInternal
	}
	message := rich.Message
	if status >= http.StatusInternalServerError && rich.Category != goerrors.CategoryExternal {
		message = "An unexpected error occurred"
	}
	detail := errorDetail{
		TextCode: textCode,
		Message:  message,
		Metadata: publicMetadata(rich.Metadata),
	}
	if step, ok := rich.Metadata["step"].(string); ok {
		detail.Step = step
	}
	return status, detail
}

// publicMetadata drops keys that could carry upstream bodies.
func publicMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		if key == "step" || key == "body" || key == "upstream_body" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
