package openpayments

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/goliatone/go-donations/core"
	"github.com/goliatone/go-donations/transport"
)

const maxErrorBodyBytes = 2048

// upstreamError builds the error for a non-success response. Both the GNAP
// {"error":{"code":...}} shape and the bare {"error":"code"} shape are read.
func upstreamError(operation string, url string, res transport.Response) *core.UpstreamError {
	body := res.Body
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return &core.UpstreamError{
		Operation:  operation,
		URL:        url,
		StatusCode: res.StatusCode,
		Body:       string(body),
		Code:       errorCode(res.Body),
	}
}

func errorCode(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return ""
	}
	var envelope struct {
		Error json.RawMessage `json:"error"`
		Code  string          `json:"code"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	raw := bytes.TrimSpace(envelope.Error)
	switch {
	case len(raw) == 0:
		return strings.TrimSpace(envelope.Code)
	case raw[0] == '"':
		var code string
		if err := json.Unmarshal(raw, &code); err == nil {
			return strings.TrimSpace(code)
		}
	case raw[0] == '{':
		var detail struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(raw, &detail); err == nil {
			return strings.TrimSpace(detail.Code)
		}
	}
	return ""
}
