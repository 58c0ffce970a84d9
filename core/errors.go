package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DonationErrorBadInput                 = "DONATION_BAD_INPUT"
	DonationErrorInvalidAmount            = "DONATION_INVALID_AMOUNT"
	DonationErrorWalletNotFound           = "DONATION_WALLET_NOT_FOUND"
	DonationErrorGrantRequestFailed       = "DONATION_GRANT_REQUEST_FAILED"
	DonationErrorGrantInteractionRequired = "DONATION_GRANT_INTERACTION_REQUIRED"
	DonationErrorGrantNotYetApproved      = "DONATION_GRANT_NOT_YET_APPROVED"
	DonationErrorGrantApprovalIncomplete  = "DONATION_GRANT_APPROVAL_INCOMPLETE"
	DonationErrorGrantContinuationInvalid = "DONATION_GRANT_CONTINUATION_INVALID"
	DonationErrorResourceCreationFailed   = "DONATION_RESOURCE_CREATION_FAILED"
	DonationErrorNoPendingGrant           = "DONATION_NO_PENDING_GRANT"
	DonationErrorPendingGrantExists       = "DONATION_PENDING_GRANT_EXISTS"
	DonationErrorQuoteMismatch            = "DONATION_QUOTE_MISMATCH"
	DonationErrorGrantRejected            = "DONATION_GRANT_REJECTED"
	DonationErrorInteractHashMismatch     = "DONATION_INTERACT_HASH_MISMATCH"
	DonationErrorUpstreamFailure          = "DONATION_UPSTREAM_FAILURE"
	DonationErrorInternal                 = "DONATION_INTERNAL_ERROR"
)

var (
	ErrWalletNotFound           = errors.New("core: wallet not found")
	ErrGrantRequestFailed       = errors.New("core: grant request failed")
	ErrGrantInteractionRequired = errors.New("core: grant unexpectedly requires interaction")
	ErrGrantNotYetApproved      = errors.New("core: grant not yet approved")
	ErrGrantApprovalIncomplete  = errors.New("core: grant approval incomplete")
	ErrGrantContinuationInvalid = errors.New("core: grant continuation invalid")
	ErrResourceCreationFailed   = errors.New("core: resource creation failed")
	ErrNoPendingGrant           = errors.New("core: no pending grant")
	ErrPendingGrantConsumed     = errors.New("core: pending grant already consumed")
	ErrPendingGrantExists       = errors.New("core: pending grant already exists")
	ErrQuoteMismatch            = errors.New("core: quote id mismatch")
	ErrInvalidAmount            = errors.New("core: invalid amount")
	ErrGrantRejected            = errors.New("core: grant rejected by sender")
	ErrInteractHashMismatch     = errors.New("core: interaction hash mismatch")
)

type serviceErrorConvertible interface {
	ToServiceError() *goerrors.Error
}

// UpstreamError is returned by a PaymentsClient when a payments network
// endpoint answered with a non-success status or could not be reached.
type UpstreamError struct {
	Operation  string
	URL        string
	StatusCode int
	Body       string
	Code       string
	Cause      error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "core: upstream failure"
	}
	var b strings.Builder
	b.WriteString("core: upstream ")
	b.WriteString(strings.TrimSpace(e.Operation))
	b.WriteString(" failed")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		b.WriteString(" (")
		b.WriteString(code)
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Transient reports whether retrying the same call could succeed.
func (e *UpstreamError) Transient() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type WalletNotFoundError struct {
	Address string
	Cause   error
}

func (e *WalletNotFoundError) Error() string {
	if e == nil {
		return ErrWalletNotFound.Error()
	}
	message := ErrWalletNotFound.Error()
	if address := strings.TrimSpace(e.Address); address != "" {
		message += " " + quote(address)
	}
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}
	return message
}

func (e *WalletNotFoundError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return ErrWalletNotFound
	}
	return errors.Join(ErrWalletNotFound, e.Cause)
}

func (e *WalletNotFoundError) ToServiceError() *goerrors.Error {
	err := goerrors.New(e.Error(), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(DonationErrorWalletNotFound)
	if e != nil && strings.TrimSpace(e.Address) != "" {
		err.WithMetadata(map[string]any{"wallet_address": e.Address})
	}
	return err
}

// GrantError reports a grant failure. Kind is one of the grant sentinels.
type GrantError struct {
	Kind        error
	AuthServer  string
	Resource    ResourceType
	RestartFrom FlowState
	Cause       error
}

func (e *GrantError) kind() error {
	if e == nil || e.Kind == nil {
		return ErrGrantRequestFailed
	}
	return e.Kind
}

func (e *GrantError) Error() string {
	message := e.kind().Error()
	if e == nil {
		return message
	}
	if e.Resource != "" {
		message += " for " + string(e.Resource)
	}
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}
	return message
}

func (e *GrantError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return e.kind()
	}
	return errors.Join(e.kind(), e.Cause)
}

func (e *GrantError) ToServiceError() *goerrors.Error {
	category, code, textCode := goerrors.CategoryExternal, http.StatusBadGateway, DonationErrorGrantRequestFailed
	switch e.kind() {
	case ErrGrantInteractionRequired:
		textCode = DonationErrorGrantInteractionRequired
	case ErrGrantNotYetApproved:
		category, code, textCode = goerrors.CategoryConflict, http.StatusConflict, DonationErrorGrantNotYetApproved
	case ErrGrantApprovalIncomplete:
		category, code, textCode = goerrors.CategoryConflict, http.StatusConflict, DonationErrorGrantApprovalIncomplete
	case ErrGrantContinuationInvalid:
		category, code, textCode = goerrors.CategoryOperation, http.StatusGone, DonationErrorGrantContinuationInvalid
	}
	err := goerrors.New(e.Error(), category).
		WithCode(code).
		WithTextCode(textCode)
	metadata := map[string]any{}
	if e != nil {
		if e.Resource != "" {
			metadata["resource"] = string(e.Resource)
		}
		if e.RestartFrom != "" {
			metadata["restart_from"] = string(e.RestartFrom)
		}
		var upstream *UpstreamError
		if errors.As(e.Cause, &upstream) && upstream.StatusCode > 0 {
			metadata["http_status"] = upstream.StatusCode
		}
	}
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

type ResourceCreationError struct {
	Resource   ResourceType
	HTTPStatus int
	Body       string
	Cause      error
}

func (e *ResourceCreationError) Error() string {
	message := ErrResourceCreationFailed.Error()
	if e == nil {
		return message
	}
	if e.Resource != "" {
		message += " for " + string(e.Resource)
	}
	if e.HTTPStatus > 0 {
		message += fmt.Sprintf(" (status %d)", e.HTTPStatus)
	}
	if e.Cause != nil {
		message += ": " + e.Cause.Error()
	}
	return message
}

func (e *ResourceCreationError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return ErrResourceCreationFailed
	}
	return errors.Join(ErrResourceCreationFailed, e.Cause)
}

func (e *ResourceCreationError) ToServiceError() *goerrors.Error {
	err := goerrors.New(e.Error(), goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(DonationErrorResourceCreationFailed)
	if e != nil {
		err.WithMetadata(map[string]any{
			"resource":    string(e.Resource),
			"http_status": e.HTTPStatus,
			"body":        e.Body,
		})
	}
	return err
}

// NoPendingGrantError covers unknown keys, consumed records, and expired
// records. Consumed is only reported by stores that keep tombstones.
type NoPendingGrantError struct {
	CorrelationKey string
	Consumed       bool
	Expired        bool
}

func (e *NoPendingGrantError) Error() string {
	if e == nil {
		return ErrNoPendingGrant.Error()
	}
	message := ErrNoPendingGrant.Error()
	if key := strings.TrimSpace(e.CorrelationKey); key != "" {
		message += " for " + quote(key)
	}
	switch {
	case e.Consumed:
		message += " (already consumed)"
	case e.Expired:
		message += " (expired)"
	}
	return message
}

func (e *NoPendingGrantError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Consumed {
		return errors.Join(ErrNoPendingGrant, ErrPendingGrantConsumed)
	}
	return ErrNoPendingGrant
}

func (e *NoPendingGrantError) ToServiceError() *goerrors.Error {
	err := goerrors.New(e.Error(), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(DonationErrorNoPendingGrant)
	if e != nil {
		err.WithMetadata(map[string]any{
			"correlation_key": e.CorrelationKey,
			"consumed":        e.Consumed,
			"expired":         e.Expired,
		})
	}
	return err
}

func noPendingGrant(key string) error {
	return &NoPendingGrantError{CorrelationKey: key}
}

// GrantRejectedError is reported when the sender declined the outgoing grant
// at the identity provider. The pending record has already been dropped, so
// the donor may start over straight away.
type GrantRejectedError struct {
	CorrelationKey string
}

func (e *GrantRejectedError) Error() string {
	if e == nil || strings.TrimSpace(e.CorrelationKey) == "" {
		return ErrGrantRejected.Error()
	}
	return ErrGrantRejected.Error() + " for " + quote(e.CorrelationKey)
}

func (e *GrantRejectedError) Unwrap() error { return ErrGrantRejected }

func (e *GrantRejectedError) ToServiceError() *goerrors.Error {
	err := goerrors.New(e.Error(), goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(DonationErrorGrantRejected)
	if e != nil {
		err.WithMetadata(map[string]any{
			"correlation_key": e.CorrelationKey,
			"restart_from":    string(FlowStart),
		})
	}
	return err
}

// StepError reports the state a flow failed in.
type StepError struct {
	Step FlowState
	Err  error
}

func (e *StepError) Error() string {
	if e == nil {
		return "core: donation step failed"
	}
	if e.Err == nil {
		return fmt.Sprintf("core: donation failed at %s", e.Step)
	}
	return fmt.Sprintf("core: donation failed at %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StepError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	mapped := toServiceError(e.Err)
	if mapped == nil {
		mapped = newServiceError(e.Error(), goerrors.CategoryInternal, DonationErrorInternal)
	}
	mapped.WithMetadata(map[string]any{"step": string(e.Step)})
	return mapped
}

func atStep(step FlowState, err error) error {
	if err == nil {
		return nil
	}
	var existing *StepError
	if errors.As(err, &existing) {
		return err
	}
	return &StepError{Step: step, Err: err}
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var step *StepError
	if errors.As(err, &step) {
		return ensureServiceErrorEnvelope(step.ToServiceError())
	}
	if mapped := toServiceError(err); mapped != nil {
		return ensureServiceErrorEnvelope(mapped)
	}
	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

// toServiceError converts known domain errors. It returns nil for errors it
// does not recognise.
func toServiceError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var convertible serviceErrorConvertible
	if errors.As(err, &convertible) {
		if mapped := convertible.ToServiceError(); mapped != nil {
			return mapped
		}
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Clone()
	}

	switch {
	case errors.Is(err, ErrInvalidAmount):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, DonationErrorInvalidAmount)
	case errors.Is(err, ErrQuoteMismatch):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, DonationErrorQuoteMismatch)
	case errors.Is(err, ErrPendingGrantExists):
		return newServiceError(err.Error(), goerrors.CategoryConflict, DonationErrorPendingGrantExists)
	case errors.Is(err, ErrGrantRejected):
		return newServiceError(err.Error(), goerrors.CategoryConflict, DonationErrorGrantRejected)
	case errors.Is(err, ErrInteractHashMismatch):
		return newServiceError(err.Error(), goerrors.CategoryAuthz, DonationErrorInteractHashMismatch)
	case errors.Is(err, ErrNoPendingGrant):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, DonationErrorNoPendingGrant)
	case errors.Is(err, ErrWalletNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, DonationErrorWalletNotFound)
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return goerrors.New(err.Error(), goerrors.CategoryExternal).
			WithCode(http.StatusBadGateway).
			WithTextCode(DonationErrorUpstreamFailure)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return newServiceError(err.Error(), goerrors.CategoryBadInput, DonationErrorBadInput)
	}
	return nil
}

// withSource keeps the domain error reachable through errors.Is and errors.As
// on the mapped envelope.
func withSource(mapped *goerrors.Error, source error) *goerrors.Error {
	if mapped == nil || source == nil || mapped.Source != nil {
		return mapped
	}
	if same, ok := source.(*goerrors.Error); ok && same == mapped {
		return mapped
	}
	mapped.Source = source
	return mapped
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return DonationErrorBadInput
	case goerrors.CategoryNotFound:
		return DonationErrorNoPendingGrant
	case goerrors.CategoryConflict:
		return DonationErrorPendingGrantExists
	case goerrors.CategoryExternal:
		return DonationErrorUpstreamFailure
	default:
		return DonationErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func quote(value string) string {
	return fmt.Sprintf("%q", value)
}
