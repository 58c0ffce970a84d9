package core

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		textCode string
		status   int
	}{
		{name: "wallet", err: &WalletNotFoundError{Address: testSenderWallet}, textCode: DonationErrorWalletNotFound, status: http.StatusNotFound},
		{name: "grant failed", err: &GrantError{Kind: ErrGrantRequestFailed}, textCode: DonationErrorGrantRequestFailed, status: http.StatusBadGateway},
		{name: "interaction", err: &GrantError{Kind: ErrGrantInteractionRequired}, textCode: DonationErrorGrantInteractionRequired, status: http.StatusBadGateway},
		{name: "not yet", err: &GrantError{Kind: ErrGrantNotYetApproved}, textCode: DonationErrorGrantNotYetApproved, status: http.StatusConflict},
		{name: "incomplete", err: &GrantError{Kind: ErrGrantApprovalIncomplete}, textCode: DonationErrorGrantApprovalIncomplete, status: http.StatusConflict},
		{name: "continuation", err: &GrantError{Kind: ErrGrantContinuationInvalid}, textCode: DonationErrorGrantContinuationInvalid, status: http.StatusGone},
		{name: "resource", err: &ResourceCreationError{Resource: ResourceQuote, HTTPStatus: 400}, textCode: DonationErrorResourceCreationFailed, status: http.StatusBadGateway},
		{name: "pending", err: &NoPendingGrantError{CorrelationKey: "k"}, textCode: DonationErrorNoPendingGrant, status: http.StatusNotFound},
		{name: "exists", err: fmt.Errorf("%w for %q", ErrPendingGrantExists, "k"), textCode: DonationErrorPendingGrantExists, status: http.StatusConflict},
		{name: "mismatch", err: fmt.Errorf("%w: a vs b", ErrQuoteMismatch), textCode: DonationErrorQuoteMismatch, status: http.StatusBadRequest},
		{name: "amount", err: fmt.Errorf("%w: zero", ErrInvalidAmount), textCode: DonationErrorInvalidAmount, status: http.StatusBadRequest},
		{name: "rejected", err: &GrantRejectedError{CorrelationKey: "k"}, textCode: DonationErrorGrantRejected, status: http.StatusConflict},
		{name: "hash", err: fmt.Errorf("%w: forged", ErrInteractHashMismatch), textCode: DonationErrorInteractHashMismatch, status: http.StatusForbidden},
		{name: "upstream", err: &UpstreamError{Operation: "x", StatusCode: 503}, textCode: DonationErrorUpstreamFailure, status: http.StatusBadGateway},
		{name: "required", err: stderrors.New("core: correlation key is required"), textCode: DonationErrorBadInput, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := serviceErrorMapper(tc.err)
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected %s, got %s", tc.textCode, mapped.TextCode)
			}
			if mapped.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, mapped.Code)
			}
		})
	}
}

func TestServiceErrorMapper_UnknownErrorsAreInternal(t *testing.T) {
	mapped := serviceErrorMapper(stderrors.New("boom"))
	if mapped.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", mapped.Category)
	}
	if mapped.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", mapped.Code)
	}
}

func TestStepError_AddsStepMetadataOnce(t *testing.T) {
	inner := atStep(FlowQuoteCreated, &ResourceCreationError{Resource: ResourceQuote})
	outer := atStep(FlowDone, inner)
	if outer != inner {
		t.Fatalf("expected existing step to be preserved")
	}
	mapped := serviceErrorMapper(outer)
	if mapped.Metadata["step"] != string(FlowQuoteCreated) {
		t.Fatalf("expected step metadata, got %#v", mapped.Metadata["step"])
	}
	if mapped.Metadata["resource"] != string(ResourceQuote) {
		t.Fatalf("expected resource metadata, got %#v", mapped.Metadata["resource"])
	}
}

func TestGrantError_UnwrapsKindAndCause(t *testing.T) {
	upstream := &UpstreamError{Operation: "continue grant", StatusCode: 400, Code: "too_fast"}
	err := &GrantError{Kind: ErrGrantNotYetApproved, Cause: upstream}
	if !stderrors.Is(err, ErrGrantNotYetApproved) {
		t.Fatalf("expected kind to unwrap")
	}
	var got *UpstreamError
	if !stderrors.As(err, &got) || got.Code != "too_fast" {
		t.Fatalf("expected upstream cause to unwrap")
	}
	if serviceErrorMapper(err).Metadata["http_status"] != 400 {
		t.Fatalf("expected upstream status metadata")
	}
}

func TestMappedErrorsKeepDomainChain(t *testing.T) {
	source := atStep(FlowOutgoingGrantPendingInteraction, &NoPendingGrantError{CorrelationKey: "k", Consumed: true})
	mapped := withSource(serviceErrorMapper(source), source)
	if !stderrors.Is(mapped, ErrPendingGrantConsumed) {
		t.Fatalf("expected mapped error to keep the domain chain")
	}
	var step *StepError
	if !stderrors.As(mapped, &step) || step.Step != FlowOutgoingGrantPendingInteraction {
		t.Fatalf("expected step error in chain")
	}
}

func TestUpstreamErrorTransient(t *testing.T) {
	for status, want := range map[int]bool{0: true, 429: true, 500: true, 503: true, 400: false, 404: false} {
		if got := (&UpstreamError{StatusCode: status}).Transient(); got != want {
			t.Fatalf("status %d: expected transient=%v", status, want)
		}
	}
}
