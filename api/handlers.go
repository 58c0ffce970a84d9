package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-donations/core"
	"github.com/labstack/echo/v4"
)

// resultGrantRejected is the result value a wallet sends to the finish URI
// when the sender declines the grant.
const resultGrantRejected = "grant_rejected"

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.health(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartDonation(c echo.Context) error {
	var body startDonationBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid donation payload")
	}
	result, err := s.service.StartDonation(c.Request().Context(), body.toRequest())
	if err != nil {
		return err
	}
	status := http.StatusCreated
	if result.Completed {
		status = http.StatusOK
	}
	return c.JSON(status, newStartDonationResponse(result))
}

func (s *Server) handleCompleteDonation(c echo.Context) error {
	var body completeDonationBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid completion payload")
	}
	if strings.TrimSpace(body.CorrelationKey) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "correlation_key is required")
	}
	result, err := s.service.CompleteDonation(c.Request().Context(), body.toRequest())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newCompleteDonationResponse(result))
}

// handleFinishRedirect is the interaction finish URI. The wallet redirects the
// donor here with interact_ref and hash; the correlation key travels in "key".
func (s *Server) handleFinishRedirect(c echo.Context) error {
	key := strings.TrimSpace(c.QueryParam("key"))
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}
	ctx := c.Request().Context()
	if result := strings.TrimSpace(c.QueryParam("result")); result == resultGrantRejected {
		// A repeated rejection redirect finds nothing left to drop.
		if _, err := s.service.AbandonDonation(ctx, key); err != nil && !errors.Is(err, core.ErrNoPendingGrant) {
			return err
		}
		return (&core.GrantRejectedError{CorrelationKey: key}).ToServiceError()
	}
	req := completeDonationBody{
		CorrelationKey: key,
		InteractRef:    c.QueryParam("interact_ref"),
	}.toRequest()
	req.InteractHash = c.QueryParam("hash")
	req.VerifyInteractHash = true
	result, err := s.service.CompleteDonation(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newCompleteDonationResponse(result))
}

func (s *Server) handleLookupPending(c echo.Context) error {
	key := strings.TrimSpace(c.QueryParam("key"))
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}
	pending, err := s.service.LookupPendingDonation(c.Request().Context(), key)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newPendingDonationResponse(pending))
}
