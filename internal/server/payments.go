// internal/server/payments.go
package server

import (
	"io"
	"net/http"

	"fitpro/internal/apperr"

	"github.com/labstack/echo/v4"
)

const maxWebhookBytes = 65536

type submitRequest struct {
	TxID       string `json:"txId"`
	ReceiptURL string `json:"receiptUrl"`
	Receipt    string `json:"receipt"`
}

func (s *Server) submitPayment(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	var req submitRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	receipt := req.Receipt
	if receipt == "" {
		receipt = req.ReceiptURL
	}
	p, err := s.deps.Subscriptions.Submit(c.Request().Context(), u.ID, req.TxID, receipt)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) myPayments(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	list, err := s.deps.Subscriptions.Mine(c.Request().Context(), u.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) checkout(c echo.Context) error {
	u, err := currentUser(c)
	if err != nil {
		return err
	}
	url, err := s.deps.Subscriptions.Checkout(c.Request().Context(), u.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url})
}

func (s *Server) pendingPayments(c echo.Context) error {
	list, err := s.deps.Subscriptions.ListPending(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) approvePayment(c echo.Context) error {
	admin, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	p, err := s.deps.Subscriptions.Approve(c.Request().Context(), admin.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) rejectPayment(c echo.Context) error {
	admin, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	p, err := s.deps.Subscriptions.Reject(c.Request().Context(), admin.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) stripeWebhook(c echo.Context) error {
	if s.deps.Stripe == nil {
		return apperr.NotFound("stripe webhook")
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return apperr.Validation("error reading request body", nil)
	}

	cs, ok, err := s.deps.Stripe.ParseEvent(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.Warnw("stripe webhook rejected", "error", err)
		return apperr.Validation("invalid webhook", nil)
	}
	if !ok {
		return c.NoContent(http.StatusOK)
	}

	p, err := s.deps.Subscriptions.HandleStripeSession(c.Request().Context(), cs)
	if err != nil {
		return err
	}
	s.logger.Infow("stripe checkout completed", "paymentId", p.ID, "userId", p.UserID, "session", cs.SessionID)
	return c.NoContent(http.StatusOK)
}
