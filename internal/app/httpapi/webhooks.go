package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/EndlessPixel/git-city/internal/app/domain/shop"
	"github.com/EndlessPixel/git-city/internal/httputil"
	"github.com/EndlessPixel/git-city/internal/payments/card"
	"github.com/EndlessPixel/git-city/internal/payments/pix"
)

// Header names the payment providers sign their deliveries under.
const (
	cardSignatureHeader = "X-Card-Signature"
	pixSignatureHeader  = "X-Pix-Signature"
)

const maxWebhookBody = 256 << 10

// handleCardWebhook settles purchases from signed card processor deliveries.
// Replays hit the idempotent finalize path and return 200 again.
func (s *Server) handleCardWebhook(w http.ResponseWriter, r *http.Request) {
	if s.card == nil {
		httputil.NotFound(w, "")
		return
	}
	body, err := httputil.ReadAllStrict(r.Body, maxWebhookBody)
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}
	if err := s.card.VerifySignature(r.Header.Get(cardSignatureHeader), body, time.Now()); err != nil {
		s.log.WithContext(r.Context()).WithError(err).Warn("card webhook signature rejected")
		httputil.Unauthorized(w, "invalid signature")
		return
	}

	event, err := card.ParseEvent(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var settle bool
	var success bool
	switch event.Type {
	case card.EventCheckoutCompleted:
		settle, success = true, true
	case card.EventCheckoutExpired, card.EventPaymentFailed:
		settle, success = true, false
	}
	if settle {
		if err := s.settleCard(r, event, success); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// settleCard finalizes by the session id, falling back to the purchase id
// echoed as the client reference when the session was never attached.
func (s *Server) settleCard(r *http.Request, event card.Event, success bool) error {
	if event.SessionID != "" {
		_, err := s.app.Shop.FinalizeByRef(r.Context(), shop.ProviderCard, event.SessionID, success)
		if err == nil || !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	if event.Reference == "" {
		return sql.ErrNoRows
	}
	_, err := s.app.Shop.FinalizeByID(r.Context(), event.Reference, success)
	return err
}

// handlePIXWebhook settles purchases from PSP settlement notifications. A
// delivery may batch several charges; unknown txids are skipped so the PSP
// does not retry forever over a charge that is not ours.
func (s *Server) handlePIXWebhook(w http.ResponseWriter, r *http.Request) {
	if s.pix == nil {
		httputil.NotFound(w, "")
		return
	}
	body, err := httputil.ReadAllStrict(r.Body, maxWebhookBody)
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}
	if err := s.pix.VerifySignature(r.Header.Get(pixSignatureHeader), body); err != nil {
		s.log.WithContext(r.Context()).WithError(err).Warn("pix webhook signature rejected")
		httputil.Unauthorized(w, "invalid signature")
		return
	}

	updates, err := pix.ParseWebhook(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	settled := 0
	for _, update := range updates {
		done, success := pix.StatusOutcome(update.Status)
		if !done {
			continue
		}
		if _, err := s.app.Shop.FinalizeByRef(r.Context(), shop.ProviderPIX, update.TxID, success); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.log.WithContext(r.Context()).WithField("txid", update.TxID).Info("pix webhook for unknown charge")
				continue
			}
			s.writeError(w, r, err)
			return
		}
		settled++
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "received", "settled": settled})
}
