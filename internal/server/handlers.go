package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/subscription"
)

// ============================================================================
// Response shapes
// ============================================================================

type walletResponse struct {
	UID       string `json:"uid"`
	Balance   int64  `json:"balance"`
	Available int64  `json:"available"`
	IsLocked  bool   `json:"is_locked"`
}

type transactionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type paymentResponse struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Amount int64  `json:"amount"`
}

// chargeResponse is the shared answer for the async money operations:
// the transaction always exists, the payment only when the wallet could
// not cover everything.
type chargeResponse struct {
	Transaction transactionResponse `json:"transaction"`
	Payment     *paymentResponse    `json:"payment,omitempty"`
}

type subscriptionResponse struct {
	ID            string `json:"id"`
	UID           string `json:"uid"`
	Amount        int64  `json:"amount"`
	Interval      string `json:"interval"`
	Product       string `json:"product"`
	State         string `json:"state"`
	CurrentPeriod int    `json:"current_period"`
}

type cardResponse struct {
	ID        string `json:"id"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	IsDefault bool   `json:"is_default"`
}

func newWalletResponse(w *domain.Wallet) walletResponse {
	return walletResponse{
		UID:       w.UID.String(),
		Balance:   w.Balance,
		Available: w.AvailableBalance(),
		IsLocked:  w.IsLocked,
	}
}

func newChargeResponse(wt *domain.WalletTransaction, p *domain.Payment) chargeResponse {
	resp := chargeResponse{
		Transaction: transactionResponse{
			ID:     wt.ID.String(),
			Status: string(wt.Status),
		},
	}
	if p != nil {
		resp.Payment = &paymentResponse{
			ID:     p.ID.String(),
			State:  string(p.State),
			Amount: p.Amount,
		}
	}
	return resp
}

func newSubscriptionResponse(s *domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:            s.ID.String(),
		UID:           s.UID.String(),
		Amount:        s.Amount,
		Interval:      string(s.Interval),
		Product:       s.Product,
		State:         string(s.State),
		CurrentPeriod: s.CurrentPeriodIndex,
	}
}

func newCardResponse(m *domain.PaymentMethod) cardResponse {
	return cardResponse{
		ID:        m.ID,
		Brand:     m.Brand,
		Last4:     m.Last4,
		IsDefault: m.IsDefault,
	}
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.Invalid("server.parse", field+" is not a valid uuid")
	}
	return id, nil
}

// ============================================================================
// Wallets
// ============================================================================

func (s *Server) getWallet(c echo.Context) error {
	uid, err := parseUUID(c.Param("uid"), "uid")
	if err != nil {
		return err
	}

	var wallet *domain.Wallet
	err = s.store.RunInTx(c.Request().Context(), func(ctx context.Context, tx store.Tx) error {
		wallet, err = s.ledger.GetWallet(ctx, tx, uid)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newWalletResponse(wallet))
}

func (s *Server) getFailingCount(c echo.Context) error {
	uid, err := parseUUID(c.Param("uid"), "uid")
	if err != nil {
		return err
	}

	var count int
	err = s.store.RunInTx(c.Request().Context(), func(ctx context.Context, tx store.Tx) error {
		count, err = s.ledger.FailingPaymentCount(ctx, tx, uid)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"failing": count})
}

// ============================================================================
// Deposits, transfers, purchases
// ============================================================================

type depositRequest struct {
	UID    string `json:"uid" validate:"required,uuid"`
	Amount int64  `json:"amount" validate:"required,gt=0"`

	// Instant deposits settle from the caller (promo credits, refunds);
	// everything else goes through the gateway.
	Instant  bool   `json:"instant"`
	RetryKey string `json:"retry_key"`
}

func (s *Server) createDeposit(c echo.Context) error {
	var req depositRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("server.deposit", "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	uid, err := parseUUID(req.UID, "uid")
	if err != nil {
		return err
	}

	var (
		wt *domain.WalletTransaction
		p  *domain.Payment
	)
	err = s.store.RunInTx(c.Request().Context(), func(ctx context.Context, tx store.Tx) error {
		if req.Instant {
			wt, err = s.ledger.DepositInstant(ctx, tx, uid, req.Amount)
			return err
		}
		wt, p, err = s.ledger.DepositAsync(ctx, tx, uid, req.Amount, req.RetryKey)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newChargeResponse(wt, p))
}

type transferRequest struct {
	From   string `json:"from" validate:"required,uuid"`
	To     string `json:"to" validate:"required,uuid"`
	Amount int64  `json:"amount" validate:"required,gt=0"`

	// BalanceOnly rejects the transfer instead of charging the gateway
	// when the wallet cannot cover it.
	BalanceOnly bool   `json:"balance_only"`
	RetryKey    string `json:"retry_key"`
}

func (s *Server) createTransfer(c echo.Context) error {
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("server.transfer", "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	from, err := parseUUID(req.From, "from")
	if err != nil {
		return err
	}
	to, err := parseUUID(req.To, "to")
	if err != nil {
		return err
	}

	var (
		wt *domain.WalletTransaction
		p  *domain.Payment
	)
	err = s.store.RunInTx(c.Request().Context(), func(ctx context.Context, tx store.Tx) error {
		if req.BalanceOnly {
			wt, err = s.ledger.TransferBalance(ctx, tx, from, to, req.Amount)
			return err
		}
		wt, p, err = s.ledger.TransferAsync(ctx, tx, from, to, req.Amount, req.RetryKey)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newChargeResponse(wt, p))
}

type purchaseRequest struct {
	UID     string `json:"uid" validate:"required,uuid"`
	Product string `json:"product" validate:"required"`
	Amount  int64  `json:"amount" validate:"required,gt=0"`

	BalanceOnly bool   `json:"balance_only"`
	RetryKey    string `json:"retry_key"`
}

func (s *Server) createPurchase(c echo.Context) error {
	var req purchaseRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("server.purchase", "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	uid, err := parseUUID(req.UID, "uid")
	if err != nil {
		return err
	}

	var (
		wt *domain.WalletTransaction
		p  *domain.Payment
	)
	err = s.store.RunInTx(c.Request().Context(), func(ctx context.Context, tx store.Tx) error {
		if req.BalanceOnly {
			wt, err = s.ledger.PurchaseInstant(ctx, tx, uid, req.Product, req.Amount)
			return err
		}
		wt, p, err = s.ledger.PurchaseCreated(ctx, tx, uid, req.Product, req.Amount, req.RetryKey)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newChargeResponse(wt, p))
}

// ============================================================================
// Subscriptions
// ============================================================================

type createSubscriptionRequest struct {
	UID      string `json:"uid" validate:"required,uuid"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Interval string `json:"interval" validate:"required,oneof=week month"`
	Product  string `json:"product" validate:"required"`

	// Start defaults to now when omitted.
	Start *time.Time `json:"start"`
}

func (s *Server) createSubscription(c echo.Context) error {
	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("server.subscription", "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	uid, err := parseUUID(req.UID, "uid")
	if err != nil {
		return err
	}
	start := time.Now()
	if req.Start != nil {
		start = *req.Start
	}

	var sub *domain.Subscription
	err = s.store.RunInTx(c.Request().Context(), func(ctx context.Context, tx store.Tx) error {
		sub, err = s.subs.Create(ctx, tx, subscription.CreateParams{
			UID:      uid,
			Amount:   req.Amount,
			Interval: domain.SubscriptionInterval(req.Interval),
			Product:  req.Product,
			Start:    start,
		})
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newSubscriptionResponse(sub))
}

func (s *Server) getSubscription(c echo.Context) error {
	id, err := parseUUID(c.Param("id"), "id")
	if err != nil {
		return err
	}

	var sub *domain.Subscription
	err = s.store.RunInTx(c.Request().Context(), func(ctx context.Context, tx store.Tx) error {
		sub, err = s.subs.Get(ctx, tx, id)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSubscriptionResponse(sub))
}

func (s *Server) getSubscriptionExpiry(c echo.Context) error {
	id, err := parseUUID(c.Param("id"), "id")
	if err != nil {
		return err
	}

	var expiry time.Time
	err = s.store.RunInTx(c.Request().Context(), func(ctx context.Context, tx store.Tx) error {
		expiry, err = s.subs.ExpiryEstimate(ctx, tx, id, time.Now())
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"expires_at": expiry})
}

func (s *Server) cancelSubscription(c echo.Context) error {
	id, err := parseUUID(c.Param("id"), "id")
	if err != nil {
		return err
	}

	var canceled bool
	err = s.store.RunInTx(c.Request().Context(), func(ctx context.Context, tx store.Tx) error {
		canceled, err = s.subs.TryCancel(ctx, tx, id)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"canceled": canceled})
}

// ============================================================================
// Billing customers and cards
// ============================================================================

type enablePaymentsRequest struct {
	UID string `json:"uid" validate:"required,uuid"`
}

func (s *Server) enablePayments(c echo.Context) error {
	var req enablePaymentsRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("server.enable", "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	uid, err := parseUUID(req.UID, "uid")
	if err != nil {
		return err
	}

	if err := s.pay.EnablePayments(c.Request().Context(), uid); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{"enabled": true})
}

func (s *Server) listCards(c echo.Context) error {
	uid, err := parseUUID(c.QueryParam("uid"), "uid")
	if err != nil {
		return err
	}

	cards, err := s.pay.ListCards(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	resp := make([]cardResponse, 0, len(cards))
	for _, m := range cards {
		resp = append(resp, newCardResponse(m))
	}
	return c.JSON(http.StatusOK, resp)
}

type addCardRequest struct {
	UID             string `json:"uid" validate:"required,uuid"`
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
}

func (s *Server) addCard(c echo.Context) error {
	var req addCardRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("server.cards", "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	uid, err := parseUUID(req.UID, "uid")
	if err != nil {
		return err
	}

	card, err := s.pay.AddCard(c.Request().Context(), uid, req.PaymentMethodID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newCardResponse(card))
}

func (s *Server) removeCard(c echo.Context) error {
	uid, err := parseUUID(c.QueryParam("uid"), "uid")
	if err != nil {
		return err
	}

	removed, err := s.pay.RemoveCard(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return err
	}
	if !removed {
		return domain.NotFound("server.cards", "card", c.Param("id"))
	}
	return c.NoContent(http.StatusNoContent)
}

type makeDefaultRequest struct {
	UID string `json:"uid" validate:"required,uuid"`
}

func (s *Server) makeDefaultCard(c echo.Context) error {
	var req makeDefaultRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("server.cards", "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	uid, err := parseUUID(req.UID, "uid")
	if err != nil {
		return err
	}

	changed, err := s.pay.MakeDefault(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"changed": changed})
}
