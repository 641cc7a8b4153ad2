package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/playvault/playvault/internal/auth"
	"github.com/playvault/playvault/internal/idgen"
	"github.com/playvault/playvault/internal/logging"
	"github.com/playvault/playvault/internal/orders"
	"github.com/playvault/playvault/internal/payments"
	"github.com/playvault/playvault/internal/refunds"
)

// Service issues and verifies receipts.
type Service struct {
	store  Store
	signer *Signer
}

// NewService creates a receipt service. A nil signer disables issuance;
// reads still work so old receipts stay fetchable.
func NewService(store Store, signer *Signer) *Service {
	return &Service{store: store, signer: signer}
}

// Enabled reports whether the service can sign new receipts.
func (s *Service) Enabled() bool {
	return s != nil && s.signer != nil
}

func (s *Service) issue(ctx context.Context, r *Receipt) error {
	if !s.Enabled() {
		return nil
	}

	payload := payloadFor(r)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("receipts: marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)
	r.PayloadHash = hex.EncodeToString(hash[:])

	sig, issuedAt, expiresAt, err := s.signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("receipts: sign: %w", err)
	}
	r.ID = idgen.WithPrefix("rcpt_")
	r.Signature = sig
	r.IssuedAt = issuedAt
	r.ExpiresAt = expiresAt
	r.CreatedAt = time.Now().UTC()

	return s.store.Create(ctx, r)
}

// PaymentCaptured issues a capture receipt. Called by the payments service
// after a successful charge; a receipt failure must never unwind the
// capture, so it only logs.
func (s *Service) PaymentCaptured(ctx context.Context, order *orders.Order, txn *payments.Transaction) {
	err := s.issue(ctx, &Receipt{
		OrderID:       order.ID,
		Kind:          KindCapture,
		TransactionID: txn.TransactionID,
		BuyerID:       order.BuyerID,
		SellerID:      order.SellerID,
		Amount:        txn.Amount.String(),
		Currency:      txn.Currency,
		Backend:       txn.Backend,
	})
	if err != nil {
		logging.L(ctx).Error("capture receipt not issued", "order_id", order.ID, "error", err)
	}
}

// RefundCompleted issues a refund receipt after the gateway refund settles.
func (s *Service) RefundCompleted(ctx context.Context, order *orders.Order, refund *refunds.Refund, backend string) {
	err := s.issue(ctx, &Receipt{
		OrderID:       order.ID,
		Kind:          KindRefund,
		TransactionID: refund.RefundTxnID,
		BuyerID:       order.BuyerID,
		SellerID:      order.SellerID,
		Amount:        refund.Amount.String(),
		Currency:      refund.Currency,
		Backend:       backend,
	})
	if err != nil {
		logging.L(ctx).Error("refund receipt not issued", "order_id", order.ID, "error", err)
	}
}

// Get returns a receipt. Only the order's parties and mediators may read it.
func (s *Service) Get(ctx context.Context, id, callerID, callerRole string) (*Receipt, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsParty(callerID) && callerRole != auth.RoleMediator {
		return nil, orders.ErrNotParticipant
	}
	return r, nil
}

// ListByOrder returns the order's receipts, newest first.
func (s *Service) ListByOrder(ctx context.Context, orderID, callerID, callerRole string) ([]*Receipt, error) {
	result, err := s.store.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(result) > 0 && !result[0].IsParty(callerID) && callerRole != auth.RoleMediator {
		return nil, orders.ErrNotParticipant
	}
	return result, nil
}

// Verify re-signs the stored payload and compares signatures.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	if s.signer == nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrSigningDisabled.Error(),
		}, nil
	}

	r, err := s.store.Get(ctx, receiptID)
	if err != nil {
		return &VerifyResponse{
			Valid:     false,
			ReceiptID: receiptID,
			Error:     ErrReceiptNotFound.Error(),
		}, nil
	}

	resp := &VerifyResponse{
		ReceiptID: receiptID,
		Valid:     s.signer.Verify(payloadFor(r), r.Signature),
	}
	if resp.Valid && time.Now().After(r.ExpiresAt) {
		resp.Expired = true
	}
	if !resp.Valid {
		resp.Error = "signature verification failed"
	}
	return resp, nil
}
