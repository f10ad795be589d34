package payment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/lunarlabs/accountd/internal/models"
)

// mockGranter is a mock implementation of the entitlement ledger.
type mockGranter struct {
	mock.Mock
}

func (m *mockGranter) Grant(ctx context.Context, accountID uuid.UUID, txnID string, tier int, source string) (*models.Purchase, error) {
	args := m.Called(ctx, accountID, txnID, tier, source)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Purchase), args.Error(1)
}

func (m *mockGranter) Status(ctx context.Context, accountID uuid.UUID) (*models.PremiumStatus, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PremiumStatus), args.Error(1)
}

func (m *mockGranter) History(ctx context.Context, accountID uuid.UUID) ([]*models.Purchase, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Purchase), args.Error(1)
}

func (m *mockGranter) RevokeAll(ctx context.Context, accountID uuid.UUID) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *mockGranter) MarkChargeback(ctx context.Context, txnID string) error {
	args := m.Called(ctx, txnID)
	return args.Error(0)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "6.49", formatCents(649))
	assert.Equal(t, "29.99", formatCents(2999))
	assert.Equal(t, "74.99", formatCents(7499))
	assert.Equal(t, "0.05", formatCents(5))
	assert.Equal(t, "100.00", formatCents(10000))
}

func TestParseCents(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "6.49", want: 649},
		{in: "29.99", want: 2999},
		{in: "74.99", want: 7499},
		{in: "6", want: 600},
		{in: "6.4", want: 640},
		{in: "0.05", want: 5},
		{in: "6.495", wantErr: true},
		{in: "-6.49", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "6.ab", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseCents(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		assert.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
