package processingstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/AutonomosCdM/vigia-sub003/internal/processingstore"
	"github.com/AutonomosCdM/vigia-sub003/test/util"
)

func openTestStore(t *testing.T) *processingstore.Store {
	t.Helper()
	cfg := util.NewTestStoreConfig(t)
	store, err := processingstore.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_TokenizedPatientRoundTrip(t *testing.T) {
	store := openTestStore(t)
	tokenID := uuid.New().String()

	p := processingstore.TokenizedPatient{
		TokenID:           tokenID,
		PatientAlias:      "Batman",
		AgeRange:          "60-69",
		GenderCategory:    "female",
		RiskFactors:       map[string]bool{"diabetes": true, "mobility_impaired": false},
		MedicalConditions: []string{"diabetes", "hypertension"},
		TokenExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateTokenizedPatient(context.Background(), p))

	got, err := store.GetTokenizedPatient(context.Background(), tokenID)
	require.NoError(t, err)
	require.Equal(t, p.PatientAlias, got.PatientAlias)
	require.Equal(t, p.RiskFactors, got.RiskFactors)
	require.ElementsMatch(t, p.MedicalConditions, got.MedicalConditions)

	require.NoError(t, store.DeleteTokenizedPatient(context.Background(), tokenID))
	_, err = store.GetTokenizedPatient(context.Background(), tokenID)
	require.ErrorIs(t, err, processingstore.ErrTokenizedPatientNotFound)
}

func TestStore_SourceBindingRoundTrip(t *testing.T) {
	store := openTestStore(t)
	tokenID := uuid.New().String()
	require.NoError(t, store.CreateTokenizedPatient(context.Background(), processingstore.TokenizedPatient{
		TokenID: tokenID, TokenExpiresAt: time.Now().Add(time.Hour),
	}))

	require.NoError(t, store.CreateSourceBinding(context.Background(), "+15551234567", tokenID))

	got, err := store.TokenIDForSourceID(context.Background(), "+15551234567")
	require.NoError(t, err)
	require.Equal(t, tokenID, got)

	// Rebinding the same source to the same token is idempotent.
	require.NoError(t, store.CreateSourceBinding(context.Background(), "+15551234567", tokenID))
}

func TestStore_SourceBindingNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.TokenIDForSourceID(context.Background(), "unknown-source")
	require.ErrorIs(t, err, processingstore.ErrSourceBindingNotFound)
}
