package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/services/catalog"
	"github.com/upb/image-gateway/services/memo"
	"go.uber.org/zap"
)

func TestCandidatesHandler_HandleList(t *testing.T) {
	cat, err := catalog.New([]models.Candidate{
		{Identifier: "acme/paid", DisplayName: "Acme Paid", IsPaid: true},
		{Identifier: "acme/free"},
	})
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	failureMemo := memo.NewLocalMemoWithClock(func() time.Time { return now })
	failureMemo.Set(context.Background(), "acme/paid", models.FailureKindBillingRequired, "HTTP 402: billing required", time.Hour)

	handler := NewCandidatesHandler(cat, failureMemo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/candidates", nil)
	w := httptest.NewRecorder()

	handler.HandleList(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data []CandidateStatus `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Data, 2)

	paid := response.Data[0]
	assert.Equal(t, "acme/paid", paid.Identifier)
	assert.Equal(t, "Acme Paid", paid.DisplayName)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.Cooldown)
	assert.Equal(t, models.FailureKindBillingRequired, paid.Cooldown.Kind)
	assert.True(t, paid.Cooldown.ExpiresAt.Equal(now.Add(time.Hour)))

	free := response.Data[1]
	assert.Equal(t, "acme/free", free.DisplayName)
	assert.Nil(t, free.Cooldown)
}
