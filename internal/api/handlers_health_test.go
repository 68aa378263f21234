package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthView_GetHealth_NoHistory(t *testing.T) {
	v := NewHealthView("1.2.3", nil)
	out, err := v.getHealth(context.Background(), &healthInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Body.Status)
	assert.Equal(t, "not_configured", out.Body.HistoryDB)
	assert.Equal(t, "1.2.3", out.Body.Version)
}

func TestHealthView_GetHealth_WithHistory(t *testing.T) {
	repo := openTestHistoryRepo(t)
	v := NewHealthView("1.2.3", repo)
	out, err := v.getHealth(context.Background(), &healthInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Body.Status)
	assert.Equal(t, "ok", out.Body.HistoryDB)
}
