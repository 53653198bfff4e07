package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const interval15 = 15 * time.Minute

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}
