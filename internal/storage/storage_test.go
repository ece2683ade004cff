package storage

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "seobot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestAuditBackends(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "seobot.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })

			ctx := context.Background()
			base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{
					At:       base.Add(time.Duration(i) * time.Minute),
					Platform: "slack",
					ActorID:  "U1",
					Channel:  "C1",
					Action:   "check",
					Target:   "site" + strconv.Itoa(i) + ".com",
					OK:       i%2 == 0,
					TookMS:   int64(i),
					Meta:     map[string]string{"n": strconv.Itoa(i)},
				}))
			}

			got, err := st.RecentAudit(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, "site4.com", got[0].Target)
			assert.Equal(t, "site2.com", got[2].Target)
			assert.True(t, got[0].OK)
			assert.False(t, got[1].OK)
			assert.Equal(t, "4", got[0].Meta["n"])
			assert.True(t, got[0].At.Equal(base.Add(4*time.Minute)))
		})
	}
}
