package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kahani/internal/store"
)

func fixed(s Status) Check {
	return func(context.Context) CheckResult { return CheckResult{Status: s} }
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		critical Status
		optional Status
		want     Status
	}{
		{"all healthy", StatusHealthy, StatusHealthy, StatusHealthy},
		{"optional down degrades", StatusHealthy, StatusUnhealthy, StatusDegraded},
		{"critical degraded", StatusDegraded, StatusHealthy, StatusDegraded},
		{"critical down", StatusUnhealthy, StatusHealthy, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			c.Register("store", true, fixed(tt.critical))
			c.Register("service", false, fixed(tt.optional))
			c.Check(context.Background())
			assert.Equal(t, tt.want, c.OverallStatus())
		})
	}
}

func TestUncheckedCriticalIsUnknown(t *testing.T) {
	c := NewChecker()
	c.Register("store", true, fixed(StatusHealthy))
	assert.Equal(t, StatusUnknown, c.OverallStatus())
}

func TestCheckOrderPanicAndTimeout(t *testing.T) {
	c := NewChecker()
	c.Register("first", false, fixed(StatusHealthy))
	c.Register("panics", false, func(context.Context) CheckResult { panic("boom") })
	c.Register("hangs", false, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return CheckResult{Status: StatusHealthy}
	})
	c.components[2].Timeout = 20 * time.Millisecond

	results := c.Check(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].Name)
	assert.Equal(t, StatusHealthy, results[0].Status)
	assert.Equal(t, StatusUnhealthy, results[1].Status)
	assert.Equal(t, "boom", results[1].Error)
	assert.Equal(t, "hangs", results[2].Name)
	assert.Equal(t, "check timed out", results[2].Message)
}

func TestStoreCheck(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "stories.db"), time.Second)
	require.NoError(t, err)
	defer s.Close()

	r := StoreCheck(s.DB())(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)

	require.NoError(t, store.RollbackMigration(s.DB()))
	r = StoreCheck(s.DB())(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
}

func TestTransliterationCheck(t *testing.T) {
	ok := func(ctx context.Context, w string, n int) ([]string, error) { return []string{"नमस्ते"}, nil }
	echo := func(ctx context.Context, w string, n int) ([]string, error) { return []string{w}, nil }
	down := func(ctx context.Context, w string, n int) ([]string, error) { return nil, errors.New("503") }

	ctx := context.Background()
	assert.Equal(t, StatusHealthy, TransliterationCheck(ok, "namaste")(ctx).Status)
	assert.Equal(t, StatusDegraded, TransliterationCheck(echo, "namaste")(ctx).Status)
	r := TransliterationCheck(down, "namaste")(ctx)
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, "503", r.Error)
}

func TestDirCheck(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, StatusHealthy, DirCheck(dir)(context.Background()).Status)
	assert.Equal(t, StatusDegraded, DirCheck(filepath.Join(dir, "missing"))(context.Background()).Status)
}
