package participants

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/sessions"
	"github.com/aura-webinar/liveclass/pkg/database"
)

// Runs against a real PostgreSQL when TEST_DATABASE_URL is set.
func TestRepositoryConcurrentJoinsShareOneRow(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, dsn, database.PoolOptions{MaxConns: 8}, nil)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, database.Migrate(ctx, pool, nil))

	sessRepo := sessions.NewRepository(pool)
	repo := NewRepository(pool)
	sessSvc := sessions.NewService(sessRepo, nil, repo, nil, nil, nil, nil)
	svc := NewService(repo, sessSvc, nil, nil, nil, nil, Options{}, nil)

	sess, err := sessSvc.CreateSession(ctx, sessions.CreateInput{CourseID: "pg-concurrency", HostAdminID: "admin-1"})
	require.NoError(t, err)
	defer func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM live_sessions WHERE id = $1`, sess.ID)
	}()
	_, err = sessSvc.Start(ctx, sess.ID)
	require.NoError(t, err)

	const joins = 8
	ids := make([]string, joins)
	errs := make([]error, joins)
	var wg sync.WaitGroup
	for i := 0; i < joins; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Join(ctx, JoinInput{SessionID: sess.ID, Role: models.RoleStudent, UserID: "u-7"})
			errs[i] = err
			if err == nil {
				ids[i] = res.Participant.ID.String()
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	list, err := repo.ListParticipants(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	n, err := repo.MarkStaleParticipants(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	p, err := svc.Heartbeat(ctx, list[0].ID)
	require.NoError(t, err)
	assert.True(t, p.Connected)
}
