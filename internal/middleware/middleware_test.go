package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/auth"
	"github.com/aura-webinar/liveclass/internal/models"
)

type fakeAuthn struct {
	key string
	p   *models.Participant
}

func (f fakeAuthn) Authenticate(_ context.Context, key string) (*models.Participant, error) {
	if key != f.key {
		return nil, models.ErrInvalidSignalingKey
	}
	return f.p, nil
}

type keyring map[string]*models.Participant

func (k keyring) Authenticate(_ context.Context, key string) (*models.Participant, error) {
	if p, ok := k[key]; ok {
		return p, nil
	}
	return nil, models.ErrInvalidSignalingKey
}

func TestSignalingKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := &models.Participant{ID: uuid.New(), Role: models.RoleStudent}
	r := gin.New()
	r.GET("/me", SignalingKey(fakeAuthn{key: "k1", p: p}, zap.NewNop()), func(c *gin.Context) {
		c.String(http.StatusOK, Participant(c).ID.String())
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(HeaderSignalingKey, "k1")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, p.ID.String(), w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?key=k1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?key=nope", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAndRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := auth.NewJWTService("secret", 1)
	r := gin.New()
	r.GET("/admin", JWT(svc), RequireRole(auth.RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	r.GET("/maybe", OptionalJWT(svc), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	adminTok, err := svc.Generate("7", "", auth.RoleAdmin, "")
	require.NoError(t, err)
	userTok, err := svc.Generate("8", "", auth.RoleUser, "")
	require.NoError(t, err)

	do := func(path, tok string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		r.ServeHTTP(w, req)
		return w
	}

	w := do("/admin", adminTok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7", w.Body.String())
	assert.Equal(t, http.StatusForbidden, do("/admin", userTok).Code)
	assert.Equal(t, http.StatusUnauthorized, do("/admin", "").Code)

	w = do("/maybe", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "8", do("/maybe", userTok).Body.String())
}

func TestRequireParticipantRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pupil := &models.Participant{ID: uuid.New(), Role: models.RoleStudent}
	host := &models.Participant{ID: uuid.New(), Role: models.RoleInstructor}
	r := gin.New()
	authn := SignalingKey(keyring{"pupil": pupil, "host": host}, zap.NewNop())
	r.POST("/resolve", authn, RequireParticipantRole(models.RoleInstructor), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.POST("/unguarded", RequireParticipantRole(models.RoleInstructor), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(path, key string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set(HeaderSignalingKey, key)
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, do("/resolve", "host").Code)
	w := do("/resolve", "pupil")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"forbidden"`)
	assert.Equal(t, http.StatusUnauthorized, do("/unguarded", "host").Code)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://localhost:3000"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderSignalingKey)
}
