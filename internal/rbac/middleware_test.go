package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"voicedash/internal/auth"

	"github.com/gin-gonic/gin"
)

func doRequest(t *testing.T, mw gin.HandlerFunc, userID, workspaceID, role string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" || workspaceID != "" || role != "" {
			ctx := auth.WithIdentity(c.Request.Context(), userID, workspaceID, role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	})
	r.Use(mw)
	r.GET("/probe", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireWorkspace(t *testing.T) {
	if code := doRequest(t, RequireWorkspace(), "u1", "ws-1", RoleViewer); code != http.StatusOK {
		t.Fatalf("with workspace: %d", code)
	}
	if code := doRequest(t, RequireWorkspace(), "u1", "", RoleViewer); code != http.StatusUnauthorized {
		t.Fatalf("without workspace: %d", code)
	}
}

func TestRequireAnyRole(t *testing.T) {
	mw := RequireAnyRole(RoleOperator)

	if code := doRequest(t, mw, "u1", "ws-1", RoleOperator); code != http.StatusOK {
		t.Fatalf("operator: %d", code)
	}
	if code := doRequest(t, mw, "u1", "ws-1", RoleViewer); code != http.StatusForbidden {
		t.Fatalf("viewer: %d", code)
	}
	// admin passes every gate.
	if code := doRequest(t, mw, "u1", "ws-1", RoleAdmin); code != http.StatusOK {
		t.Fatalf("admin: %d", code)
	}
	if code := doRequest(t, mw, "", "", ""); code != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", code)
	}
}

func TestCanControlCalls(t *testing.T) {
	if CanControlCalls(RoleViewer) {
		t.Fatal("viewer must not control calls")
	}
	if !CanControlCalls(RoleOperator) || !CanControlCalls(RoleAdmin) {
		t.Fatal("operator and admin control calls")
	}
}
