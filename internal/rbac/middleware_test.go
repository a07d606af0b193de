package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"delivery-engine/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(role string, guard gin.HandlerFunc) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if role != "" {
			ctx := auth.WithIdentity(c.Request.Context(), "u", role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}, guard, func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve(RoleSuperAdmin, RequireAnyRole(RoleAdmin)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_HiddenRoleDeniedUnlessAllowed(t *testing.T) {
	if code := serve(RoleScheduler, Senders()); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(RoleScheduler, Jobs()); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_RoleRequired(t *testing.T) {
	if code := serve("", Readers()); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRoleGroups(t *testing.T) {
	cases := []struct {
		role  string
		guard gin.HandlerFunc
		want  int
	}{
		{RoleViewer, Readers(), 200},
		{RoleViewer, Senders(), 403},
		{RoleOperator, Senders(), 200},
		{RoleOperator, Jobs(), 403},
		{RoleAdmin, Jobs(), 200},
	}
	for _, tc := range cases {
		if code := serve(tc.role, tc.guard); code != tc.want {
			t.Fatalf("role %s: expected %d, got %d", tc.role, tc.want, code)
		}
	}
}
