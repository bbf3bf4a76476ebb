package server_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/appleboy/gofight/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wgui/wgui/internal/model"
)

// seedAudit inserts an audit row with an explicit id and timestamp.
func (env *testenv) seedAudit(t *testing.T, id int64, createdAt time.Time, userID int64, actor, action, details string) {
	t.Helper()

	row := &model.AuditLog{
		UserID:    userID,
		ActorName: actor,
		Action:    action,
		Details:   details,
	}
	row.ID = id
	row.SetCreatedAt(createdAt.UTC())
	row.SetUpdatedAt(createdAt.UTC())
	require.NoError(t, env.db.Insert(row))
}

func TestLogsIndex(t *testing.T) {
	env := setup(t)
	user := env.createUser(t, "george", "password42", false)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	env.seedAudit(t, 1, base, user.ID, "george", model.ActionListAdded, "name=IP Test; type=Ip")
	env.seedAudit(t, 2, base.Add(time.Hour), user.ID, "george", model.ActionItemAdded, "category=IP Test; data=1.1.1.1")
	env.seedAudit(t, 3, base.Add(2*time.Hour), user.ID, "george", model.ActionListDeleted, "name=IP Test; type=Ip; items=1")

	env.r.GET("/logs").SetHeader(env.authorize(t, user)).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, r.Code)

			body := decode(t, r)
			assert.Equal(t, float64(3), body["total"])
			assert.Equal(t, float64(1), body["page"])
			assert.Equal(t, float64(50), body["per_page"])
			assert.Equal(t, false, body["has_prev"])
			assert.Equal(t, false, body["has_next"])
			assert.Len(t, body["actions"], len(model.AuditActions))

			// Newest first.
			rows := body["logs"].([]interface{})
			require.Len(t, rows, 3)
			assert.Equal(t, "list_deleted", rows[0].(map[string]interface{})["action"])
			assert.Equal(t, "list_added", rows[2].(map[string]interface{})["action"])
		})
}

func TestLogsActionFilter(t *testing.T) {
	env := setup(t)
	user := env.createUser(t, "george", "password42", false)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	env.seedAudit(t, 1, base, user.ID, "george", model.ActionListDeleted, "name=A")
	env.seedAudit(t, 2, base, user.ID, "george", model.ActionItemAdded, "data=1.1.1.1")
	auth := env.authorize(t, user)

	// Hyphens, spaces and case all normalize to the stored tag.
	for _, query := range []string{"list_deleted", "list-deleted", "List%20Deleted"} {
		env.r.GET("/logs?action=" + query).SetHeader(auth).
			Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
				assert.Equal(t, http.StatusOK, r.Code)
				assert.Equal(t, float64(1), decode(t, r)["total"])
			})
	}

	env.r.GET("/logs?action=no_such_action").SetHeader(auth).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, float64(0), decode(t, r)["total"])
		})
}

func TestLogsUsernameFilter(t *testing.T) {
	env := setup(t)
	george := env.createUser(t, "george", "password42", false)
	admin := env.createUser(t, "admin", "password42", true)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	env.seedAudit(t, 1, base, george.ID, "george", model.ActionItemAdded, "data=1.1.1.1")
	env.seedAudit(t, 2, base, admin.ID, "admin", model.ActionListAdded, "name=A")
	auth := env.authorize(t, george)

	env.r.GET("/logs?username=GEORGE").SetHeader(auth).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			body := decode(t, r)
			assert.Equal(t, float64(1), body["total"])
			rows := body["logs"].([]interface{})
			assert.Equal(t, "item_added", rows[0].(map[string]interface{})["action"])
		})

	// Substring match on the name.
	env.r.GET("/logs?username=eorg").SetHeader(auth).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, float64(1), decode(t, r)["total"])
		})

	// An unknown name yields an empty page, not an error.
	env.r.GET("/logs?username=nobody").SetHeader(auth).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			body := decode(t, r)
			assert.Equal(t, http.StatusOK, r.Code)
			assert.Equal(t, float64(0), body["total"])
			assert.Empty(t, body["logs"])
		})
}

func TestLogsEntryFilter(t *testing.T) {
	env := setup(t)
	user := env.createUser(t, "george", "password42", false)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	env.seedAudit(t, 1, base, user.ID, "george", model.ActionItemAdded, "category=IP Test; data=10.1.2.3")
	env.seedAudit(t, 2, base, user.ID, "george", model.ActionItemAdded, "category=IP Test; data=8.8.8.8")

	env.r.GET("/logs?entry=10.1").SetHeader(env.authorize(t, user)).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			body := decode(t, r)
			assert.Equal(t, float64(1), body["total"])
			rows := body["logs"].([]interface{})
			assert.Contains(t, rows[0].(map[string]interface{})["details"], "10.1.2.3")
		})
}

func TestLogsDateRange(t *testing.T) {
	env := setup(t)
	user := env.createUser(t, "george", "password42", false)

	env.seedAudit(t, 1, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), user.ID, "george", model.ActionItemAdded, "data=a")
	env.seedAudit(t, 2, time.Date(2026, 6, 2, 23, 30, 0, 0, time.UTC), user.ID, "george", model.ActionItemAdded, "data=b")
	env.seedAudit(t, 3, time.Date(2026, 6, 3, 0, 30, 0, 0, time.UTC), user.ID, "george", model.ActionItemAdded, "data=c")
	auth := env.authorize(t, user)

	// The end date is inclusive up to its last second.
	env.r.GET("/logs?start=2026-06-02&end=2026-06-02").SetHeader(auth).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			body := decode(t, r)
			assert.Equal(t, float64(1), body["total"])
			rows := body["logs"].([]interface{})
			assert.Equal(t, "data=b", rows[0].(map[string]interface{})["details"])
		})

	env.r.GET("/logs?start=2026-06-02").SetHeader(auth).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, float64(2), decode(t, r)["total"])
		})
}

func TestLogsPagination(t *testing.T) {
	env := setup(t)
	user := env.createUser(t, "george", "password42", false)
	base := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 5; i++ {
		env.seedAudit(t, i, base.Add(time.Duration(i)*time.Minute), user.ID, "george", model.ActionItemAdded, "data=x")
	}
	auth := env.authorize(t, user)

	env.r.GET("/logs?page=2&per_page=2").SetHeader(auth).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			body := decode(t, r)
			assert.Equal(t, float64(5), body["total"])
			assert.Equal(t, float64(2), body["page"])
			assert.Equal(t, true, body["has_prev"])
			assert.Equal(t, true, body["has_next"])
			assert.Len(t, body["logs"], 2)
		})

	// Out-of-range values fall back to the clamped defaults.
	env.r.GET("/logs?per_page=5000").SetHeader(auth).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, float64(200), decode(t, r)["per_page"])
		})
	env.r.GET("/logs?page=-3&per_page=0").SetHeader(auth).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			body := decode(t, r)
			assert.Equal(t, float64(1), body["page"])
			assert.Equal(t, float64(50), body["per_page"])
		})
}
