package server_test

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/appleboy/gofight/v2"
	"github.com/labstack/echo/v4"
	argon2 "github.com/mdouchement/simple-argon2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/scheduler"
	"github.com/wgui/wgui/internal/server"
	"github.com/wgui/wgui/internal/server/session"
	"github.com/wgui/wgui/internal/task"
)

func TestRequestVersion(t *testing.T) {
	env := setup(t)

	env.r.GET("/version").Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code)
		assert.JSONEq(t, `{"version":"test"}`, r.Body.String())
	})

	env.r.GET("/").Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code)
		assert.JSONEq(t, `{"version":"test"}`, r.Body.String())
	})
}

func TestRequestAuthRequired(t *testing.T) {
	env := setup(t)

	env.r.GET("/lists").Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusUnauthorized, r.Code)
	})

	env.r.GET("/lists").SetHeader(gofight.H{"Authorization": "Bearer bogus"}).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusUnauthorized, r.Code)
		})
}

func TestRequestAdminRequired(t *testing.T) {
	env := setup(t)
	user := env.createUser(t, "francis", "password42", false)

	env.r.GET("/admin/users").SetHeader(env.authorize(t, user)).
		Run(env.engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
			assert.Equal(t, http.StatusForbidden, r.Code)
		})
}

type testenv struct {
	engine *echo.Echo
	db     database.Client
	ctrl   server.IOC
	runner *task.Runner
	r      *gofight.RequestConfig
}

type stubNotifier struct {
	mails []string
}

func (n *stubNotifier) Notify(subject, body string) error {
	n.mails = append(n.mails, subject)
	return nil
}

func setup(t *testing.T) *testenv {
	t.Helper()

	dir := t.TempDir()
	db, err := database.StormOpen(filepath.Join(dir, "wgui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	sched := scheduler.New(log)
	runner := task.NewRunner(db, sched, &stubNotifier{}, log, filepath.Join(dir, "backups"))

	ctrl := server.IOC{
		Version:             "test",
		Database:            db,
		Logger:              log,
		PrimaryAdmin:        "admin",
		SigningKey:          []byte("secret"),
		TokenExpirationTime: time.Hour,
		Runner:              runner,
		BackupDirectory:     filepath.Join(dir, "backups"),
	}

	return &testenv{
		engine: server.EchoEngine(ctrl),
		db:     db,
		ctrl:   ctrl,
		runner: runner,
		r:      gofight.New(),
	}
}

func (env *testenv) createUser(t *testing.T, username, password string, admin bool) *model.User {
	t.Helper()

	hashed, err := argon2.GenerateFromPasswordString(password, argon2.Default)
	require.NoError(t, err)

	user := model.NewUser()
	user.Username = username
	user.Email = username + "@nowhere.lan"
	user.HashedPassword = hashed
	user.Admin = admin
	require.NoError(t, env.db.Save(user))
	return user
}

// authorize returns the Authorization header for the given user.
func (env *testenv) authorize(t *testing.T, user *model.User) gofight.H {
	t.Helper()

	sessions := session.NewManager(env.db, env.ctrl.SigningKey, env.ctrl.TokenExpirationTime)
	token, err := sessions.Token(user)
	require.NoError(t, err)
	return gofight.H{"Authorization": "Bearer " + token}
}

func (env *testenv) createList(t *testing.T, name, listType string) *model.List {
	t.Helper()

	lst := &model.List{Name: name, Type: listType}
	require.NoError(t, env.db.Save(lst))
	return lst
}

func (env *testenv) createItem(t *testing.T, category, data string, date time.Time) *model.Item {
	t.Helper()

	item := &model.Item{Category: category, Data: data, Date: model.Day(date)}
	require.NoError(t, env.db.Save(item))
	return item
}

func (env *testenv) auditsByAction(t *testing.T, action string) []*model.AuditLog {
	t.Helper()

	all, err := env.db.AllAudits()
	require.NoError(t, err)

	var rows []*model.AuditLog
	for _, a := range all {
		if a.Action == action {
			rows = append(rows, a)
		}
	}
	return rows
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func decode(t *testing.T, r gofight.HTTPResponse) map[string]interface{} {
	t.Helper()

	body := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(r.Body.Bytes(), &body))
	return body
}
