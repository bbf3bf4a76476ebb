package server

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/server/middlewares"
	"github.com/wgui/wgui/internal/server/session"
	"github.com/wgui/wgui/internal/task"
)

// Login failure audit throttling.
const (
	loginFailLogWindow       = time.Minute
	loginFailLogMaxPerWindow = 5
)

// An IOC is an Inversion Of Control pattern used to init the server package.
type IOC struct {
	Version  string
	Database database.Client
	Logger   logrus.FieldLogger
	// PrimaryAdmin is the seeded admin username, protected from demotion.
	PrimaryAdmin string
	// JWT params
	SigningKey          []byte
	TokenExpirationTime time.Duration
	// Background jobs
	Runner *task.Runner
	// BackupDirectory is used until BackupSettings exist.
	BackupDirectory string
}

// EchoEngine instantiates the web server.
func EchoEngine(ctrl IOC) *echo.Echo {
	engine := echo.New()
	engine.Use(middleware.Recover())
	engine.Use(middleware.Secure())
	engine.Use(middleware.Gzip())

	engine.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${status}] ${method} ${uri} (${bytes_in}) ${latency_human}\n",
	}))
	engine.Binder = middlewares.NewBinder()
	// Error handler
	engine.HTTPErrorHandler = middlewares.HTTPErrorHandler(ctrl.Logger)

	engine.Pre(middleware.Rewrite(map[string]string{
		"/": "/version",
	}))

	////////////
	// Router //
	////////////

	sessions := session.NewManager(ctrl.Database, ctrl.SigningKey, ctrl.TokenExpirationTime)

	router := engine.Group("")
	restricted := router.Group("")
	restricted.Use(middlewares.Session(sessions))
	admin := restricted.Group("/admin")
	admin.Use(middlewares.Admin())

	// generic handlers
	//
	router.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"version": ctrl.Version,
		})
	})

	//
	// auth handlers
	//
	auth := &auth{
		db:       ctrl.Database,
		sessions: sessions,
		throttle: newLoginThrottle(loginFailLogWindow, loginFailLogMaxPerWindow),
	}
	router.POST("/auth/sign_in", auth.Login)
	restricted.POST("/auth/sign_out", auth.Logout)
	restricted.GET("/account", auth.Account)
	restricted.PATCH("/account", auth.UpdateAccount)

	//
	// list handlers
	//
	list := &list{
		db: ctrl.Database,
	}
	restricted.GET("/lists", list.Index)
	restricted.POST("/lists", list.Create)
	restricted.GET("/lists/:id", list.Show)
	restricted.DELETE("/lists/:id", list.Delete)
	restricted.GET("/lists/:type/:file", list.Export)

	//
	// item handlers
	//
	item := &item{
		db: ctrl.Database,
	}
	restricted.POST("/lists/:id/items", item.Create)
	restricted.PATCH("/items/:id", item.Update)
	restricted.DELETE("/items/:id", item.Delete)

	//
	// audit log handlers
	//
	logs := &logs{
		db: ctrl.Database,
	}
	restricted.GET("/logs", logs.Index)

	//
	// admin handlers
	//
	user := &user{
		db:           ctrl.Database,
		primaryAdmin: ctrl.PrimaryAdmin,
	}
	admin.GET("/users", user.Index)
	admin.POST("/users", user.Create)
	admin.DELETE("/users/:id", user.Delete)
	admin.POST("/users/:id/promote", user.Promote)
	admin.POST("/users/:id/demote", user.Demote)

	setting := &setting{
		db:              ctrl.Database,
		runner:          ctrl.Runner,
		backupDirectory: ctrl.BackupDirectory,
	}
	admin.GET("/settings/email", setting.Email)
	admin.PUT("/settings/email", setting.UpdateEmail)
	admin.GET("/schedule", setting.Schedule)
	admin.PUT("/schedule/cleanup", setting.UpdateCleanupSchedule)
	admin.PUT("/schedule/backup", setting.UpdateBackupSchedule)
	admin.PUT("/schedule/audit", setting.UpdateAuditSchedule)

	job := &job{
		db:     ctrl.Database,
		runner: ctrl.Runner,
	}
	admin.POST("/schedule/run", job.RunCleanup)
	admin.POST("/schedule/backup/run", job.RunBackup)
	admin.POST("/schedule/audit/run", job.RunAuditPurge)

	backups := &backups{
		db:               ctrl.Database,
		runner:           ctrl.Runner,
		log:              ctrl.Logger,
		defaultDirectory: ctrl.BackupDirectory,
	}
	admin.GET("/backup/download", backups.Download)
	admin.POST("/backup/restore", backups.Restore)

	return engine
}

// PrintRoutes prints the Echo engine exposed routes.
func PrintRoutes(e *echo.Echo) {
	ignored := map[string]bool{
		"":   true,
		".":  true,
		"/*": true,
	}

	routes := e.Routes()
	sort.Slice(routes, func(i int, j int) bool {
		return routes[i].Path < routes[j].Path
	})

	fmt.Println("Routes:")
	for _, route := range routes {
		if ignored[route.Path] {
			continue
		}
		fmt.Printf("%6s %s\n", route.Method, route.Path)
	}
}

func currentUser(c echo.Context) *model.User {
	user, ok := c.Get(middlewares.CurrentUserContextKey).(*model.User)
	if ok {
		return user
	}
	return nil
}

// auditRow builds an audit entry attributed to the given user.
func auditRow(user *model.User, action, targetType string, targetID, listID int64, details string) *model.AuditLog {
	row := &model.AuditLog{
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		ListID:     listID,
		Details:    model.TruncateDetails(details),
	}
	if user != nil {
		row.UserID = user.ID
		row.ActorName = user.Username
	}
	return row
}
