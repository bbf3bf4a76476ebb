package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
)

const (
	logsDefaultPerPage = 50
	logsMaxPerPage     = 200
)

// logs contains the audit trail handlers.
type logs struct {
	db database.Client
}

// Index returns a filtered page of audit rows, newest first.
//
// Query parameters: action (loose match), username, entry (details
// substring), start and end (YYYY-MM-DD, end inclusive), page, per_page.
func (h *logs) Index(c echo.Context) error {
	filter := database.AuditFilter{
		Action:  canonAction(c.QueryParam("action")),
		Entry:   c.QueryParam("entry"),
		Page:    intParam(c, "page", 1),
		PerPage: intParam(c, "per_page", logsDefaultPerPage),
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = logsDefaultPerPage
	}
	if filter.PerPage > logsMaxPerPage {
		filter.PerPage = logsMaxPerPage
	}

	if start := c.QueryParam("start"); start != "" {
		if t, err := time.ParseInLocation("2006-01-02", start, time.UTC); err == nil {
			filter.Start = t
		}
	}
	if end := c.QueryParam("end"); end != "" {
		if t, err := time.ParseInLocation("2006-01-02", end, time.UTC); err == nil {
			// include the entire end day
			filter.End = t.AddDate(0, 0, 1).Add(-time.Second)
		}
	}

	if username := c.QueryParam("username"); username != "" {
		id, err := h.resolveUser(username)
		if err != nil {
			return err
		}
		if id == 0 {
			return c.JSON(http.StatusOK, logsPage(nil, 0, filter))
		}
		filter.UserID = id
	}

	rows, total, err := h.db.FindAudits(filter)
	if err != nil {
		return errors.Wrap(err, "could not load audit logs")
	}

	return c.JSON(http.StatusOK, logsPage(rows, total, filter))
}

func logsPage(rows []*model.AuditLog, total int, filter database.AuditFilter) echo.Map {
	if rows == nil {
		rows = []*model.AuditLog{}
	}
	return echo.Map{
		"logs":     rows,
		"total":    total,
		"page":     filter.Page,
		"per_page": filter.PerPage,
		"has_prev": filter.Page > 1,
		"has_next": filter.Page*filter.PerPage < total,
		"actions":  model.AuditActions,
	}
}

// resolveUser matches a username filter against known users, case
// insensitively, exact name first. Zero means no user matched.
func (h *logs) resolveUser(username string) (int64, error) {
	users, err := h.db.AllUsers()
	if err != nil {
		return 0, errors.Wrap(err, "could not list users")
	}

	needle := strings.ToLower(username)
	var substring int64
	for _, u := range users {
		name := strings.ToLower(u.Username)
		if name == needle {
			return u.ID, nil
		}
		if substring == 0 && strings.Contains(name, needle) {
			substring = u.ID
		}
	}
	return substring, nil
}

// canonAction normalizes an action filter: "List Deleted" and "list-deleted"
// both mean list_deleted. Unknown values fall through for substring matching.
func canonAction(v string) string {
	if v == "" {
		return ""
	}

	x := strings.ToLower(strings.TrimSpace(v))
	x = strings.ReplaceAll(x, "-", " ")
	x = strings.ReplaceAll(x, "_", " ")
	x = strings.Join(strings.Fields(x), "_")

	for _, action := range model.AuditActions {
		if x == action {
			return action
		}
	}
	for _, action := range model.AuditActions {
		if strings.Contains(action, x) {
			return action
		}
	}
	return x
}

func intParam(c echo.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return fallback
	}
	return v
}
