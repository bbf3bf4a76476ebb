package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	argon2 "github.com/mdouchement/simple-argon2"
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/server/session"
	"github.com/wgui/wgui/internal/wgerror"
)

// auth contains all authentication and account handlers.
type auth struct {
	db       database.Client
	sessions session.Manager
	throttle *loginThrottle
}

///// Login
////
//

// Login authenticates a user and returns a JWT.
func (h *auth) Login(c echo.Context) error {
	var params struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, wgerror.New("Could not get credentials."))
	}

	if params.Username == "" || params.Password == "" {
		return c.JSON(http.StatusBadRequest, wgerror.New("No username or password provided."))
	}

	user, err := h.db.FindUserByUsername(params.Username)
	if err != nil && !h.db.IsNotFound(err) {
		return errors.Wrap(err, "could not get access to database")
	}

	if user == nil || argon2.CompareHashAndPasswordString(user.HashedPassword, params.Password) != nil {
		h.auditLoginFailure(params.Username, c.RealIP())
		return wgerror.NewUnauthorized("Invalid credentials.")
	}

	token, err := h.sessions.Token(user)
	if err != nil {
		return err
	}

	row := auditRow(user, model.ActionLoginSuccess, "user", user.ID, 0,
		model.Details("username", user.Username, "ip", c.RealIP()))
	if err := h.db.Save(row); err != nil {
		return errors.Wrap(err, "could not record login")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"user":  user,
	})
}

// auditLoginFailure writes a login_failed row unless the (username, ip)
// pair is over its throttle budget.
func (h *auth) auditLoginFailure(username, ip string) {
	if !h.throttle.Allow(username, ip) {
		return
	}

	row := &model.AuditLog{
		ActorName:  username,
		Action:     model.ActionLoginFailed,
		TargetType: "user",
		Details:    model.Details("username", username, "ip", ip),
	}
	_ = h.db.Save(row)
}

///// Logout
////
//

// Logout records the end of the session. Tokens are stateless so there is
// nothing to invalidate server side.
func (h *auth) Logout(c echo.Context) error {
	user := currentUser(c)

	row := auditRow(user, model.ActionLogout, "user", user.ID, 0,
		model.Details("username", user.Username))
	if err := h.db.Save(row); err != nil {
		return errors.Wrap(err, "could not record logout")
	}

	return c.NoContent(http.StatusNoContent)
}

///// Account
////
//

// Account returns the current user.
func (h *auth) Account(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"user": currentUser(c),
	})
}

// UpdateAccount updates the current user's email and/or password.
func (h *auth) UpdateAccount(c echo.Context) error {
	var params struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, wgerror.New("Could not get parameters."))
	}

	user := currentUser(c)

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if params.Email != "" && params.Email != user.Email {
		old := user.Email
		user.Email = params.Email

		row := auditRow(user, model.ActionUserEmailChanged, "user", user.ID, 0,
			fmt.Sprintf("email:%s->%s", old, user.Email))
		if err := tx.Save(row); err != nil {
			return errors.Wrap(err, "could not record email change")
		}
	}

	if params.Password != "" {
		user.HashedPassword, err = argon2.GenerateFromPasswordString(params.Password, argon2.Default)
		if err != nil {
			return errors.Wrap(err, "could not hash password")
		}
		user.FirstLogin = false

		row := auditRow(user, model.ActionUserPasswordChanged, "user", user.ID, 0, "password:updated")
		if err := tx.Save(row); err != nil {
			return errors.Wrap(err, "could not record password change")
		}
	}

	if err := tx.Save(user); err != nil {
		if tx.IsAlreadyExists(err) {
			return wgerror.NewConflict("Email already used.")
		}
		return errors.Wrap(err, "could not update account")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit account update")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"user": user,
	})
}
