package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	argon2 "github.com/mdouchement/simple-argon2"
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/wgerror"
)

// user contains the admin user management handlers.
type user struct {
	db           database.Client
	primaryAdmin string
}

// Index lists all users.
func (h *user) Index(c echo.Context) error {
	users, err := h.db.AllUsers()
	if err != nil {
		return errors.Wrap(err, "could not list users")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"users": users,
	})
}

// Create adds a user.
func (h *user) Create(c echo.Context) error {
	var params struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Admin    bool   `json:"is_admin"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, wgerror.New("Could not get parameters."))
	}

	if params.Username == "" || params.Email == "" || params.Password == "" {
		return wgerror.NewValidation("Username, email and password are required.")
	}
	if params.Username == model.SystemUsername {
		return wgerror.NewValidation("Username is reserved.")
	}

	if _, err := h.db.FindUserByUsername(params.Username); err == nil {
		return wgerror.NewConflict("User already exists.")
	} else if !h.db.IsNotFound(err) {
		return errors.Wrap(err, "could not get access to database")
	}

	record := model.NewUser()
	record.Username = params.Username
	record.Email = params.Email
	record.Admin = params.Admin

	var err error
	record.HashedPassword, err = argon2.GenerateFromPasswordString(params.Password, argon2.Default)
	if err != nil {
		return errors.Wrap(err, "could not hash password")
	}

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if err := tx.Save(record); err != nil {
		if tx.IsAlreadyExists(err) {
			return wgerror.NewConflict("User already exists.")
		}
		return errors.Wrap(err, "could not create user")
	}

	row := auditRow(currentUser(c), model.ActionUserAdded, "user", record.ID, 0,
		model.Details("username", record.Username, "email", record.Email,
			"is_admin", strconv.FormatBool(record.Admin)))
	if err := tx.Save(row); err != nil {
		return errors.Wrap(err, "could not record user creation")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit user creation")
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"user": record,
	})
}

// Delete removes a user. Admin users cannot be deleted, they have to be
// demoted first.
func (h *user) Delete(c echo.Context) error {
	record, err := h.findUser(c)
	if err != nil {
		return err
	}

	if record.Admin {
		return wgerror.NewConflict("Cannot delete admin user.")
	}

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	row := auditRow(currentUser(c), model.ActionUserDeleted, "user", record.ID, 0,
		model.Details("username", record.Username, "email", record.Email))
	if err := tx.Save(row); err != nil {
		return errors.Wrap(err, "could not record user deletion")
	}

	if err := tx.Delete(record); err != nil {
		return errors.Wrap(err, "could not delete user")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit user deletion")
	}

	return c.NoContent(http.StatusNoContent)
}

// Promote grants admin rights to a user.
func (h *user) Promote(c echo.Context) error {
	record, err := h.findUser(c)
	if err != nil {
		return err
	}

	if record.Admin {
		return c.NoContent(http.StatusNoContent)
	}

	record.Admin = true

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if err := tx.Save(record); err != nil {
		return errors.Wrap(err, "could not promote user")
	}

	row := auditRow(currentUser(c), model.ActionUserPromoted, "user", record.ID, 0,
		model.Details("username", record.Username, "email", record.Email))
	if err := tx.Save(row); err != nil {
		return errors.Wrap(err, "could not record promotion")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit promotion")
	}

	return c.NoContent(http.StatusNoContent)
}

// Demote revokes admin rights from a user with safeguards: the system user,
// the primary admin, yourself and the last human admin keep their rights.
func (h *user) Demote(c echo.Context) error {
	record, err := h.findUser(c)
	if err != nil {
		return err
	}

	if !record.Admin {
		return c.NoContent(http.StatusNoContent)
	}
	if record.IsSystem() {
		return wgerror.NewConflict("Cannot revoke admin from system user.")
	}
	if h.primaryAdmin != "" && record.Username == h.primaryAdmin {
		return wgerror.NewConflict("Cannot revoke admin from primary admin user.")
	}

	acting := currentUser(c)
	if acting.ID == record.ID {
		return wgerror.NewConflict("You cannot revoke your own admin privileges.")
	}

	admins, err := h.db.CountAdmins()
	if err != nil {
		return errors.Wrap(err, "could not count admins")
	}
	if admins <= 1 {
		return wgerror.NewConflict("Cannot revoke admin: at least one admin is required.")
	}

	record.Admin = false

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if err := tx.Save(record); err != nil {
		return errors.Wrap(err, "could not demote user")
	}

	row := auditRow(acting, model.ActionUserDemoted, "user", record.ID, 0,
		model.Details("username", record.Username, "email", record.Email))
	if err := tx.Save(row); err != nil {
		return errors.Wrap(err, "could not record demotion")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit demotion")
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *user) findUser(c echo.Context) (*model.User, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, wgerror.NewNotFound(fmt.Sprintf("User %s not found.", c.Param("id")))
	}

	record, err := h.db.FindUser(id)
	if err != nil {
		if h.db.IsNotFound(err) {
			return nil, wgerror.NewNotFound(fmt.Sprintf("User %d not found.", id))
		}
		return nil, errors.Wrap(err, "could not get access to database")
	}
	return record, nil
}
