package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/wgerror"
)

// item contains the list entry handlers.
type item struct {
	db database.Client
}

// Create adds an item to a list. The (list, data) pair is unique.
func (h *item) Create(c echo.Context) error {
	listID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return wgerror.NewNotFound(fmt.Sprintf("List %s not found.", c.Param("id")))
	}
	lst, err := h.db.FindList(listID)
	if err != nil {
		if h.db.IsNotFound(err) {
			return wgerror.NewNotFound(fmt.Sprintf("List %d not found.", listID))
		}
		return errors.Wrap(err, "could not get access to database")
	}

	var params struct {
		Data        string `json:"data"`
		Description string `json:"description"`
		Date        string `json:"date"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, wgerror.New("Could not get parameters."))
	}

	if params.Data == "" {
		return wgerror.NewValidation("Data is required.")
	}
	date, err := parseDay(params.Date)
	if err != nil {
		return err
	}

	if _, err := h.db.FindItemByCategoryAndData(lst.Name, params.Data); err == nil {
		return wgerror.NewConflict("Item already exists.")
	} else if !h.db.IsNotFound(err) {
		return errors.Wrap(err, "could not get access to database")
	}

	user := currentUser(c)
	record := &model.Item{
		Category:    lst.Name,
		Data:        params.Data,
		Description: params.Description,
		Date:        date,
		CreatorID:   user.ID,
	}

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if err := tx.Save(record); err != nil {
		return errors.Wrap(err, "could not create item")
	}

	row := auditRow(user, model.ActionItemAdded, "item", record.ID, lst.ID,
		model.Details("category", record.Category, "data", record.Data))
	if err := tx.Save(row); err != nil {
		return errors.Wrap(err, "could not record item creation")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit item creation")
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"item": record,
	})
}

// Update edits an item's data, description or expiry date. Changed fields
// are recorded as old->new pairs in the audit trail.
func (h *item) Update(c echo.Context) error {
	record, err := h.findItem(c)
	if err != nil {
		return err
	}

	var params struct {
		Data        *string `json:"data"`
		Description *string `json:"description"`
		Date        *string `json:"date"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, wgerror.New("Could not get parameters."))
	}

	var changes []string

	if params.Data != nil && *params.Data != record.Data {
		if *params.Data == "" {
			return wgerror.NewValidation("Data is required.")
		}
		if _, err := h.db.FindItemByCategoryAndData(record.Category, *params.Data); err == nil {
			return wgerror.NewConflict("Item already exists.")
		} else if !h.db.IsNotFound(err) {
			return errors.Wrap(err, "could not get access to database")
		}

		changes = append(changes, fmt.Sprintf("data:%s->%s", record.Data, *params.Data))
		record.Data = *params.Data
	}

	if params.Description != nil && *params.Description != record.Description {
		changes = append(changes, fmt.Sprintf("description:%s->%s", record.Description, *params.Description))
		record.Description = *params.Description
	}

	if params.Date != nil {
		date, err := parseDay(*params.Date)
		if err != nil {
			return err
		}
		if !date.Equal(record.Date) {
			changes = append(changes,
				fmt.Sprintf("date:%s->%s", record.Date.Format("2006-01-02"), date.Format("2006-01-02")))
			record.Date = date
		}
	}

	if len(changes) == 0 {
		return c.JSON(http.StatusOK, echo.Map{"item": record})
	}

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if err := tx.Save(record); err != nil {
		return errors.Wrap(err, "could not update item")
	}

	row := auditRow(currentUser(c), model.ActionItemEdited, "item", record.ID,
		h.listID(record.Category), strings.Join(changes, "; "))
	if err := tx.Save(row); err != nil {
		return errors.Wrap(err, "could not record item edit")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit item edit")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"item": record,
	})
}

// Delete removes an item.
func (h *item) Delete(c echo.Context) error {
	record, err := h.findItem(c)
	if err != nil {
		return err
	}

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	row := auditRow(currentUser(c), model.ActionItemDeleted, "item", record.ID,
		h.listID(record.Category),
		model.Details("category", record.Category, "data", record.Data))
	if err := tx.Save(row); err != nil {
		return errors.Wrap(err, "could not record item deletion")
	}

	if err := tx.Delete(record); err != nil {
		return errors.Wrap(err, "could not delete item")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit item deletion")
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *item) findItem(c echo.Context) (*model.Item, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, wgerror.NewNotFound(fmt.Sprintf("Item %s not found.", c.Param("id")))
	}

	record, err := h.db.FindItem(id)
	if err != nil {
		if h.db.IsNotFound(err) {
			return nil, wgerror.NewNotFound(fmt.Sprintf("Item %d not found.", id))
		}
		return nil, errors.Wrap(err, "could not get access to database")
	}
	return record, nil
}

// listID resolves the owning list, tolerating a dangling category.
func (h *item) listID(category string) int64 {
	lst, err := h.db.FindListByName(category)
	if err != nil {
		return 0
	}
	return lst.ID
}

// parseDay parses an expiry date parameter. A plain date or any common
// timestamp format is accepted, truncated to midnight UTC.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, wgerror.NewValidation("Date is required.")
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, wgerror.NewValidation(fmt.Sprintf("Unparsable date %q.", s))
	}
	return model.Day(t), nil
}
