package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
	"github.com/wgui/wgui/internal/wgerror"
)

// list contains the list management handlers.
type list struct {
	db database.Client
}

// Index returns all lists.
func (h *list) Index(c echo.Context) error {
	lists, err := h.db.AllLists()
	if err != nil {
		return errors.Wrap(err, "could not list lists")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"lists": lists,
	})
}

// Create adds a list.
func (h *list) Create(c echo.Context) error {
	var params struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, wgerror.New("Could not get parameters."))
	}

	if params.Name == "" {
		return wgerror.NewValidation("Name is required.")
	}
	if !model.ValidListType(params.Type) {
		return wgerror.NewValidation(fmt.Sprintf("Unknown list type %q.", params.Type))
	}

	record := &model.List{
		Name: params.Name,
		Type: params.Type,
	}

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	if err := tx.Save(record); err != nil {
		if tx.IsAlreadyExists(err) {
			return wgerror.NewConflict("List already exists.")
		}
		return errors.Wrap(err, "could not create list")
	}

	row := auditRow(currentUser(c), model.ActionListAdded, "list", record.ID, record.ID,
		model.Details("name", record.Name, "type", record.Type))
	if err := tx.Save(row); err != nil {
		return errors.Wrap(err, "could not record list creation")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit list creation")
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"list": record,
	})
}

// Show returns a list with its items.
func (h *list) Show(c echo.Context) error {
	record, err := h.findList(c)
	if err != nil {
		return err
	}

	items, err := h.db.FindItemsByCategory(record.Name)
	if err != nil {
		return errors.Wrap(err, "could not load items")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"list":  record,
		"items": items,
	})
}

// Delete removes a list and all its items.
func (h *list) Delete(c echo.Context) error {
	record, err := h.findList(c)
	if err != nil {
		return err
	}

	items, err := h.db.FindItemsByCategory(record.Name)
	if err != nil {
		return errors.Wrap(err, "could not load items")
	}

	tx, err := h.db.Begin()
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}
	defer tx.Rollback()

	for _, item := range items {
		if err := tx.Delete(item); err != nil {
			return errors.Wrap(err, "could not delete item")
		}
	}

	row := auditRow(currentUser(c), model.ActionListDeleted, "list", record.ID, record.ID,
		model.Details("name", record.Name, "type", record.Type,
			"items", strconv.Itoa(len(items))))
	if err := tx.Save(row); err != nil {
		return errors.Wrap(err, "could not record list deletion")
	}

	if err := tx.Delete(record); err != nil {
		return errors.Wrap(err, "could not delete list")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit list deletion")
	}

	return c.NoContent(http.StatusNoContent)
}

// Export serves a list as plain text, one item per line. The URL carries
// the slugified type and name, like /lists/ip-range/blocked-ranges.txt.
func (h *list) Export(c echo.Context) error {
	filename := c.Param("file")
	if !strings.HasSuffix(filename, ".txt") {
		return wgerror.NewNotFound("Unknown export format.")
	}
	name := strings.TrimSuffix(filename, ".txt")
	listType := c.Param("type")

	lists, err := h.db.AllLists()
	if err != nil {
		return errors.Wrap(err, "could not list lists")
	}

	var record *model.List
	for _, l := range lists {
		if slugify(l.Type) == listType && slugify(l.Name) == name {
			record = l
			break
		}
	}
	if record == nil {
		return wgerror.NewNotFound(fmt.Sprintf("List %s/%s not found.", listType, name))
	}

	items, err := h.db.FindItemsByCategory(record.Name)
	if err != nil {
		return errors.Wrap(err, "could not load items")
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, item.Data)
	}

	row := auditRow(currentUser(c), model.ActionListExported, "list", record.ID, record.ID,
		model.Details("name", record.Name))
	if err := h.db.Save(row); err != nil {
		return errors.Wrap(err, "could not record export")
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%s.txt", record.Name))
	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, []byte(strings.Join(lines, "\n")))
}

func (h *list) findList(c echo.Context) (*model.List, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, wgerror.NewNotFound(fmt.Sprintf("List %s not found.", c.Param("id")))
	}

	record, err := h.db.FindList(id)
	if err != nil {
		if h.db.IsNotFound(err) {
			return nil, wgerror.NewNotFound(fmt.Sprintf("List %d not found.", id))
		}
		return nil, errors.Wrap(err, "could not get access to database")
	}
	return record, nil
}

// slugify lowercases and dashes a label for export URLs.
func slugify(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "-")
}
