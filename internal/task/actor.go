package task

import (
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/database"
	"github.com/wgui/wgui/internal/model"
)

// An actor is the attribution target of audit rows written by a job run.
type actor struct {
	ID   int64
	Name string
}

// resolveActor attributes a run to the initiating user when one is given
// (manual trigger), otherwise to the reserved system account, which is
// created on first use.
func resolveActor(db database.Client, initiatorUserID int64) (actor, error) {
	if initiatorUserID > 0 {
		user, err := db.FindUser(initiatorUserID)
		if err == nil {
			return actor{ID: user.ID, Name: user.Username}, nil
		}
		if !db.IsNotFound(err) {
			return actor{}, errors.Wrap(err, "could not resolve initiator")
		}
		// The initiator vanished between trigger and run; fall through to system.
	}

	user, err := db.FindUserByUsername(model.SystemUsername)
	if err == nil {
		return actor{ID: user.ID, Name: user.Username}, nil
	}
	if !db.IsNotFound(err) {
		return actor{}, errors.Wrap(err, "could not resolve system user")
	}

	user = &model.User{
		Username:   model.SystemUsername,
		Email:      "system@localhost",
		Admin:      true,
		FirstLogin: false,
	}
	if err := db.Save(user); err != nil {
		return actor{}, errors.Wrap(err, "could not create system user")
	}
	return actor{ID: user.ID, Name: user.Username}, nil
}
