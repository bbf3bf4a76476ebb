package scheduler

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardRecoversPanickingJob(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := New(log)

	fire := s.guard(CleanupJob, func() error { panic("nil settings row") })
	assert.NotPanics(t, fire)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, CleanupJob, hook.LastEntry().Data["job"])
	assert.Contains(t, hook.LastEntry().Message, "job panicked")

	// The scheduling loop is still usable after the recovery.
	var fired bool
	s.guard(CleanupJob, func() error { fired = true; return nil })()
	assert.True(t, fired)
}

func TestGuardLogsFailingJob(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := New(log)

	assert.NotPanics(t, s.guard(BackupJob, func() error { return errors.New("disk full") }))

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, BackupJob, hook.LastEntry().Data["job"])
	assert.Equal(t, "job failed", hook.LastEntry().Message)
}
