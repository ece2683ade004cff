package app

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seobot/internal/schedule"
	"seobot/internal/task/scheduler"
	logx "seobot/pkg/logx"
)

type reloadFixture struct {
	app     *App
	path    string
	engines atomic.Int32
}

// newReloadFixture wires a store and an unstarted scheduler the way New does,
// counting every engine the scheduler builds.
func newReloadFixture(t *testing.T, initial string) *reloadFixture {
	t.Helper()
	f := &reloadFixture{path: filepath.Join(t.TempDir(), "schedules.json")}
	require.NoError(t, os.WriteFile(f.path, []byte(initial), 0o644))

	store := schedule.NewStore(f.path, logx.Nop())
	_, err := store.Load()
	require.NoError(t, err)

	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, nil, logx.Nop(), nil,
		scheduler.WithEngineFactory(func(loc *time.Location) scheduler.Engine {
			f.engines.Add(1)
			return cron.New(cron.WithLocation(loc))
		}))
	sched.Reconcile(store.List())

	f.app = &App{store: store, sched: sched, log: logx.Nop()}
	return f
}

func (f *reloadFixture) write(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.path, []byte(content), 0o644))
}

func timerIDs(s scheduler.Snapshot) []string {
	out := make([]string, 0, len(s.Timers))
	for _, t := range s.Timers {
		out = append(out, t.ID)
	}
	return out
}

const twoSchedules = `[
  {"id":"a","domain":"a.com","cronExpression":"0 9 * * *","channel":"C1"},
  {"id":"b","domain":"b.com","cronExpression":"30 14 * * 1","channel":"C2"}
]`

func TestReloadSchedulesUnchangedFileIsNoop(t *testing.T) {
	t.Parallel()
	f := newReloadFixture(t, twoSchedules)
	before := f.app.sched.Snapshot()

	// Same bytes rewritten: the watcher fires but nothing changed.
	f.write(t, twoSchedules)
	f.app.reloadSchedules()

	after := f.app.sched.Snapshot()
	assert.Equal(t, before.Generation, after.Generation)
	assert.Equal(t, []string{"a", "b"}, timerIDs(after))
	assert.EqualValues(t, 1, f.engines.Load())
}

func TestReloadSchedulesCorruptFileKeepsTimers(t *testing.T) {
	t.Parallel()
	f := newReloadFixture(t, twoSchedules)
	before := f.app.sched.Snapshot()

	f.write(t, `[{"id":"a","domain":`)
	f.app.reloadSchedules()

	after := f.app.sched.Snapshot()
	assert.Equal(t, before.Generation, after.Generation)
	assert.Equal(t, []string{"a", "b"}, timerIDs(after))
	assert.EqualValues(t, 1, f.engines.Load())
	assert.Len(t, f.app.store.List(), 2, "store keeps the last good list")
}

func TestReloadSchedulesExternalEditRebuildsTimers(t *testing.T) {
	t.Parallel()
	f := newReloadFixture(t, twoSchedules)
	before := f.app.sched.Snapshot()
	require.Equal(t, []string{"a", "b"}, timerIDs(before))

	f.write(t, `[
  {"id":"b","domain":"b.com","cronExpression":"0 6 * * *","channel":"C2"},
  {"id":"c","domain":"c.com","cronExpression":"0 8 * * *","channel":"C3"}
]`)
	f.app.reloadSchedules()

	after := f.app.sched.Snapshot()
	assert.Equal(t, before.Generation+1, after.Generation)
	assert.Equal(t, []string{"b", "c"}, timerIDs(after))
	assert.Equal(t, "0 6 * * *", after.Timers[0].Recurrence)
	assert.EqualValues(t, 2, f.engines.Load())

	// A second reload of the same edit changes nothing.
	f.app.reloadSchedules()
	assert.Equal(t, after.Generation, f.app.sched.Snapshot().Generation)
}
