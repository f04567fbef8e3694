package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/errkind"
)

func TestParseSpecDailyShorthand(t *testing.T) {
	parsed, err := ParseSpec("09:00")
	require.NoError(t, err)

	from := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), parsed.Next(from))

	// Past today's firing it rolls to tomorrow
	from = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC), parsed.Next(from))

	parsed, err = ParseSpec("7:30")
	require.NoError(t, err)
	from = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 7, 30, 0, 0, time.UTC), parsed.Next(from))
}

func TestParseSpecTimeList(t *testing.T) {
	parsed, err := ParseSpec("09:00, 15:30")
	require.NoError(t, err)

	from := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), parsed.Next(from))

	from = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC), parsed.Next(from))

	from = time.Date(2025, 3, 1, 16, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC), parsed.Next(from))
}

func TestParseSpecCron(t *testing.T) {
	parsed, err := ParseSpec("*/5 * * * *")
	require.NoError(t, err)

	from := time.Date(2025, 3, 1, 10, 2, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC), parsed.Next(from))
}

func TestParseSpecCronFiresInUTC(t *testing.T) {
	// A non-UTC process timezone must not shift plain cron firings
	original := time.Local
	time.Local = time.FixedZone("UTC+2", 2*60*60)
	t.Cleanup(func() { time.Local = original })

	parsed, err := ParseSpec("30 6 * * *")
	require.NoError(t, err)

	from := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 6, 30, 0, 0, time.UTC), parsed.Next(from).UTC())
}

func TestParseSpecRejectsInvalid(t *testing.T) {
	for _, spec := range []string{"", "25:00", "12:60", "09:00,25:00", "not a cron", "* * *"} {
		_, err := ParseSpec(spec)
		require.Error(t, err, spec)
		assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err), spec)
	}
}

func TestScheduleValidate(t *testing.T) {
	valid := Schedule{ID: "nightly", Spec: "02:00", WorkflowType: "report"}
	require.NoError(t, valid.Validate())
	assert.Equal(t, OverlapSkip, valid.OverlapPolicy, "empty policy defaults to skip")

	err := (&Schedule{Spec: "02:00", WorkflowType: "report"}).Validate()
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	err = (&Schedule{ID: "nightly", Spec: "02:00"}).Validate()
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	err = (&Schedule{ID: "nightly", Spec: "02:00", WorkflowType: "report", OverlapPolicy: "queue_all"}).Validate()
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	err = (&Schedule{ID: "nightly", Spec: "bad spec", WorkflowType: "report"}).Validate()
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	buffered := Schedule{ID: "nightly", Spec: "0 */2 * * *", WorkflowType: "report", OverlapPolicy: OverlapBufferOne}
	assert.NoError(t, buffered.Validate())
}

func TestMemoryStoreCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Schedule{ID: "b", Spec: "02:00", WorkflowType: "report"}))
	require.NoError(t, store.Put(ctx, &Schedule{ID: "a", Spec: "03:00", WorkflowType: "report"}))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	created := got.CreatedAt
	assert.False(t, created.IsZero())

	// Updates keep the original creation time
	got.Spec = "04:00"
	require.NoError(t, store.Put(ctx, got))
	updated, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "04:00", updated.Spec)
	assert.Equal(t, created, updated.CreatedAt)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))

	err = store.Delete(ctx, "a")
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}
