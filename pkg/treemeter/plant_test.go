package treemeter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingmem "github.com/mihaimyh/treemeter/pkg/billing/memory"
	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

func TestPlantTrees_DefaultsToOneTree(t *testing.T) {
	f := newFixture(t)
	u := f.subscriber(t, 10)

	updated, err := f.svc.PlantTrees(context.Background(), "key_1", "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), updated.Trees)
	assert.Equal(t, int64(9), updated.Credit)
	assert.Equal(t, []int64{1}, f.provider.Usage("si_1"))

	stored := f.user(t, u.ID)
	assert.Equal(t, int64(1), stored.Trees)
	assert.Equal(t, int64(9), stored.Credit)
}

func TestPlantTrees_ExplicitCount(t *testing.T) {
	f := newFixture(t)
	f.subscriber(t, 0)

	updated, err := f.svc.PlantTrees(context.Background(), "key_1", "5")
	require.NoError(t, err)
	assert.Equal(t, int64(5), updated.Trees)
	assert.Equal(t, int64(-5), updated.Credit)

	updated, err = f.svc.PlantTrees(context.Background(), "key_1", "2")
	require.NoError(t, err)
	assert.Equal(t, int64(7), updated.Trees)
	assert.Equal(t, []int64{5, 2}, f.provider.Usage("si_1"))
}

func TestPlantTrees_MissingAPIKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PlantTrees(context.Background(), "", "1")
	require.ErrorIs(t, err, treemeter.ErrBadRequest)
	assert.Equal(t, "Missing `apiKey` query parameter", err.Error())
	assert.Zero(t, f.provider.TotalCalls())
}

func TestPlantTrees_UnknownAPIKey(t *testing.T) {
	f := newFixture(t)
	u := f.subscriber(t, 10)

	_, err := f.svc.PlantTrees(context.Background(), "key_unknown", "")
	require.ErrorIs(t, err, treemeter.ErrNotFound)
	assert.Equal(t, "Could not find the user", err.Error())

	assert.Zero(t, f.provider.TotalCalls())
	stored := f.user(t, u.ID)
	assert.Equal(t, int64(10), stored.Credit)
	assert.Zero(t, stored.Trees)
}

func TestPlantTrees_NoSubscription(t *testing.T) {
	f := newFixture(t)
	u := &treemeter.User{APIKey: "key_1", StripeID: "cus_1", Credit: 3}
	require.NoError(t, f.store.CreateUser(context.Background(), u))

	_, err := f.svc.PlantTrees(context.Background(), "key_1", "")
	require.ErrorIs(t, err, treemeter.ErrBadRequest)
	assert.Equal(t,
		"It seems that you haven't setup your credit card details yet. Please head to https://trees.example.com/dashboard.",
		err.Error())

	assert.Zero(t, f.provider.TotalCalls())
	stored := f.user(t, u.ID)
	assert.Equal(t, int64(3), stored.Credit)
	assert.Zero(t, stored.Trees)
}

func TestPlantTrees_InvalidCount(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-2", "1.5", "3 ", "9223372036854775808"} {
		t.Run(raw, func(t *testing.T) {
			f := newFixture(t)
			u := f.subscriber(t, 10)

			_, err := f.svc.PlantTrees(context.Background(), "key_1", raw)
			assert.ErrorIs(t, err, treemeter.ErrBadRequest)

			assert.Zero(t, f.provider.TotalCalls())
			assert.Equal(t, int64(10), f.user(t, u.ID).Credit)
		})
	}
}

func TestPlantTrees_UsageRecordFailureLeavesUserUntouched(t *testing.T) {
	f := newFixture(t)
	u := f.subscriber(t, 10)
	f.provider.FailOn(billingmem.MethodCreateUsageRecord, errors.New("provider down"))

	_, err := f.svc.PlantTrees(context.Background(), "key_1", "2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, treemeter.ErrBadRequest)

	stored := f.user(t, u.ID)
	assert.Equal(t, int64(10), stored.Credit)
	assert.Zero(t, stored.Trees)
}

func TestParseTrees(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"", 1, false},
		{"1", 1, false},
		{"42", 42, false},
		{"0", 0, true},
		{"-1", 0, true},
		{"ten", 0, true},
		{"2e3", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := treemeter.ParseTrees(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, treemeter.ErrBadRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
