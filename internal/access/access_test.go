package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskshare/internal/model"
)

type fakeShares struct {
	rows  map[model.UserID]model.ShareRole
	calls int
	err   error
}

func (f *fakeShares) GetShare(_ context.Context, _ model.TaskID, userID model.UserID) (model.Share, bool, error) {
	f.calls++
	if f.err != nil {
		return model.Share{}, false, f.err
	}
	role, ok := f.rows[userID]
	if !ok {
		return model.Share{}, false, nil
	}
	return model.Share{UserID: userID, Role: role}, true, nil
}

func TestCapabilityTable(t *testing.T) {
	tests := []struct {
		role                                       Role
		read, write, del, listShares, manageShares bool
	}{
		{None, false, false, false, false, false},
		{Viewer, true, false, false, false, false},
		{Editor, true, true, false, true, false},
		{Owner, true, true, true, true, true},
	}

	for _, tc := range tests {
		t.Run(tc.role.String(), func(t *testing.T) {
			assert.Equal(t, tc.read, tc.role.Can(Read))
			assert.Equal(t, tc.write, tc.role.Can(Write))
			assert.Equal(t, tc.del, tc.role.Can(Delete))
			assert.Equal(t, tc.listShares, tc.role.Can(ListShares))
			assert.Equal(t, tc.manageShares, tc.role.Can(ManageShares))
		})
	}
}

func TestAuthorize_HiddenVersusInsufficient(t *testing.T) {
	assert.ErrorIs(t, Authorize(None, Read), ErrHidden)
	assert.ErrorIs(t, Authorize(None, Write), ErrHidden)
	assert.ErrorIs(t, Authorize(Viewer, Write), ErrInsufficient)
	assert.ErrorIs(t, Authorize(Editor, Delete), ErrInsufficient)
	assert.ErrorIs(t, Authorize(Editor, ManageShares), ErrInsufficient)
	assert.NoError(t, Authorize(Editor, Write))
	assert.NoError(t, Authorize(Owner, ManageShares))
}

func TestRoleOrder(t *testing.T) {
	assert.True(t, None < Viewer)
	assert.True(t, Viewer < Editor)
	assert.True(t, Editor < Owner)
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	task := model.Task{ID: "t1", OwnerID: "owner"}

	t.Run("owner ignores share table", func(t *testing.T) {
		shares := &fakeShares{rows: map[model.UserID]model.ShareRole{"owner": model.ShareViewer}}
		role, err := Evaluate(ctx, task, "owner", shares)
		require.NoError(t, err)
		assert.Equal(t, Owner, role)
		assert.Zero(t, shares.calls)
	})

	t.Run("share roles", func(t *testing.T) {
		shares := &fakeShares{rows: map[model.UserID]model.ShareRole{
			"v": model.ShareViewer,
			"e": model.ShareEditor,
		}}
		role, err := Evaluate(ctx, task, "v", shares)
		require.NoError(t, err)
		assert.Equal(t, Viewer, role)

		role, err = Evaluate(ctx, task, "e", shares)
		require.NoError(t, err)
		assert.Equal(t, Editor, role)

		role, err = Evaluate(ctx, task, "stranger", shares)
		require.NoError(t, err)
		assert.Equal(t, None, role)
	})

	t.Run("lookup failure propagates", func(t *testing.T) {
		boom := errors.New("db down")
		_, err := Evaluate(ctx, task, "x", &fakeShares{err: boom})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("empty requester", func(t *testing.T) {
		role, err := Evaluate(ctx, task, "", &fakeShares{})
		require.NoError(t, err)
		assert.Equal(t, None, role)
	})
}
