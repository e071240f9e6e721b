package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/similard/internal/indexer"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunNow(ctx context.Context, mode indexer.Mode) (*indexer.Report, error) {
	args := m.Called(ctx, mode)
	rep, _ := args.Get(0).(*indexer.Report)
	return rep, args.Error(1)
}

func TestCatalogSyncWorkflow(t *testing.T) {
	t.Run("returns the activity summary", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		acts := NewActivities(&mockRunner{})
		Register(env, acts)

		env.OnActivity(acts.RunSyncActivity, mock.Anything, SyncActivityInput{Mode: "full"}).
			Return(&SyncActivityResult{RunID: "run-1", Mode: "full", Succeeded: 3, FailedIDs: []string{"p9"}}, nil)

		env.ExecuteWorkflow(CatalogSyncWorkflow, CatalogSyncInput{Mode: "full"})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		var result CatalogSyncResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, "run-1", result.RunID)
		assert.Equal(t, 3, result.Succeeded)
		assert.Equal(t, []string{"p9"}, result.FailedIDs)
	})

	t.Run("retries while a sync is in progress", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		acts := NewActivities(&mockRunner{})
		Register(env, acts)

		busy := temporal.NewApplicationError("sync already in progress", ErrTypeSyncInProgress)
		env.OnActivity(acts.RunSyncActivity, mock.Anything, mock.Anything).Return(nil, busy).Once()
		env.OnActivity(acts.RunSyncActivity, mock.Anything, mock.Anything).
			Return(&SyncActivityResult{RunID: "run-2", Mode: "incremental"}, nil).Once()

		env.ExecuteWorkflow(CatalogSyncWorkflow, CatalogSyncInput{})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		var result CatalogSyncResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, "run-2", result.RunID)
	})

	t.Run("rejects unknown mode without running", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		runner := &mockRunner{}
		Register(env, NewActivities(runner))

		env.ExecuteWorkflow(CatalogSyncWorkflow, CatalogSyncInput{Mode: "sideways"})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		var appErr *temporal.ApplicationError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, ErrTypeInvalidMode, appErr.Type())
		runner.AssertNotCalled(t, "RunNow", mock.Anything, mock.Anything)
	})
}

func TestRunSyncActivity(t *testing.T) {
	report := &indexer.Report{
		RunID:     "run-7",
		Mode:      indexer.ModeIncremental,
		Succeeded: []string{"a", "b"},
		Skipped:   []string{"c"},
		Deleted:   []string{"d"},
		Failed:    []indexer.Failure{{ProductID: "e", Reason: indexer.ReasonEmbeddingUnavailable}},
	}

	tests := []struct {
		name     string
		mode     string
		rep      *indexer.Report
		err      error
		wantType string
		want     *SyncActivityResult
	}{
		{
			name: "partial failure is a result",
			mode: "",
			rep:  report,
			err:  report.Err(),
			want: &SyncActivityResult{
				RunID: "run-7", Mode: "incremental",
				Succeeded: 2, Skipped: 1, Deleted: 1, FailedIDs: []string{"e"},
			},
		},
		{
			name:     "busy is retryable",
			mode:     "full",
			err:      indexer.ErrSyncInProgress,
			wantType: ErrTypeSyncInProgress,
		},
		{
			name:     "invalid mode",
			mode:     "bogus",
			wantType: ErrTypeInvalidMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestActivityEnvironment()
			runner := &mockRunner{}
			if mode, err := indexer.ParseMode(tt.mode); err == nil {
				runner.On("RunNow", mock.Anything, mode).Return(tt.rep, tt.err)
			}
			acts := NewActivities(runner)
			env.RegisterActivity(acts)

			val, err := env.ExecuteActivity(acts.RunSyncActivity, SyncActivityInput{Mode: tt.mode})
			if tt.wantType != "" {
				require.Error(t, err)
				var appErr *temporal.ApplicationError
				require.True(t, errors.As(err, &appErr))
				assert.Equal(t, tt.wantType, appErr.Type())
				return
			}
			require.NoError(t, err)
			var got SyncActivityResult
			require.NoError(t, val.Get(&got))
			assert.Equal(t, *tt.want, got)
		})
	}
}

func TestRunSyncActivity_HardFailure(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	runner := &mockRunner{}
	runner.On("RunNow", mock.Anything, indexer.ModeFull).Return(nil, errors.New("catalog unavailable"))
	acts := NewActivities(runner)
	env.RegisterActivity(acts)

	_, err := env.ExecuteActivity(acts.RunSyncActivity, SyncActivityInput{Mode: "full"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog unavailable")
}
