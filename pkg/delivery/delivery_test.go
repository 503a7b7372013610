package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/johandahlberg/arteria-delivery/pkg/execservice"
	"github.com/johandahlberg/arteria-delivery/pkg/fileservice"
	"github.com/johandahlberg/arteria-delivery/pkg/orderstore"
	"github.com/johandahlberg/arteria-delivery/pkg/runfolders"
	"github.com/johandahlberg/arteria-delivery/pkg/staging"
)

type fakeRunner struct {
	mu   sync.Mutex
	cmds [][]string
}

func (f *fakeRunner) Start(cmd []string) (*execservice.Execution, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	f.mu.Unlock()
	return &execservice.Execution{Pid: 1234}, nil
}

func (f *fakeRunner) WaitFor(_ *execservice.Execution) (*execservice.ExecutionResult, error) {
	return &execservice.ExecutionResult{ExitCode: 0, Stdout: "Total file size: 1,024 bytes"}, nil
}

func (f *fakeRunner) RunAndWait(cmd []string) (*execservice.ExecutionResult, error) {
	if _, err := f.Start(cmd); err != nil {
		return nil, err
	}
	return f.WaitFor(nil)
}

type testEnv struct {
	svc           *Service
	store         *orderstore.Store
	runfolderRoot string
	projectRoot   string
	linksDir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := orderstore.Open(ctx, orderstore.Config{Path: filepath.Join(t.TempDir(), "orders.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, orderstore.Migrate(ctx, db))
	store := orderstore.NewStore(db)

	fileService := fileservice.New()
	runfolderRoot := t.TempDir()
	projectRoot := t.TempDir()
	linksDir := t.TempDir()

	stagingService := staging.NewService(t.TempDir(), &fakeRunner{}, store, fileService, zap.NewNop())
	svc := NewService(stagingService,
		runfolders.NewRepository(runfolderRoot, fileService),
		runfolders.NewGeneralProjectRepository(projectRoot, fileService),
		store, fileService, linksDir, zap.NewNop())

	return &testEnv{
		svc:           svc,
		store:         store,
		runfolderRoot: runfolderRoot,
		projectRoot:   projectRoot,
		linksDir:      linksDir,
	}
}

func (e *testEnv) writeRunfolder(t *testing.T, name string, projects ...string) {
	t.Helper()
	for _, project := range projects {
		require.NoError(t, os.MkdirAll(filepath.Join(e.runfolderRoot, name, "Projects", project), 0o755))
	}
}

func TestParseMode(t *testing.T) {
	for input, want := range map[string]Mode{
		"CLEAN": ModeClean,
		"BATCH": ModeBatch,
		"FORCE": ModeForce,
		"force": ModeForce,
	} {
		mode, err := ParseMode(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, mode, input)
	}

	_, err := ParseMode("SIDEWAYS")
	assert.True(t, errors.Is(err, ErrUnknownDeliveryMode))
}

func TestDeliverSingleRunfolder(t *testing.T) {
	env := newTestEnv(t)
	env.writeRunfolder(t, "160930_ST-E00216_0111_BH37CWALXX", "ABC_123", "DEF_456")
	ctx := context.Background()

	orderIDs, err := env.svc.DeliverSingleRunfolder(ctx, "160930_ST-E00216_0111_BH37CWALXX", nil, false)
	require.NoError(t, err)
	require.Len(t, orderIDs, 2)

	for projectName, orderID := range orderIDs {
		order, err := env.store.GetStagingOrderByID(ctx, orderID)
		require.NoError(t, err)
		require.NotNil(t, order, projectName)

		exists, err := env.store.SourceExists(ctx, projectName,
			"160930_ST-E00216_0111_BH37CWALXX/"+projectName)
		require.NoError(t, err)
		assert.True(t, exists, projectName)
	}
}

func TestDeliverSingleRunfolder_UnknownRunfolder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.DeliverSingleRunfolder(context.Background(), "160930_NOPE", nil, false)
	assert.True(t, errors.Is(err, runfolders.ErrRunfolderNotFound))
}

func TestDeliverSingleRunfolder_OnlyProjectsSubset(t *testing.T) {
	env := newTestEnv(t)
	env.writeRunfolder(t, "160930_ST-E00216_0111_BH37CWALXX", "ABC_123", "DEF_456")
	ctx := context.Background()

	orderIDs, err := env.svc.DeliverSingleRunfolder(ctx,
		"160930_ST-E00216_0111_BH37CWALXX", []string{"ABC_123"}, false)
	require.NoError(t, err)
	require.Len(t, orderIDs, 1)
	assert.Contains(t, orderIDs, "ABC_123")

	_, err = env.svc.DeliverSingleRunfolder(ctx,
		"160930_ST-E00216_0111_BH37CWALXX", []string{"DEF_456", "GHI_789"}, false)
	assert.True(t, errors.Is(err, runfolders.ErrProjectNotFound))
}

func TestDeliverSingleRunfolder_SecondDeliveryNeedsForce(t *testing.T) {
	env := newTestEnv(t)
	env.writeRunfolder(t, "160930_ST-E00216_0111_BH37CWALXX", "ABC_123")
	ctx := context.Background()

	first, err := env.svc.DeliverSingleRunfolder(ctx, "160930_ST-E00216_0111_BH37CWALXX", nil, false)
	require.NoError(t, err)

	_, err = env.svc.DeliverSingleRunfolder(ctx, "160930_ST-E00216_0111_BH37CWALXX", nil, false)
	assert.True(t, errors.Is(err, ErrProjectAlreadyDelivered))

	second, err := env.svc.DeliverSingleRunfolder(ctx, "160930_ST-E00216_0111_BH37CWALXX", nil, true)
	require.NoError(t, err)
	assert.Greater(t, second["ABC_123"], first["ABC_123"])
}

func TestDeliverArbitraryDirectoryProject(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(env.projectRoot, "my_dataset"), 0o755))
	ctx := context.Background()

	orderIDs, err := env.svc.DeliverArbitraryDirectoryProject(ctx, "my_dataset", "", false)
	require.NoError(t, err)
	require.Contains(t, orderIDs, "my_dataset")

	exists, err := env.store.SourceExists(ctx, "my_dataset", "my_dataset")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeliverArbitraryDirectoryProject_DirNameOverride(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(env.projectRoot, "dataset_v2"), 0o755))
	ctx := context.Background()

	orderIDs, err := env.svc.DeliverArbitraryDirectoryProject(ctx, "my_dataset", "dataset_v2", false)
	require.NoError(t, err)
	require.Contains(t, orderIDs, "my_dataset")

	exists, err := env.store.SourceExists(ctx, "my_dataset", "dataset_v2")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeliverArbitraryDirectoryProject_UnknownDirectory(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.DeliverArbitraryDirectoryProject(context.Background(), "missing", "", false)
	assert.True(t, errors.Is(err, runfolders.ErrProjectNotFound))
}

func TestDeliverAllRunfoldersForProject_FirstBatch(t *testing.T) {
	env := newTestEnv(t)
	env.writeRunfolder(t, "160930_ST-E00216_0111_BH37CWALXX", "ABC_123")
	env.writeRunfolder(t, "161005_ST-E00216_0112_BH37CWBLXX", "ABC_123")
	ctx := context.Background()

	orderIDs, err := env.svc.DeliverAllRunfoldersForProject(ctx, "ABC_123", ModeClean)
	require.NoError(t, err)
	require.Contains(t, orderIDs, "ABC_123")

	batchDir := filepath.Join(env.linksDir, "ABC_123", "1")
	for _, runfolderName := range []string{
		"160930_ST-E00216_0111_BH37CWALXX", "161005_ST-E00216_0112_BH37CWBLXX",
	} {
		info, err := os.Lstat(filepath.Join(batchDir, runfolderName))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&os.ModeSymlink)
	}

	batchSource, err := env.store.GetSource(ctx, "ABC_123", "ABC_123/batch1")
	require.NoError(t, err)
	require.NotNil(t, batchSource)
	assert.Equal(t, batchDir, batchSource.Path)
	require.NotNil(t, batchSource.Batch)
	assert.Equal(t, 1, *batchSource.Batch)

	order, err := env.store.GetStagingOrderByID(ctx, orderIDs["ABC_123"])
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, batchDir, order.Source)
}

func TestDeliverAllRunfoldersForProject_NoRunfolders(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.DeliverAllRunfoldersForProject(context.Background(), "ABC_123", ModeClean)
	assert.True(t, errors.Is(err, runfolders.ErrProjectNotFound))
}

func TestDeliverAllRunfoldersForProject_CleanRefusesRedelivery(t *testing.T) {
	env := newTestEnv(t)
	env.writeRunfolder(t, "160930_ST-E00216_0111_BH37CWALXX", "ABC_123")
	env.writeRunfolder(t, "161005_ST-E00216_0112_BH37CWBLXX", "ABC_123")
	ctx := context.Background()

	// One of the two runfolders was delivered on its own earlier.
	_, err := env.svc.DeliverSingleRunfolder(ctx, "160930_ST-E00216_0111_BH37CWALXX", nil, false)
	require.NoError(t, err)

	_, err = env.svc.DeliverAllRunfoldersForProject(ctx, "ABC_123", ModeClean)
	assert.True(t, errors.Is(err, ErrProjectAlreadyDelivered))
}

func TestDeliverAllRunfoldersForProject_BatchSkipsDelivered(t *testing.T) {
	env := newTestEnv(t)
	env.writeRunfolder(t, "160930_ST-E00216_0111_BH37CWALXX", "ABC_123")
	env.writeRunfolder(t, "161005_ST-E00216_0112_BH37CWBLXX", "ABC_123")
	ctx := context.Background()

	_, err := env.svc.DeliverSingleRunfolder(ctx, "160930_ST-E00216_0111_BH37CWALXX", nil, false)
	require.NoError(t, err)

	orderIDs, err := env.svc.DeliverAllRunfoldersForProject(ctx, "ABC_123", ModeBatch)
	require.NoError(t, err)
	require.Contains(t, orderIDs, "ABC_123")

	batchDir := filepath.Join(env.linksDir, "ABC_123", "1")
	_, err = os.Lstat(filepath.Join(batchDir, "161005_ST-E00216_0112_BH37CWBLXX"))
	require.NoError(t, err)
	_, err = os.Lstat(filepath.Join(batchDir, "160930_ST-E00216_0111_BH37CWALXX"))
	assert.True(t, os.IsNotExist(err))
}

func TestDeliverAllRunfoldersForProject_BatchWithNothingLeft(t *testing.T) {
	env := newTestEnv(t)
	env.writeRunfolder(t, "160930_ST-E00216_0111_BH37CWALXX", "ABC_123")
	ctx := context.Background()

	_, err := env.svc.DeliverSingleRunfolder(ctx, "160930_ST-E00216_0111_BH37CWALXX", nil, false)
	require.NoError(t, err)

	_, err = env.svc.DeliverAllRunfoldersForProject(ctx, "ABC_123", ModeBatch)
	assert.True(t, errors.Is(err, ErrProjectAlreadyDelivered))
}

func TestDeliverAllRunfoldersForProject_ForceRedeliversEverything(t *testing.T) {
	env := newTestEnv(t)
	env.writeRunfolder(t, "160930_ST-E00216_0111_BH37CWALXX", "ABC_123")
	env.writeRunfolder(t, "161005_ST-E00216_0112_BH37CWBLXX", "ABC_123")
	ctx := context.Background()

	_, err := env.svc.DeliverAllRunfoldersForProject(ctx, "ABC_123", ModeClean)
	require.NoError(t, err)

	orderIDs, err := env.svc.DeliverAllRunfoldersForProject(ctx, "ABC_123", ModeForce)
	require.NoError(t, err)
	require.Contains(t, orderIDs, "ABC_123")

	// The second attempt gets its own batch number and link farm.
	batchDir := filepath.Join(env.linksDir, "ABC_123", "2")
	for _, runfolderName := range []string{
		"160930_ST-E00216_0111_BH37CWALXX", "161005_ST-E00216_0112_BH37CWBLXX",
	} {
		_, err := os.Lstat(filepath.Join(batchDir, runfolderName))
		require.NoError(t, err)
	}

	batchSource, err := env.store.GetSource(ctx, "ABC_123", "ABC_123/batch2")
	require.NoError(t, err)
	require.NotNil(t, batchSource)
}

func TestCheckStagingStatus_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CheckStagingStatus(context.Background(), 4711)
	assert.True(t, errors.Is(err, staging.ErrOrderNotFound))
}

func TestKillStagingProcess_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	assert.False(t, env.svc.KillStagingProcess(context.Background(), 4711))
}
