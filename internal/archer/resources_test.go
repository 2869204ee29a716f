package archer

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoragesByDiskType(t *testing.T) {
	builder := testutil.NewMockPlatform().WithDefaultInventory()
	c, _ := loggedInClient(t, builder)

	storages, err := c.StoragesByDiskType(context.Background())
	require.NoError(t, err)
	require.Len(t, storages, 1)
	assert.Equal(t, models.Storage{
		StackName:       testutil.TestStackName,
		ZoneID:          testutil.TestZoneID,
		StorageBackend:  testutil.TestStorageBackend,
		StorageManageID: testutil.TestStorageManageID,
		DiskType:        testutil.TestDiskTypeID,
	}, storages[0])

	assert.Equal(t, testutil.TestZoneID, builder.Recorded(testutil.PathListStorage)[0]["zoneId"])
	assert.Equal(t, testutil.TestZoneID, builder.Recorded(testutil.PathListDiskType)[0]["zoneId"])
}

func TestZoneWithoutHosts(t *testing.T) {
	c, _ := loggedInClient(t, testutil.NewMockPlatform().WithEndpoint(testutil.PathListHost, []any{}))
	_, err := c.Zone(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinStoragesUnmatchedType(t *testing.T) {
	got := JoinStorages("z", []models.StoragePool{{ID: "s1", StackName: "pool-a"}}, []models.DiskType{{ID: "dt", Name: "pool-b"}})
	require.Len(t, got, 1)
	assert.Empty(t, got[0].DiskType)
}

func TestImages(t *testing.T) {
	builder := testutil.NewMockPlatform().WithDefaultInventory()
	c, _ := loggedInClient(t, builder)

	images, err := c.Images(context.Background(), testutil.TestZoneID)
	require.NoError(t, err)
	assert.Equal(t, []models.Image{{ImageID: testutil.TestImageID, ImageName: testutil.TestImageName, StorageManageID: testutil.TestStorageManageID}}, images)

	body := builder.Recorded(testutil.PathListImage)[0]
	assert.Equal(t, float64(1), body["pageNumber"])
	assert.Equal(t, float64(20), body["pageSize"])
	assert.Equal(t, []any{"NORMAL", "HIGH_FUNC", "IRONIC", "GPU"}, body["types"])
}

func TestImagesByStorage(t *testing.T) {
	images := []models.Image{{ImageID: "a", StorageManageID: "s1"}, {ImageID: "b", StorageManageID: "s2"}}
	got := ImagesByStorage(images, []models.Storage{{StorageManageID: "s2"}})
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ImageID)
}

func TestUploadImage(t *testing.T) {
	builder := testutil.NewMockPlatform().WithEndpoint(testutil.PathUploadImage, map[string]string{"id": "img-9"})
	c, _ := loggedInClient(t, builder)

	_, err := c.UploadImage(context.Background(), models.ImageUpload{
		File:            "http://repo/centos.qcow2",
		Name:            "centos",
		Format:          "qcow2",
		StorageBackend:  "ARSTOR",
		StorageManageID: "stor-1",
	})
	require.NoError(t, err)

	body := builder.Recorded(testutil.PathUploadImage)[0]
	assert.Equal(t, "AUTOcentos", body["name"])
	assert.Equal(t, "url", body["uploadType"])
	assert.Equal(t, "UEFI", body["hwFirmwareType"])
	assert.Equal(t, "ARSTOR", body["storageBacken"])
	assert.Equal(t, false, body["createSource"])

	_, err = c.UploadImage(context.Background(), models.ImageUpload{Name: "x"})
	assert.Error(t, err)
}

func TestLicense(t *testing.T) {
	builder := testutil.NewMockPlatform().WithDefaultInventory().WithEndpoint(testutil.PathUpdateLicense, nil)
	c, _ := loggedInClient(t, builder)

	info, err := c.ClusterInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ClusterInfo{ClusterID: testutil.TestClusterID, ArchType: "x86_64"}, info)

	require.NoError(t, c.UpdateLicense(context.Background(), "CODE-1", "", "default-id"))
	body := builder.Recorded(testutil.PathUpdateLicense)[0]
	assert.Equal(t, "default-id", body["id"])
	assert.Equal(t, "CODE-1", body["licenseCode"])

	assert.Error(t, c.UpdateLicense(context.Background(), " ", "", "default-id"))
}

func TestVMLifecycle(t *testing.T) {
	builder := testutil.NewMockPlatform().
		WithEndpoint(testutil.PathCreateVM, map[string]any{"ids": []string{testutil.TestVMID}}).
		WithEndpoint(testutil.PathGetVM, map[string]any{"id": testutil.TestVMID, "name": "web", "status": "START"}).
		WithEndpoint(testutil.PathDeleteVM, nil).
		WithEndpoint(testutil.PathCopyVM, map[string]any{"ids": []string{"vm-clone"}})
	c, _ := loggedInClient(t, builder)
	ctx := context.Background()

	ids, err := c.CreateVM(ctx, models.NewCreateVMRequest(models.VMSpec{Name: "web", StorageType: "arstor"}))
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.TestVMID}, ids)
	assert.Equal(t, "ARSTOR", builder.Recorded(testutil.PathCreateVM)[0]["storageType"])

	vm, err := c.GetVM(ctx, testutil.TestVMID)
	require.NoError(t, err)
	assert.Equal(t, "web", vm.Name)
	assert.Equal(t, testutil.TestVMID, builder.Recorded(testutil.PathGetVM)[0]["id"])

	cloneID, err := c.CloneVM(ctx, models.NewCloneVMRequest(testutil.TestVMID, "web-clone", 2, 4))
	require.NoError(t, err)
	assert.Equal(t, "vm-clone", cloneID)
	assert.Equal(t, testutil.TestVMID, builder.Recorded(testutil.PathCopyVM)[0]["virtualMachineId"])

	require.NoError(t, c.DeleteVMs(ctx, []string{testutil.TestVMID}))
	assert.Equal(t, []any{testutil.TestVMID}, builder.Recorded(testutil.PathDeleteVM)[0]["ids"])
}

func TestListVMsDefaultsPaging(t *testing.T) {
	builder := testutil.NewMockPlatform().WithDefaultInventory()
	c, _ := loggedInClient(t, builder)

	_, err := c.ListVMs(context.Background(), models.VMQuery{NameLike: "web"})
	require.NoError(t, err)
	body := builder.Recorded(testutil.PathListVM)[0]
	assert.Equal(t, float64(1), body["pageNumber"])
	assert.Equal(t, float64(20), body["pageSize"])
	assert.Equal(t, false, body["isInRecycleBin"])
	assert.Equal(t, "web", body["nameLike"])
}

func TestDisks(t *testing.T) {
	disks := []map[string]any{
		{"id": "d1", "name": "data-10", "ref": "ref-10", "size": 10},
		{"id": "d2", "name": "data-1", "ref": "ref-1", "size": 1},
	}
	builder := testutil.NewMockPlatform().
		WithEndpoint(testutil.PathListDisk, disks).
		WithEndpoint(testutil.PathCreateDisk, disks[:1]).
		WithEndpoint(testutil.PathRemoveDisk, nil)
	c, _ := loggedInClient(t, builder)
	ctx := context.Background()

	created, err := c.CreateDisks(ctx, models.CreateDiskRequest{Name: "data-10", Size: 10, Count: 1})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "ref-10", created[0].Ref)

	disk, err := c.FindDiskByName(ctx, "data-1")
	require.NoError(t, err)
	assert.Equal(t, "d2", disk.ID, "fuzzy results must be narrowed to the exact name")

	_, err = c.FindDiskByName(ctx, "data")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.VMDisks(ctx, testutil.TestVMID)
	require.NoError(t, err)
	recorded := builder.Recorded(testutil.PathListDisk)
	last := recorded[len(recorded)-1]
	assert.Equal(t, testutil.TestVMID, last["vmId"])
	assert.Equal(t, false, last["vdiApplication"])

	all, err := c.ListDisks(ctx, models.DiskQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Empty(t, builder.Recorded(testutil.PathListDisk)[len(recorded)])

	require.NoError(t, c.RemoveDisks(ctx, []string{"d1"}))
}

func TestWaitVMReady(t *testing.T) {
	states := [][]map[string]any{
		{},
		{{"id": "vm-2", "status": "START", "taskStatus": "CLONING"}},
		{{"id": "vm-2", "status": "START", "taskStatus": "NONE"}},
	}
	var mu sync.Mutex
	calls := 0
	builder := testutil.NewMockPlatform().WithCustomEndpoint(testutil.PathListVM, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		i := calls
		if i >= len(states) {
			i = len(states) - 1
		}
		calls++
		mu.Unlock()
		testutil.WriteJSON(w, map[string]any{"code": 0, "data": states[i]})
	})
	c, _ := loggedInClient(t, builder)

	id, err := WaitVMReady(context.Background(), c, "clone", time.Millisecond, 5)
	require.NoError(t, err)
	assert.Equal(t, "vm-2", id)

	_, err = WaitVMReady(context.Background(), c, "clone", time.Millisecond, 0)
	assert.Error(t, err)
}

func TestWaitVMGone(t *testing.T) {
	c, _ := loggedInClient(t, testutil.NewMockPlatform().WithDefaultInventory())
	assert.NoError(t, WaitVMGone(context.Background(), c, "gone", time.Millisecond, 3))
}
