// Package testutil provides shared testing utilities and constants for archer_ops.
//
// This package centralizes common test constants, helper functions, and mock builders
// to reduce duplication across test files.
//
// # Key Components
//
// Constants: Shared test values (credentials, ids, endpoint paths) defined in constants.go
//
// MockPlatformBuilder: Fluent interface for creating a mock ArcherOSS resource API
//
// Helper Functions: Common test utilities (data loading, assertions)
//
// # Usage Examples
//
// Creating a mock platform:
//
//	builder := testutil.NewMockPlatform().
//	    WithDefaultInventory().
//	    WithEndpoint(testutil.PathCreateDisk, []map[string]any{{"id": "d-1"}})
//	server := builder.Build()
//	defer server.Close()
//
//	payloads := builder.Recorded(testutil.PathCreateDisk)
package testutil

// HTTP headers
const (
	ContentTypeHeader   = "Content-Type"
	AuthorizationHeader = "Authorization"
	ContentTypeJSON     = "application/json"
	ContentTypeHTML     = "text/html"
)

// Credentials and session values returned by the mock login.
const (
	TestUsername  = "admin"
	TestPassword  = "Admin@123"
	TestToken     = "test-token-0123456789"
	TestSessionID = "session-42"
	TestUserID    = "user-7"
)

// Inventory identifiers served by WithDefaultInventory.
const (
	TestZoneID          = "zone-1"
	TestClusterID       = "cluster-1"
	TestLicenseID       = "license-1"
	TestStackName       = "Arstor-pool"
	TestStorageManageID = "stor-1"
	TestStorageBackend  = "ARSTOR"
	TestDiskTypeID      = "dt-1"
	TestImageID         = "img-1"
	TestImageName       = "centos7"
	TestVMID            = "vm-1"
	TestDiskID          = "disk-1"
	TestDiskRef         = "ref-1"
)

// Resource API paths.
const (
	PathLogin            = "/api/resource/login"
	PathListHost         = "/api/resource/listHost"
	PathListStorage      = "/api/resource/listStorage"
	PathListDiskType     = "/api/resource/listDiskType"
	PathGetLicense       = "/api/resource/getLicense"
	PathUpdateLicense    = "/api/resource/updateLicense"
	PathListImage        = "/api/resource/listImage"
	PathUploadImage      = "/api/resource/uploadImage"
	PathCreateVM         = "/api/resource/createVirtualMachine"
	PathGetVM            = "/api/resource/getVirtualMachine"
	PathListVM           = "/api/resource/listVirtualMachine"
	PathDeleteVM         = "/api/resource/deleteVirtualMachine"
	PathCopyVM           = "/api/resource/copyVirtualMachineLink"
	PathCreateDisk       = "/api/resource/createDisk"
	PathRemoveDisk       = "/api/resource/removeDisk"
	PathListDisk         = "/api/resource/listDisk"
	TestPathMetrics      = "/metrics"
	TestErrorUnexpected  = "Unexpected error: %v"
	TestErrorExpectedErr = "Expected error, got nil"
)
