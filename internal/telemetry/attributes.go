package telemetry

// HTTP semantic convention attributes
const (
	AttrHTTPMethod                = "http.method"
	AttrHTTPURL                   = "http.url"
	AttrHTTPStatusCode            = "http.status_code"
	AttrHTTPRequestContentLength  = "http.request_content_length"
	AttrHTTPResponseContentLength = "http.response_content_length"
	AttrHTTPDurationMS            = "http.duration_ms"
)

// ArcherOSS platform attributes
const (
	AttrArcherEndpoint     = "archer.endpoint"
	AttrArcherEnvironment  = "archer.environment"
	AttrArcherBusinessCode = "archer.business_code"
	AttrArcherZoneID       = "archer.zone_id"
	AttrArcherResourceID   = "archer.resource_id"
	AttrArcherTool         = "archer.tool"
)

// Remote execution attributes
const (
	AttrSSHHost     = "ssh.host"
	AttrSSHCommand  = "ssh.command"
	AttrSSHExitCode = "ssh.exit_code"
	AttrIPMIHost    = "ipmi.host"
)

// Metadata database attributes
const (
	AttrDBSystem    = "db.system"
	AttrDBName      = "db.name"
	AttrDBStatement = "db.statement"
	AttrDBRows      = "db.rows"
)

// Batch provisioning attributes
const (
	AttrBatchKind      = "batch.kind"
	AttrBatchTotal     = "batch.total"
	AttrBatchSucceeded = "batch.succeeded"
	AttrBatchFailed    = "batch.failed"
)

// Scrape cycle attributes
const (
	AttrScrapeDurationMS = "scrape.duration_ms"
	AttrScrapeStatus     = "scrape.status"
)

// Error attributes
const (
	AttrError = "error"
)
