package exporter

import (
	"context"
	"fmt"
	"time"
)

// healthCheckTimeout is the default timeout for connectivity tests.
const healthCheckTimeout = 5 * time.Second

// TestConnectivity verifies the platform is reachable and the credentials
// work. It logs in when needed and resolves the zone, which reads a single
// small list. A context without deadline gets healthCheckTimeout.
func (c *InventoryCollector) TestConnectivity(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
	}

	if !c.client.IsLoggedIn() {
		if err := c.client.Login(ctx); err != nil {
			return fmt.Errorf("platform connectivity test failed: %w", err)
		}
	}
	if _, err := c.client.Zone(ctx); err != nil {
		return fmt.Errorf("platform connectivity test failed: %w", err)
	}
	return nil
}

// IsHealthy reports whether the last collection that reached the platform
// succeeded. It makes no API call.
func (c *InventoryCollector) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.lastSuccess.IsZero() && c.lastErr == nil
}

// LastError returns the error of the last uncached collection, if any.
func (c *InventoryCollector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}
