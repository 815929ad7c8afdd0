// internal/workflow/dump.go
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const dumpTimeout = 5 * time.Second

// dump saves the page of a failed item for later inspection. It runs on its
// own deadline so a canceled run can still leave a dump behind.
func (r *itemRun) dump(ctx context.Context) {
	if !r.m.cfg.DebugDumps || r.m.debugDir == "" {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dumpTimeout)
	defer cancel()

	content, err := r.page.Content(dctx)
	if err != nil {
		r.logger.Debug("No page content to dump.", zap.Error(err))
		return
	}
	if err := os.MkdirAll(r.m.debugDir, 0o755); err != nil {
		r.logger.Warn("Could not create debug directory.", zap.String("dir", r.m.debugDir), zap.Error(err))
		return
	}
	name := filepath.Join(r.m.debugDir, fmt.Sprintf("debug_item_%d_%d.html", r.item.Index, r.m.now().Unix()))
	if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
		r.logger.Warn("Could not write debug dump.", zap.String("file", name), zap.Error(err))
		return
	}
	r.logger.Info("Saved page dump.", zap.String("file", name))
}
