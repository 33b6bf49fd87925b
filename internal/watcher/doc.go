// Package watcher watches the category source directories and reports
// debounced batches of card file changes.
//
// Cached card bundles are built from the JSON files under each category
// directory, so an edit there makes them stale. Run feeds each batch to a
// Handler, typically one that clears the pipeline cache:
//
//	w, err := watcher.New(roots, watcher.Options{DebounceWindow: cfg.WatchDebounceDuration()})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	err = watcher.Run(ctx, w, watcher.ClearOnChange(p))
package watcher
