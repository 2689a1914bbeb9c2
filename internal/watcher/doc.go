// Package watcher notices changes to the knowledge base files and triggers
// a reload.
//
// Only the directory holding the KB files is watched, and only events for
// the tracked file names pass through; ingest jobs typically write a temp
// file and rename it into place, which fsnotify reports on the directory.
// When fsnotify is unavailable the watcher polls the tracked files instead.
// Bursts of events are debounced into one batch, and each batch costs one
// reload.
//
//	w, err := watcher.New(dir, []string{"kb_chunks.jsonl", "kb_embeddings.npy"}, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	go w.Start(ctx)
//	watcher.Serve(ctx, w.Events(), reloader.Reload)
package watcher
