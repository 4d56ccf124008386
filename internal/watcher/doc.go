// Package watcher reports when another program rewrites an artifact after a
// reset.
//
// Applications regenerate identifiers when they find them missing or
// changed. The Watcher subscribes to the directories holding a family's
// identifier and config files, coalesces bursts of filesystem events per
// file, and hands one Event per changed artifact to a handler on every
// flush interval.
//
// Example usage:
//
//	w, err := watcher.New(artifacts, func(ev watcher.Event) {
//		fmt.Printf("%s was rewritten\n", ev.Artifact.Path)
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := w.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer w.Stop()
package watcher
