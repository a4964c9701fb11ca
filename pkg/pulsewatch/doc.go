// Package pulsewatch polls PulsePoint agency feeds and keeps the latest
// consolidated incident snapshot in memory.
//
// Quick start:
//
//	w, err := pulsewatch.New(pulsewatch.WithSources("00291", "00057"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	snap, err := w.RunCycle(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, inc := range snap.Active {
//	    fmt.Println(inc.ID, inc.CallTypeLabel, inc.Address)
//	}
//
// For a single envelope captured elsewhere, Decrypt returns its plaintext.
// A Watcher is safe for concurrent use; cycles never overlap.
package pulsewatch
