package cli

import (
	"context"
	"fmt"
	"log"
)

// Sync runs an on-demand sync cycle and prints the outcome.
func (a *App) Sync(ctx context.Context) error {
	if a.engine == nil {
		log.Printf("engine is not running; log in first")
		return nil
	}

	res := a.engine.SyncNow(ctx)
	if !res.Success {
		log.Printf("sync failed: %v", res.Err)
		return nil
	}
	fmt.Printf("Synced: pulled %d, pushed %d, conflicts %d\n", res.Pulled, res.Pushed, res.ConflictsResolved)
	return nil
}

// ForcePush re-pushes everything changed locally since the watermark
// without pulling first; the manual recovery path when remote state is
// suspected to have diverged.
func (a *App) ForcePush(ctx context.Context) error {
	if a.engine == nil {
		log.Printf("engine is not running; log in first")
		return nil
	}

	res := a.engine.ForcePush(ctx)
	if !res.Success {
		log.Printf("force push failed: %v", res.Err)
		return nil
	}
	fmt.Printf("Force push complete: pushed %d\n", res.Pushed)
	return nil
}

// Status prints the engine snapshot: last sync, mastership, channels.
func (a *App) Status(ctx context.Context) error {
	if a.engine == nil {
		fmt.Println("Engine: stopped")
		return nil
	}

	st := a.engine.Status()
	if st.Sync.LastSyncAt.IsZero() {
		fmt.Println("Last sync: never")
	} else {
		fmt.Printf("Last sync: %s\n", st.Sync.LastSyncAt.Format("2006-01-02 15:04:05 MST"))
	}
	if st.Sync.Err != nil {
		fmt.Printf("Last error: %v\n", st.Sync.Err)
	}
	if st.Fatal {
		fmt.Println("Automatic sync halted: local storage failure; fix the disk and run 'sync' to resume")
	}
	fmt.Printf("Master: %v\n", st.IsMaster)
	for entity, state := range st.Subscriptions {
		fmt.Printf("Channel %s: %s\n", entity, state)
	}
	return nil
}

// Retrigger restarts errored realtime subscriptions.
func (a *App) Retrigger(ctx context.Context) error {
	if a.engine == nil {
		log.Printf("engine is not running; log in first")
		return nil
	}
	a.engine.Retrigger()
	fmt.Println("Subscriptions retriggered")
	return nil
}

// Master reports whether this device currently holds the master lease.
func (a *App) Master(ctx context.Context) error {
	if a.engine == nil {
		fmt.Println("Engine: stopped")
		return nil
	}
	if a.engine.IsMaster() {
		fmt.Println("This device is the master")
	} else {
		fmt.Println("Another device is the master (or no lease is held)")
	}
	return nil
}
