// Package eventstore implements storage.EventStore in memory and on bbolt.
//
// Open selects the backend from a Config:
//
//	store, err := eventstore.Open(cfg, logger, registry)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	persister := debug.NewAsyncPersister(store, debug.DefaultPersisterConfig(), logger, registry)
//
// The bbolt layout uses one bucket per event type. Keys are the 16 byte tenant
// id, the 16 byte entity id, the big endian timestamp and the 16 byte event
// id, so a stream is a contiguous, time ordered key range. Values are the JSON
// form of the event.
package eventstore
