// Package dictionary holds versioned compression dictionaries and the store
// that decides which one is current.
//
// # Versions
//
// Dictionary versions are a single-writer monotonic counter owned by the
// server. A dictionary never changes after construction; hot-swapping replaces
// the store's current pointer with a newer dictionary.
//
// # Store
//
// Store.Current is lock-free and is what every compress call reads. Swapping
// goes through Stage (make the next version fetchable) and Swap (make it
// current). Swaps to a version that is not newer fail with *StaleVersionError
// and leave the current dictionary in place.
//
//	store := dictionary.NewStore(initial)
//	next, _ := dictionary.New(store.NextVersion(), data, time.Now())
//	if err := store.Stage(next); err != nil {
//	    return err
//	}
//	// announce next.Version() to peers ...
//	prev, err := store.Swap(next)
//
// A bounded number of previous versions is retained so late lookups (for
// example an HTTP client still declaring the previous version) keep working.
//
// # Sources
//
// FileSource and S3Source load dictionary content from durable storage.
// A missing dictionary at startup is reported as ErrDictionaryMissing.
package dictionary
