package domain

// CardPoolEntry is one membership card number awaiting assignment.
// Entries are created in bulk by an administrator and claimed in strictly
// increasing Sequence order. Assigned never silently reverts; only the
// explicit administrative release flips it back.
type CardPoolEntry struct {
	ID       int64
	Sequence int64
	Number   string
	Assigned bool
}

// BulkInsertResult reports the outcome of a bulk card number insert.
// Duplicates are skipped and reported rather than aborting the batch.
type BulkInsertResult struct {
	Inserted   int
	Duplicates []string
}
