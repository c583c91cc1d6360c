package enums

// LineAvailability flags a cart line's purchasability as of the last read.
// Evicted lines never surface; unknown means the catalog could not be
// reached and the line was kept without re-validation.
type LineAvailability string

const (
	LineAvailabilityOK      LineAvailability = "ok"
	LineAvailabilityUnknown LineAvailability = "unknown"
)
