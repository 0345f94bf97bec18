// Package renewal holds the periodic jobs of the engine: freeing profiles
// whose lease has ended and reminding owners of orders that are about to
// expire.
//
// Reminders are deduplicated per order and UTC day through a Deduper. Use
// RedisDeduper when more than one instance runs the scan.
package renewal
