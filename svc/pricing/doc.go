// Package pricing loads the service catalog from YAML and prices orders.
// Prices are decimal amounts per profile per month; longer durations may
// earn a percentage discount.
package pricing
