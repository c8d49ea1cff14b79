// Package payment applies a gateway confirmation onto an appointment exactly
// once and owns the fee split between doctor and platform.
package payment

// Split divides a paid amount between doctor and platform. The platform
// share is rounded half-up from the configured percentage; the doctor share
// is always the remainder, never computed independently, so the two always
// reconstruct the amount exactly.
func Split(amount int64, platformPercent int) (doctorShare, platformShare int64) {
	platformShare = (amount*int64(platformPercent) + 50) / 100
	doctorShare = amount - platformShare
	return doctorShare, platformShare
}
