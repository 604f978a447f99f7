package units

import "time"

// IsTimezoneValid checks if the given timezone is valid by attempting to load
// it from the tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}
