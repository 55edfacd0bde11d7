package geo

import "time"

// AvahiService is a discovered NMEA provider entry, named for the mDNS
// stack that surfaces it: either an mDNS-resolved TCP endpoint or a
// locally-configured Unix socket.
type AvahiService struct {
	Identifier   string
	Endpoint     string
	IsSocket     bool
	Accuracy     AccuracyLevel
	TimestampAdd time.Time
}

// Less orders two services descending by accuracy, then ascending by
// insertion time, matching the try_services/broken_services sort order.
func (s AvahiService) Less(other AvahiService) bool {
	if s.Accuracy != other.Accuracy {
		return s.Accuracy > other.Accuracy
	}
	return s.TimestampAdd.Before(other.TimestampAdd)
}
