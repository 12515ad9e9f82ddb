// Excubitor - Security Audit Event Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/excubitor

package detect

import (
	"hash/fnv"
	"time"

	"github.com/tomtom215/excubitor/internal/event"
	"github.com/tomtom215/excubitor/internal/window"
)

// Feature names produced by the extractor. Rate features are sliding one
// minute counts of matching events; the rest are direct values of the event
// being analyzed.
const (
	FeatureFailedLoginRate = "auth:failed_login_rate"
	FeatureLoginRate       = "auth:login_rate"
	FeatureErrorRate       = "api:error_rate"
	FeatureLatency         = "api:latency"
	FeatureDataAccessRate  = "data:access_rate"
	FeatureBulkAccess      = "data:bulk_access"
	FeatureHour            = "time:hour"
	FeatureDayOfWeek       = "time:day_of_week"
	FeatureSourceIP        = "source:ip"
)

const (
	// SubtypeLoginFailure is the authentication subtype counted by the failed
	// login rate feature and the brute force rule.
	SubtypeLoginFailure = "login_failure"

	rateWindow  = time.Minute
	rateBuckets = 6

	ipBuckets = 256
)

// Feature is one named numeric observation derived from an event.
type Feature struct {
	Name  string
	Value float64
}

// Extractor derives numeric features from events. The rate counters
// accumulate across calls, so consecutive matching events see a climbing
// value until the window slides past them.
//
// The detector actor owns the extractor; it is not safe for concurrent use.
type Extractor struct {
	failedLogins *window.Counter
	logins       *window.Counter
	apiErrors    *window.Counter
	dataAccess   *window.Counter
}

// NewExtractor creates an extractor with empty rate windows.
func NewExtractor() *Extractor {
	return &Extractor{
		failedLogins: window.NewCounter(rateWindow, rateBuckets),
		logins:       window.NewCounter(rateWindow, rateBuckets),
		apiErrors:    window.NewCounter(rateWindow, rateBuckets),
		dataAccess:   window.NewCounter(rateWindow, rateBuckets),
	}
}

// Extract maps an event to its features. Type-specific rate features are
// emitted only for matching events; hour and day of week are always present,
// and the source bucket whenever the event carries an address.
func (x *Extractor) Extract(e *event.Event) []Feature {
	features := make([]Feature, 0, 6)

	switch e.Type {
	case event.TypeAuthentication:
		features = append(features, Feature{FeatureLoginRate, float64(x.logins.AddAndCount(1))})
		if e.Subtype == SubtypeLoginFailure {
			features = append(features, Feature{FeatureFailedLoginRate, float64(x.failedLogins.AddAndCount(1))})
		}
	case event.TypeData:
		features = append(features, Feature{FeatureDataAccessRate, float64(x.dataAccess.AddAndCount(1))})
		if v, ok := numericMetadata(e.Metadata, "record_count"); ok {
			features = append(features, Feature{FeatureBulkAccess, v})
		}
	}

	if e.StatusCode >= 400 {
		features = append(features, Feature{FeatureErrorRate, float64(x.apiErrors.AddAndCount(1))})
	}
	if e.ResponseTime > 0 {
		features = append(features, Feature{FeatureLatency, float64(e.ResponseTime) / float64(time.Millisecond)})
	}

	features = append(features,
		Feature{FeatureHour, float64(e.Timestamp.Hour())},
		Feature{FeatureDayOfWeek, float64(e.Timestamp.Weekday())},
	)
	if e.IP != "" {
		features = append(features, Feature{FeatureSourceIP, ipBucket(e.IP)})
	}

	return features
}

// ipBucket hashes an address into a stable numeric bucket so source identity
// can participate in baselines without storing addresses.
func ipBucket(ip string) float64 {
	h := fnv.New32a()
	h.Write([]byte(ip))
	return float64(h.Sum32() % ipBuckets)
}

// numericMetadata reads a metadata value as a float. JSON decoding yields
// float64; in-process callers may attach native integer types.
func numericMetadata(md map[string]interface{}, key string) (float64, bool) {
	v, ok := md[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
