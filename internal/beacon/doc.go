// Package beacon holds the iBeacon domain model and the codec between generic
// records (map[string]interface{}) and typed regions, beacons and events.
//
// The package covers:
//   - Region and Beacon decoding with per-entry DecodeError values, so a batch
//     can skip one malformed record and keep the rest
//   - Region, Beacon, ranging and monitoring event encoding to wire records
//   - iBeacon manufacturer-data parsing and building
//   - RSSI to proximity classification and distance estimation
package beacon
