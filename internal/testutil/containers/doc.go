// Package containers starts throwaway brokers for integration tests.
//
// Supported services:
//
//   - Eclipse Mosquitto, the MQTT broker behind the statestream source
//   - ntfy, a push target for shoutrrr notifications
//
// Every file is guarded by the "integration" build tag:
//
//	go test -tags=integration ./...
package containers
