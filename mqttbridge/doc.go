// Package mqttbridge exposes turnouts over MQTT.
//
// A Bridge subscribes to "<prefix>/turnout/+/set" and forwards CLOSED or
// THROWN payloads to the turnout manager. Every commanded or known state
// change is published retained as JSON to "<prefix>/turnout/<addr>/state".
//
// Two Broker implementations are provided: NewEmbedded runs an in-process
// mochi-mqtt server, DialPaho connects to an external broker.
package mqttbridge
