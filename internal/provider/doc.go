// Package provider talks to the interchangeable upstream mirrors that answer
// street-lamp queries (Overpass instances and Postpass), and picks the first
// one in priority order that returns a structurally valid, fresh answer.
//
// Endpoints are tried strictly one after another. Each call already spends a
// multi-minute budget on a shared public service, so there is no fan-out.
package provider
