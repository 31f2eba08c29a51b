// Package main provides the ocelot CLI for the zone-isolated
// permission engine.
//
// The CLI supports:
//   - migrate: Create ocelot's tables in PostgreSQL
//   - check: Decide whether a subject holds a permission on an object
//   - write / revoke: Manage relation tuples
//   - list: Enumerate resources a subject can access
//   - grant: Create, inspect, and revoke directory grants
//   - worker: Run the background directory grant expander
//
// All commands that touch data need a database; set --db, OCELOT_DATABASE_URL,
// or database.url in ocelot.yaml.
package main

func main() {
	Execute()
}
