/*
Package aggregate holds the per-station trackers behind dockpulse's derived
state.

  - MonthlyTracker keeps the lowest and highest occupancy of each station in
    the current calendar month and reports a dirty range only when a reading
    widens it.
  - HourlyTracker remembers the last UTC hour a station was sampled in and
    reports a marker for the first reading of every new hour. The first value
    of the hour wins; later readings in the same hour are ignored even if they
    differ.
  - Snapshot keeps the latest public record of every station and drops
    stations that have not reported within the retention window.

MonthlyTracker and HourlyTracker are not safe for concurrent use; the engine
serializes access to them. Snapshot carries its own lock because the HTTP
surface reads it concurrently with ingestion.

Suppression is a normal outcome: Observe returns ok=false, never an error.
*/
package aggregate
