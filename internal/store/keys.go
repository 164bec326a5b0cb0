// SPDX-License-Identifier: MIT

package store

// Key schema:
//   session:{id}         HASH   session record
//   session:{id}:config  HASH   voice config snapshot
//   session:user:{name}  STRING user identity -> session id
//   session:ready        SET    ids with a running, healthy agent
//   session:starting     SET    ids currently spawning
//   agent:{id}:pid       STRING process id mirror
//   agent:{id}:logs      LIST   recent output lines, capped
//   pool:ready           SET    pre-warmed unassigned ids
//   pool:target          STRING desired pool size
//   pool:stats           HASH   total_spawned / total_assigned
//   ratelimit:{bucket}   STRING windowed counter

// Index identifies one of the session-id sets.
type Index string

const (
	IndexReady    Index = "session:ready"
	IndexStarting Index = "session:starting"
	IndexPool     Index = "pool:ready"
)

const (
	keyPoolTarget = "pool:target"
	keyPoolStats  = "pool:stats"

	// PoolStatSpawned and PoolStatAssigned are the pool:stats hash fields.
	PoolStatSpawned  = "total_spawned"
	PoolStatAssigned = "total_assigned"

	// maxAgentLogLines caps the agent:{id}:logs list.
	maxAgentLogLines = 100
)

func keySession(id string) string       { return "session:" + id }
func keySessionConfig(id string) string { return "session:" + id + ":config" }
func keyUserSession(name string) string { return "session:user:" + name }
func keyAgentPID(id string) string      { return "agent:" + id + ":pid" }
func keyAgentLogs(id string) string     { return "agent:" + id + ":logs" }
func keyRateLimit(bucket string) string { return "ratelimit:" + bucket }
