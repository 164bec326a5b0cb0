// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PutSession writes the full record hash and sets its TTL. Index sets are
// not touched; the registry owns membership transitions.
func (s *Store) PutSession(ctx context.Context, id string, fields map[string]string, ttl time.Duration) error {
	key := keySession(id)
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return unavailable("put session", err)
	}
	return unavailable("put session expire", s.client.Expire(ctx, key, ttl).Err())
}

// PatchSession overwrites a subset of record fields. The hash must already
// exist when the caller cares about not resurrecting a deleted session; the
// registry guards that with its removed-id check.
func (s *Store) PatchSession(ctx context.Context, id string, fields map[string]string) error {
	return unavailable("patch session", s.client.HSet(ctx, keySession(id), fields).Err())
}

// GetSession reads the record hash. Absent sessions return (nil, nil).
func (s *Store) GetSession(ctx context.Context, id string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, keySession(id)).Result()
	if err != nil {
		return nil, unavailable("get session", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// PutSessionConfig snapshots the voice configuration under its own key so
// concurrent sessions of one user can never overwrite each other's voice.
func (s *Store) PutSessionConfig(ctx context.Context, id string, fields map[string]string, ttl time.Duration) error {
	key := keySessionConfig(id)
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return unavailable("put session config", err)
	}
	return unavailable("put session config expire", s.client.Expire(ctx, key, ttl).Err())
}

// PatchSessionConfig overwrites a subset of the snapshot fields. Only pool
// assignment uses this, to fill in the owning user.
func (s *Store) PatchSessionConfig(ctx context.Context, id string, fields map[string]string) error {
	return unavailable("patch session config", s.client.HSet(ctx, keySessionConfig(id), fields).Err())
}

// GetSessionConfig reads the config snapshot. Absent returns (nil, nil).
func (s *Store) GetSessionConfig(ctx context.Context, id string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, keySessionConfig(id)).Result()
	if err != nil {
		return nil, unavailable("get session config", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// SetUserSession maps a user identity to its one live session id.
func (s *Store) SetUserSession(ctx context.Context, userName, id string, ttl time.Duration) error {
	return unavailable("set user session", s.client.Set(ctx, keyUserSession(userName), id, ttl).Err())
}

// GetUserSession returns the session id mapped to the user, or "" if none.
func (s *Store) GetUserSession(ctx context.Context, userName string) (string, error) {
	id, err := s.client.Get(ctx, keyUserSession(userName)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", unavailable("get user session", err)
	}
	return id, nil
}

// DeleteUserSession removes the mapping only while it still points at id, so
// cleanup of an old session never unmaps a newer one.
func (s *Store) DeleteUserSession(ctx context.Context, userName, id string) error {
	current, err := s.GetUserSession(ctx, userName)
	if err != nil {
		return err
	}
	if current != id {
		return nil
	}
	return unavailable("delete user session", s.client.Del(ctx, keyUserSession(userName)).Err())
}

// SetAgentPID mirrors the process id under agent:{id}:pid for fast lookup.
func (s *Store) SetAgentPID(ctx context.Context, id string, pid int, ttl time.Duration) error {
	return unavailable("set agent pid", s.client.Set(ctx, keyAgentPID(id), strconv.Itoa(pid), ttl).Err())
}

// AgentPID reads the mirrored pid; 0 means unset.
func (s *Store) AgentPID(ctx context.Context, id string) (int, error) {
	raw, err := s.client.Get(ctx, keyAgentPID(id)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("get agent pid", err)
	}
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return pid, nil
}

// AppendAgentLog pushes one output line to the capped recent-lines list.
func (s *Store) AppendAgentLog(ctx context.Context, id, line string, ttl time.Duration) error {
	key := keyAgentLogs(id)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, line)
		pipe.LTrim(ctx, key, -maxAgentLogLines, -1)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return unavailable("append agent log", err)
}

// AgentLogs returns up to limit most recent output lines, oldest first.
func (s *Store) AgentLogs(ctx context.Context, id string, limit int) ([]string, error) {
	if limit <= 0 || limit > maxAgentLogLines {
		limit = maxAgentLogLines
	}
	lines, err := s.client.LRange(ctx, keyAgentLogs(id), -int64(limit), -1).Result()
	if err != nil {
		return nil, unavailable("agent logs", err)
	}
	return lines, nil
}

// DeleteSessionAndIndexes removes every key belonging to the session. Each
// step is attempted regardless of earlier failures; the collected errors let
// the caller build a partial cleanup report. userName may be empty.
func (s *Store) DeleteSessionAndIndexes(ctx context.Context, id, userName string) []error {
	var errs []error

	for _, key := range []string{
		keySession(id),
		keySessionConfig(id),
		keyAgentPID(id),
		keyAgentLogs(id),
	} {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			errs = append(errs, unavailable("delete "+key, err))
		}
	}

	for _, idx := range []Index{IndexReady, IndexStarting, IndexPool} {
		if err := s.client.SRem(ctx, string(idx), id).Err(); err != nil {
			errs = append(errs, unavailable("srem "+string(idx), err))
		}
	}

	if userName != "" {
		if err := s.DeleteUserSession(ctx, userName, id); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		s.logger.Warn().
			Str("session_id", id).
			Int("failed_steps", len(errs)).
			Msg("session cleanup left residue in store")
	}
	return errs
}
