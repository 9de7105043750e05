// Package mutate runs optimistic mutations: local state changes immediately,
// then the server is asked to agree, and the local change is reverted only if
// it refuses.
package mutate

import "context"

// Mutation is one optimistic state change. Apply updates local state
// immediately. Commit performs the server request. Rollback reverts exactly
// the fields Apply touched, restoring their pre-Apply values.
//
// Overlapping mutations of the same entity are not serialized; a rollback
// restores pre-Apply values even if another mutation changed them in between.
type Mutation struct {
	Apply    func()
	Commit   func(ctx context.Context) error
	Rollback func()
}

// Do applies m locally, then commits. On commit failure the local change is
// rolled back and the commit error returned. Apply and Rollback run on the
// calling goroutine.
func Do(ctx context.Context, m Mutation) error {
	m.Apply()
	if err := m.Commit(ctx); err != nil {
		m.Rollback()
		return err
	}
	return nil
}
