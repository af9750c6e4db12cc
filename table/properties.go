package table

import (
	"context"
	"maps"
	"slices"
	"time"

	"arctic-iceberg/iceberg"
)

// UpdateProperties sets and removes table properties.
//
// On apply, keys the update does not touch are taken from the refreshed
// metadata so that concurrent changes to other keys survive. A touched key
// whose refreshed value differs from its value in the staging base is a
// collision and fails with *PropertyConflictError.
type UpdateProperties struct {
	pending
	updates  map[string]string
	removals map[string]struct{}
}

func NewUpdateProperties(ops Operations, base *iceberg.TableMetadata) *UpdateProperties {
	return newUpdateProperties(ops, base, nil)
}

func newUpdateProperties(ops Operations, base *iceberg.TableMetadata, now func() time.Time) *UpdateProperties {
	return &UpdateProperties{
		pending:  newPending(ops, base, now),
		updates:  make(map[string]string),
		removals: make(map[string]struct{}),
	}
}

// Set stages key=value. It is ignored once the update is consumed.
func (u *UpdateProperties) Set(key, value string) *UpdateProperties {
	if u.stage() {
		delete(u.removals, key)
		u.updates[key] = value
	}
	return u
}

// Remove stages the removal of key. It is ignored once the update is consumed.
func (u *UpdateProperties) Remove(key string) *UpdateProperties {
	if u.stage() {
		delete(u.updates, key)
		u.removals[key] = struct{}{}
	}
	return u
}

// Updates returns a copy of the staged key/value pairs.
func (u *UpdateProperties) Updates() map[string]string { return maps.Clone(u.updates) }

// Removals returns the staged removals in sorted order.
func (u *UpdateProperties) Removals() []string {
	var keys []string
	for k := range u.removals {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (u *UpdateProperties) Apply(ctx context.Context) (*iceberg.TableMetadata, error) {
	_, md, err := u.apply(ctx, u.compute)
	return md, err
}

func (u *UpdateProperties) Commit(ctx context.Context) (*iceberg.TableMetadata, error) {
	return u.commit(ctx, u.operation(), u.compute)
}

func (u *UpdateProperties) Restage() PendingUpdate {
	next := newUpdateProperties(u.ops, u.base, u.now)
	maps.Copy(next.updates, u.updates)
	maps.Copy(next.removals, u.removals)
	if len(next.updates)+len(next.removals) > 0 {
		next.state = StateStaged
	}
	return next
}

func (u *UpdateProperties) operation() string { return "set-properties" }

func (u *UpdateProperties) compute(fresh *iceberg.TableMetadata) (*iceberg.TableMetadata, error) {
	if collisions := u.collisions(fresh); len(collisions) > 0 {
		return nil, &PropertyConflictError{Keys: collisions}
	}

	props := fresh.Properties()
	for k := range u.removals {
		delete(props, k)
	}
	maps.Copy(props, u.updates)
	return fresh.WithProperties(props, u.millis()), nil
}

func (u *UpdateProperties) collisions(fresh *iceberg.TableMetadata) []string {
	if u.base == nil || u.base == fresh {
		return nil
	}
	var keys []string
	check := func(k string) {
		was, hadBefore := u.base.Property(k)
		now, hasNow := fresh.Property(k)
		if was != now || hadBefore != hasNow {
			keys = append(keys, k)
		}
	}
	for k := range u.updates {
		check(k)
	}
	for k := range u.removals {
		check(k)
	}
	slices.Sort(keys)
	return keys
}
